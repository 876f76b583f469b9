// Пакет cfapi — HTTP-клиенты к Cloud Foundry: UAA (SCIM) и Cloud Controller v3.
// Оба клиента авторизуются одним service-account токеном, полученным у UAA
// через Client Credentials flow; токен кэшируется и обновляется за 30s
// до истечения.
package cfapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// NewHTTPClient создаёт HTTP-клиент для обращений к CF.
// Если задан caCertPath — добавляет CA-сертификат в пул доверенных.
func NewHTTPClient(caCertPath string, timeout time.Duration) (*http.Client, error) {
	client := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		pem, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит валидных PEM-блоков", caCertPath)
		}
		client.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{RootCAs: pool},
		}
	}

	return client, nil
}

// TokenSource — кэширующий источник access token'а UAA.
// Потокобезопасен; используется обоими клиентами (UAA и Cloud Controller).
type TokenSource struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	logger       *slog.Logger

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// NewTokenSource создаёт источник токенов для Client Credentials flow.
// uaaURL — базовый URL UAA (без trailing slash).
func NewTokenSource(uaaURL, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *TokenSource {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &TokenSource{
		tokenURL:     strings.TrimRight(uaaURL, "/") + "/oauth/token",
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "uaa_token_source")),
	}
}

// Token возвращает актуальный access token, обновляя при необходимости.
// Токен обновляется за 30 секунд до истечения.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.accessToken != "" && time.Now().Add(30*time.Second).Before(s.tokenExpiry) {
		return s.accessToken, nil
	}

	token, err := s.requestToken(ctx)
	if err != nil {
		return "", err
	}

	s.accessToken = token.AccessToken
	s.tokenExpiry = tokenExpiry(token)

	s.logger.Debug("UAA токен обновлён",
		slog.Time("expires_at", s.tokenExpiry),
	)

	return s.accessToken, nil
}

// requestToken выполняет Client Credentials flow против UAA.
func (s *TokenSource) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {s.clientID},
		"client_secret": {s.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена UAA: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{
			Provider:   "uaa",
			StatusCode: resp.StatusCode,
			Code:       "token_request_failed",
			Detail:     string(body),
		}
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена UAA: %w", err)
	}

	return &token, nil
}

// tokenExpiry определяет момент истечения токена.
// Предпочитает exp из самого JWT (точнее локальных часов + expires_in);
// при невозможности разбора — expires_in из ответа.
func tokenExpiry(token *TokenResponse) time.Time {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token.AccessToken, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
}

// apiClient — общая часть клиентов UAA и Cloud Controller:
// авторизованные запросы и разбор ответов.
type apiClient struct {
	provider   string
	baseURL    string
	tokens     *TokenSource
	httpClient *http.Client
	logger     *slog.Logger
}

// doAuthorized выполняет HTTP-запрос с Bearer-авторизацией.
func (c *apiClient) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// decode разбирает ответ: при успехе декодирует JSON в target,
// при ошибке возвращает *APIError с кодом провайдера.
func (c *apiClient) decode(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа %s: %w", c.provider, err)
		}
	}

	return nil
}

// apiError строит *APIError из тела ошибки провайдера.
// Тело уже прочитано из resp; закрытие — на вызывающем (decode).
func (c *apiClient) apiError(resp *http.Response) error {
	body, _ := io.ReadAll(resp.Body)

	apiErr := &APIError{
		Provider:   c.provider,
		StatusCode: resp.StatusCode,
		Detail:     string(body),
	}

	switch c.provider {
	case "uaa":
		var ue uaaErrorResponse
		if json.Unmarshal(body, &ue) == nil && ue.Error != "" {
			apiErr.Code = ue.Error
			if ue.ErrorDescription != "" {
				apiErr.Detail = ue.ErrorDescription
			} else if ue.Message != "" {
				apiErr.Detail = ue.Message
			}
		}
	case "cloudcontroller":
		var ce ccErrorResponse
		if json.Unmarshal(body, &ce) == nil && len(ce.Errors) > 0 {
			apiErr.Code = ce.Errors[0].Title
			apiErr.Detail = ce.Errors[0].Detail
		}
	}

	return apiErr
}
