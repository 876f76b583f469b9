// uaa.go — клиент UAA SCIM API: поиск и создание аккаунтов пользователей.
package cfapi

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// UAAClient — клиент SCIM API UAA.
type UAAClient struct {
	apiClient
}

// NewUAAClient создаёт клиент UAA.
// baseURL — базовый URL UAA (например, https://uaa.system.example.com).
func NewUAAClient(baseURL string, tokens *TokenSource, httpClient *http.Client, logger *slog.Logger) *UAAClient {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &UAAClient{apiClient: apiClient{
		provider:   "uaa",
		baseURL:    baseURL,
		tokens:     tokens,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "uaa_client")),
	}}
}

// FindUserByName ищет аккаунт по userName (email) через SCIM-фильтр.
// Возвращает nil, nil если аккаунт не найден.
func (c *UAAClient) FindUserByName(ctx context.Context, userName string) (*SCIMUser, error) {
	filter := url.QueryEscape(fmt.Sprintf(`userName eq "%s"`, userName))
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/Users?filter="+filter, nil)
	if err != nil {
		return nil, err
	}

	var list scimListResponse
	if err := c.decode(resp, &list); err != nil {
		return nil, fmt.Errorf("FindUserByName: %w", err)
	}

	if list.TotalResults == 0 || len(list.Resources) == 0 {
		return nil, nil
	}
	return &list.Resources[0], nil
}

// CreateUser создаёт аккаунт пользователя в UAA.
// Возвращает созданный аккаунт с заполненным ID.
// Дубликат userName — *APIError со статусом 409 (IsAlreadyExists).
func (c *UAAClient) CreateUser(ctx context.Context, user *SCIMUser) (*SCIMUser, error) {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/Users", user)
	if err != nil {
		return nil, err
	}

	var created SCIMUser
	if err := c.decode(resp, &created); err != nil {
		return nil, fmt.Errorf("CreateUser: %w", err)
	}

	c.logger.Info("Аккаунт UAA создан",
		slog.String("user_name", created.UserName),
		slog.String("uaa_user_id", created.ID),
	)

	return &created, nil
}

// CheckReady проверяет доступность UAA через получение токена.
// Реализует handlers.ReadinessChecker.
func (c *UAAClient) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.tokens.Token(ctx); err != nil {
		return "fail", fmt.Sprintf("UAA недоступен: %v", err)
	}
	return "ok", "UAA доступен"
}
