package cfapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

// APIError — ошибка, возвращённая UAA или Cloud Controller.
// Сохраняет провайдера, HTTP-статус и машинный код ошибки провайдера,
// чтобы вызывающий мог классифицировать отказ.
type APIError struct {
	// Provider — "uaa" или "cloudcontroller"
	Provider string
	// StatusCode — HTTP-статус ответа
	StatusCode int
	// Code — машинный код ошибки провайдера (если есть)
	Code string
	// Detail — человекочитаемое описание
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: статус %d, код %q: %s", e.Provider, e.StatusCode, e.Code, e.Detail)
}

// IsAlreadyExists сообщает, что провайдер отказал из-за уже существующего
// одноимённого ресурса. Для reconcile это не отказ: ресурс нужно перечитать
// и продолжить.
func IsAlreadyExists(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusConflict:
		return true
	case http.StatusUnprocessableEntity:
		// Cloud Controller v3 отвечает 422 на дубликат имени.
		// Title приходит с префиксом CF- (CF-UnprocessableEntity);
		// принимаем и форму без префикса.
		return strings.TrimPrefix(apiErr.Code, "CF-") == "UnprocessableEntity" &&
			(strings.Contains(apiErr.Detail, "already exists") ||
				strings.Contains(apiErr.Detail, "taken"))
	}
	return false
}

// IsUnauthorized — провайдер отверг учётные данные или права клиента.
// Постоянный отказ: повторы бессмысленны до смены конфигурации.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusUnauthorized ||
		apiErr.StatusCode == http.StatusForbidden
}

// IsQuotaExceeded — исчерпана квота организаций/пространств.
// Постоянный отказ.
func IsQuotaExceeded(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == "CF-OrgQuotaTotalOrgsExceeded" ||
		apiErr.Code == "CF-SpaceQuotaTotalSpacesExceeded" ||
		strings.Contains(apiErr.Detail, "quota")
}

// IsTransient — временный отказ: сетевые ошибки, таймауты, 5xx и 429.
// Только такие отказы подлежат повтору.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == http.StatusTooManyRequests
	}

	// Сетевые ошибки и таймауты транспорта
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}
