// handler.go — основной обработчик API, реализующий generated.ServerInterface.
// Делегирует запросы в сервисный слой и отображает его ошибки на HTTP-ответы.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/validator"
)

// UserProvisioningService — часть сервисного слоя, нужная обработчикам.
// Реализуется *service.UserService.
type UserProvisioningService interface {
	Get(ctx context.Context, email string) (*model.UserRecord, error)
	List(ctx context.Context, limit, offset int) ([]*model.UserRecord, int, error)
	Create(ctx context.Context, req validator.Request) (*model.UserRecord, error)
}

// APIHandler — основной обработчик API User Module.
// Реализует generated.ServerInterface.
type APIHandler struct {
	health *HealthHandler
	users  UserProvisioningService
	logger *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(health *HealthHandler, users UserProvisioningService, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		health: health,
		users:  users,
		logger: logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует параметры пагинации.
// Возвращает корректные limit и offset.
func paginationDefaults(limit *int, offset *int) (int, int) {
	l := 100
	o := 0

	if limit != nil {
		l = *limit
		if l < 1 {
			l = 1
		}
		if l > 1000 {
			l = 1000
		}
	}

	if offset != nil {
		o = *offset
		if o < 0 {
			o = 0
		}
	}

	return l, o
}
