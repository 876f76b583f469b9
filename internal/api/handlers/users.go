// users.go — обработчики /api/user endpoints.
// Чтение записей и синхронное создание с провижинингом.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/cfusers/internal/api/errors"
	"github.com/bigkaa/cfusers/internal/api/generated"
	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/service"
	"github.com/bigkaa/cfusers/internal/validator"
)

// Подсказка Retry-After при временной недоступности провайдеров, секунды.
const retryAfterSeconds = 60

// ListUsers — GET /api/user.
// Возвращает страницу записей пользователей.
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request, params generated.ListUsersParams) {
	limit, offset := paginationDefaults(params.Limit, params.Offset)

	users, total, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка получения списка пользователей", "error", err)
		apierrors.InternalError(w, "Ошибка получения списка пользователей")
		return
	}

	items := make([]generated.User, len(users))
	for i, u := range users {
		items[i] = mapUser(u)
	}

	resp := generated.UserListResponse{
		Items:   items,
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+limit < total,
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetUserByEmail — GET /api/user/{email}.
// Возвращает запись по email с производным состоянием провижининга.
func (h *APIHandler) GetUserByEmail(w http.ResponseWriter, r *http.Request, email openapi_types.Email) {
	rec, err := h.users.Get(r.Context(), string(email))
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			apierrors.NotFound(w, "Пользователь "+string(email)+" не найден")
			return
		}
		h.logger.Error("Ошибка получения пользователя",
			"email", string(email),
			"error", err,
		)
		apierrors.InternalError(w, "Ошибка получения пользователя")
		return
	}

	writeJSON(w, http.StatusOK, mapUser(rec))
}

// CreateUser — POST /api/user.
// Валидирует запрос, сохраняет запись и синхронно провижинит ресурсы.
// 201 — только при полном успехе всех этапов; частичный прогресс при
// отказе сохраняется и добирается фоновой сверкой.
func (h *APIHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req generated.CreateUserJSONRequestBody
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return
	}

	vreq := validator.Request{
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Email:      string(req.Email),
		DateStart:  req.DateStart,
	}
	if req.KeepAlive != nil {
		vreq.KeepAlive = *req.KeepAlive
	}
	if req.Password != nil {
		vreq.Password = *req.Password
	}

	rec, err := h.users.Create(r.Context(), vreq)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrValidation):
			apierrors.ValidationError(w, err.Error())
		case errors.Is(err, service.ErrConflict):
			apierrors.Conflict(w, "Пользователь с email "+vreq.Email+" уже существует")
		case errors.Is(err, service.ErrRetryLater):
			apierrors.RetryLater(w, err.Error(), retryAfterSeconds)
		case errors.Is(err, service.ErrProvisioningFailed):
			apierrors.ProvisioningFailed(w, err.Error())
		default:
			h.logger.Error("Ошибка создания пользователя",
				"email", vreq.Email,
				"error", err,
			)
			apierrors.InternalError(w, "Ошибка создания пользователя")
		}
		return
	}

	writeJSON(w, http.StatusCreated, mapUser(rec))
}

// mapUser отображает доменную запись в API-представление.
// Пароль наружу не отдаётся никогда.
func mapUser(u *model.UserRecord) generated.User {
	out := generated.User{
		Id:            u.ID,
		GivenName:     u.GivenName,
		FamilyName:    u.FamilyName,
		Email:         openapi_types.Email(u.Email),
		DateStart:     u.DateStart,
		ShortenedName: u.ShortenedName,
		OrgName:       u.OrgName(),
		SpaceName:     u.SpaceName(),
		UserExists:    u.UserExists,
		OrgExists:     u.OrgExists,
		SpaceExists:   u.SpaceExists,
		State:         generated.UserState(u.State()),
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}

	if u.KeepAlive != "" {
		out.KeepAlive = &u.KeepAlive
	}
	if u.UAAUserID != "" {
		out.UaaUserId = &u.UAAUserID
	}
	if u.OrgID != "" {
		out.OrgId = &u.OrgID
	}
	if u.SpaceID != "" {
		out.SpaceId = &u.SpaceID
	}

	return out
}
