package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/cfusers/internal/api/generated"
	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/provisioner"
	"github.com/bigkaa/cfusers/internal/service"
	"github.com/bigkaa/cfusers/internal/validator"
)

// stubUsers — заглушка сервисного слоя со сценарием на каждый метод.
type stubUsers struct {
	getRec    *model.UserRecord
	getErr    error
	listRecs  []*model.UserRecord
	listTotal int
	listErr   error
	createRec *model.UserRecord
	createErr error
}

func (s *stubUsers) Get(_ context.Context, email string) (*model.UserRecord, error) {
	return s.getRec, s.getErr
}

func (s *stubUsers) List(_ context.Context, limit, offset int) ([]*model.UserRecord, int, error) {
	return s.listRecs, s.listTotal, s.listErr
}

func (s *stubUsers) Create(_ context.Context, req validator.Request) (*model.UserRecord, error) {
	return s.createRec, s.createErr
}

// newTestServer собирает полный роутер с заглушкой сервиса.
func newTestServer(t *testing.T, users *stubUsers) *httptest.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handler := NewAPIHandler(NewHealthHandler(nil, nil, nil), users, logger)

	router := chi.NewRouter()
	generated.HandlerFromMux(handler, router)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func sampleRecord() *model.UserRecord {
	return &model.UserRecord{
		ID:              "11111111-2222-3333-4444-555555555555",
		GivenName:       "Jane",
		FamilyName:      "Doe",
		Email:           "a@x.com",
		DateStart:       time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
		DefaultPassword: "s3cret",
		ShortenedName:   "jdoe",
		UAAUserID:       "uaa-1",
		OrgID:           "org-1",
		SpaceID:         "space-1",
		UserExists:      true,
		OrgExists:       true,
		SpaceExists:     true,
		Version:         4,
	}
}

func decodeError(t *testing.T, body io.Reader) (code, message string) {
	t.Helper()
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&envelope); err != nil {
		t.Fatalf("декодирование конверта ошибки: %v", err)
	}
	return envelope.Error.Code, envelope.Error.Message
}

func TestGetUserByEmail_OK(t *testing.T) {
	srv := newTestServer(t, &stubUsers{getRec: sampleRecord()})

	resp, err := http.Get(srv.URL + "/api/user/a@x.com")
	if err != nil {
		t.Fatalf("GET ошибка: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", resp.StatusCode)
	}

	var user generated.User
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if user.State != generated.FullyProvisioned {
		t.Errorf("state = %q, хотели fully_provisioned", user.State)
	}
	if user.OrgName != "jdoe-org" || user.SpaceName != "jdoe-dev" {
		t.Errorf("производные имена = %q/%q", user.OrgName, user.SpaceName)
	}
	if user.UaaUserId == nil || *user.UaaUserId != "uaa-1" {
		t.Error("uaa_user_id не отдан")
	}
}

func TestGetUserByEmail_NotFound(t *testing.T) {
	srv := newTestServer(t, &stubUsers{getErr: service.ErrNotFound})

	resp, err := http.Get(srv.URL + "/api/user/ghost@x.com")
	if err != nil {
		t.Fatalf("GET ошибка: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("статус = %d, хотели 404", resp.StatusCode)
	}
	if code, _ := decodeError(t, resp.Body); code != "NOT_FOUND" {
		t.Errorf("код = %q, хотели NOT_FOUND", code)
	}
}

func TestListUsers(t *testing.T) {
	srv := newTestServer(t, &stubUsers{
		listRecs:  []*model.UserRecord{sampleRecord()},
		listTotal: 7,
	})

	resp, err := http.Get(srv.URL + "/api/user?limit=1&offset=0")
	if err != nil {
		t.Fatalf("GET ошибка: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", resp.StatusCode)
	}

	var list generated.UserListResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if len(list.Items) != 1 || list.Total != 7 {
		t.Errorf("items=%d total=%d, хотели 1/7", len(list.Items), list.Total)
	}
	if !list.HasMore {
		t.Error("has_more = false при total=7, limit=1")
	}
}

func postUser(t *testing.T, srv *httptest.Server, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(srv.URL+"/api/user", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST ошибка: %v", err)
	}
	return resp
}

const validBody = `{
	"given_name": "Jane",
	"family_name": "Doe",
	"email": "a@x.com",
	"date_start": "2023-01-01T00:00:00.000Z",
	"password": "s3cret"
}`

func TestCreateUser_Created(t *testing.T) {
	srv := newTestServer(t, &stubUsers{createRec: sampleRecord()})

	resp := postUser(t, srv, validBody)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("статус = %d, хотели 201", resp.StatusCode)
	}

	raw, _ := io.ReadAll(resp.Body)
	if strings.Contains(string(raw), "s3cret") || strings.Contains(string(raw), "password") {
		t.Error("пароль попал в ответ API")
	}

	var user generated.User
	if err := json.Unmarshal(raw, &user); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if user.State != generated.FullyProvisioned {
		t.Errorf("state = %q, хотели fully_provisioned", user.State)
	}
}

func TestCreateUser_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "ошибка валидации",
			err:        fmt.Errorf("%w: %w", service.ErrValidation, validator.ErrInvalidDateFormat),
			wantStatus: http.StatusBadRequest,
			wantCode:   "VALIDATION_ERROR",
		},
		{
			name:       "дубликат email",
			err:        fmt.Errorf("%w: email a@x.com", service.ErrConflict),
			wantStatus: http.StatusConflict,
			wantCode:   "CONFLICT",
		},
		{
			name:       "повторы исчерпаны",
			err:        fmt.Errorf("%w: этап org", service.ErrRetryLater),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   "RETRY_LATER",
		},
		{
			name: "постоянный отказ этапа",
			err: fmt.Errorf("%w: %w", service.ErrProvisioningFailed,
				&provisioner.StageError{Stage: provisioner.StageSpace, Err: fmt.Errorf("quota")}),
			wantStatus: http.StatusBadGateway,
			wantCode:   "PROVISIONING_FAILED",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestServer(t, &stubUsers{createErr: tt.err})

			resp := postUser(t, srv, validBody)
			defer resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("статус = %d, хотели %d", resp.StatusCode, tt.wantStatus)
			}
			code, message := decodeError(t, resp.Body)
			if code != tt.wantCode {
				t.Errorf("код = %q, хотели %q", code, tt.wantCode)
			}
			if tt.wantCode == "PROVISIONING_FAILED" && !strings.Contains(message, "space") {
				t.Errorf("сообщение %q не называет отказавший этап", message)
			}
			if tt.wantStatus == http.StatusServiceUnavailable && resp.Header.Get("Retry-After") == "" {
				t.Error("503 без заголовка Retry-After")
			}
		})
	}
}

func TestCreateUser_MalformedBody(t *testing.T) {
	srv := newTestServer(t, &stubUsers{})

	resp := postUser(t, srv, `{"email":`)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("статус = %d, хотели 400", resp.StatusCode)
	}
}

func TestHealthLive(t *testing.T) {
	srv := newTestServer(t, &stubUsers{})

	resp, err := http.Get(srv.URL + "/health/live")
	if err != nil {
		t.Fatalf("GET ошибка: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("декодирование ответа: %v", err)
	}
	if body["service"] != "user-module" {
		t.Errorf("service = %q, хотели user-module", body["service"])
	}
}

func TestHealthReady_FailWithoutCheckers(t *testing.T) {
	srv := newTestServer(t, &stubUsers{})

	resp, err := http.Get(srv.URL + "/health/ready")
	if err != nil {
		t.Fatalf("GET ошибка: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("статус = %d, хотели 503 (checkers не инициализированы)", resp.StatusCode)
	}
}
