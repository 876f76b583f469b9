package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/provisioner"
	"github.com/bigkaa/cfusers/internal/repository"
	"github.com/bigkaa/cfusers/internal/validator"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Фейки ---

// fakeRepo — in-memory репозиторий пользователей.
type fakeRepo struct {
	mu      sync.Mutex
	records map[string]*model.UserRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{records: make(map[string]*model.UserRecord)}
}

func (f *fakeRepo) Create(_ context.Context, u *model.UserRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[u.Email]; ok {
		return repository.ErrConflict
	}
	u.Version = 1
	cp := *u
	f.records[u.Email] = &cp
	return nil
}

func (f *fakeRepo) GetByEmail(_ context.Context, email string) (*model.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[email]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (f *fakeRepo) List(_ context.Context, limit, offset int) ([]*model.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.UserRecord
	for _, rec := range f.records {
		cp := *rec
		result = append(result, &cp)
	}
	return result, nil
}

func (f *fakeRepo) Count(_ context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.records), nil
}

func (f *fakeRepo) Upsert(_ context.Context, u *model.UserRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[u.Email]; !ok {
		return repository.ErrNotFound
	}
	u.Version++
	cp := *u
	f.records[u.Email] = &cp
	return nil
}

func (f *fakeRepo) ListIncomplete(_ context.Context, limit int) ([]*model.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*model.UserRecord
	for _, rec := range f.records {
		if rec.State() != model.StateFullyProvisioned {
			cp := *rec
			result = append(result, &cp)
		}
	}
	return result, nil
}

// fakeReconciler — реконсайлер со сценарием: очередь ошибок, затем успех.
type fakeReconciler struct {
	mu    sync.Mutex
	errs  []error // возвращаются по одной на прогон
	calls int
}

func (f *fakeReconciler) Reconcile(_ context.Context, rec *model.UserRecord) (*model.UserRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return rec, err
		}
	}
	rec.UAAUserID = "uaa-1"
	rec.OrgID = "org-1"
	rec.SpaceID = "space-1"
	rec.UserExists = true
	rec.OrgExists = true
	rec.SpaceExists = true
	return rec, nil
}

func newService(repo repository.UserRepository, rec Reconciler) *UserService {
	return NewUserService(repo, rec, "Def1", "720h", 3*time.Second, testLogger())
}

func validRequest(email string) validator.Request {
	return validator.Request{
		GivenName:  "Jane",
		FamilyName: "Doe",
		Email:      email,
		DateStart:  "2023-01-01T00:00:00.000Z",
		Password:   "s3cret",
	}
}

// --- Тесты ---

func TestCreate_FullSuccess(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{}
	svc := newService(repo, rc)

	rec, err := svc.Create(context.Background(), validRequest("ok@example.com"))
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if rec.State() != model.StateFullyProvisioned {
		t.Errorf("State() = %q, хотели fully_provisioned", rec.State())
	}
	if rc.calls != 1 {
		t.Errorf("Reconcile вызван %d раз, хотели 1", rc.calls)
	}
}

func TestCreate_ValidationError(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeReconciler{})

	req := validRequest("bad@example.com")
	req.DateStart = "2023-01-01"

	_, err := svc.Create(context.Background(), req)
	if !errors.Is(err, ErrValidation) {
		t.Errorf("Create() = %v, хотели ErrValidation", err)
	}
	if !errors.Is(err, validator.ErrInvalidDateFormat) {
		t.Errorf("Create() = %v, хотели вложенный ErrInvalidDateFormat", err)
	}

	// Запись не создана
	if _, err := repo.GetByEmail(context.Background(), "bad@example.com"); !errors.Is(err, repository.ErrNotFound) {
		t.Error("запись создана несмотря на ошибку валидации")
	}
}

func TestCreate_DuplicateEmail(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeReconciler{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, validRequest("dup@example.com")); err != nil {
		t.Fatalf("первый Create() ошибка: %v", err)
	}
	_, err := svc.Create(ctx, validRequest("dup@example.com"))
	if !errors.Is(err, ErrConflict) {
		t.Errorf("повторный Create() = %v, хотели ErrConflict", err)
	}
}

func TestCreate_RetriesTransient(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{errs: []error{
		&provisioner.StageError{Stage: provisioner.StageOrg, Transient: true, Err: errors.New("503")},
		&provisioner.StageError{Stage: provisioner.StageOrg, Transient: true, Err: errors.New("503")},
		nil, // третий прогон успешен
	}}
	svc := newService(repo, rc)

	rec, err := svc.Create(context.Background(), validRequest("retry@example.com"))
	if err != nil {
		t.Fatalf("Create() после восстановления провайдера ошибка: %v", err)
	}
	if rec.State() != model.StateFullyProvisioned {
		t.Errorf("State() = %q, хотели fully_provisioned", rec.State())
	}
	if rc.calls != 3 {
		t.Errorf("Reconcile вызван %d раз, хотели 3", rc.calls)
	}
}

func TestCreate_TransientExhausted(t *testing.T) {
	repo := newFakeRepo()
	// Отказы не кончаются — лимит повторов будет исчерпан
	rc := &endlessTransient{}
	svc := NewUserService(repo, rc, "Def1", "", 300*time.Millisecond, testLogger())

	rec, err := svc.Create(context.Background(), validRequest("down@example.com"))
	if !errors.Is(err, ErrRetryLater) {
		t.Fatalf("Create() = %v, хотели ErrRetryLater", err)
	}
	if rec == nil {
		t.Fatal("Create() не вернул запись при исчерпании повторов")
	}

	// Запись осталась в хранилище для фоновой сверки
	stored, gerr := repo.GetByEmail(context.Background(), "down@example.com")
	if gerr != nil {
		t.Fatalf("GetByEmail() ошибка: %v", gerr)
	}
	if stored.State() == model.StateFullyProvisioned {
		t.Error("запись помечена полностью провиженной при недоступных провайдерах")
	}
}

// endlessTransient всегда возвращает временный отказ.
type endlessTransient struct{ calls int }

func (f *endlessTransient) Reconcile(_ context.Context, rec *model.UserRecord) (*model.UserRecord, error) {
	f.calls++
	return rec, &provisioner.StageError{
		Stage:     provisioner.StageAccount,
		Transient: true,
		Err:       errors.New("connection refused"),
	}
}

func TestCreate_PermanentFailureNoRetry(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{errs: []error{
		&provisioner.StageError{Stage: provisioner.StageSpace, Transient: false, Err: errors.New("quota")},
	}}
	svc := newService(repo, rc)

	_, err := svc.Create(context.Background(), validRequest("quota@example.com"))
	if !errors.Is(err, ErrProvisioningFailed) {
		t.Fatalf("Create() = %v, хотели ErrProvisioningFailed", err)
	}

	var stageErr *provisioner.StageError
	if !errors.As(err, &stageErr) || stageErr.Stage != provisioner.StageSpace {
		t.Errorf("ошибка не называет отказавший этап: %v", err)
	}
	if rc.calls != 1 {
		t.Errorf("Reconcile вызван %d раз при постоянном отказе, хотели 1", rc.calls)
	}
}

func TestCreate_KeepAliveDefault(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeReconciler{})

	req := validRequest("ka@example.com")
	req.KeepAlive = ""

	rec, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}
	if rec.KeepAlive != "720h" {
		t.Errorf("KeepAlive = %q, хотели default 720h", rec.KeepAlive)
	}
}

func TestCreate_FutureDateStartDeferred(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{}
	svc := newService(repo, rc)

	req := validRequest("future@example.com")
	req.DateStart = "2100-01-01T00:00:00.000Z"

	rec, err := svc.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	// Запись сохранена, но провижининг отложен до наступления даты
	if rc.calls != 0 {
		t.Errorf("Reconcile вызван %d раз для будущей даты, хотели 0", rc.calls)
	}
	if rec.State() != model.StateUnprovisioned {
		t.Errorf("State() = %q, хотели unprovisioned", rec.State())
	}

	stored, err := repo.GetByEmail(context.Background(), "future@example.com")
	if err != nil {
		t.Fatalf("GetByEmail() ошибка: %v", err)
	}
	if stored.State() != model.StateUnprovisioned {
		t.Errorf("состояние в хранилище = %q, хотели unprovisioned", stored.State())
	}
}

func TestGet(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeReconciler{})
	ctx := context.Background()

	if _, err := svc.Create(ctx, validRequest("get@example.com")); err != nil {
		t.Fatalf("Create() ошибка: %v", err)
	}

	rec, err := svc.Get(ctx, "get@example.com")
	if err != nil {
		t.Fatalf("Get() ошибка: %v", err)
	}
	if rec.Email != "get@example.com" {
		t.Errorf("Get().Email = %q", rec.Email)
	}

	if _, err := svc.Get(ctx, "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(ghost) = %v, хотели ErrNotFound", err)
	}
}

func TestList(t *testing.T) {
	repo := newFakeRepo()
	svc := newService(repo, &fakeReconciler{})
	ctx := context.Background()

	for _, email := range []string{"a@example.com", "b@example.com"} {
		if _, err := svc.Create(ctx, validRequest(email)); err != nil {
			t.Fatalf("Create(%s) ошибка: %v", email, err)
		}
	}

	users, total, err := svc.List(ctx, 10, 0)
	if err != nil {
		t.Fatalf("List() ошибка: %v", err)
	}
	if total != 2 || len(users) != 2 {
		t.Errorf("List() = %d записей, total %d, хотели 2/2", len(users), total)
	}
}
