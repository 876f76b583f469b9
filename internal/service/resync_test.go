package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/provisioner"
)

// seedIncomplete кладёт в репозиторий непровиженную запись.
func seedIncomplete(t *testing.T, repo *fakeRepo, email string, dateStart time.Time) {
	t.Helper()
	rec := &model.UserRecord{
		ID:              uuid.New().String(),
		Email:           email,
		DateStart:       dateStart,
		DefaultPassword: "s3cret",
		ShortenedName:   "jdoe",
	}
	if err := repo.Create(context.Background(), rec); err != nil {
		t.Fatalf("подготовка записи: %v", err)
	}
}

func TestSyncNow_ProvisionsDueRecords(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{}
	svc := NewResyncService(repo, rc, time.Minute, testLogger())

	past := time.Now().UTC().Add(-24 * time.Hour)
	seedIncomplete(t, repo, "due1@example.com", past)
	seedIncomplete(t, repo, "due2@example.com", past)

	result, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() ошибка: %v", err)
	}

	if result.Total != 2 || result.Provisioned != 2 || result.Skipped != 0 || result.Failed != 0 {
		t.Errorf("результат = %+v, хотели Total=2 Provisioned=2", result)
	}
	if rc.calls != 2 {
		t.Errorf("Reconcile вызван %d раз, хотели 2", rc.calls)
	}
}

func TestSyncNow_SkipsFutureDateStart(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{}
	svc := NewResyncService(repo, rc, time.Minute, testLogger())

	seedIncomplete(t, repo, "future@example.com", time.Now().UTC().Add(48*time.Hour))
	seedIncomplete(t, repo, "due@example.com", time.Now().UTC().Add(-time.Hour))

	result, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() ошибка: %v", err)
	}

	if result.Skipped != 1 {
		t.Errorf("Skipped = %d, хотели 1 (будущая дата начала)", result.Skipped)
	}
	if result.Provisioned != 1 {
		t.Errorf("Provisioned = %d, хотели 1", result.Provisioned)
	}
	if rc.calls != 1 {
		t.Errorf("Reconcile вызван %d раз, хотели 1", rc.calls)
	}
}

func TestSyncNow_FailureDoesNotAbortPass(t *testing.T) {
	repo := newFakeRepo()
	// Первая запись падает, вторая проходит
	rc := &fakeReconciler{errs: []error{
		&provisioner.StageError{Stage: provisioner.StageOrg, Transient: true, Err: errors.New("503")},
	}}
	svc := NewResyncService(repo, rc, time.Minute, testLogger())

	past := time.Now().UTC().Add(-time.Hour)
	seedIncomplete(t, repo, "fail@example.com", past)
	seedIncomplete(t, repo, "ok@example.com", past)

	result, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() ошибка: %v", err)
	}

	if result.Failed != 1 || result.Provisioned != 1 {
		t.Errorf("результат = %+v, хотели Failed=1 Provisioned=1", result)
	}
}

func TestSyncNow_EmptyStore(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{}
	svc := NewResyncService(repo, rc, time.Minute, testLogger())

	result, err := svc.SyncNow(context.Background())
	if err != nil {
		t.Fatalf("SyncNow() ошибка: %v", err)
	}
	if result.Total != 0 {
		t.Errorf("Total = %d, хотели 0", result.Total)
	}
	if rc.calls != 0 {
		t.Errorf("Reconcile вызван %d раз на пустом хранилище", rc.calls)
	}
}

func TestResyncStartStop(t *testing.T) {
	repo := newFakeRepo()
	rc := &fakeReconciler{}
	svc := NewResyncService(repo, rc, 10*time.Millisecond, testLogger())

	seedIncomplete(t, repo, "bg@example.com", time.Now().UTC().Add(-time.Hour))

	svc.Start(context.Background())
	time.Sleep(50 * time.Millisecond)
	svc.Stop()

	rc.mu.Lock()
	calls := rc.calls
	rc.mu.Unlock()
	if calls == 0 {
		t.Error("фоновая сверка не выполнила ни одного прохода")
	}
}
