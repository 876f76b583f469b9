// users.go — сервис пользователей: чтение записей и синхронное создание
// с провижинингом.
//
// Create выполняет полный цикл: валидация → запись в State Store →
// прогоны Reconciler с ограниченными повторами при временных отказах
// (экспоненциальный backoff с джиттером, потолок UM_RECONCILE_MAX_ELAPSED).
// Частичный прогресс всегда остаётся в State Store: недопровиженные
// записи добирает фоновая сверка.
//
// Prometheus-метрики:
//   - um_provisioning_runs_total{outcome} — исходы прогонов провижининга
//   - um_provisioning_stage_failures_total{stage} — отказы по этапам
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/provisioner"
	"github.com/bigkaa/cfusers/internal/repository"
	"github.com/bigkaa/cfusers/internal/validator"
)

// Prometheus-метрики провижининга.
var (
	provisioningRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "um_provisioning_runs_total",
		Help: "Исходы прогонов провижининга (success, transient_exhausted, permanent_failure)",
	}, []string{"outcome"})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "um_provisioning_stage_failures_total",
		Help: "Отказы этапов провижининга по этапам (account, org, space)",
	}, []string{"stage"})
)

// Reconciler — часть реконсайлера, нужная сервисам.
type Reconciler interface {
	Reconcile(ctx context.Context, rec *model.UserRecord) (*model.UserRecord, error)
}

// UserService — сервис записей пользователей.
type UserService struct {
	repo       repository.UserRepository
	reconciler Reconciler
	// Процессный пароль по умолчанию (UM_DEFAULT_PASSWORD)
	defaultPassword string
	// Keep-alive по умолчанию для записей без него (UM_USER_KEEPALIVE)
	defaultKeepAlive string
	// Потолок суммарного времени повторов при временных отказах
	maxElapsed time.Duration
	logger     *slog.Logger
}

// NewUserService создаёт сервис пользователей.
func NewUserService(
	repo repository.UserRepository,
	reconciler Reconciler,
	defaultPassword string,
	defaultKeepAlive string,
	maxElapsed time.Duration,
	logger *slog.Logger,
) *UserService {
	return &UserService{
		repo:             repo,
		reconciler:       reconciler,
		defaultPassword:  defaultPassword,
		defaultKeepAlive: defaultKeepAlive,
		maxElapsed:       maxElapsed,
		logger:           logger.With(slog.String("component", "user_service")),
	}
}

// Get возвращает запись по email.
func (s *UserService) Get(ctx context.Context, email string) (*model.UserRecord, error) {
	rec, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: пользователь %s", ErrNotFound, email)
		}
		return nil, err
	}
	return rec, nil
}

// List возвращает страницу записей и общее количество.
func (s *UserService) List(ctx context.Context, limit, offset int) ([]*model.UserRecord, int, error) {
	users, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	total, err := s.repo.Count(ctx)
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

// Create валидирует запрос, сохраняет запись и провижинит внешние ресурсы.
//
// Возвращаемая запись не nil и при ошибке провижининга: она отражает
// фактически достигнутое (возможно частичное) состояние. Ошибки:
//   - ErrValidation — запрос не прошёл валидацию, запись не создана;
//   - ErrConflict — пользователь с таким email уже существует;
//   - ErrRetryLater — временные отказы исчерпали лимит повторов;
//   - ErrProvisioningFailed — постоянный отказ этапа (оборачивает *StageError).
func (s *UserService) Create(ctx context.Context, req validator.Request) (*model.UserRecord, error) {
	rec, err := validator.Validate(req, s.defaultPassword)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidation, err)
	}

	if rec.KeepAlive == "" {
		rec.KeepAlive = s.defaultKeepAlive
	}

	if err := s.repo.Create(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return nil, fmt.Errorf("%w: email %s", ErrConflict, rec.Email)
		}
		return nil, fmt.Errorf("создание записи: %w", err)
	}

	s.logger.Info("Запись пользователя создана",
		slog.String("email", rec.Email),
		slog.String("id", rec.ID),
	)

	// Дата начала в будущем: запись сохранена, но ресурсы пока не создаются.
	// Фоновая сверка подхватит её, когда дата наступит.
	if rec.DateStart.After(time.Now()) {
		s.logger.Info("Дата начала ещё не наступила, провижининг отложен",
			slog.String("email", rec.Email),
			slog.Time("date_start", rec.DateStart),
		)
		return rec, nil
	}

	return s.Provision(ctx, rec)
}

// Provision прогоняет Reconciler для записи с ограниченными повторами
// при временных отказах. Используется Create и фоновой сверкой.
func (s *UserService) Provision(ctx context.Context, rec *model.UserRecord) (*model.UserRecord, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 10 * time.Second
	policy.MaxElapsedTime = s.maxElapsed

	var lastStageErr *provisioner.StageError

	run := func() error {
		current, err := s.reconciler.Reconcile(ctx, rec)
		rec = current
		if err == nil {
			return nil
		}

		var stageErr *provisioner.StageError
		if errors.As(err, &stageErr) {
			stageFailures.WithLabelValues(stageErr.Stage).Inc()
			lastStageErr = stageErr
			if stageErr.Transient {
				s.logger.Warn("Временный отказ этапа провижининга, повтор",
					slog.String("email", rec.Email),
					slog.String("stage", stageErr.Stage),
					slog.String("error", stageErr.Err.Error()),
				)
				return err
			}
			// Постоянный отказ: повторы бессмысленны
			return backoff.Permanent(err)
		}
		// Ошибка State Store — не повторяем
		return backoff.Permanent(err)
	}

	err := backoff.Retry(run, backoff.WithContext(policy, ctx))
	if err == nil {
		provisioningRuns.WithLabelValues("success").Inc()
		s.logger.Info("Пользователь полностью провижен",
			slog.String("email", rec.Email),
			slog.String("state", string(rec.State())),
		)
		return rec, nil
	}

	if lastStageErr != nil && lastStageErr.Transient {
		provisioningRuns.WithLabelValues("transient_exhausted").Inc()
		s.logger.Error("Лимит повторов исчерпан, запись оставлена фоновой сверке",
			slog.String("email", rec.Email),
			slog.String("stage", lastStageErr.Stage),
			slog.String("state", string(rec.State())),
		)
		return rec, fmt.Errorf("%w: этап %s", ErrRetryLater, lastStageErr.Stage)
	}

	provisioningRuns.WithLabelValues("permanent_failure").Inc()
	if lastStageErr != nil {
		s.logger.Error("Постоянный отказ провижининга",
			slog.String("email", rec.Email),
			slog.String("stage", lastStageErr.Stage),
			slog.String("error", lastStageErr.Err.Error()),
		)
		return rec, fmt.Errorf("%w: %w", ErrProvisioningFailed, lastStageErr)
	}
	return rec, fmt.Errorf("%w: %w", ErrProvisioningFailed, err)
}
