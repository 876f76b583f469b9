package provisioner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/cfusers/internal/cfapi"
	"github.com/bigkaa/cfusers/internal/domain/model"
	"github.com/bigkaa/cfusers/internal/repository"
)

// Количество рестартов прогона после конфликта версий, прежде чем сдаться.
const maxConflictRestarts = 3

// Reconciler приводит внешние ресурсы записи к полностью провиженному
// состоянию. Этапы выполняются строго по порядку: аккаунт, организация,
// пространство. Каждый этап идемпотентен (check-then-create), после
// каждого этапа прогресс фиксируется в State Store, поэтому прерванный
// прогон продолжается с места остановки, не создавая дубликатов.
type Reconciler struct {
	repo      repository.UserRepository
	providers []ResourceProvider
	// Таймаут одного обращения к провайдеру
	timeout time.Duration
	logger  *slog.Logger
}

// New создаёт Reconciler. Порядок providers — порядок этапов.
func New(repo repository.UserRepository, providers []ResourceProvider, timeout time.Duration, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		repo:      repo,
		providers: providers,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "reconciler")),
	}
}

// Reconcile выполняет один прогон для записи rec.
//
// Возвращаемая запись всегда отражает фактически достигнутое состояние,
// в том числе частичное при ошибке: вызывающий обязан отдать её клиенту
// или оставить фоновой сверке. Ошибка этапа — *StageError; поле Transient
// сообщает, имеет ли смысл повтор.
func (r *Reconciler) Reconcile(ctx context.Context, rec *model.UserRecord) (*model.UserRecord, error) {
	restarts := 0

	for i := 0; i < len(r.providers); {
		p := r.providers[i]

		if p.Exists(rec) {
			i++
			continue
		}

		id, err := r.ensure(ctx, p, rec)
		if err != nil {
			return rec, &StageError{
				Stage:     p.Stage(),
				Transient: cfapi.IsTransient(err),
				Err:       err,
			}
		}
		p.Apply(rec, id)

		r.logger.Info("Этап провижининга завершён",
			slog.String("email", rec.Email),
			slog.String("stage", p.Stage()),
			slog.String("resource_id", id),
			slog.String("state", string(rec.State())),
		)

		fresh, conflicted, err := r.checkpoint(ctx, rec)
		if err != nil {
			return rec, fmt.Errorf("фиксация прогресса этапа %s: %w", p.Stage(), err)
		}
		if conflicted {
			// Конкурирующий прогон зафиксировал другое состояние.
			// Продолжаем от актуальной записи: уже созданные ресурсы
			// будут найдены по ключу, дубликатов не возникнет.
			restarts++
			if restarts > maxConflictRestarts {
				return fresh, fmt.Errorf("прогон прерван: %d конфликтов версий подряд для %s",
					restarts, rec.Email)
			}
			rec = fresh
			i = 0
			continue
		}
		rec = fresh
		i++
	}

	return rec, nil
}

// ensure приводит один ресурс к существованию: сначала ищет по
// естественному ключу, затем создаёт. Проигранная гонка создания
// (ресурс уже существует) разрешается повторным поиском.
func (r *Reconciler) ensure(ctx context.Context, p ResourceProvider, rec *model.UserRecord) (string, error) {
	id, found, err := r.find(ctx, p, rec)
	if err != nil {
		return "", err
	}
	if found {
		r.logger.Debug("Ресурс уже существует, создание пропущено",
			slog.String("email", rec.Email),
			slog.String("stage", p.Stage()),
			slog.String("resource_id", id),
		)
		return id, nil
	}

	createCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	id, err = p.Create(createCtx, rec)
	if err == nil {
		return id, nil
	}
	if !cfapi.IsAlreadyExists(err) {
		return "", err
	}

	// Ресурс создан кем-то между Find и Create — перечитываем
	id, found, ferr := r.find(ctx, p, rec)
	if ferr != nil {
		return "", ferr
	}
	if !found {
		return "", fmt.Errorf("провайдер сообщил о дубликате, но ресурс не найден: %w", err)
	}
	return id, nil
}

// find выполняет Find провайдера с таймаутом одного обращения.
func (r *Reconciler) find(ctx context.Context, p ResourceProvider, rec *model.UserRecord) (string, bool, error) {
	findCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	return p.Find(findCtx, rec)
}

// checkpoint фиксирует текущее состояние записи в State Store.
// При конфликте версий возвращает актуальную запись и conflicted=true.
func (r *Reconciler) checkpoint(ctx context.Context, rec *model.UserRecord) (*model.UserRecord, bool, error) {
	err := r.repo.Upsert(ctx, rec)
	if err == nil {
		return rec, false, nil
	}
	if !errors.Is(err, repository.ErrConflict) {
		return nil, false, err
	}

	r.logger.Warn("Конфликт версий при фиксации прогресса, перечитываем запись",
		slog.String("email", rec.Email),
		slog.Int64("version", rec.Version),
	)

	fresh, gerr := r.repo.GetByEmail(ctx, rec.Email)
	if gerr != nil {
		return nil, false, fmt.Errorf("перечитывание записи после конфликта: %w", gerr)
	}
	return fresh, true, nil
}
