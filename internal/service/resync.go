// resync.go — фоновая сверка недопровиженных записей с Cloud Foundry.
//
// ResyncService запускает горутину с ticker (UM_RESYNC_INTERVAL), которая
// выбирает записи без полного набора внешних ресурсов и прогоняет для них
// Reconciler. Записи, чья дата начала ещё не наступила, пропускаются.
//
// Prometheus-метрики:
//   - um_resync_duration_seconds — длительность одного прохода сверки
//   - um_resync_incomplete_records — недопровиженных записей на момент прохода
package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/cfusers/internal/repository"
)

// Размер пакета записей одного прохода сверки.
const resyncBatchSize = 500

// Prometheus-метрики фоновой сверки.
var (
	resyncDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "um_resync_duration_seconds",
		Help:    "Длительность одного прохода фоновой сверки",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 0.1s … ~51s
	})

	resyncIncomplete = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "um_resync_incomplete_records",
		Help: "Количество недопровиженных записей на момент последнего прохода",
	})
)

// ResyncResult — итог одного прохода сверки.
type ResyncResult struct {
	// Total — выбрано недопровиженных записей
	Total int
	// Skipped — пропущено (дата начала в будущем)
	Skipped int
	// Provisioned — доведено до полного состояния
	Provisioned int
	// Failed — завершилось ошибкой (останутся до следующего прохода)
	Failed int
}

// ResyncService — фоновый сервис сверки записей с Cloud Foundry.
type ResyncService struct {
	repo       repository.UserRepository
	reconciler Reconciler
	interval   time.Duration
	logger     *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewResyncService создаёт сервис фоновой сверки.
func NewResyncService(
	repo repository.UserRepository,
	reconciler Reconciler,
	interval time.Duration,
	logger *slog.Logger,
) *ResyncService {
	return &ResyncService{
		repo:       repo,
		reconciler: reconciler,
		interval:   interval,
		logger:     logger.With(slog.String("component", "resync")),
	}
}

// Start запускает фоновую горутину с периодической сверкой.
func (s *ResyncService) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go func() {
		defer close(s.done)

		s.logger.Info("Фоновая сверка запущена",
			slog.String("interval", s.interval.String()),
		)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				s.logger.Info("Фоновая сверка остановлена")
				return
			case <-ticker.C:
				result, err := s.SyncNow(ctx)
				if err != nil {
					s.logger.Error("Ошибка прохода фоновой сверки",
						slog.String("error", err.Error()),
					)
					continue
				}
				s.logger.Info("Проход фоновой сверки завершён",
					slog.Int("total", result.Total),
					slog.Int("skipped", result.Skipped),
					slog.Int("provisioned", result.Provisioned),
					slog.Int("failed", result.Failed),
				)
			}
		}
	}()
}

// Stop останавливает фоновую горутину и ждёт завершения.
func (s *ResyncService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done != nil {
		<-s.done
	}
}

// SyncNow выполняет один проход сверки: прогоняет Reconciler для всех
// недопровиженных записей с наступившей датой начала. Отказы отдельных
// записей не прерывают проход.
func (s *ResyncService) SyncNow(ctx context.Context) (*ResyncResult, error) {
	start := time.Now()
	defer func() {
		resyncDuration.Observe(time.Since(start).Seconds())
	}()

	records, err := s.repo.ListIncomplete(ctx, resyncBatchSize)
	if err != nil {
		return nil, fmt.Errorf("выборка недопровиженных записей: %w", err)
	}

	result := &ResyncResult{Total: len(records)}
	resyncIncomplete.Set(float64(len(records)))

	now := time.Now().UTC()
	for _, rec := range records {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}

		// Дата начала ещё не наступила — не провижиним
		if rec.DateStart.After(now) {
			result.Skipped++
			continue
		}

		if _, err := s.reconciler.Reconcile(ctx, rec); err != nil {
			result.Failed++
			s.logger.Warn("Сверка записи не завершена",
				slog.String("email", rec.Email),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Provisioned++
	}

	return result, nil
}
