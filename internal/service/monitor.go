// monitor.go — фоновый монитор соединения с первичным хранилищем.
//
// Периодический тик: при доступном PostgreSQL — ping (потеря соединения
// сбрасывает флаг доступности как побочный эффект), при недоступном —
// попытка переподключения. Сверка запускается по фронту перехода
// недоступно → доступно, ровно один раз на переход, а не на каждый тик.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/arturkryukov/studydocs/internal/api/middleware"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
)

// MonitorService — периодический монитор доступности PostgreSQL.
type MonitorService struct {
	interval   time.Duration
	primary    PrimaryStore
	state      *dbstate.State
	reconciler *ReconcileService
	logger     *slog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewMonitorService создаёт монитор соединения.
func NewMonitorService(
	interval time.Duration,
	primaryStore PrimaryStore,
	state *dbstate.State,
	reconciler *ReconcileService,
	logger *slog.Logger,
) *MonitorService {
	return &MonitorService{
		interval:   interval,
		primary:    primaryStore,
		state:      state,
		reconciler: reconciler,
		logger:     logger.With(slog.String("component", "monitor")),
		stopCh:     make(chan struct{}),
	}
}

// Start запускает фоновый цикл проверки соединения.
func (m *MonitorService) Start(ctx context.Context) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("Монитор соединения запущен",
			slog.Duration("interval", m.interval),
		)

		for {
			select {
			case <-ticker.C:
				m.tick(ctx)
			case <-m.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop останавливает фоновый цикл и дожидается завершения горутины.
func (m *MonitorService) Stop() {
	close(m.stopCh)
	m.wg.Wait()
	m.logger.Info("Монитор соединения остановлен")
}

// tick — одна итерация монитора.
// Выделен в отдельный метод для прямого вызова из тестов.
func (m *MonitorService) tick(ctx context.Context) {
	if m.state.IsReachable() {
		if err := m.primary.Ping(ctx); err != nil {
			// Флаг доступности уже сброшен самим Ping
			m.logger.Warn("Соединение с PostgreSQL потеряно",
				slog.String("error", err.Error()),
			)
			middleware.PrimaryReachable.Set(0)
		}
		return
	}

	if err := m.primary.Connect(ctx); err != nil {
		m.logger.Debug("Попытка переподключения не удалась",
			slog.String("error", err.Error()),
		)
		middleware.PrimaryReachable.Set(0)
		return
	}

	// Фронт перехода недоступно → доступно: восстановление + сверка
	middleware.PrimaryReachable.Set(1)
	m.logger.Info("Соединение с PostgreSQL восстановлено, запуск сверки")

	if err := m.reconciler.RunOnce(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
		m.logger.Error("Сверка после восстановления не выполнена",
			slog.String("error", err.Error()),
		)
	}
}

// Reconnect — ручное синхронное переподключение (POST /api/database/reconnect).
// В отличие от tick, сверка запускается безусловно: оператор мог поправить
// данные и ждёт немедленного зеркалирования, даже если соединение уже живо.
func (m *MonitorService) Reconnect(ctx context.Context) error {
	if err := m.primary.Connect(ctx); err != nil {
		middleware.PrimaryReachable.Set(0)
		return err
	}
	middleware.PrimaryReachable.Set(1)

	if err := m.reconciler.RunOnce(ctx); err != nil && !errors.Is(err, ErrReconcileInProgress) {
		m.logger.Error("Сверка при ручном переподключении не выполнена",
			slog.String("error", err.Error()),
		)
		return err
	}
	return nil
}
