// reconcile.go — сверка локального snapshot с первичным хранилищем.
//
// Порядок одного прохода:
//  1. Проигрывание tombstone-ов удалений (удаления, выполненные при
//     недоступном PostgreSQL, выигрывают у любых данных первичного хранилища).
//  2. Зеркалирование pending документов пакетным upsert-ом с переиспользованием
//     их id — повторный прогон перезаписывает те же строки, а не плодит дубликаты.
//  3. Перевод зеркалированных записей в статус synced.
//
// При любом неуспехе snapshot остаётся нетронутым: записи сохраняют статус
// pending и будут повторно обработаны следующим проходом. Документы,
// добавленные во время прохода, в снимок сверки не попадают и остаются
// pending — ничего не теряется.
package service

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/arturkryukov/studydocs/internal/api/middleware"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/storage/filestore"
	"github.com/arturkryukov/studydocs/internal/storage/localstore"
)

// ErrReconcileInProgress — сверка уже выполняется в другой горутине.
var ErrReconcileInProgress = errors.New("сверка уже выполняется")

var (
	reconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sd_reconcile_runs_total",
		Help: "Количество проходов сверки по результату",
	}, []string{"result"})

	reconciledDocuments = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sd_reconciled_documents_total",
		Help: "Количество документов, зеркалированных сверкой в PostgreSQL",
	})
)

// ReconcileService — сверка pending записей и tombstone-ов с PostgreSQL.
type ReconcileService struct {
	local   *localstore.Store
	files   *filestore.FileStore
	primary PrimaryStore
	state   *dbstate.State
	logger  *slog.Logger

	// mu + inProcess защищают от параллельных проходов:
	// монитор и ручное переподключение могут сработать одновременно
	mu        sync.Mutex
	inProcess bool
}

// NewReconcileService создаёт сервис сверки.
func NewReconcileService(
	local *localstore.Store,
	files *filestore.FileStore,
	primaryStore PrimaryStore,
	state *dbstate.State,
	logger *slog.Logger,
) *ReconcileService {
	return &ReconcileService{
		local:   local,
		files:   files,
		primary: primaryStore,
		state:   state,
		logger:  logger.With(slog.String("component", "reconcile")),
	}
}

// RunOnce выполняет один проход сверки.
// Возвращает ErrReconcileInProgress, если проход уже идёт.
// Любая ошибка операции первичного хранилища прерывает проход;
// необработанные записи остаются pending для следующего прохода.
func (r *ReconcileService) RunOnce(ctx context.Context) error {
	r.mu.Lock()
	if r.inProcess {
		r.mu.Unlock()
		return ErrReconcileInProgress
	}
	r.inProcess = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inProcess = false
		r.mu.Unlock()
	}()

	err := r.run(ctx)
	if err != nil {
		reconcileRuns.WithLabelValues("error").Inc()
		return err
	}
	reconcileRuns.WithLabelValues("success").Inc()
	return nil
}

// run — тело прохода сверки. Вызывается строго под защитой inProcess.
func (r *ReconcileService) run(ctx context.Context) error {
	start := time.Now()

	// Шаг 1: проигрывание tombstone-ов удалений.
	// Удаление несуществующей записи легально ((false, nil)) — tombstone
	// для документа, который так и не был зеркалирован, просто очищается.
	tombstones := r.local.PendingDeletes()
	var cleared []string
	for _, id := range tombstones {
		existed, err := r.primary.Delete(ctx, id)
		if err != nil {
			// Очищаем уже проигранные tombstone-ы и прерываем проход
			if clearErr := r.local.ClearPendingDeletes(cleared); clearErr != nil {
				r.logger.Error("Ошибка очистки tombstone-ов",
					slog.String("error", clearErr.Error()),
				)
			}
			return err
		}
		cleared = append(cleared, id)
		r.logger.Info("Tombstone удаления проигран",
			slog.String("id", id),
			slog.Bool("existed", existed),
		)
	}
	if err := r.local.ClearPendingDeletes(cleared); err != nil {
		return err
	}

	// Шаг 2: снимок pending записей. Документы, добавленные после этой
	// точки, в проход не попадают и останутся pending.
	pending := r.local.Pending()
	if len(pending) == 0 {
		r.finish(start, 0, len(cleared))
		return nil
	}

	// Payload читается с диска; отсутствие файла не блокирует зеркалирование
	// метаданных — nil payload сохраняет существующий pdf_data.
	payloads := make(map[string][]byte, len(pending))
	for _, doc := range pending {
		if doc.Filename == "" || !r.files.Exists(doc.Filename) {
			r.logger.Warn("Payload отсутствует на диске, зеркалируются только метаданные",
				slog.String("id", doc.ID),
				slog.String("filename", doc.Filename),
			)
			continue
		}
		data, err := r.files.ReadBytes(doc.Filename)
		if err != nil {
			r.logger.Warn("Ошибка чтения payload, зеркалируются только метаданные",
				slog.String("id", doc.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		payloads[doc.ID] = data
	}

	// Шаг 3: пакетный upsert в одной транзакции — либо весь пакет, либо ничего.
	if err := r.primary.UpsertBatch(ctx, pending, payloads); err != nil {
		return err
	}

	// Шаг 4: только после подтверждённой записи переводим записи в synced.
	ids := make([]string, 0, len(pending))
	for _, doc := range pending {
		ids = append(ids, doc.ID)
	}
	if err := r.local.MarkSynced(ids); err != nil {
		// Записи уже в PostgreSQL; статус останется pending и следующий
		// проход перезапишет те же строки — идемпотентность это допускает
		return err
	}

	reconciledDocuments.Add(float64(len(pending)))
	r.finish(start, len(pending), len(cleared))
	return nil
}

// finish фиксирует успешное завершение прохода: метрики + время сверки.
func (r *ReconcileService) finish(start time.Time, mirrored, deleted int) {
	r.state.MarkSynced(time.Now().UTC())
	middleware.PendingDocuments.Set(float64(r.local.PendingCount()))

	r.logger.Info("Сверка завершена",
		slog.Int("mirrored", mirrored),
		slog.Int("tombstones_replayed", deleted),
		slog.Duration("duration", time.Since(start)),
	)
}
