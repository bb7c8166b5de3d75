// facade.go — единая точка доступа к документам поверх двух хранилищ.
//
// Политика записи: сначала локальный snapshot (последний рубеж durability),
// затем best-effort зеркалирование в PostgreSQL. Неуспех зеркалирования
// не виден клиенту — запись остаётся pending и дождётся сверки.
//
// Политика чтения: при доступном PostgreSQL — его данные, объединённые
// с ещё не зеркалированными локальными записями; при недоступном —
// молчаливый переход на локальный snapshot. Клиент не различает источники.
package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/arturkryukov/studydocs/internal/api/middleware"
	"github.com/arturkryukov/studydocs/internal/config"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/domain/model"
	"github.com/arturkryukov/studydocs/internal/storage/filestore"
	"github.com/arturkryukov/studydocs/internal/storage/localstore"
	"github.com/arturkryukov/studydocs/internal/storage/primary"
)

// OperationError — ошибка операции фасада с HTTP-семантикой.
type OperationError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *OperationError) Error() string {
	return e.Message
}

// AddParams — параметры добавления документа.
type AddParams struct {
	// DisplayName — отображаемое название (обязательно)
	DisplayName string
	// Type — тип документа (обязательно)
	Type model.DocumentType
	// Icon — идентификатор иконки (обязательно)
	Icon string
	// Color — цвет карточки (опционально)
	Color string
	// AddedBy — идентификатор загрузившего (sub из JWT или "anonymous")
	AddedBy string
}

// Status — сводное состояние хранилищ для диагностики.
type Status struct {
	// PrimaryReachable — доступность PostgreSQL
	PrimaryReachable bool
	// PendingCount — количество записей, ожидающих зеркалирования
	PendingCount int
	// LastSync — время последней успешной сверки
	LastSync time.Time
	// HasSynced — выполнялась ли сверка хотя бы раз
	HasSynced bool
	// FallbackCount — количество записей локального snapshot
	FallbackCount int
	// LastUpdated — время последней мутации snapshot
	LastUpdated time.Time
	// Visits — счётчик просмотров каталога
	Visits int64
}

// DocumentService — фасад операций над документами.
type DocumentService struct {
	cfg     *config.Config
	local   *localstore.Store
	files   *filestore.FileStore
	primary PrimaryStore
	state   *dbstate.State
	cache   *CacheService
	logger  *slog.Logger
}

// NewDocumentService создаёт фасад доступа к документам.
func NewDocumentService(
	cfg *config.Config,
	local *localstore.Store,
	files *filestore.FileStore,
	primaryStore PrimaryStore,
	state *dbstate.State,
	cache *CacheService,
	logger *slog.Logger,
) *DocumentService {
	return &DocumentService{
		cfg:     cfg,
		local:   local,
		files:   files,
		primary: primaryStore,
		state:   state,
		cache:   cache,
		logger:  logger.With(slog.String("component", "documents")),
	}
}

// SaveUpload записывает payload загрузки на диск (streaming + SHA-256).
// Выделен отдельно от AddDocument: обработчик сначала пишет файл,
// затем фиксирует метаданные.
func (s *DocumentService) SaveUpload(reader io.Reader, displayName string) (*filestore.SaveResult, error) {
	return s.files.Save(reader, displayName)
}

// AddDocument сохраняет payload на диск, записывает метаданные в локальный
// snapshot и best-effort зеркалирует в PostgreSQL. Возвращает сохранённый
// документ. Ошибка локальной записи фатальна; ошибка зеркалирования — нет.
func (s *DocumentService) AddDocument(ctx context.Context, p AddParams, saved *filestore.SaveResult) (*model.Document, error) {
	// Параметры валидируются обработчиком до записи файла; здесь —
	// последняя линия защиты, с уборкой уже записанного payload.
	if validationErr := validateAddParams(p); validationErr != nil {
		if delErr := s.files.Delete(saved.StorageName); delErr != nil {
			s.logger.Error("Ошибка удаления файла-сироты",
				slog.String("filename", saved.StorageName),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, validationErr
	}

	color := p.Color
	if color == "" {
		color = model.DefaultColor
	}
	addedBy := p.AddedBy
	if addedBy == "" {
		addedBy = "anonymous"
	}

	// ID назначается здесь, до любой записи: он общий для обоих хранилищ
	// и входит в Path, по которому клиент скачивает payload.
	id := uuid.New().String()

	doc := &model.Document{
		ID:          id,
		Name:        filestore.Slug(p.DisplayName),
		DisplayName: p.DisplayName,
		Filename:    saved.StorageName,
		Path:        "/api/pdf/" + id,
		Type:        p.Type,
		Icon:        p.Icon,
		Color:       color,
		Size:        saved.Size,
		Checksum:    saved.Checksum,
		AddedBy:     addedBy,
		DateAdded:   time.Now().UTC(),
		SyncStatus:  model.SyncPending,
		HasFile:     true,
	}

	// Шаг 1: локальная запись — единственная, чей неуспех виден клиенту.
	stored, err := s.local.Append(doc)
	if err != nil {
		// Payload уже на диске, метаданных нет — файл-сирота убирается
		if delErr := s.files.Delete(saved.StorageName); delErr != nil {
			s.logger.Error("Ошибка удаления файла-сироты",
				slog.String("filename", saved.StorageName),
				slog.String("error", delErr.Error()),
			)
		}
		return nil, &OperationError{http.StatusInternalServerError, "INTERNAL_ERROR",
			"не удалось сохранить документ"}
	}

	// Шаг 2: best-effort зеркалирование. Неуспех молчалив для клиента —
	// запись остаётся pending и будет зеркалирована сверкой.
	if s.state.IsReachable() {
		payload, readErr := s.files.ReadBytes(saved.StorageName)
		if readErr != nil {
			s.logger.Warn("Payload недоступен для зеркалирования",
				slog.String("id", stored.ID),
				slog.String("error", readErr.Error()),
			)
			payload = nil
		}
		if mirrorErr := s.primary.Upsert(ctx, stored, payload); mirrorErr != nil {
			s.logger.Warn("Зеркалирование не выполнено, документ остаётся pending",
				slog.String("id", stored.ID),
				slog.String("error", mirrorErr.Error()),
			)
		} else if markErr := s.local.MarkSynced([]string{stored.ID}); markErr == nil {
			stored.SyncStatus = model.SyncSynced
		}
	}

	middleware.OperationsTotal.WithLabelValues("add", "success").Inc()
	s.updateStoreMetrics()

	s.logger.Info("Документ добавлен",
		slog.String("id", stored.ID),
		slog.String("display_name", stored.DisplayName),
		slog.String("type", string(stored.Type)),
		slog.Int64("size", stored.Size),
		slog.String("sync_status", string(stored.SyncStatus)),
		slog.String("added_by", stored.AddedBy),
	)
	return stored, nil
}

// validateAddParams проверяет обязательные параметры добавления документа.
func validateAddParams(p AddParams) *OperationError {
	if p.DisplayName == "" {
		return &OperationError{http.StatusBadRequest, "VALIDATION_ERROR", "displayName обязателен"}
	}
	if !p.Type.Valid() {
		return &OperationError{http.StatusBadRequest, "VALIDATION_ERROR",
			"недопустимый тип документа: " + string(p.Type)}
	}
	if p.Icon == "" {
		return &OperationError{http.StatusBadRequest, "VALIDATION_ERROR", "icon обязателен"}
	}
	return nil
}

// GetDocuments возвращает каталог документов, опционально по типу.
// При доступном PostgreSQL его данные объединяются с ещё не зеркалированными
// локальными записями; иначе каталог обслуживается из snapshot.
// Ошибок недоступности не возвращает: fallback всегда отвечает.
func (s *DocumentService) GetDocuments(ctx context.Context, typeFilter model.DocumentType) []*model.Document {
	if s.state.IsReachable() {
		docs, err := s.primary.List(ctx, typeFilter)
		if err == nil {
			return s.mergeWithLocal(docs, typeFilter)
		}
		s.logger.Warn("Чтение из PostgreSQL не выполнено, переход на fallback",
			slog.String("error", err.Error()),
		)
	}
	return s.localDocuments(typeFilter)
}

// mergeWithLocal объединяет выборку PostgreSQL с локальными записями:
// pending документы ещё не видны в PostgreSQL, tombstone-ы удалений
// исключают записи, удалённые при недоступном хранилище.
func (s *DocumentService) mergeWithLocal(primaryDocs []*model.Document, typeFilter model.DocumentType) []*model.Document {
	deleted := make(map[string]bool)
	for _, id := range s.local.PendingDeletes() {
		deleted[id] = true
	}

	seen := make(map[string]bool, len(primaryDocs))
	result := make([]*model.Document, 0, len(primaryDocs))
	for _, d := range primaryDocs {
		if deleted[d.ID] {
			continue
		}
		d.HasFile = true // payload инлайн в pdf_data
		seen[d.ID] = true
		result = append(result, d)
	}

	for _, d := range s.local.ReadAll() {
		if seen[d.ID] || deleted[d.ID] || !d.IsPending() {
			continue
		}
		if typeFilter != "" && d.Type != typeFilter {
			continue
		}
		d.HasFile = s.files.Exists(d.Filename)
		result = append(result, d)
	}

	sortByDateDesc(result)
	return result
}

// localDocuments возвращает каталог из локального snapshot.
func (s *DocumentService) localDocuments(typeFilter model.DocumentType) []*model.Document {
	all := s.local.ReadAll()
	result := make([]*model.Document, 0, len(all))
	for _, d := range all {
		if typeFilter != "" && d.Type != typeFilter {
			continue
		}
		d.HasFile = s.files.Exists(d.Filename) || (!d.IsPending() && s.state.IsReachable())
		result = append(result, d)
	}
	sortByDateDesc(result)
	return result
}

// sortByDateDesc сортирует документы по дате добавления, новые первыми.
func sortByDateDesc(docs []*model.Document) {
	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].DateAdded.After(docs[j].DateAdded)
	})
}

// GetCounts возвращает количество документов по типам и общее количество.
// Источник выбирается так же, как для каталога.
func (s *DocumentService) GetCounts(ctx context.Context) (map[model.DocumentType]int, int) {
	if s.state.IsReachable() {
		byType, total, err := s.primary.CountByType(ctx)
		if err == nil {
			return byType, total
		}
		s.logger.Warn("Подсчёт в PostgreSQL не выполнен, переход на fallback",
			slog.String("error", err.Error()),
		)
	}
	return s.local.CountByType()
}

// DeleteDocument удаляет документ из обоих хранилищ.
// Существование определяется локальным snapshot: отсутствие записи — 404
// независимо от состояния PostgreSQL. Если PostgreSQL недоступен,
// записывается tombstone, который сверка проиграет при восстановлении.
func (s *DocumentService) DeleteDocument(ctx context.Context, id string) error {
	doc := s.local.Get(id)
	if doc == nil {
		return &OperationError{http.StatusNotFound, "NOT_FOUND", "документ не найден"}
	}

	// Шаг 1: локальное удаление — после него документ не виден клиентам.
	removed, err := s.local.RemoveByID(id)
	if err != nil {
		return &OperationError{http.StatusInternalServerError, "INTERNAL_ERROR",
			"не удалось удалить документ"}
	}
	if !removed {
		return &OperationError{http.StatusNotFound, "NOT_FOUND", "документ не найден"}
	}

	// Шаг 2: payload с диска и из кэша.
	if doc.Filename != "" {
		if delErr := s.files.Delete(doc.Filename); delErr != nil {
			s.logger.Warn("Ошибка удаления payload с диска",
				slog.String("id", id),
				slog.String("filename", doc.Filename),
				slog.String("error", delErr.Error()),
			)
		}
	}
	s.cache.Remove(id)

	// Шаг 3: удаление из PostgreSQL либо tombstone для сверки.
	confirmed := false
	if s.state.IsReachable() {
		if _, delErr := s.primary.Delete(ctx, id); delErr == nil {
			confirmed = true
		} else {
			s.logger.Warn("Удаление из PostgreSQL не выполнено, записан tombstone",
				slog.String("id", id),
				slog.String("error", delErr.Error()),
			)
		}
	}
	if !confirmed {
		if tsErr := s.local.AddPendingDelete(id); tsErr != nil {
			s.logger.Error("Ошибка записи tombstone удаления",
				slog.String("id", id),
				slog.String("error", tsErr.Error()),
			)
		}
	}

	middleware.OperationsTotal.WithLabelValues("delete", "success").Inc()
	s.updateStoreMetrics()

	s.logger.Info("Документ удалён",
		slog.String("id", id),
		slog.String("display_name", doc.DisplayName),
		slog.Bool("primary_confirmed", confirmed),
	)
	return nil
}

// ServePDF отдаёт payload документа.
// Порядок источников: LRU-кэш → файл на диске → pdf_data из PostgreSQL.
// Поддерживает range-запросы и условные запросы (ETag = SHA-256 payload).
func (s *DocumentService) ServePDF(w http.ResponseWriter, r *http.Request, id string) {
	doc := s.local.Get(id)
	if doc == nil {
		http.Error(w, "документ не найден", http.StatusNotFound)
		return
	}

	if doc.Checksum != "" {
		w.Header().Set("ETag", `"`+doc.Checksum+`"`)
	}
	w.Header().Set("Content-Type", s.cfg.AllowedMIME)
	w.Header().Set("Content-Disposition", `inline; filename="`+sanitizeFilename(doc.DisplayName)+`.pdf"`)

	// Источник 1: LRU-кэш
	if payload, ok := s.cache.Get(id); ok {
		http.ServeContent(w, r, doc.DisplayName+".pdf", doc.DateAdded, bytes.NewReader(payload))
		return
	}

	// Источник 2: файл на диске
	if doc.Filename != "" && s.files.Exists(doc.Filename) {
		f, err := s.files.Open(doc.Filename)
		if err == nil {
			defer f.Close()
			http.ServeContent(w, r, doc.Filename, doc.DateAdded, f)
			return
		}
		s.logger.Warn("Ошибка открытия payload с диска",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
	}

	// Источник 3: pdf_data из PostgreSQL (если документ зеркалирован)
	if s.state.IsReachable() {
		payload, err := s.primary.GetPayload(r.Context(), id)
		if err == nil {
			s.cache.Add(id, payload)
			http.ServeContent(w, r, doc.DisplayName+".pdf", doc.DateAdded, bytes.NewReader(payload))
			return
		}
		if !errors.Is(err, primary.ErrNotFound) {
			s.logger.Warn("Ошибка чтения payload из PostgreSQL",
				slog.String("id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	http.Error(w, "payload документа недоступен", http.StatusNotFound)
}

// RecordVisit увеличивает счётчик просмотров каталога.
func (s *DocumentService) RecordVisit() {
	if err := s.local.IncrementVisits(); err != nil {
		s.logger.Warn("Ошибка записи счётчика просмотров",
			slog.String("error", err.Error()),
		)
	}
}

// GetStatus возвращает сводное состояние хранилищ.
func (s *DocumentService) GetStatus() Status {
	lastSync, hasSynced := s.state.LastSync()
	return Status{
		PrimaryReachable: s.state.IsReachable(),
		PendingCount:     s.local.PendingCount(),
		LastSync:         lastSync,
		HasSynced:        hasSynced,
		FallbackCount:    s.local.Count(),
		LastUpdated:      s.local.LastUpdated(),
		Visits:           s.local.Visits(),
	}
}

// updateStoreMetrics обновляет gauge-метрики хранилищ.
func (s *DocumentService) updateStoreMetrics() {
	middleware.DocumentsTotal.WithLabelValues("local").Set(float64(s.local.Count()))
	middleware.PendingDocuments.Set(float64(s.local.PendingCount()))
}

// sanitizeFilename убирает из имени файла символы, ломающие HTTP-заголовок.
func sanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, `"`, "")
	name = strings.ReplaceAll(name, "\n", "")
	name = strings.ReplaceAll(name, "\r", "")
	if name == "" {
		return "document"
	}
	return name
}
