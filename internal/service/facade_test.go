package service

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/arturkryukov/studydocs/internal/config"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/domain/model"
	"github.com/arturkryukov/studydocs/internal/storage/filestore"
	"github.com/arturkryukov/studydocs/internal/storage/localstore"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// testEnv — собранный стенд сервисного слоя с fake первичным хранилищем.
type testEnv struct {
	cfg     *config.Config
	local   *localstore.Store
	files   *filestore.FileStore
	primary *fakePrimary
	state   *dbstate.State
	cache   *CacheService
	docs    *DocumentService
	rec     *ReconcileService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:        dir,
		SnapshotFile:   filepath.Join(dir, "fallback.json"),
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxFileSize:    10 * 1024 * 1024,
		AllowedMIME:    "application/pdf",
		DBQueryTimeout: time.Second,
		CacheSize:      8,
		CacheTTL:       time.Minute,
	}

	logger := testLogger()

	local, err := localstore.New(cfg.SnapshotFile, logger)
	if err != nil {
		t.Fatalf("ошибка создания локального хранилища: %v", err)
	}
	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		t.Fatalf("ошибка создания файлового хранилища: %v", err)
	}

	state := dbstate.New()
	fake := newFakePrimary(state)
	cache := NewCacheService(cfg.CacheSize, cfg.CacheTTL, logger)

	return &testEnv{
		cfg:     cfg,
		local:   local,
		files:   files,
		primary: fake,
		state:   state,
		cache:   cache,
		docs:    NewDocumentService(cfg, local, files, fake, state, cache, logger),
		rec:     NewReconcileService(local, files, fake, state, logger),
	}
}

// addDocument — добавление документа через фасад с payload на диске.
func (env *testEnv) addDocument(t *testing.T, displayName string, content []byte) *model.Document {
	t.Helper()

	saved, err := env.docs.SaveUpload(bytes.NewReader(content), displayName)
	if err != nil {
		t.Fatalf("ошибка сохранения payload: %v", err)
	}

	doc, err := env.docs.AddDocument(context.Background(), AddParams{
		DisplayName: displayName,
		Type:        model.TypeMaterial,
		Icon:        "book",
	}, saved)
	if err != nil {
		t.Fatalf("ошибка добавления документа: %v", err)
	}
	return doc
}

var pdfContent = []byte("%PDF-1.7 тестовое содержимое")

// TestAddDocument_MirrorsWhenReachable проверяет зеркалирование при
// доступном первичном хранилище.
func TestAddDocument_MirrorsWhenReachable(t *testing.T) {
	env := newTestEnv(t)
	env.primary.setAvailable(true)
	env.state.SetReachable(true)

	doc := env.addDocument(t, "Лекция 1", pdfContent)

	if doc.SyncStatus != model.SyncSynced {
		t.Errorf("статус: ожидался synced, получен %s", doc.SyncStatus)
	}
	if !env.primary.has(doc.ID) {
		t.Error("документ должен быть зеркалирован в первичное хранилище")
	}
	if doc.Path != "/api/pdf/"+doc.ID {
		t.Errorf("path: ожидалось /api/pdf/%s, получено %s", doc.ID, doc.Path)
	}

	// Локальная запись тоже synced
	if got := env.local.Get(doc.ID); got.SyncStatus != model.SyncSynced {
		t.Errorf("локальный статус: ожидался synced, получен %s", got.SyncStatus)
	}
}

// TestAddDocument_PrimaryDown_StaysPending проверяет, что недоступность
// PostgreSQL не мешает добавлению: документ остаётся pending.
func TestAddDocument_PrimaryDown_StaysPending(t *testing.T) {
	env := newTestEnv(t)

	doc := env.addDocument(t, "Лекция offline", pdfContent)

	if doc.SyncStatus != model.SyncPending {
		t.Errorf("статус: ожидался pending, получен %s", doc.SyncStatus)
	}
	if env.primary.count() != 0 {
		t.Error("документ не должен попасть в недоступное хранилище")
	}
	if got := env.local.Get(doc.ID); got == nil {
		t.Error("документ должен быть записан локально")
	}
}

// TestAddDocument_MirrorFailureSilent проверяет, что сбой зеркалирования
// невидим для клиента: запись остаётся pending, флаг доступности сброшен.
func TestAddDocument_MirrorFailureSilent(t *testing.T) {
	env := newTestEnv(t)
	// Флаг говорит «доступно», но сеть уже упала
	env.state.SetReachable(true)

	doc := env.addDocument(t, "Лекция", pdfContent)

	if doc.SyncStatus != model.SyncPending {
		t.Errorf("статус: ожидался pending, получен %s", doc.SyncStatus)
	}
	if env.state.IsReachable() {
		t.Error("флаг доступности должен быть сброшен после сбоя")
	}
}

// TestGetDocuments_FallbackWhenUnreachable проверяет чтение из snapshot
// при недоступном первичном хранилище.
func TestGetDocuments_FallbackWhenUnreachable(t *testing.T) {
	env := newTestEnv(t)

	env.addDocument(t, "Первый", pdfContent)
	env.addDocument(t, "Второй", pdfContent)

	docs := env.docs.GetDocuments(context.Background(), "")
	if len(docs) != 2 {
		t.Fatalf("ожидалось 2 документа, получено %d", len(docs))
	}
}

// TestGetDocuments_SilentFallbackOnError проверяет молчаливый переход
// на fallback при сбое чтения из первичного хранилища.
func TestGetDocuments_SilentFallbackOnError(t *testing.T) {
	env := newTestEnv(t)
	env.addDocument(t, "Документ", pdfContent)

	// Флаг «доступно», но сеть упала: List вернёт ошибку
	env.state.SetReachable(true)
	env.primary.setAvailable(false)

	docs := env.docs.GetDocuments(context.Background(), "")
	if len(docs) != 1 {
		t.Fatalf("fallback должен отдать 1 документ, получено %d", len(docs))
	}
	if env.state.IsReachable() {
		t.Error("флаг доступности должен быть сброшен")
	}
}

// TestGetDocuments_MergesPendingWithPrimary проверяет объединение выборки:
// pending документы видны в каталоге до зеркалирования.
func TestGetDocuments_MergesPendingWithPrimary(t *testing.T) {
	env := newTestEnv(t)
	env.primary.setAvailable(true)
	env.state.SetReachable(true)

	synced := env.addDocument(t, "Зеркалированный", pdfContent)

	// Второй документ добавляется при недоступном хранилище
	env.primary.setAvailable(false)
	env.state.SetReachable(false)
	pending := env.addDocument(t, "Ожидающий", pdfContent)

	// Хранилище вернулось, но сверка ещё не прошла
	env.primary.setAvailable(true)
	env.state.SetReachable(true)

	docs := env.docs.GetDocuments(context.Background(), "")
	if len(docs) != 2 {
		t.Fatalf("ожидалось 2 документа, получено %d", len(docs))
	}

	ids := map[string]bool{}
	for _, d := range docs {
		ids[d.ID] = true
	}
	if !ids[synced.ID] || !ids[pending.ID] {
		t.Errorf("каталог должен содержать оба документа, получено %v", ids)
	}
}

// TestGetDocuments_TypeFilter проверяет фильтрацию по типу.
func TestGetDocuments_TypeFilter(t *testing.T) {
	env := newTestEnv(t)

	env.addDocument(t, "Материал", pdfContent)

	saved, err := env.docs.SaveUpload(bytes.NewReader(pdfContent), "Важный")
	if err != nil {
		t.Fatalf("ошибка сохранения payload: %v", err)
	}
	if _, err := env.docs.AddDocument(context.Background(), AddParams{
		DisplayName: "Важный",
		Type:        model.TypeImpMaterial,
		Icon:        "star",
	}, saved); err != nil {
		t.Fatalf("ошибка добавления: %v", err)
	}

	docs := env.docs.GetDocuments(context.Background(), model.TypeImpMaterial)
	if len(docs) != 1 {
		t.Fatalf("ожидался 1 документ, получено %d", len(docs))
	}
	if docs[0].Type != model.TypeImpMaterial {
		t.Errorf("тип: ожидался imp-material, получен %s", docs[0].Type)
	}
}

// TestDeleteDocument_NotFound проверяет 404 для отсутствующего документа.
func TestDeleteDocument_NotFound(t *testing.T) {
	env := newTestEnv(t)

	err := env.docs.DeleteDocument(context.Background(), "нет-такого")
	var opErr *OperationError
	if !errors.As(err, &opErr) {
		t.Fatalf("ожидалась OperationError, получено %v", err)
	}
	if opErr.StatusCode != http.StatusNotFound {
		t.Errorf("статус: ожидался 404, получен %d", opErr.StatusCode)
	}
}

// TestDeleteDocument_LocalAuthority проверяет, что удаление определяется
// локальным snapshot независимо от состояния PostgreSQL.
func TestDeleteDocument_LocalAuthority(t *testing.T) {
	env := newTestEnv(t)
	env.primary.setAvailable(true)
	env.state.SetReachable(true)

	doc := env.addDocument(t, "Удаляемый", pdfContent)

	if err := env.docs.DeleteDocument(context.Background(), doc.ID); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}

	if env.local.Get(doc.ID) != nil {
		t.Error("документ должен быть удалён локально")
	}
	if env.primary.has(doc.ID) {
		t.Error("документ должен быть удалён из первичного хранилища")
	}
	if env.files.Exists(doc.Filename) {
		t.Error("payload должен быть удалён с диска")
	}

	// Повторное удаление — 404
	err := env.docs.DeleteDocument(context.Background(), doc.ID)
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.StatusCode != http.StatusNotFound {
		t.Errorf("повторное удаление: ожидался 404, получено %v", err)
	}
}

// TestDeleteDocument_PrimaryDown_WritesTombstone проверяет tombstone:
// удаление при недоступном хранилище доудаляется сверкой.
func TestDeleteDocument_PrimaryDown_WritesTombstone(t *testing.T) {
	env := newTestEnv(t)
	env.primary.setAvailable(true)
	env.state.SetReachable(true)

	doc := env.addDocument(t, "Удаляемый offline", pdfContent)
	if !env.primary.has(doc.ID) {
		t.Fatal("документ должен быть зеркалирован до теста")
	}

	// Хранилище падает, документ удаляется
	env.primary.setAvailable(false)
	env.state.SetReachable(false)

	if err := env.docs.DeleteDocument(context.Background(), doc.ID); err != nil {
		t.Fatalf("ошибка удаления: %v", err)
	}

	if env.local.Get(doc.ID) != nil {
		t.Error("документ должен быть удалён локально")
	}
	tombstones := env.local.PendingDeletes()
	if len(tombstones) != 1 || tombstones[0] != doc.ID {
		t.Fatalf("ожидался tombstone %s, получено %v", doc.ID, tombstones)
	}

	// Хранилище вернулось, сверка проигрывает tombstone
	env.primary.setAvailable(true)
	env.state.SetReachable(true)
	if err := env.rec.RunOnce(context.Background()); err != nil {
		t.Fatalf("ошибка сверки: %v", err)
	}

	if env.primary.has(doc.ID) {
		t.Error("документ должен быть удалён из первичного хранилища после сверки")
	}
	if got := env.local.PendingDeletes(); len(got) != 0 {
		t.Errorf("tombstone должен быть очищен, получено %v", got)
	}
}

// TestServePDF_FromDisk проверяет отдачу payload с диска.
func TestServePDF_FromDisk(t *testing.T) {
	env := newTestEnv(t)
	doc := env.addDocument(t, "Скачиваемый", pdfContent)

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+doc.ID, nil)
	rec := httptest.NewRecorder()

	env.docs.ServePDF(rec, req, doc.ID)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус: ожидался 200, получен %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), pdfContent) {
		t.Error("содержимое ответа не совпадает с payload")
	}
	if got := rec.Header().Get("Content-Type"); got != "application/pdf" {
		t.Errorf("Content-Type: ожидался application/pdf, получен %q", got)
	}
}

// TestServePDF_FallsBackToPrimary проверяет чтение payload из PostgreSQL,
// когда файл на диске отсутствует (например, другой экземпляр).
func TestServePDF_FallsBackToPrimary(t *testing.T) {
	env := newTestEnv(t)
	env.primary.setAvailable(true)
	env.state.SetReachable(true)

	doc := env.addDocument(t, "Без файла", pdfContent)

	// Файл пропадает с диска — payload остаётся только в pdf_data
	if err := env.files.Delete(doc.Filename); err != nil {
		t.Fatalf("ошибка удаления файла: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/"+doc.ID, nil)
	rec := httptest.NewRecorder()
	env.docs.ServePDF(rec, req, doc.ID)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус: ожидался 200, получен %d", rec.Code)
	}
	if !bytes.Equal(rec.Body.Bytes(), pdfContent) {
		t.Error("содержимое ответа не совпадает с payload")
	}

	// Payload должен попасть в кэш
	if _, ok := env.cache.Get(doc.ID); !ok {
		t.Error("payload должен быть закэширован после чтения из PostgreSQL")
	}
}

// TestServePDF_NotFound проверяет 404 для неизвестного id.
func TestServePDF_NotFound(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/api/pdf/нет-такого", nil)
	rec := httptest.NewRecorder()
	env.docs.ServePDF(rec, req, "нет-такого")

	if rec.Code != http.StatusNotFound {
		t.Errorf("статус: ожидался 404, получен %d", rec.Code)
	}
}

// TestGetStatus проверяет сводное состояние хранилищ.
func TestGetStatus(t *testing.T) {
	env := newTestEnv(t)

	env.addDocument(t, "Документ", pdfContent)
	env.docs.RecordVisit()
	env.docs.RecordVisit()

	st := env.docs.GetStatus()
	if st.PrimaryReachable {
		t.Error("первичное хранилище должно считаться недоступным")
	}
	if st.FallbackCount != 1 {
		t.Errorf("fallback count: ожидалось 1, получено %d", st.FallbackCount)
	}
	if st.PendingCount != 1 {
		t.Errorf("pending count: ожидалось 1, получено %d", st.PendingCount)
	}
	if st.Visits != 2 {
		t.Errorf("visits: ожидалось 2, получено %d", st.Visits)
	}
	if st.HasSynced {
		t.Error("сверка ещё не выполнялась")
	}
}
