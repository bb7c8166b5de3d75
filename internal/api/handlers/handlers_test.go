package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arturkryukov/studydocs/internal/config"
	"github.com/arturkryukov/studydocs/internal/domain/dbstate"
	"github.com/arturkryukov/studydocs/internal/domain/model"
	"github.com/arturkryukov/studydocs/internal/service"
	"github.com/arturkryukov/studydocs/internal/storage/filestore"
	"github.com/arturkryukov/studydocs/internal/storage/localstore"
)

// unreachablePrimary — PrimaryStore, у которого «сеть всегда лежит».
// Обработчики при этом обязаны работать на локальном fallback.
type unreachablePrimary struct {
	state *dbstate.State
}

var errDown = errors.New("имитация недоступности")

func (u *unreachablePrimary) fail() error {
	u.state.SetReachable(false)
	return errDown
}

func (u *unreachablePrimary) Connect(context.Context) error { return u.fail() }
func (u *unreachablePrimary) Ping(context.Context) error    { return u.fail() }
func (u *unreachablePrimary) IsReachable() bool             { return u.state.IsReachable() }

func (u *unreachablePrimary) List(context.Context, model.DocumentType) ([]*model.Document, error) {
	return nil, u.fail()
}

func (u *unreachablePrimary) CountByType(context.Context) (map[model.DocumentType]int, int, error) {
	return nil, 0, u.fail()
}

func (u *unreachablePrimary) Upsert(context.Context, *model.Document, []byte) error {
	return u.fail()
}

func (u *unreachablePrimary) UpsertBatch(context.Context, []*model.Document, map[string][]byte) error {
	return u.fail()
}

func (u *unreachablePrimary) Delete(context.Context, string) (bool, error) {
	return false, u.fail()
}

func (u *unreachablePrimary) GetPayload(context.Context, string) ([]byte, error) {
	return nil, u.fail()
}

var _ service.PrimaryStore = (*unreachablePrimary)(nil)

// newTestRouter собирает полный HTTP-стек поверх недоступного
// первичного хранилища (fallback-режим).
func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		DataDir:        dir,
		SnapshotFile:   filepath.Join(dir, "fallback.json"),
		UploadDir:      filepath.Join(dir, "uploads"),
		MaxFileSize:    1024, // маленький лимит для теста 413
		AllowedMIME:    "application/pdf",
		DBQueryTimeout: time.Second,
		CacheSize:      8,
		CacheTTL:       time.Minute,
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

	local, err := localstore.New(cfg.SnapshotFile, logger)
	if err != nil {
		t.Fatalf("ошибка создания локального хранилища: %v", err)
	}
	files, err := filestore.New(cfg.UploadDir)
	if err != nil {
		t.Fatalf("ошибка создания файлового хранилища: %v", err)
	}

	state := dbstate.New()
	primaryStore := &unreachablePrimary{state: state}
	cache := service.NewCacheService(cfg.CacheSize, cfg.CacheTTL, logger)
	docs := service.NewDocumentService(cfg, local, files, primaryStore, state, cache, logger)
	rec := service.NewReconcileService(local, files, primaryStore, state, logger)
	monitor := service.NewMonitorService(time.Hour, primaryStore, state, rec, logger)

	api := NewAPIHandler(cfg, docs, monitor, state, logger)

	router := chi.NewRouter()
	router.Get("/health/live", api.HealthLive)
	router.Get("/health/ready", api.HealthReady)
	api.RegisterRoutes(router, nil)
	return router
}

// multipartUpload формирует multipart-запрос загрузки документа.
func multipartUpload(t *testing.T, fields map[string]string, fileContent []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	w := multipart.NewWriter(&body)

	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("ошибка записи поля %s: %v", k, err)
		}
	}
	if fileContent != nil {
		part, err := w.CreateFormFile("file", "upload.pdf")
		if err != nil {
			t.Fatalf("ошибка создания файловой части: %v", err)
		}
		if _, err := io.Copy(part, bytes.NewReader(fileContent)); err != nil {
			t.Fatalf("ошибка записи файла: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("ошибка закрытия multipart: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/admin/documents", &body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return req
}

func validFields() map[string]string {
	return map[string]string{
		"displayName": "Лекция 1",
		"type":        "material",
		"icon":        "book",
	}
}

var pdfBytes = []byte("%PDF-1.7 содержимое")

// decodeError извлекает код ошибки из стандартного тела ответа.
func decodeError(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body.Bytes(), &resp); err != nil {
		t.Fatalf("тело ошибки не является валидным JSON: %v", err)
	}
	return resp.Error.Code
}

// TestUpload_Success проверяет полный путь загрузки документа.
func TestUpload_Success(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, validFields(), pdfBytes))

	if rec.Code != http.StatusCreated {
		t.Fatalf("статус: ожидался 201, получен %d (%s)", rec.Code, rec.Body.String())
	}

	var doc model.Document
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("тело ответа не является документом: %v", err)
	}
	if doc.ID == "" {
		t.Error("id документа должен быть заполнен")
	}
	if doc.Path != "/api/pdf/"+doc.ID {
		t.Errorf("path: ожидалось /api/pdf/%s, получено %s", doc.ID, doc.Path)
	}
	if doc.SyncStatus != model.SyncPending {
		t.Errorf("статус при недоступном хранилище: ожидался pending, получен %s", doc.SyncStatus)
	}

	// Документ виден в каталоге
	listRec := httptest.NewRecorder()
	router.ServeHTTP(listRec, httptest.NewRequest(http.MethodGet, "/api/documents", nil))
	if listRec.Code != http.StatusOK {
		t.Fatalf("статус каталога: ожидался 200, получен %d", listRec.Code)
	}
	var docs []model.Document
	if err := json.Unmarshal(listRec.Body.Bytes(), &docs); err != nil {
		t.Fatalf("каталог не является массивом документов: %v", err)
	}
	if len(docs) != 1 {
		t.Fatalf("ожидался 1 документ в каталоге, получено %d", len(docs))
	}

	// Payload скачивается
	dlRec := httptest.NewRecorder()
	router.ServeHTTP(dlRec, httptest.NewRequest(http.MethodGet, doc.Path, nil))
	if dlRec.Code != http.StatusOK {
		t.Fatalf("статус скачивания: ожидался 200, получен %d", dlRec.Code)
	}
	if !bytes.Equal(dlRec.Body.Bytes(), pdfBytes) {
		t.Error("скачанный payload не совпадает с загруженным")
	}
}

// TestUpload_Validation проверяет отказ при отсутствии обязательных полей.
func TestUpload_Validation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(map[string]string)
	}{
		{"без displayName", func(f map[string]string) { delete(f, "displayName") }},
		{"без type", func(f map[string]string) { delete(f, "type") }},
		{"недопустимый type", func(f map[string]string) { f["type"] = "video" }},
		{"без icon", func(f map[string]string) { delete(f, "icon") }},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			router := newTestRouter(t)
			fields := validFields()
			c.mutate(fields)

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, multipartUpload(t, fields, pdfBytes))

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("статус: ожидался 400, получен %d", rec.Code)
			}
			if code := decodeError(t, rec.Body); code != "VALIDATION_ERROR" {
				t.Errorf("код ошибки: ожидался VALIDATION_ERROR, получен %s", code)
			}
		})
	}
}

// TestUpload_MissingFile проверяет отказ без файловой части.
func TestUpload_MissingFile(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, validFields(), nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус: ожидался 400, получен %d", rec.Code)
	}
}

// TestUpload_NotPDF проверяет отказ для не-PDF содержимого.
func TestUpload_NotPDF(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, validFields(), []byte("GIF89a не pdf")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус: ожидался 400, получен %d", rec.Code)
	}
	if code := decodeError(t, rec.Body); code != "UNSUPPORTED_MEDIA_TYPE" {
		t.Errorf("код ошибки: ожидался UNSUPPORTED_MEDIA_TYPE, получен %s", code)
	}
}

// TestUpload_TooLarge проверяет отказ 413 для файла сверх лимита.
func TestUpload_TooLarge(t *testing.T) {
	router := newTestRouter(t)

	big := append([]byte("%PDF-1.7 "), bytes.Repeat([]byte("x"), 2048)...)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, multipartUpload(t, validFields(), big))

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("статус: ожидался 413, получен %d", rec.Code)
	}
}

// TestDelete проверяет удаление документа и 404 для повторного удаления.
func TestDelete(t *testing.T) {
	router := newTestRouter(t)

	// Загружаем документ
	upRec := httptest.NewRecorder()
	router.ServeHTTP(upRec, multipartUpload(t, validFields(), pdfBytes))
	if upRec.Code != http.StatusCreated {
		t.Fatalf("загрузка: ожидался 201, получен %d", upRec.Code)
	}
	var doc model.Document
	if err := json.Unmarshal(upRec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("тело ответа не является документом: %v", err)
	}

	// Удаляем
	delRec := httptest.NewRecorder()
	router.ServeHTTP(delRec, httptest.NewRequest(http.MethodDelete, "/api/admin/documents/"+doc.ID, nil))
	if delRec.Code != http.StatusOK {
		t.Fatalf("удаление: ожидался 200, получен %d", delRec.Code)
	}

	// Повторное удаление — 404
	del2Rec := httptest.NewRecorder()
	router.ServeHTTP(del2Rec, httptest.NewRequest(http.MethodDelete, "/api/admin/documents/"+doc.ID, nil))
	if del2Rec.Code != http.StatusNotFound {
		t.Fatalf("повторное удаление: ожидался 404, получен %d", del2Rec.Code)
	}
}

// TestListDocuments_InvalidType проверяет валидацию фильтра типа.
func TestListDocuments_InvalidType(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/documents?type=video", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("статус: ожидался 400, получен %d", rec.Code)
	}
}

// TestCounts проверяет форму ответа счётчиков.
func TestCounts(t *testing.T) {
	router := newTestRouter(t)

	upRec := httptest.NewRecorder()
	router.ServeHTTP(upRec, multipartUpload(t, validFields(), pdfBytes))
	if upRec.Code != http.StatusCreated {
		t.Fatalf("загрузка: ожидался 201, получен %d", upRec.Code)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/stats/counts", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: ожидался 200, получен %d", rec.Code)
	}

	var counts map[string]int
	if err := json.Unmarshal(rec.Body.Bytes(), &counts); err != nil {
		t.Fatalf("ответ не является JSON: %v", err)
	}
	if counts["materialCount"] != 1 || counts["totalCount"] != 1 {
		t.Errorf("счётчики: ожидалось materialCount=1, totalCount=1, получено %v", counts)
	}
	if _, ok := counts["impMaterialCount"]; !ok {
		t.Error("ответ должен содержать impMaterialCount")
	}
}

// TestDatabaseStatus проверяет статус при недоступном первичном хранилище.
func TestDatabaseStatus(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/database/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("статус: ожидался 200, получен %d", rec.Code)
	}

	var resp struct {
		Primary  string `json:"primary"`
		Fallback struct {
			Count int `json:"count"`
		} `json:"fallback"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("ответ не является JSON: %v", err)
	}
	if resp.Primary != "disconnected" {
		t.Errorf("primary: ожидалось disconnected, получено %s", resp.Primary)
	}
}

// TestDatabaseReconnect_Unavailable проверяет 503 при неудачном переподключении.
func TestDatabaseReconnect_Unavailable(t *testing.T) {
	router := newTestRouter(t)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/database/reconnect", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("статус: ожидался 503, получен %d", rec.Code)
	}
	if code := decodeError(t, rec.Body); code != "PRIMARY_UNAVAILABLE" {
		t.Errorf("код ошибки: ожидался PRIMARY_UNAVAILABLE, получен %s", code)
	}
}

// TestHealthEndpoints проверяет доступность health endpoints на fallback.
func TestHealthEndpoints(t *testing.T) {
	router := newTestRouter(t)

	for _, path := range []string{"/health/live", "/health/ready", "/api/health"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		if rec.Code != http.StatusOK {
			t.Errorf("%s: ожидался 200, получен %d", path, rec.Code)
		}
	}
}
