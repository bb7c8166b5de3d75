// admin.go — административные обработчики: загрузка и удаление документов.
package handlers

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/studydocs/internal/api/errors"
	"github.com/arturkryukov/studydocs/internal/api/middleware"
	"github.com/arturkryukov/studydocs/internal/domain/model"
	"github.com/arturkryukov/studydocs/internal/service"
)

// multipartOverhead — запас на границы и текстовые поля multipart-формы
// сверх лимита размера файла.
const multipartOverhead = 1 << 20

// UploadDocument — POST /api/admin/documents
// Multipart-форма: file (PDF), displayName, type, icon — обязательны;
// color — опционален. Файл больше лимита — 413, не-PDF — 400.
// Успех — 201 с сохранённым документом.
func (h *APIHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxFileSize+multipartOverhead)

	if err := r.ParseMultipartForm(h.cfg.MaxFileSize + multipartOverhead); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			apierrors.FileTooLarge(w, "размер файла превышает допустимый лимит")
			return
		}
		apierrors.ValidationError(w, "некорректная multipart-форма")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	displayName := strings.TrimSpace(r.FormValue("displayName"))
	docType := model.DocumentType(r.FormValue("type"))
	icon := strings.TrimSpace(r.FormValue("icon"))
	color := strings.TrimSpace(r.FormValue("color"))

	if displayName == "" {
		apierrors.ValidationError(w, "displayName обязателен")
		return
	}
	if !docType.Valid() {
		apierrors.ValidationError(w, "недопустимый тип документа: "+string(docType))
		return
	}
	if icon == "" {
		apierrors.ValidationError(w, "icon обязателен")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.ValidationError(w, "файл обязателен (поле file)")
		return
	}
	defer file.Close()

	if header.Size > h.cfg.MaxFileSize {
		apierrors.FileTooLarge(w, "размер файла превышает допустимый лимит")
		return
	}

	// Тип файла проверяется по содержимому, а не по расширению
	head := make([]byte, 512)
	n, readErr := io.ReadFull(file, head)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		apierrors.InternalError(w, "ошибка чтения файла")
		return
	}
	head = head[:n]
	if !isPDF(head) {
		apierrors.UnsupportedMedia(w, "допустим только "+h.cfg.AllowedMIME)
		return
	}

	saved, err := h.docs.SaveUpload(io.MultiReader(bytes.NewReader(head), file), displayName)
	if err != nil {
		h.logger.Error("Ошибка сохранения payload",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "не удалось сохранить файл")
		return
	}

	addedBy := middleware.SubjectFromContext(r.Context())

	doc, err := h.docs.AddDocument(r.Context(), service.AddParams{
		DisplayName: displayName,
		Type:        docType,
		Icon:        icon,
		Color:       color,
		AddedBy:     addedBy,
	}, saved)
	if err != nil {
		h.writeOperationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, doc)
}

// DeleteDocument — DELETE /api/admin/documents/{id}
// Существование определяется локальным snapshot: 404, если записи нет,
// независимо от состояния PostgreSQL.
func (h *APIHandler) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.ValidationError(w, "id документа обязателен")
		return
	}

	if err := h.docs.DeleteDocument(r.Context(), id); err != nil {
		h.writeOperationError(w, err)
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "deleted",
		"id":     id,
	})
}

// writeOperationError транслирует ошибку фасада в HTTP-ответ.
func (h *APIHandler) writeOperationError(w http.ResponseWriter, err error) {
	var opErr *service.OperationError
	if errors.As(err, &opErr) {
		apierrors.WriteError(w, opErr.StatusCode, opErr.Code, opErr.Message)
		return
	}
	apierrors.InternalError(w, "внутренняя ошибка")
}

// isPDF проверяет магическую сигнатуру PDF (%PDF-).
func isPDF(head []byte) bool {
	return bytes.HasPrefix(head, []byte("%PDF-"))
}
