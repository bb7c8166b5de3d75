// documents.go — публичные обработчики каталога документов.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/arturkryukov/studydocs/internal/api/errors"
	"github.com/arturkryukov/studydocs/internal/domain/model"
)

// ListDocuments — GET /api/documents?type={material|imp-material}
// Возвращает каталог документов, новые первыми. Каждый запрос каталога
// засчитывается как просмотр.
func (h *APIHandler) ListDocuments(w http.ResponseWriter, r *http.Request) {
	typeFilter := model.DocumentType(r.URL.Query().Get("type"))
	if typeFilter != "" && !typeFilter.Valid() {
		apierrors.ValidationError(w, "недопустимый тип документа: "+string(typeFilter))
		return
	}

	h.docs.RecordVisit()

	docs := h.docs.GetDocuments(r.Context(), typeFilter)
	h.writeJSON(w, http.StatusOK, docs)
}

// Counts — GET /api/stats/counts
// Возвращает количество документов по типам и общее количество.
func (h *APIHandler) Counts(w http.ResponseWriter, r *http.Request) {
	byType, total := h.docs.GetCounts(r.Context())

	h.writeJSON(w, http.StatusOK, map[string]int{
		"materialCount":    byType[model.TypeMaterial],
		"impMaterialCount": byType[model.TypeImpMaterial],
		"totalCount":       total,
	})
}

// DownloadPDF — GET /api/pdf/{id}
// Отдаёт payload документа: кэш → диск → PostgreSQL.
func (h *APIHandler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		apierrors.ValidationError(w, "id документа обязателен")
		return
	}

	h.docs.ServePDF(w, r, id)
}
