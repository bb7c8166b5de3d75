// health.go — health endpoints studydocs.
//
// /health/live — пробa живости процесса (для kubelet liveness).
// /health/ready — готовность принимать трафик. PostgreSQL не влияет
// на готовность: сервис штатно работает на fallback.
// /api/health — расширенный статус с данными для диагностики.
package handlers

import (
	"net/http"

	"github.com/arturkryukov/studydocs/internal/domain/model"
)

// HealthLive — GET /health/live
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HealthReady — GET /health/ready
// Сервис готов, как только локальное хранилище инициализировано —
// то есть всегда после успешного старта. Доступность PostgreSQL
// не учитывается: чтения и записи закрываются fallback-ом.
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status":   "ok",
		"database": connState(h.state.IsReachable()),
	})
}

// APIHealth — GET /api/health
// Расширенный статус: доступность хранилищ и сводка данных.
func (h *APIHandler) APIHealth(w http.ResponseWriter, r *http.Request) {
	st := h.docs.GetStatus()
	byType, total := h.docs.GetCounts(r.Context())

	h.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"database": map[string]any{
			"primary":  connState(st.PrimaryReachable),
			"fallback": "available",
		},
		"data": map[string]any{
			"total":            total,
			"materialCount":    byType[model.TypeMaterial],
			"impMaterialCount": byType[model.TypeImpMaterial],
			"pendingCount":     st.PendingCount,
			"fallbackCount":    st.FallbackCount,
			"visits":           st.Visits,
		},
	})
}
