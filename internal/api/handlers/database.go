// database.go — обработчики состояния первичного хранилища.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/arturkryukov/studydocs/internal/api/errors"
)

// databaseStatusResponse — ответ GET /api/database/status.
type databaseStatusResponse struct {
	Primary      string         `json:"primary"`
	PendingCount int            `json:"pendingCount"`
	LastSync     *time.Time     `json:"lastSync,omitempty"`
	Fallback     fallbackStatus `json:"fallback"`
}

// fallbackStatus — состояние локального snapshot.
type fallbackStatus struct {
	Count       int       `json:"count"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// DatabaseStatus — GET /api/database/status
// Возвращает доступность PostgreSQL, размер очереди pending
// и состояние локального snapshot.
func (h *APIHandler) DatabaseStatus(w http.ResponseWriter, r *http.Request) {
	st := h.docs.GetStatus()

	resp := databaseStatusResponse{
		Primary:      connState(st.PrimaryReachable),
		PendingCount: st.PendingCount,
		Fallback: fallbackStatus{
			Count:       st.FallbackCount,
			LastUpdated: st.LastUpdated,
		},
	}
	if st.HasSynced {
		resp.LastSync = &st.LastSync
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// DatabaseReconnect — POST /api/database/reconnect
// Синхронная попытка переподключения к PostgreSQL с немедленной сверкой.
// 200 при успехе, 503 если подключение не удалось.
func (h *APIHandler) DatabaseReconnect(w http.ResponseWriter, r *http.Request) {
	if err := h.monitor.Reconnect(r.Context()); err != nil {
		h.logger.Warn("Ручное переподключение не выполнено",
			slog.String("error", err.Error()),
		)
		apierrors.PrimaryUnavailable(w, "не удалось подключиться к первичному хранилищу")
		return
	}

	st := h.docs.GetStatus()
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":       connState(st.PrimaryReachable),
		"pendingCount": st.PendingCount,
	})
}

// connState переводит флаг доступности в строку API.
func connState(reachable bool) string {
	if reachable {
		return "connected"
	}
	return "disconnected"
}
