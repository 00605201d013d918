package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"extract_gateway/internal/logging"
	"extract_gateway/internal/progress"
	"extract_gateway/internal/utils"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The socket only pushes progress for an unguessable session ID, so
	// cross-origin dashboards are allowed to subscribe.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleProgressSocket upgrades GET /progress/{sessionId} to a websocket
// and registers the connection as a viewer of that session.
func (d *Dependencies) handleProgressSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/progress/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		utils.RespondWithError(w, http.StatusBadRequest, "missing session id")
		return
	}

	sock, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response.
		return
	}

	conn, err := d.Registry.Admit(sessionID, sock)
	if err != nil {
		if errors.Is(err, progress.ErrSessionFull) {
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session connection limit reached")
			deadline := time.Now().Add(time.Second)
			sock.WriteControl(websocket.CloseMessage, msg, deadline)
		}
		sock.Close()
		return
	}

	d.readLoop(conn, sock)
}

// readLoop services inbound frames for one viewer. Any frame counts as a
// liveness signal; the loop exits when the peer goes away or the registry
// closes the socket out from under it.
func (d *Dependencies) readLoop(conn *progress.Conn, sock *websocket.Conn) {
	defer d.Registry.Remove(conn)

	sock.SetReadLimit(512)
	sock.SetReadDeadline(time.Now().Add(d.wsReadLimit))
	sock.SetPongHandler(func(string) error {
		d.Registry.Touch(conn)
		return sock.SetReadDeadline(time.Now().Add(d.wsReadLimit))
	})
	// Clients keeping alive with pings alone count too; answer them
	// ourselves since installing a handler displaces gorilla's default.
	sock.SetPingHandler(func(appData string) error {
		d.Registry.Touch(conn)
		if err := sock.SetReadDeadline(time.Now().Add(d.wsReadLimit)); err != nil {
			return err
		}
		err := sock.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})

	for {
		if _, _, err := sock.ReadMessage(); err != nil {
			return
		}
		d.Registry.Touch(conn)
		sock.SetReadDeadline(time.Now().Add(d.wsReadLimit))
	}
}

// progressUpdate is the body of POST /internal/progress, posted by the
// extraction pipeline as a batch advances.
type progressUpdate struct {
	SessionID string `json:"sessionId"`
	Progress  int    `json:"progress"`
	Message   string `json:"message"`
	Stage     string `json:"stage"`
}

func (d *Dependencies) handleInternalProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var update progressUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if update.SessionID == "" {
		utils.RespondWithError(w, http.StatusBadRequest, "missing session id")
		return
	}

	delivered := d.Broadcaster.BroadcastProgress(update.SessionID, update.Progress, update.Message, update.Stage)

	utils.RespondWithJSON(w, http.StatusOK, map[string]int{"delivered": delivered})
}

// handleConnections reports registry metrics, or the connections of one
// session when ?session= is given.
func (d *Dependencies) handleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if sessionID := r.URL.Query().Get("session"); sessionID != "" {
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
			"sessionId":   sessionID,
			"connections": d.Registry.SessionConnections(sessionID),
		})
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, d.Registry.Metrics())
}

// handleDeleteSession serves DELETE /internal/sessions/{id}, closing every
// viewer of a finished session. Idempotent.
func (d *Dependencies) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		utils.RespondWithError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	sessionID := strings.TrimPrefix(r.URL.Path, "/internal/sessions/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		utils.RespondWithError(w, http.StatusBadRequest, "missing session id")
		return
	}

	closed := d.Registry.CleanupSession(sessionID)

	if err := d.Events.Enqueue(&logging.QuoteEvent{
		Event:     logging.EventSessionClosed,
		SessionID: sessionID,
		ClientIP:  utils.ClientIP(r),
	}); err != nil {
		d.logger.Warn("failed to record session close", "session_id", sessionID, "error", err.Error())
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]int{"closed": closed})
}

func (d *Dependencies) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]string{"status": "ok"}
	code := http.StatusOK

	if d.DB != nil {
		if err := d.DB.Health(r.Context()); err != nil {
			health["status"] = "degraded"
			health["database"] = err.Error()
			code = http.StatusServiceUnavailable
		} else {
			health["database"] = "ok"
		}
	}

	utils.RespondWithJSON(w, code, health)
}
