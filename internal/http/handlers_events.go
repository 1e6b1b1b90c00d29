package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	domainauth "github.com/tremiti/admin-console/internal/domain/auth"
	"github.com/tremiti/admin-console/internal/guard"
)

const (
	defaultPingInterval = 30 * time.Second
	eventsWriteWait     = 10 * time.Second
	eventsReadLimit     = 1024
)

// EventsHandler streams a client's session snapshots over a websocket.
// Each message says where the page should go when the session no longer
// permits the path the browser is showing.
type EventsHandler struct {
	Svc          AuthServiceInterface
	Guard        *guard.Guard
	PingInterval time.Duration
	Logger       *slog.Logger

	upgrader websocket.Upgrader
}

// sessionEvent is pushed to the browser on every snapshot.
type sessionEvent struct {
	Type       string              `json:"type"`
	State      domainauth.State    `json:"state"`
	Version    uint64              `json:"version"`
	User       *domainauth.Session `json:"user,omitempty"`
	Nav        []guard.NavItem     `json:"nav,omitempty"`
	Notice     *domainauth.Notice  `json:"notice,omitempty"`
	RedirectTo string              `json:"redirect_to,omitempty"`
}

// inboundMessage is sent by the browser when it navigates client-side.
type inboundMessage struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

func (h *EventsHandler) logger() *slog.Logger {
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}

func (h *EventsHandler) event(snap domainauth.Snapshot, path string) sessionEvent {
	ev := sessionEvent{
		Type:    "session",
		State:   snap.State,
		Version: snap.Version,
		Notice:  snap.Notice,
	}
	var sess *domainauth.Session
	if snap.Authenticated() {
		sess = snap.Session
		ev.User = sess
		ev.Nav = h.Guard.NavFor(sess.Role)
	}
	// Redirects are only decided once the session has settled.
	if snap.State.Settled() && path != "" {
		if d := h.Guard.Evaluate(path, sess); !d.Allowed {
			ev.RedirectTo = d.Redirect
		}
	}
	return ev
}

// ServeHTTP upgrades the request and pushes snapshots until either side closes.
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id, ok := requireClientID(w, r)
	if !ok {
		return
	}
	client, err := h.Svc.Client(r.Context(), id)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	// The upgrade response bypasses w, so carry the refreshed client cookie over.
	header := http.Header{}
	for _, c := range w.Header().Values("Set-Cookie") {
		header.Add("Set-Cookie", c)
	}
	conn, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger().DebugContext(r.Context(), "websocket upgrade failed", "client_id", id, "error", err)
		return
	}
	defer conn.Close()

	ping := h.PingInterval
	if ping <= 0 {
		ping = defaultPingInterval
	}
	pongWait := 2 * ping

	// Store callbacks must not block: keep only the newest snapshot.
	updates := make(chan domainauth.Snapshot, 1)
	unsubscribe := client.Subscribe(func(snap domainauth.Snapshot) {
		select {
		case <-updates:
		default:
		}
		updates <- snap
	})
	defer unsubscribe()

	navigations := make(chan string, 1)
	readerDone := make(chan struct{})
	go h.readPump(r.Context(), conn, pongWait, navigations, readerDone)

	ticker := time.NewTicker(ping)
	defer ticker.Stop()

	path := r.URL.Query().Get("path")
	last := client.Snapshot()
	sent := false
	for {
		select {
		case snap := <-updates:
			if sent && snap.Version <= last.Version {
				continue
			}
			last = snap
		case p := <-navigations:
			path = p
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
			continue
		case <-readerDone:
			return
		case <-client.Done():
			// The client was dropped; the browser reconnects to a fresh one.
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"), time.Now().Add(eventsWriteWait))
			return
		case <-r.Context().Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(eventsWriteWait))
			return
		}

		_ = conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		if err := conn.WriteJSON(h.event(last, path)); err != nil {
			h.logger().DebugContext(r.Context(), "websocket write failed", "client_id", id, "error", err)
			return
		}
		sent = true
	}
}

// readPump owns every read on conn. It keeps the pong deadline fresh and
// forwards navigation messages, keeping only the newest path.
func (h *EventsHandler) readPump(ctx context.Context, conn *websocket.Conn, pongWait time.Duration, navigations chan string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(eventsReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger().DebugContext(ctx, "websocket read ended", "error", err)
			}
			return
		}
		var msg inboundMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "navigate" || msg.Path == "" {
			continue
		}
		select {
		case <-navigations:
		default:
		}
		navigations <- safeRedirectPath(msg.Path)
	}
}
