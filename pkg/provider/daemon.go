package provider

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DaemonHandler is the server side of the remote provider protocol: an
// http.Handler that upgrades connections, answers materialize/destroy
// requests through a Resolver-style callback, and pushes outputsChanged
// events to every connected runtime.
type DaemonHandler struct {
	upgrader websocket.Upgrader
	log      *slog.Logger

	// Materialize produces outputs per node id for one request.
	Materialize func(nodes []NodeSpec) (map[string]map[string]any, error)
	// Destroy tears one node down.
	Destroy func(node NodeSpec) error

	mu    sync.Mutex
	conns map[*websocket.Conn]chan remoteMessage
}

// NewDaemonHandler creates a handler with permissive origins, matching the
// trusted-network deployment model of provider daemons.
func NewDaemonHandler(log *slog.Logger) *DaemonHandler {
	if log == nil {
		log = slog.Default()
	}
	return &DaemonHandler{
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(*http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log:   log.With("component", "provider-daemon"),
		conns: make(map[*websocket.Conn]chan remoteMessage),
	}
}

func (d *DaemonHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.Error("websocket upgrade failed", "error", err)
		return
	}

	sendCh := make(chan remoteMessage, 64)
	d.mu.Lock()
	d.conns[conn] = sendCh
	d.mu.Unlock()

	go d.writeLoop(conn, sendCh)
	d.readLoop(conn, sendCh)

	d.mu.Lock()
	delete(d.conns, conn)
	d.mu.Unlock()
	conn.Close()
}

func (d *DaemonHandler) readLoop(conn *websocket.Conn, sendCh chan remoteMessage) {
	for {
		var req remoteRequest
		if err := conn.ReadJSON(&req); err != nil {
			return
		}
		resp := remoteMessage{Type: "response", RequestID: req.ID}
		switch req.Action {
		case "materialize":
			if d.Materialize == nil {
				resp.Error = "daemon has no materialize handler"
				break
			}
			outputs, err := d.Materialize(req.Nodes)
			if err != nil {
				resp.Error = err.Error()
			} else {
				resp.Outputs = outputs
			}
		case "destroy":
			if d.Destroy == nil {
				resp.Error = "daemon has no destroy handler"
				break
			}
			for _, n := range req.Nodes {
				if err := d.Destroy(n); err != nil {
					resp.Error = err.Error()
					break
				}
			}
		default:
			resp.Error = "unknown action " + req.Action
		}
		sendCh <- resp
	}
}

func (d *DaemonHandler) writeLoop(conn *websocket.Conn, sendCh chan remoteMessage) {
	for msg := range sendCh {
		if err := conn.WriteJSON(msg); err != nil {
			return
		}
	}
}

// Broadcast pushes an outputsChanged event to every connected runtime.
func (d *DaemonHandler) Broadcast(resourceName string, outputs map[string]any) {
	msg := remoteMessage{
		Type:         "outputsChanged",
		ResourceName: resourceName,
		Changed:      outputs,
		Timestamp:    time.Now().UTC(),
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, ch := range d.conns {
		select {
		case ch <- msg:
		default:
			d.log.Warn("event channel full; dropping outputsChanged", "resource", resourceName)
		}
	}
}
