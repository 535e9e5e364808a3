package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/creact-labs/creact-sub004/pkg/registry"
)

// wire message shapes exchanged with a provider daemon.
type remoteRequest struct {
	ID     string     `json:"id"`
	Action string     `json:"action"` // materialize | destroy
	Nodes  []NodeSpec `json:"nodes"`
}

// NodeSpec is the wire form of a resource instance shipped to a provider
// daemon: identity, construct tag, and serializable props only.
type NodeSpec struct {
	ID            string         `json:"id"`
	ConstructType string         `json:"constructType"`
	Props         map[string]any `json:"props,omitempty"`
}

type remoteMessage struct {
	Type      string                    `json:"type"` // response | outputsChanged
	RequestID string                    `json:"requestId,omitempty"`
	Error     string                    `json:"error,omitempty"`
	Outputs   map[string]map[string]any `json:"outputs,omitempty"` // node id -> outputs

	// outputsChanged payload
	ResourceName string         `json:"resourceName,omitempty"`
	Changed      map[string]any `json:"changedOutputs,omitempty"`
	Timestamp    time.Time      `json:"timestamp,omitempty"`
}

// RemoteProvider bridges materialize/destroy calls and outputsChanged
// events over a WebSocket connection to a provider daemon. One goroutine
// reads the socket, routing responses to waiting calls and events to
// subscribers; writes are serialized through a send channel.
type RemoteProvider struct {
	Emitter

	conn      *websocket.Conn
	log       *slog.Logger
	sendCh    chan remoteRequest
	closeCh   chan struct{}
	closeOnce sync.Once

	mu      sync.Mutex
	pending map[string]chan remoteMessage

	// CallTimeout bounds each materialize/destroy round-trip.
	CallTimeout time.Duration
}

// DialRemote connects to a provider daemon.
func DialRemote(ctx context.Context, url string, log *slog.Logger) (*RemoteProvider, error) {
	if log == nil {
		log = slog.Default()
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial provider daemon %s: %w", url, err)
	}
	p := &RemoteProvider{
		conn:        conn,
		log:         log.With("component", "remote-provider"),
		sendCh:      make(chan remoteRequest, 16),
		closeCh:     make(chan struct{}),
		pending:     make(map[string]chan remoteMessage),
		CallTimeout: 5 * time.Minute,
	}
	go p.readPump()
	go p.writePump()
	return p, nil
}

func (p *RemoteProvider) readPump() {
	for {
		var msg remoteMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			select {
			case <-p.closeCh:
			default:
				p.log.Error("provider connection lost", "error", err)
			}
			p.failPending(fmt.Errorf("provider connection lost: %w", err))
			return
		}
		switch msg.Type {
		case "response":
			p.mu.Lock()
			ch, ok := p.pending[msg.RequestID]
			delete(p.pending, msg.RequestID)
			p.mu.Unlock()
			if ok {
				ch <- msg
			}
		case "outputsChanged":
			p.Emit(OutputsEvent{
				ResourceName: msg.ResourceName,
				Outputs:      msg.Changed,
				Timestamp:    msg.Timestamp,
			})
		default:
			p.log.Warn("unknown message type from provider daemon", "type", msg.Type)
		}
	}
}

func (p *RemoteProvider) writePump() {
	for {
		select {
		case req := <-p.sendCh:
			data, err := json.Marshal(req)
			if err != nil {
				p.log.Error("encode provider request", "error", err)
				continue
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				p.log.Error("write provider request", "error", err)
				return
			}
		case <-p.closeCh:
			return
		}
	}
}

func (p *RemoteProvider) failPending(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ch := range p.pending {
		ch <- remoteMessage{Type: "response", RequestID: id, Error: err.Error()}
		delete(p.pending, id)
	}
}

func (p *RemoteProvider) call(ctx context.Context, req remoteRequest) (remoteMessage, error) {
	req.ID = uuid.NewString()
	ch := make(chan remoteMessage, 1)
	p.mu.Lock()
	p.pending[req.ID] = ch
	p.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, p.CallTimeout)
	defer cancel()

	select {
	case p.sendCh <- req:
	case <-ctx.Done():
		return remoteMessage{}, ctx.Err()
	}

	select {
	case msg := <-ch:
		if msg.Error != "" {
			return msg, fmt.Errorf("provider daemon: %s", msg.Error)
		}
		return msg, nil
	case <-ctx.Done():
		p.mu.Lock()
		delete(p.pending, req.ID)
		p.mu.Unlock()
		return remoteMessage{}, ctx.Err()
	case <-p.closeCh:
		return remoteMessage{}, fmt.Errorf("provider stopped")
	}
}

// Materialize ships nodes to the daemon and applies the returned outputs on
// the calling goroutine.
func (p *RemoteProvider) Materialize(ctx context.Context, nodes []*registry.InstanceNode) error {
	req := remoteRequest{Action: "materialize"}
	for _, n := range nodes {
		req.Nodes = append(req.Nodes, NodeSpec{
			ID:            n.ID,
			ConstructType: n.ConstructType,
			Props:         n.Props.Serializable(),
		})
	}
	resp, err := p.call(ctx, req)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		if outputs, ok := resp.Outputs[n.ID]; ok {
			n.SetOutputs(outputs)
		}
	}
	return nil
}

// Destroy ships one deletion to the daemon.
func (p *RemoteProvider) Destroy(ctx context.Context, node *registry.InstanceNode) error {
	_, err := p.call(ctx, remoteRequest{
		Action: "destroy",
		Nodes: []NodeSpec{{
			ID:            node.ID,
			ConstructType: node.ConstructType,
			Props:         node.Props.Serializable(),
		}},
	})
	return err
}

// Stop detaches subscribers and closes the connection. In-flight calls fail
// with a stopped error.
func (p *RemoteProvider) Stop() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeCh)
		p.Close()
		err = p.conn.Close()
	})
	return err
}
