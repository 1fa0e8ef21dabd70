package mastosw

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/browser"
	"go.uber.org/zap"
	"golang.org/x/net/websocket"
)

const clientWriteTimeout = 5 * time.Second

// clientReport is what a page sends over its socket.
type clientReport struct {
	Type             string `json:"type"` // hello | state
	URL              string `json:"url"`
	Focused          bool   `json:"focused"`
	VisibilityState  string `json:"visibilityState"`
	SupportsNavigate bool   `json:"supportsNavigate"`
}

type hubClient struct {
	conn *websocket.Conn
	seq  uint64

	sendMu sync.Mutex
	info   WindowClient
}

func (c *hubClient) send(msg Message) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(clientWriteTimeout))
	return websocket.JSON.Send(c.conn, msg)
}

// Hub tracks pages connected over WebSocket and implements ClientSet.
type Hub struct {
	log  *zap.Logger
	page *url.URL
	open func(string) error

	mu      sync.RWMutex
	clients map[string]*hubClient
	seq     uint64
	claimed bool
}

func NewHub(page *url.URL, openWindow bool, log *zap.Logger) *Hub {
	h := &Hub{
		log:     log,
		page:    page,
		clients: map[string]*hubClient{},
	}
	if openWindow {
		h.open = browser.OpenURL
	}
	return h
}

func (h *Hub) Handler() http.Handler {
	return websocket.Handler(h.serveConn)
}

func (h *Hub) serveConn(ws *websocket.Conn) {
	id := uuid.NewString()

	h.mu.Lock()
	h.seq++
	c := &hubClient{
		conn: ws,
		seq:  h.seq,
		info: WindowClient{ID: id, VisibilityState: VisibilityHidden, Controlled: h.claimed},
	}
	h.clients[id] = c
	h.mu.Unlock()

	log := h.log.With(zap.String("client", id))
	log.Debug("client connected")
	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		_ = ws.Close()
		log.Debug("client disconnected")
	}()

	for {
		var rep clientReport
		if err := websocket.JSON.Receive(ws, &rep); err != nil {
			return
		}
		switch rep.Type {
		case "hello", "state":
			h.update(id, rep)
		default:
			log.Debug("ignoring client message", zap.String("type", rep.Type))
		}
	}
}

func (h *Hub) update(id string, rep clientReport) {
	h.mu.Lock()
	defer h.mu.Unlock()
	c, ok := h.clients[id]
	if !ok {
		return
	}
	c.info.Focused = rep.Focused
	if rep.URL != "" {
		c.info.URL = rep.URL
	}
	if rep.VisibilityState != "" {
		c.info.VisibilityState = rep.VisibilityState
	}
	if rep.Type == "hello" {
		c.info.SupportsNavigate = rep.SupportsNavigate
	}
}

// MatchAll returns clients in connection order.
func (h *Hub) MatchAll(ctx context.Context, includeUncontrolled bool) ([]WindowClient, error) {
	h.mu.RLock()
	cs := make([]*hubClient, 0, len(h.clients))
	for _, c := range h.clients {
		if includeUncontrolled || c.info.Controlled {
			cs = append(cs, c)
		}
	}
	out := make([]WindowClient, 0, len(cs))
	sort.Slice(cs, func(i, j int) bool { return cs[i].seq < cs[j].seq })
	for _, c := range cs {
		out = append(out, c.info)
	}
	h.mu.RUnlock()
	return out, ctx.Err()
}

func (h *Hub) Claim(ctx context.Context) error {
	h.mu.Lock()
	h.claimed = true
	for _, c := range h.clients {
		c.info.Controlled = true
	}
	h.mu.Unlock()
	return ctx.Err()
}

func (h *Hub) PostMessage(ctx context.Context, id string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.RLock()
	c, ok := h.clients[id]
	h.mu.RUnlock()
	if !ok {
		return ErrClientGone
	}
	if err := c.send(msg); err != nil {
		return fmt.Errorf("post %s to %s: %w", msg.Type, id, err)
	}
	return nil
}

func (h *Hub) Focus(ctx context.Context, id string) error {
	return h.PostMessage(ctx, id, Message{Type: MessageFocus})
}

func (h *Hub) Navigate(ctx context.Context, id, target string) error {
	return h.PostMessage(ctx, id, Message{Type: MessageNavigate, URL: target})
}

// OpenWindow opens target, resolved against the page origin, in the
// desktop browser.
func (h *Hub) OpenWindow(ctx context.Context, target string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ref, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("open window: %w", err)
	}
	abs := h.page.ResolveReference(ref).String()
	if h.open == nil {
		h.log.Info("window opening disabled", zap.String("url", abs))
		return nil
	}
	if err := h.open(abs); err != nil {
		return fmt.Errorf("open window %s: %w", abs, err)
	}
	return nil
}
