package hotserver

import (
	"context"
	"sync/atomic"
	"time"
)

// wsConn is the subset of *websocket.Conn the registry needs; narrowed to
// an interface so tests can register clients without a real socket.
type wsConn interface {
	Close() error
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	ReadMessage() (messageType int, p []byte, err error)
}

// Client is one connected browser tab, tracked per §4.J's registry shape:
// "per-client: compilationMode, browserUiPosition, openErrorOverlay,
// lastSeenHotTimestamp".
type Client struct {
	id         string
	targetName string
	conn       wsConn
	notify     chan []byte

	compilationMode      atomic.Value // string
	browserUiPosition    atomic.Value // string
	openErrorOverlay     atomic.Bool
	lastSeenHotTimestamp atomic.Int64
}

func newClient(id, targetName string, conn wsConn) *Client {
	c := &Client{
		id:         id,
		targetName: targetName,
		conn:       conn,
		notify:     make(chan []byte, 1),
	}
	c.compilationMode.Store("standard")
	c.browserUiPosition.Store("TopLeft")
	return c
}

func (c *Client) CompilationMode() string   { return c.compilationMode.Load().(string) }
func (c *Client) SetCompilationMode(m string) { c.compilationMode.Store(m) }

func (c *Client) BrowserUiPosition() string     { return c.browserUiPosition.Load().(string) }
func (c *Client) SetBrowserUiPosition(p string) { c.browserUiPosition.Store(p) }

func (c *Client) OpenErrorOverlay() bool     { return c.openErrorOverlay.Load() }
func (c *Client) SetOpenErrorOverlay(b bool) { c.openErrorOverlay.Store(b) }

func (c *Client) LastSeenHotTimestamp() int64     { return c.lastSeenHotTimestamp.Load() }
func (c *Client) SetLastSeenHotTimestamp(ts int64) { c.lastSeenHotTimestamp.Store(ts) }

// registryManager owns byTarget: map[TargetName]Set<Client> (§4.J), run by a
// single loop so registration, unregistration, and broadcast never race —
// the same shape as wave/internal/devserver/broadcast.go's clientManager,
// generalized from one global client set to one set per target name.
type registryManager struct {
	byTarget map[string]map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	broadcast  chan targetBroadcast
	done       chan struct{}
}

type targetBroadcast struct {
	targetName string
	payload    []byte
}

func newRegistryManager() *registryManager {
	return &registryManager{
		byTarget:   make(map[string]map[*Client]struct{}),
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		broadcast:  make(chan targetBroadcast, 16),
		done:       make(chan struct{}),
	}
}

// start runs the registry loop until ctx is cancelled, then drains pending
// channel sends so in-flight handlers never block on a stopped manager.
func (m *registryManager) start(ctx context.Context) {
	defer close(m.done)

	for {
		select {
		case <-ctx.Done():
			for _, clients := range m.byTarget {
				for c := range clients {
					close(c.notify)
					c.conn.Close()
				}
			}
			m.drain()
			return

		case c := <-m.register:
			set, ok := m.byTarget[c.targetName]
			if !ok {
				set = make(map[*Client]struct{})
				m.byTarget[c.targetName] = set
			}
			set[c] = struct{}{}

		case c := <-m.unregister:
			if set, ok := m.byTarget[c.targetName]; ok {
				if _, present := set[c]; present {
					delete(set, c)
					close(c.notify)
					c.conn.Close()
				}
				if len(set) == 0 {
					delete(m.byTarget, c.targetName)
				}
			}

		case msg := <-m.broadcast:
			for c := range m.byTarget[msg.targetName] {
				select {
				case c.notify <- msg.payload:
				default:
					// Client's outbound buffer is full; drop rather than block
					// the whole registry on one slow socket.
				}
			}
		}
	}
}

func (m *registryManager) drain() {
	for {
		select {
		case c := <-m.register:
			c.conn.Close()
		case c := <-m.unregister:
			c.conn.Close()
		case <-m.broadcast:
		default:
			return
		}
	}
}

func (m *registryManager) wait() {
	<-m.done
}
