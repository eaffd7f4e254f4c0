package hotserver

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const closeWriteTimeout = 2 * time.Second

// Close codes used to terminate a connection that identifies itself with an
// unrecoverable mismatch (§6.4 "Close codes communicate unrecoverable
// mismatches"). The 4000-4999 range is reserved by RFC 6455 for
// application use.
const (
	closeCodeUnknownTarget   = 4001
	closeCodeTokenMismatch   = 4002
	closeCodeVersionMismatch = 4003
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server is the hot-reload WebSocket core of §4.J: it accepts browser
// connections, validates each one's target name and token, and dispatches
// inbound/outbound messages through a per-target registry.
type Server struct {
	manager *registryManager
	logger  *slog.Logger

	token   string
	version string

	mu      sync.RWMutex
	targets map[string]struct{}

	compileState   map[string]*targetCompileState
	compileStateMu sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
}

type targetCompileState struct {
	lastMode   string
	lastFields map[string]struct{}
}

// NewServer builds a Server for the given session token (minted at process
// startup, §4.J "Clients identify themselves by target name and a short
// token") and the set of target names the project currently defines.
func NewServer(logger *slog.Logger, version, token string, targetNames []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	targets := make(map[string]struct{}, len(targetNames))
	for _, name := range targetNames {
		targets[name] = struct{}{}
	}
	return &Server{
		manager:      newRegistryManager(),
		logger:       logger,
		token:        token,
		version:      version,
		targets:      targets,
		compileState: make(map[string]*targetCompileState),
	}
}

// Start runs the registry loop until ctx is cancelled; Handler must not be
// used before Start.
func (s *Server) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)
	go s.manager.start(s.ctx)
}

// Stop cancels the registry loop and waits for it to fully drain, matching
// §5's "FS-watcher teardown is idempotent" expectation for the WebSocket
// side too.
func (s *Server) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.manager.wait()
}

// SetTargetNames replaces the set of valid target names, used when the
// project manifest is re-resolved.
func (s *Server) SetTargetNames(targetNames []string) {
	targets := make(map[string]struct{}, len(targetNames))
	for _, name := range targetNames {
		targets[name] = struct{}{}
	}
	s.mu.Lock()
	s.targets = targets
	s.mu.Unlock()
}

func (s *Server) knowsTarget(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.targets[name]
	return ok
}

// Handler returns the http.HandlerFunc that upgrades and serves one
// WebSocket connection per browser tab. Path and query parameters match
// §6.4: "/?elmWatchVersion=<X>&targetName=<T>&elmCompiledTimestamp=<ms>"
// plus the token.
func (s *Server) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-s.ctx.Done():
			http.Error(w, "server shutting down", http.StatusServiceUnavailable)
			return
		default:
		}

		query := r.URL.Query()
		targetName := query.Get("targetName")
		token := query.Get("token")
		version := query.Get("elmWatchVersion")

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}

		if token != s.token {
			s.closeWithCode(conn, closeCodeTokenMismatch, "token mismatch")
			return
		}
		if s.version != "" && version != s.version {
			s.closeWithCode(conn, closeCodeVersionMismatch, "elm-watch version mismatch")
			return
		}
		if !s.knowsTarget(targetName) {
			s.closeWithCode(conn, closeCodeUnknownTarget, "unknown target: "+targetName)
			return
		}

		client := newClient(r.RemoteAddr, targetName, conn)

		select {
		case s.manager.register <- client:
		case <-s.ctx.Done():
			conn.Close()
			return
		}

		defer func() {
			select {
			case s.manager.unregister <- client:
			case <-s.ctx.Done():
			default:
			}
		}()

		go s.readLoop(client)
		s.writeLoop(client)
	}
}

func (s *Server) closeWithCode(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteTimeout))
	conn.Close()
}

func (s *Server) readLoop(client *Client) {
	defer client.conn.Close()
	for {
		_, data, err := client.conn.ReadMessage()
		if err != nil {
			select {
			case s.manager.unregister <- client:
			case <-s.ctx.Done():
			default:
			}
			return
		}

		msg, err := DecodeInbound(data)
		if err != nil {
			s.logger.Warn("discarding malformed inbound message", "target", client.targetName, "error", err)
			continue
		}
		s.handleInbound(client, msg)
	}
}

func (s *Server) writeLoop(client *Client) {
	for {
		select {
		case payload, ok := <-client.notify:
			if !ok {
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Server) handleInbound(client *Client, msg InboundMessage) {
	switch msg.Tag {
	case InboundChangedCompilationMode:
		client.SetCompilationMode(msg.CompilationMode)

	case InboundChangedBrowserUiPosition:
		client.SetBrowserUiPosition(msg.BrowserUiPosition)

	case InboundChangedOpenErrorOverlay:
		client.SetOpenErrorOverlay(msg.Open)

	case InboundFocusedTab:
		payload, err := EncodeFocusedTabAcknowledged()
		if err == nil {
			s.sendTo(client, payload)
		}

	case InboundPressedOpenEditor:
		if failReason := OpenEditor(msg.File, msg.Line, msg.Column); failReason != "" {
			payload, encErr := EncodeOpenEditorFailed(failReason)
			if encErr == nil {
				s.sendTo(client, payload)
			}
		}

	default:
		s.logger.Warn("unknown inbound message tag", "tag", msg.Tag, "target", client.targetName)
	}
}

func (s *Server) sendTo(client *Client, payload []byte) {
	select {
	case client.notify <- payload:
	default:
	}
}

// BroadcastStatusChanged reports a target's current status to every
// connected client for that target.
func (s *Server) BroadcastStatusChanged(targetName string, status StatusPayload) {
	payload, err := EncodeStatusChanged(status)
	if err != nil {
		s.logger.Error("encode StatusChanged", "error", err)
		return
	}
	s.manager.broadcast <- targetBroadcast{targetName: targetName, payload: payload}
}

// BroadcastCompileResult delivers a successful compile to every client
// subscribed to targetName, implementing the reload-vs-patch decision of
// §4.J: when the new and previous compile were both in optimize mode and
// the accessed-record-field set changed, clients are told to fully reload
// instead of patch.
func (s *Server) BroadcastCompileResult(targetName, code string, compiledTimestamp int64, compilationMode, browserUiPosition string) {
	needsFullReload := s.updateCompileState(targetName, compilationMode, code)

	var payload []byte
	var err error
	if needsFullReload {
		payload, err = EncodeSuccessfullyCompiledButRecordFieldsChanged()
	} else {
		payload, err = EncodeSuccessfullyCompiled(compiledTimestamp, compilationMode, browserUiPosition, code)
	}
	if err != nil {
		s.logger.Error("encode compile result", "error", err)
		return
	}
	s.manager.broadcast <- targetBroadcast{targetName: targetName, payload: payload}
}

func (s *Server) updateCompileState(targetName, compilationMode, code string) bool {
	fields, parseErr := accessedRecordFields(code)

	s.compileStateMu.Lock()
	defer s.compileStateMu.Unlock()

	prev, ok := s.compileState[targetName]
	changed := false
	if ok && parseErr == nil && prev.lastMode == "optimize" && compilationMode == "optimize" {
		changed = recordFieldsChanged(prev.lastFields, fields)
	}

	if parseErr == nil {
		s.compileState[targetName] = &targetCompileState{lastMode: compilationMode, lastFields: fields}
	} else {
		s.logger.Warn("accessed-record-field scan failed; skipping reload-vs-patch comparison", "target", targetName, "error", parseErr)
	}

	return changed
}

