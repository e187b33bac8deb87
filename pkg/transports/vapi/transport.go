package vapi

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/harunnryd/sarvamrelay/pkg/bridge"
	"github.com/harunnryd/sarvamrelay/pkg/errorsx"
	"github.com/harunnryd/sarvamrelay/pkg/frames"
	"github.com/harunnryd/sarvamrelay/pkg/logging"
	"github.com/harunnryd/sarvamrelay/pkg/transports"
	"github.com/rs/cors"
)

type Config struct {
	ServerAddr     string   `mapstructure:"server_addr"`
	PublicURL      string   `mapstructure:"public_url"`
	WebsocketPath  string   `mapstructure:"ws_path"`
	HealthPath     string   `mapstructure:"health_path"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	ReadBuffer     int      `mapstructure:"read_buffer"`
	WriteBuffer    int      `mapstructure:"write_buffer"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8000"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.HealthPath == "" {
		c.HealthPath = "/health"
	}
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = []string{"*"}
	}
	if c.ReadBuffer <= 0 {
		c.ReadBuffer = 4096
	}
	if c.WriteBuffer <= 0 {
		c.WriteBuffer = 4096
	}
	return c
}

// Transport accepts custom-transcriber WebSocket connections from Vapi and
// runs one bridge.Handler per connection.
type Transport struct {
	cfg      Config
	session  bridge.Options
	server   *http.Server
	handler  http.Handler
	upgrader websocket.Upgrader
	base     *slog.Logger
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	addr  net.Addr
	conns map[string]*websocket.Conn
	wg    sync.WaitGroup

	draining atomic.Bool
}

// New builds the transport. session is the template applied to every
// connection; its Caller is replaced per connection.
func New(cfg Config, session bridge.Options) *Transport {
	cfg = cfg.withDefaults()
	base := session.Logger
	if base == nil {
		base = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Transport{
		cfg:     cfg,
		session: session,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBuffer,
			WriteBufferSize: cfg.WriteBuffer,
		},
		base:   base,
		logger: logging.NewComponentLogger(base, "vapi_transport"),
		ctx:    ctx,
		cancel: cancel,
		conns:  make(map[string]*websocket.Conn),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	t.handler = t.routes()
	return t
}

func (t *Transport) Name() string { return "vapi" }

func (t *Transport) Handler() http.Handler { return t.handler }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"listen_addr":   t.cfg.ServerAddr,
		"websocket_url": t.websocketURL(),
	}
}

func (t *Transport) ActiveConnections() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.conns)
}

func (t *Transport) routes() http.Handler {
	router := mux.NewRouter()
	router.Handle(t.cfg.WebsocketPath, t).Methods(http.MethodGet)
	router.HandleFunc(t.cfg.HealthPath, t.handleHealth).Methods(http.MethodGet)

	c := cors.New(cors.Options{
		AllowedOrigins:   t.cfg.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ln, err := net.Listen("tcp", t.cfg.ServerAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", t.cfg.ServerAddr, err)
	}
	server := &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           t.handler,
	}
	t.mu.Lock()
	if t.draining.Load() {
		t.mu.Unlock()
		_ = ln.Close()
		return errors.New("vapi transport stopped")
	}
	t.server = server
	t.addr = ln.Addr()
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
		_ = t.Stop()
	}()
	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("vapi_transport_server_error", slog.String("error", err.Error()))
		}
	}()
	t.logger.Info("vapi_transport_listening",
		slog.String("addr", ln.Addr().String()),
		slog.String("ws_path", t.cfg.WebsocketPath))
	return nil
}

// Addr returns the bound listen address, or nil before Start.
func (t *Transport) Addr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addr
}

// Stop refuses new connections, closes live ones and waits for their
// sessions to be torn down.
func (t *Transport) Stop() error {
	if !t.draining.CompareAndSwap(false, true) {
		t.wg.Wait()
		return nil
	}
	t.cancel()
	t.mu.Lock()
	if t.server != nil {
		_ = t.server.Close()
	}
	for _, conn := range t.conns {
		_ = conn.Close()
	}
	t.mu.Unlock()
	t.wg.Wait()
	t.logger.Info("vapi_transport_stopped")
	return nil
}

// Drain satisfies runner.Drainer.
func (t *Transport) Drain() error { return t.Stop() }

func (t *Transport) handleHealth(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := uuid.NewString()
	connLogger := t.base.With(slog.String("conn_id", connID))
	logger := t.logger.With(slog.String("conn_id", connID), slog.String("remote_addr", r.RemoteAddr))
	if !t.attach(connID, conn) {
		return
	}
	defer t.detach(connID)

	logger.Info("caller_connected")
	ctx, cancel := context.WithCancel(t.ctx)
	defer cancel()

	caller := bridge.SerializeCaller(conn)
	opts := t.session
	opts.Caller = caller
	opts.Logger = connLogger
	h := bridge.NewHandler(opts)
	defer func() {
		_ = h.Close()
		logger.Info("caller_connection_closed")
	}()

	var terminateOnce sync.Once
	terminate := func(cause error) {
		terminateOnce.Do(func() {
			logger.Error("connection_terminated", errorsx.LogAttrs(cause)...)
			t.sendTerminalError(conn, caller, cause)
		})
	}
	// An upstream failure ends the session outside the read loop; closing
	// the socket unblocks ReadMessage.
	go func() {
		select {
		case <-h.Failed():
			terminate(h.Err())
			_ = conn.Close()
		case <-ctx.Done():
		}
	}()

	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || t.draining.Load() || h.Err() != nil {
				logger.Info("caller_disconnected")
			} else {
				logger.Warn("caller_disconnected_unexpectedly",
					slog.String("error", err.Error()),
					slog.String("reason_code", string(errorsx.ReasonCallerTransport)))
			}
			return
		}

		switch mt {
		case websocket.TextMessage:
			err = h.HandleControl(ctx, data)
		case websocket.BinaryMessage:
			err = h.HandleAudio(ctx, data)
		default:
			continue
		}
		if err == nil {
			continue
		}
		if bridge.Recoverable(err) {
			logger.Warn("caller_frame_rejected", errorsx.LogAttrs(err)...)
			continue
		}
		terminate(err)
		return
	}
}

// sendTerminalError tells the caller why the connection is closing.
func (t *Transport) sendTerminalError(conn *websocket.Conn, caller bridge.Caller, cause error) {
	reason := errorsx.Reason(cause)
	if errorsx.HasReason(cause, errorsx.ReasonCallerTransport) {
		return
	}
	_ = caller.WriteJSON(frames.NewError(cause.Error(), string(reason)))

	code := websocket.CloseInternalServerErr
	if reason == errorsx.ReasonSessionNotStarted || reason == errorsx.ReasonCallerProtocol {
		code = websocket.ClosePolicyViolation
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, string(reason)),
		time.Now().Add(time.Second))
}

func (t *Transport) attach(id string, conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.draining.Load() {
		return false
	}
	t.wg.Add(1)
	t.conns[id] = conn
	return true
}

func (t *Transport) detach(id string) {
	t.mu.Lock()
	delete(t.conns, id)
	t.mu.Unlock()
	t.wg.Done()
}

func (t *Transport) websocketURL() string {
	if t.cfg.PublicURL != "" {
		return "wss://" + normalizePublicURL(t.cfg.PublicURL) + t.cfg.WebsocketPath
	}
	addr := t.cfg.ServerAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "ws://" + addr + t.cfg.WebsocketPath
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	originHost := strings.TrimPrefix(origin, "https://")
	originHost = strings.TrimPrefix(originHost, "http://")
	for _, allowed := range t.cfg.AllowedOrigins {
		a := strings.TrimSpace(allowed)
		if a == "*" {
			return true
		}
		if a == "" {
			continue
		}
		a = strings.TrimRight(a, "/")
		if strings.HasPrefix(a, "http://") || strings.HasPrefix(a, "https://") {
			if strings.EqualFold(a, origin) {
				return true
			}
			continue
		}
		if strings.EqualFold(a, originHost) {
			return true
		}
	}
	return false
}

func normalizePublicURL(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "https://")
	v = strings.TrimPrefix(v, "http://")
	v = strings.TrimPrefix(v, "wss://")
	v = strings.TrimPrefix(v, "ws://")
	return strings.TrimRight(v, "/")
}

var (
	_ transports.Transport     = (*Transport)(nil)
	_ transports.ReadyReporter = (*Transport)(nil)
	_ transports.ConnCounter   = (*Transport)(nil)
)
