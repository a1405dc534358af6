package ws

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/marvindv/group-sketch/internal/config"
	"github.com/marvindv/group-sketch/internal/game/room"
)

// Acceptor listens for websocket connections on an HTTP port, upgrades them,
// and runs one Client per connection.
type Acceptor struct {
	cfg      config.WebsocketConfig
	registry *room.Registry
	logger   *zap.Logger
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	wg       sync.WaitGroup
	quit     chan struct{}
	mu       sync.Mutex
	running  bool
	clients  map[*Client]struct{}
}

// NewAcceptor creates a websocket acceptor with the given configuration.
//
// Precondition: cfg must be validated; registry and logger must be non-nil.
// Postcondition: Returns an Acceptor ready to be started with ListenAndServe.
func NewAcceptor(cfg config.WebsocketConfig, registry *room.Registry, logger *zap.Logger) *Acceptor {
	return &Acceptor{
		cfg:      cfg,
		registry: registry,
		logger:   logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Origin enforcement is left to the fronting proxy.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		quit:    make(chan struct{}),
		clients: make(map[*Client]struct{}),
	}
}

// ListenAndServe starts the HTTP listener and serves websocket upgrades until
// Stop is called. This method blocks until the acceptor is stopped.
//
// Precondition: The acceptor must not already be running.
// Postcondition: The listener is closed when this method returns.
func (a *Acceptor) ListenAndServe() error {
	start := time.Now()

	listener, err := net.Listen("tcp", a.cfg.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.cfg.Addr(), err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok", "rooms": a.registry.IDs()})
	})
	router.GET(a.cfg.Path, a.handleUpgrade)

	server := &http.Server{Handler: router}

	a.mu.Lock()
	a.listener = listener
	a.server = server
	a.running = true
	a.mu.Unlock()

	a.logger.Info("websocket acceptor listening",
		zap.String("addr", listener.Addr().String()),
		zap.String("path", a.cfg.Path),
		zap.Duration("startup", time.Since(start)),
	)

	err = server.Serve(listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	select {
	case <-a.quit:
		return nil
	default:
		return fmt.Errorf("serving websocket connections: %w", err)
	}
}

// handleUpgrade upgrades one HTTP request and hands the connection to a
// Client goroutine.
func (a *Acceptor) handleUpgrade(ctx *gin.Context) {
	socket, err := a.upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		a.logger.Error("websocket upgrade failed",
			zap.String("remote_addr", ctx.ClientIP()),
			zap.Error(err),
		)
		return
	}

	a.logger.Info("client connected",
		zap.String("remote_addr", ctx.ClientIP()),
	)

	conn := NewConn(socket, a.cfg)
	client := NewClient(conn, a.registry, a.cfg, a.logger)

	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		conn.Close()
		return
	}
	a.clients[client] = struct{}{}
	a.wg.Add(1)
	a.mu.Unlock()

	go func() {
		defer a.wg.Done()
		start := time.Now()
		client.Run()

		a.mu.Lock()
		delete(a.clients, client)
		a.mu.Unlock()

		a.logger.Info("session ended",
			zap.String("nickname", client.Nickname()),
			zap.Duration("duration", time.Since(start)),
		)
	}()
}

// Stop gracefully stops the acceptor, closing the listener and every active
// connection, and waits for all session goroutines to finish.
//
// Postcondition: All connections are closed and goroutines have exited.
func (a *Acceptor) Stop() {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return
	}
	a.running = false
	close(a.quit)
	server := a.server
	active := make([]*Client, 0, len(a.clients))
	for c := range a.clients {
		active = append(active, c)
	}
	a.mu.Unlock()

	if server != nil {
		_ = server.Close()
	}
	for _, c := range active {
		c.Shutdown()
	}
	a.wg.Wait()

	a.logger.Info("websocket acceptor stopped")
}

// Addr returns the actual listening address, or empty string if not yet listening.
func (a *Acceptor) Addr() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return ""
}

// IsRunning returns whether the acceptor is currently accepting connections.
func (a *Acceptor) IsRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}
