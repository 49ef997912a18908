package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/zeusync/repgraph/internal/core/config"
	"github.com/zeusync/repgraph/internal/core/journal"
	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/observability/log"
	"github.com/zeusync/repgraph/internal/core/replication/graph"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

const shutdownTimeout = 5 * time.Second

// Server runs the replication graph against websocket clients. A single tick
// goroutine owns the driver, the world and every client's replication state;
// other goroutines hand it work through submit.
type Server struct {
	cfg    *config.Config
	logger log.Log

	world   *World
	driver  *graph.Driver
	journal *journal.TickJournal

	upgrader websocket.Upgrader
	clients  map[models.ConnectionID]*Client

	commands chan func()
	done     chan struct{}

	lastStats   atomic.Pointer[graph.TickStats]
	clientCount atomic.Int64
	running     atomic.Bool
	closed      atomic.Bool

	addr   net.Addr
	cancel context.CancelFunc
	wait   chan error
}

// NewServer builds the driver from cfg, registers its classes and spawns the
// configured props.
func NewServer(cfg *config.Config, logger log.Log) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With(log.String("component", "server")),
		world:  NewWorld(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:  make(map[models.ConnectionID]*Client),
		commands: make(chan func(), 256),
		done:     make(chan struct{}),
	}

	classes, err := cfg.ClassSettings(s.world.SharedPayload)
	if err != nil {
		return nil, err
	}
	table := info.NewClassSettingsTable()
	for tag, settings := range classes {
		table.Register(tag, settings)
	}

	opts := []graph.Option{
		graph.WithClassSettings(table),
		graph.WithTickObserver(graph.TickObserverFunc(func(stats graph.TickStats) {
			s.lastStats.Store(&stats)
		})),
	}
	if cfg.Server.JournalDir != "" {
		s.journal = journal.NewTickJournal(cfg.Server.JournalDir, logger)
		opts = append(opts, graph.WithTickObserver(s.journal))
	}
	s.driver = graph.New(cfg.GraphConfig(), s.world, logger, opts...)

	for _, prop := range cfg.Props {
		actor := s.world.Spawn(models.ClassTag(prop.Class), models.Vector{X: prop.X, Y: prop.Y, Z: prop.Z})
		actor.Level = prop.Level
		if prop.Dormant {
			actor.Dormancy = models.DormancyInitial
		}
		if err = s.driver.AddNetworkActor(actor); err != nil {
			return nil, fmt.Errorf("spawn prop %s: %w", actor, err)
		}
	}

	s.logger.Info("Server created",
		log.String("listen_addr", cfg.Server.ListenAddr),
		log.Int("max_clients", cfg.Server.MaxClients),
		log.Int("props", len(cfg.Props)))

	return s, nil
}

// Addr is the bound listener address once the server is running.
func (s *Server) Addr() net.Addr { return s.addr }

// LastTickStats is safe to call from any goroutine.
func (s *Server) LastTickStats() (graph.TickStats, bool) {
	stats := s.lastStats.Load()
	if stats == nil {
		return graph.TickStats{}, false
	}
	return *stats, true
}

// Run serves until ctx is cancelled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	return s.serve(ctx, ln)
}

// Start runs the server in the background; Stop ends it.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return err
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.wait = make(chan error, 1)
	go func() { s.wait <- s.serve(ctx, ln) }()
	return nil
}

func (s *Server) Stop(ctx context.Context) error {
	if s.cancel == nil {
		return ErrServerNotRunning
	}
	s.logger.Info("Stopping server")
	s.cancel()
	s.cancel = nil
	select {
	case err := <-s.wait:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) listen() (net.Listener, error) {
	if s.closed.Load() {
		return nil, ErrServerClosed
	}
	if !s.running.CompareAndSwap(false, true) {
		return nil, ErrServerAlreadyRunning
	}
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		s.running.Store(false)
		return nil, fmt.Errorf("%w: %w", ErrListenerFailed, err)
	}
	s.addr = ln.Addr()
	return ln, nil
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	defer s.closed.Store(true)
	defer s.running.Store(false)

	httpServer := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("%w: %w", ErrListenerFailed, err)
		}
		return nil
	})
	g.Go(func() error {
		return s.tickLoop(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	s.logger.Info("Server listening", log.String("addr", ln.Addr().String()))
	err := g.Wait()
	if s.journal != nil {
		if cerr := s.journal.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	s.logger.Info("Server stopped")
	return err
}

// submit hands cmd to the tick goroutine.
func (s *Server) submit(ctx context.Context, cmd func()) error {
	select {
	case s.commands <- cmd:
		return nil
	case <-s.done:
		return ErrServerClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) tickLoop(ctx context.Context) error {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.TickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			for _, client := range s.clients {
				client.close()
			}
			return nil
		case cmd := <-s.commands:
			cmd()
		case now := <-ticker.C:
			s.tick(now.Sub(last).Seconds())
			last = now
		}
	}
}

func (s *Server) tick(deltaSeconds float64) {
	s.driver.Tick(deltaSeconds)
	frame := s.driver.FrameNum()
	for _, client := range s.clients {
		client.flush(frame)
	}
}

// join runs on the tick goroutine.
func (s *Server) join(client *Client) error {
	pawn := s.world.Spawn(models.ClassTag(s.cfg.Server.PawnClass), models.Vector{})
	pawn.Owner = client
	client.pawn = pawn

	if _, err := s.driver.AddConnection(client); err != nil {
		s.world.Destroy(pawn)
		return err
	}
	if err := s.driver.AddNetworkActor(pawn); err != nil {
		_ = s.driver.RemoveConnection(client.ID())
		s.world.Destroy(pawn)
		return err
	}
	s.clients[client.ID()] = client

	welcome, err := json.Marshal(WelcomeMessage{
		Type:       MessageWelcome,
		Connection: client.ID(),
		Pawn:       pawn.ID,
		TickRate:   s.cfg.Server.TickRate,
	})
	if err != nil {
		return err
	}
	client.send(welcome)
	return nil
}

// leave runs on the tick goroutine. The driver drops the connection itself
// on the next tick since the transport reports closed.
func (s *Server) leave(client *Client) {
	delete(s.clients, client.ID())
	if client.pawn != nil {
		s.driver.RemoveNetworkActor(client.pawn)
		s.world.Destroy(client.pawn)
		client.pawn = nil
	}
}

func (s *Server) commandFor(client *Client, msg ClientMessage) (func(), error) {
	switch msg.Type {
	case MessageMove:
		return func() {
			if client.pawn == nil {
				return
			}
			client.pawn.Location = models.Vector{X: msg.X, Y: msg.Y, Z: msg.Z}
			if msg.Forward != nil && !msg.Forward.IsZero() {
				client.pawn.Forward = msg.Forward.Normal()
			}
		}, nil
	case MessageLevels:
		return func() { client.setLevels(msg.Levels) }, nil
	case MessagePoke:
		return func() {
			if err := s.poke(msg.Actor); err != nil {
				client.logger.Debug("poke ignored", log.Uint64("actor", uint64(msg.Actor)), log.Error(err))
			}
		}, nil
	default:
		return nil, ErrInvalidMessage
	}
}

// poke wakes a dormant actor so every connection gets its state again.
func (s *Server) poke(id models.ActorID) error {
	actor, ok := s.world.Find(id)
	if !ok {
		return ErrActorNotFound
	}
	s.driver.FlushDormancy(actor)
	return nil
}
