package server

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/router"
	"golang.org/x/time/rate"
)

const maxAcceptBackoff = time.Second

// Server owns the route table, the listener and the session workers.
// Every connection reads its requests on its own goroutine; handlers run
// and responses are written on the worker pool.
//
// Routes and middleware are configured before StartListening. After that
// the route table is read by every worker without locking and Handle
// refuses further registrations.
type Server struct {
	cfg    Config
	logger *slog.Logger

	router      *router.Router[Handler]
	notFound    Handler
	middlewares []Middleware

	started  atomic.Bool
	draining atomic.Bool
	closed   atomic.Bool

	listener   net.Listener
	pool       *pool
	limiter    *rate.Limiter
	ctx        context.Context
	cancel     context.CancelFunc
	acceptDone chan struct{}

	entropyMu sync.Mutex
	entropy   io.Reader

	mu       sync.Mutex
	sessions map[*Session]struct{}
	conns    sync.WaitGroup
}

// New creates a server. Zero fields of cfg take their defaults.
func New(cfg Config) *Server {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		logger:     cfg.Logger,
		router:     router.New[Handler](),
		notFound:   defaultNotFoundHandler,
		ctx:        ctx,
		cancel:     cancel,
		acceptDone: make(chan struct{}),
		entropy:    ulid.Monotonic(rand.Reader, 0),
		sessions:   make(map[*Session]struct{}),
	}
}

// Config returns the effective configuration.
func (s *Server) Config() Config {
	return s.cfg
}

// Handle registers h for template. Registering a template twice keeps the
// later handler.
func (s *Server) Handle(template string, h Handler) error {
	if s.started.Load() {
		return ErrServerStarted
	}
	replaced, err := s.router.Register(template, h)
	if err != nil {
		return fmt.Errorf("register %q: %w", template, err)
	}
	if replaced {
		s.logger.Warn("route registered twice, keeping the last handler", "route", template)
	}
	return nil
}

// HandleFunc registers a function as the handler for template.
func (s *Server) HandleFunc(template string, f func(ResponseSink, *request.Request)) error {
	return s.Handle(template, HandlerFunc(f))
}

// Use adds middleware. The first one added is the outermost.
func (s *Server) Use(m ...Middleware) {
	s.middlewares = append(s.middlewares, m...)
}

// NotFound sets the handler for targets without a route.
func (s *Server) NotFound(h Handler) {
	s.notFound = h
}

// Routes lists the registered templates.
func (s *Server) Routes() []string {
	return s.router.Routes()
}

func (s *Server) chain(h Handler) Handler {
	for i := len(s.middlewares) - 1; i >= 0; i-- {
		h = s.middlewares[i](h)
	}
	return h
}

// StartListening binds the configured address and starts accepting in the
// background. workerCount handlers run at a time; a non-positive count uses
// Config.Workers. Listener setup errors are returned as is.
func (s *Server) StartListening(workerCount int) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	if !s.started.CompareAndSwap(false, true) {
		return ErrServerStarted
	}

	lc := net.ListenConfig{Control: reuseAddress}
	l, err := lc.Listen(s.ctx, "tcp", s.cfg.Addr())
	if err != nil {
		s.started.Store(false)
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr(), err)
	}

	s.serve(l, workerCount)
	return nil
}

func (s *Server) serve(l net.Listener, workerCount int) {
	if workerCount <= 0 {
		workerCount = s.cfg.Workers
	}
	if s.cfg.AcceptRate > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(s.cfg.AcceptRate), s.cfg.AcceptBurst)
	}

	s.listener = l
	s.pool = newPool(workerCount, s.cfg.QueueLimit, s.runTurn)
	s.pool.start()

	s.logger.Info("listening", "addr", l.Addr().String(), "workers", workerCount, "routes", len(s.router.Routes()))
	go s.acceptLoop()
}

// Addr returns the listener address, or nil before StartListening. With
// Config.Port 0 it carries the port the system picked.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)

	var backoff time.Duration
	for {
		if s.limiter != nil {
			if err := s.limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if s.shuttingDown() || errors.Is(err, net.ErrClosed) {
				return
			}

			backoff = nextBackoff(backoff)
			s.cfg.Metrics.AcceptError()
			s.logger.Error("unable to accept connection", "error", err, "retry_in", backoff)
			select {
			case <-time.After(backoff):
			case <-s.ctx.Done():
				return
			}
			continue
		}
		backoff = 0

		s.conns.Add(1)
		go s.runSession(newSession(s, conn))
	}
}

func nextBackoff(d time.Duration) time.Duration {
	if d == 0 {
		return 5 * time.Millisecond
	}
	return min(2*d, maxAcceptBackoff)
}

func (s *Server) runSession(sess *Session) {
	defer s.conns.Done()

	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.sessions, sess)
		s.mu.Unlock()
	}()

	sess.Serve()
}

// runTurn is the pool's job: the dispatch and write half of a cycle.
func (s *Server) runTurn(sess *Session) {
	sess.respond(s)
	sess.turn <- struct{}{}
}

func (s *Server) nextID() ulid.ULID {
	s.entropyMu.Lock()
	defer s.entropyMu.Unlock()

	id, err := ulid.New(ulid.Timestamp(time.Now()), s.entropy)
	if err != nil {
		return ulid.Make()
	}
	return id
}

func (s *Server) shuttingDown() bool {
	return s.draining.Load() || s.closed.Load()
}

// Close stops the server immediately, dropping every open connection.
func (s *Server) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return ErrServerClosed
	}
	s.cancel()

	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if s.pool != nil {
		for _, sess := range s.pool.close() {
			sess.abort()
		}
	}

	s.mu.Lock()
	for sess := range s.sessions {
		sess.conn.Close()
	}
	s.mu.Unlock()
	return err
}

// Shutdown stops accepting, lets in-flight and queued requests finish and
// closes idle connections. If ctx ends first the server is closed forcibly and the
// context error is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closed.Load() {
		return ErrServerClosed
	}
	s.draining.Store(true)
	s.cancel()

	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	if s.pool == nil {
		s.closed.Store(true)
		return err
	}

	s.mu.Lock()
	for sess := range s.sessions {
		sess.interruptIdle()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		<-s.acceptDone
		// workers stay up until every connection has had its last answer
		s.conns.Wait()
		s.pool.close()
		s.pool.wait()
		close(done)
	}()

	select {
	case <-done:
		s.closed.Store(true)
		s.logger.Info("server stopped")
		return err
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}
}
