package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync/atomic"
	"time"
	"weak"

	"github.com/oklog/ulid/v2"
	"github.com/shravanasati/restserver/internal/metrics"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/response"
	"github.com/shravanasati/restserver/router"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const illegalTarget = "Illegal request-target"

const (
	lingerTimeout = 500 * time.Millisecond
	lingerBytes   = 64 << 10
)

var (
	errNoResponse   = errors.New("handler produced no response")
	errShuttingDown = errors.New("server shutting down")
)

// Session drives one connection through read, dispatch and write cycles
// until the connection closes. Requests are read on the goroutine running
// Serve; dispatch and write run on a pool worker while Serve waits for the
// turn to come back, so the session is never touched by two goroutines at
// once. Only the state is read from other goroutines.
type Session struct {
	id      ulid.ULID
	conn    net.Conn
	br      *bufio.Reader
	server  weak.Pointer[Server]
	logger  *slog.Logger
	metrics *metrics.Metrics

	state atomic.Int32

	req     *request.Request
	pending response.Response

	// linger drains the peer before closing so a written response is not
	// cut short by a reset.
	linger bool

	// idleSince is when the wait for the next request began: the accept
	// time, then the end of each response.
	idleSince time.Time
	turn      chan struct{}

	onTransition func(from, to sessionState)
}

func newSession(srv *Server, conn net.Conn) *Session {
	id := srv.nextID()
	return &Session{
		id:      id,
		conn:    conn,
		br:      bufio.NewReader(conn),
		server:  weak.Make(srv),
		logger:  srv.logger.With("session", id.String(), "remote", conn.RemoteAddr().String()),
		metrics: srv.cfg.Metrics,

		idleSince: time.Now(),
		turn:      make(chan struct{}, 1),
	}
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id.String()
}

func (s *Session) current() sessionState {
	return sessionState(s.state.Load())
}

func (s *Session) transition(next sessionState) {
	prev := s.current()
	if !prev.canMove(next) {
		panic(fmt.Sprintf("invalid session transition: %s -> %s", prev, next))
	}
	s.state.Store(int32(next))
	if s.onTransition != nil {
		s.onTransition(prev, next)
	}
}

// Serve runs request/response cycles until the connection is closed.
func (s *Session) Serve() {
	s.metrics.ConnectionOpened()
	defer s.metrics.ConnectionClosed()
	defer s.close()

	s.logger.Debug("session started")
	for s.cycle() {
	}
}

// cycle handles one request and reports whether the connection stays open.
func (s *Session) cycle() bool {
	srv := s.server.Value()
	if srv == nil || srv.shuttingDown() {
		s.transition(stateClosing)
		return false
	}

	s.transition(stateReading)
	s.req, s.pending = nil, nil
	req, err := s.read(srv)
	if err != nil {
		s.readFailed(srv, err)
		return false
	}
	s.req = req

	s.transition(stateDispatching)
	if !s.handOff(srv) {
		return false
	}
	return s.current() == stateIdle
}

// handOff runs the rest of the cycle on a pool worker and waits for it to
// finish. Without a pool the cycle finishes on the calling goroutine.
func (s *Session) handOff(srv *Server) bool {
	if srv.pool == nil {
		s.respond(srv)
		return true
	}

	switch err := srv.pool.submit(s); {
	case err == nil:
	case errors.Is(err, errPoolFull):
		s.fail(Overloaded, err)
		s.Send(overloadedResponse())
		s.finish(srv, nil)
		return false
	default:
		s.transition(stateClosed)
		return false
	}

	<-s.turn
	if s.current() == stateDispatching {
		// dropped from the queue by Close
		s.transition(stateClosed)
		return false
	}
	return true
}

// respond dispatches the request read by cycle and writes the answer.
func (s *Session) respond(srv *Server) {
	s.dispatch(srv, s.req)
	s.finish(srv, s.req)
}

// finish writes the pending response. req is nil when answering without a
// usable request, which always closes the connection.
func (s *Session) finish(srv *Server, req *request.Request) {
	s.transition(stateWriting)
	keepAlive, err := s.write(srv, req)
	switch {
	case err != nil:
		s.fail(IOError, err)
		s.transition(stateClosed)
	case !keepAlive:
		s.linger = true
		s.transition(stateClosing)
	default:
		s.idleSince = time.Now()
		s.transition(stateIdle)
	}
}

// abort hands the turn back to a session that was queued but never run.
func (s *Session) abort() {
	_ = s.conn.Close()
	s.turn <- struct{}{}
}

func (s *Session) read(srv *Server) (*request.Request, error) {
	if err := s.conn.SetReadDeadline(s.idleSince.Add(srv.cfg.IdleTimeout)); err != nil {
		return nil, err
	}
	// Shutdown may have interrupted idle reads before the deadline above
	// was set.
	if srv.shuttingDown() {
		return nil, errShuttingDown
	}
	req, err := request.ReadRequest(s.br, srv.cfg.Limits)
	if err != nil {
		return nil, err
	}
	req.RemoteAddr = s.conn.RemoteAddr().String()
	return req, nil
}

func (s *Session) readFailed(srv *Server, err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Debug("peer closed the connection")
		s.transition(stateClosing)

	case errors.Is(err, errShuttingDown), errors.Is(err, os.ErrDeadlineExceeded):
		if srv.shuttingDown() {
			s.logger.Debug("idle session interrupted by shutdown")
		} else {
			s.fail(Timeout, err)
		}
		s.transition(stateClosing)

	case request.IsMalformed(err):
		s.fail(BadRequest, err)
		s.Send(rejectResponse(err))
		s.finish(srv, nil)

	default:
		s.fail(IOError, err)
		s.transition(stateClosed)
	}
}

func rejectResponse(err error) response.Response {
	code := response.StatusBadRequest
	switch {
	case errors.Is(err, request.ErrHeaderTooLarge):
		code = response.StatusRequestHeaderFieldsTooLarge
	case errors.Is(err, request.ErrBodyTooLarge):
		code = response.StatusPayloadTooLarge
	case errors.Is(err, request.ErrUnsupportedTransferEncoding):
		code = response.StatusNotImplemented
	}
	return response.NewTextResponse(response.GetStatusReason(code)).WithStatusCode(code)
}

// validTarget rejects targets that are empty, not origin-form or that try
// to climb out of the path hierarchy.
func validTarget(target string) bool {
	return target != "" && target[0] == '/' && !strings.Contains(target, "..")
}

func (s *Session) dispatch(srv *Server, req *request.Request) {
	if !validTarget(req.Target) {
		s.fail(BadRequest, fmt.Errorf("illegal target %q", req.Target))
		s.SendBadRequest(illegalTarget)
		return
	}

	segments, err := router.SplitPath(req.Target)
	if err != nil {
		s.fail(BadRequest, fmt.Errorf("illegal target %q: %w", req.Target, err))
		s.SendBadRequest(illegalTarget)
		return
	}
	if slices.Contains(segments, "..") {
		// an encoded dot-dot only shows up after decoding
		s.fail(BadRequest, fmt.Errorf("illegal target %q", req.Target))
		s.SendBadRequest(illegalTarget)
		return
	}

	h := srv.notFound
	if m, ok := srv.router.Lookup(segments); ok {
		h = m.Handler
		req.PathParams = m.Params
		req.Route = m.Template
	} else {
		s.fail(NotFound, fmt.Errorf("no route for %q", req.Path()))
	}

	s.invoke(srv, srv.chain(h), req)
}

// invoke runs the handler inside a span. Panics become the configured
// recovery response and close the connection.
func (s *Session) invoke(srv *Server, h Handler, req *request.Request) {
	name := req.Method
	if req.Route != "" {
		name += " " + req.Route
	}
	ctx, span := srv.cfg.Tracer.Start(req.Context(), name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("url.path", req.Path()),
			attribute.String("http.route", req.Route),
			attribute.String("session.id", s.id.String()),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			s.discardPending()
			s.fail(HandlerError, fmt.Errorf("panic: %v", r))
			resp := srv.cfg.Recovery(r)
			if resp == nil {
				resp = defaultRecovery(s.logger)(r)
			}
			resp.GetHeaders().Set("connection", "close")
			s.pending = resp
		}
		if s.pending == nil {
			s.fail(HandlerError, errNoResponse)
			s.SendServerError(errNoResponse.Error())
		}

		code := s.pending.GetStatusCode()
		span.SetAttributes(attribute.Int("http.response.status_code", int(code)))
		if code >= 500 {
			span.SetStatus(codes.Error, response.GetStatusReason(code))
		}
	}()

	h.ServeRequest(s, req.WithContext(ctx))
}

// write sends the pending response and reports whether the connection may
// serve another request. req is nil when answering a malformed request.
func (s *Session) write(srv *Server, req *request.Request) (bool, error) {
	resp := s.pending
	s.pending = nil
	if c, ok := resp.GetBody().(io.Closer); ok {
		defer c.Close()
	}

	if req != nil {
		if etag := resp.GetHeaders().Get("etag"); etag != "" && etag == req.Headers.Get("if-none-match") {
			resp = response.NewBaseResponse().
				WithStatusCode(response.StatusNotModified).
				WithHeader("etag", etag)
		}
	}

	h := resp.GetHeaders()
	h.Set("date", time.Now().UTC().Format(http.TimeFormat))
	if srv.cfg.Name != "" && !h.Has("server") {
		h.Set("server", srv.cfg.Name)
	}

	keepAlive := req != nil && req.KeepAlive() && !srv.shuttingDown()
	switch {
	case !keepAlive:
		h.Set("connection", "close")
	case req.HTTPVersion == "1.0" && !response.MustClose(resp):
		h.Set("connection", "keep-alive")
	}

	if req != nil && req.Method == string(request.HEAD) {
		// framing headers describe the body a GET would have received
		response.Prepare(resp)
		resp.WithBody(nil)
	}

	deadline := time.Time{}
	if srv.cfg.WriteTimeout > 0 {
		deadline = time.Now().Add(srv.cfg.WriteTimeout)
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return false, err
	}
	if err := resp.Write(s.conn); err != nil {
		return false, err
	}
	return keepAlive && !response.MustClose(resp), nil
}

func (s *Session) fail(kind ErrorKind, err error) {
	s.metrics.SessionError(string(kind))

	level := slog.LevelDebug
	switch kind {
	case HandlerError:
		level = slog.LevelError
	case IOError, Timeout:
		level = slog.LevelWarn
	}
	s.logger.Log(context.Background(), level, "session error", "kind", kind, "error", err)
}

func (s *Session) close() {
	if s.current() == stateClosing {
		if cw, ok := s.conn.(interface{ CloseWrite() error }); ok {
			if err := cw.CloseWrite(); err == nil && s.linger {
				_ = s.conn.SetReadDeadline(time.Now().Add(lingerTimeout))
				_, _ = io.Copy(io.Discard, io.LimitReader(s.conn, lingerBytes))
			}
		}
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.logger.Debug("unable to close connection", "error", err)
	}

	s.discardPending()
	s.req = nil
	if s.current() != stateClosed {
		s.transition(stateClosed)
	}
	s.logger.Debug("session closed")
}

// interruptIdle wakes a session blocked waiting for a request.
func (s *Session) interruptIdle() {
	if st := s.current(); st == stateIdle || st == stateReading {
		_ = s.conn.SetReadDeadline(time.Now())
	}
}

func (s *Session) discardPending() {
	if s.pending == nil {
		return
	}
	closeBody(s.pending)
	s.pending = nil
}

func closeBody(resp response.Response) {
	if c, ok := resp.GetBody().(io.Closer); ok {
		_ = c.Close()
	}
}

// Send queues resp as the answer to the current request. Only the first
// response of a cycle is kept.
func (s *Session) Send(resp response.Response) {
	if resp == nil {
		return
	}
	if s.pending != nil {
		s.logger.Warn("response already sent for this request, dropping",
			"kept", s.pending.GetStatusCode(), "dropped", resp.GetStatusCode())
		closeBody(resp)
		return
	}
	s.pending = resp
}

// Status returns the status of the queued response, or 0 before a send.
func (s *Session) Status() response.StatusCode {
	if s.pending == nil {
		return 0
	}
	return s.pending.GetStatusCode()
}

func (s *Session) SendResponse(body []byte, contentType string) {
	s.Send(response.NewBytesResponse(body, contentType))
}

func (s *Session) SendJSON(v any) {
	s.Send(jsonResponse(v))
}

func (s *Session) SendBadRequest(reason string) {
	s.Send(badRequestResponse(reason))
}

func (s *Session) SendNotFound(target string) {
	s.Send(notFoundResponse(target))
}

func (s *Session) SendServerError(detail string) {
	s.Send(serverErrorResponse(detail))
}

// SendFile answers with the file at path. A missing file or a directory is
// reported as not found under the request target.
func (s *Session) SendFile(path string) {
	target := path
	if s.req != nil {
		target = s.req.Target
	}
	s.Send(fileResponse(path, target))
}
