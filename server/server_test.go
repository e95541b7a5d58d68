package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shravanasati/restserver/internal/metrics"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// serveLoopback runs srv on an ephemeral loopback port.
func serveLoopback(t testing.TB, srv *Server, l net.Listener, workers int) {
	t.Helper()
	if l == nil {
		var err error
		l, err = net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
	}
	srv.started.Store(true)
	srv.serve(l, workers)
	t.Cleanup(func() { srv.Close() })
}

func get(t testing.TB, conn net.Conn, br *bufio.Reader, target string) (*http.Response, string) {
	t.Helper()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err := io.WriteString(conn, "GET "+target+" HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)

	res, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	return res, string(body)
}

func TestServerHandleValidation(t *testing.T) {
	srv := New(quietConfig(Config{}))

	err := srv.Handle("users", text("x"))
	assert.ErrorIs(t, err, router.ErrInvalidPath)

	require.NoError(t, srv.Handle("/users", text("first")))
	require.NoError(t, srv.Handle("/users", text("second")))
	assert.Equal(t, []string{"/users"}, srv.Routes())

	srv.started.Store(true)
	assert.ErrorIs(t, srv.Handle("/late", text("late")), ErrServerStarted)
}

func TestConfigDefaults(t *testing.T) {
	srv := New(Config{})
	cfg := srv.Config()

	assert.Equal(t, DefaultHost, cfg.Host)
	assert.Zero(t, cfg.Port)
	assert.Equal(t, DefaultWorkers, cfg.Workers)
	assert.Equal(t, DefaultQueueLimit, cfg.QueueLimit)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, "0.0.0.0:0", cfg.Addr())
	assert.NotNil(t, cfg.Logger)
	assert.NotNil(t, cfg.Tracer)
	assert.NotNil(t, cfg.Recovery)
	assert.Nil(t, srv.Addr())
}

func TestServerOverTCP(t *testing.T) {
	srv := New(quietConfig(Config{}))
	require.NoError(t, srv.HandleFunc("/users/$", func(sink ResponseSink, req *request.Request) {
		sink.SendResponse([]byte("user "+req.PathParams[0]), "text/plain")
	}))
	serveLoopback(t, srv, nil, 2)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)

	for i := range 3 {
		res, body := get(t, conn, br, "/users/"+strconv.Itoa(i))
		assert.Equal(t, http.StatusOK, res.StatusCode)
		assert.Equal(t, "user "+strconv.Itoa(i), body)
		assert.False(t, res.Close)
	}

	res, _ := get(t, conn, br, "/nowhere")
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestServerServesMoreConnectionsThanWorkers(t *testing.T) {
	srv := New(quietConfig(Config{}))
	require.NoError(t, srv.Handle("/", text("root")))
	serveLoopback(t, srv, nil, 2)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := net.Dial("tcp", srv.Addr().String())
			if !assert.NoError(t, err) {
				return
			}
			defer conn.Close()

			_ = conn.SetDeadline(time.Now().Add(5 * time.Second))
			_, err = io.WriteString(conn, "GET / HTTP/1.1\r\nHost: x\r\nConnection: close\r\n\r\n")
			if !assert.NoError(t, err) {
				return
			}
			res, err := http.ReadResponse(bufio.NewReader(conn), nil)
			if !assert.NoError(t, err) {
				return
			}
			body, _ := io.ReadAll(res.Body)
			res.Body.Close()
			assert.Equal(t, "root", string(body))
		}()
	}
	wg.Wait()
}

func TestStartListening(t *testing.T) {
	// reserve a port, then let the server bind it
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	srv := New(quietConfig(Config{Host: "127.0.0.1", Port: port}))
	require.NoError(t, srv.Handle("/", text("root")))
	require.NoError(t, srv.StartListening(1))
	defer srv.Close()

	assert.ErrorIs(t, srv.StartListening(1), ErrServerStarted)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, body := get(t, conn, bufio.NewReader(conn), "/")
	assert.Equal(t, "root", body)

	// a second server on the same port must fail to set up
	other := New(quietConfig(Config{Host: "127.0.0.1", Port: port}))
	err = other.StartListening(1)
	require.Error(t, err)
	assert.False(t, other.started.Load())
}

func TestStartListeningOnPortZero(t *testing.T) {
	srv := New(quietConfig(Config{Host: "127.0.0.1"}))
	require.NoError(t, srv.Handle("/", text("root")))
	require.NoError(t, srv.StartListening(1))
	defer srv.Close()

	port := srv.Addr().(*net.TCPAddr).Port
	assert.NotZero(t, port)
	assert.Zero(t, srv.Config().Port)

	conn, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(port)))
	require.NoError(t, err)
	defer conn.Close()
	_, body := get(t, conn, bufio.NewReader(conn), "/")
	assert.Equal(t, "root", body)
}

func TestIdleKeepAliveDoesNotHoldWorker(t *testing.T) {
	srv := New(quietConfig(Config{}))
	require.NoError(t, srv.Handle("/", text("root")))
	serveLoopback(t, srv, nil, 1)

	idle, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer idle.Close()
	_, body := get(t, idle, bufio.NewReader(idle), "/")
	assert.Equal(t, "root", body)

	// the first connection now waits for its next request; the only worker
	// must still be free for everyone else
	for range 3 {
		conn, err := net.Dial("tcp", srv.Addr().String())
		require.NoError(t, err)
		_, body := get(t, conn, bufio.NewReader(conn), "/")
		assert.Equal(t, "root", body)
		conn.Close()
	}

	_, body = get(t, idle, bufio.NewReader(idle), "/")
	assert.Equal(t, "root", body)
}

func TestServerDropsSilentConnection(t *testing.T) {
	srv := New(quietConfig(Config{IdleTimeout: 100 * time.Millisecond}))
	require.NoError(t, srv.Handle("/", text("root")))
	serveLoopback(t, srv, nil, 1)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	// a client that never sends anything is dropped after the idle timeout
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	start := time.Now()
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
	assert.Less(t, time.Since(start), 5*time.Second)
}

type flakyListener struct {
	net.Listener
	failures atomic.Int32
}

func (l *flakyListener) Accept() (net.Conn, error) {
	if l.failures.Add(-1) >= 0 {
		return nil, errors.New("accept: too many open files")
	}
	return l.Listener.Accept()
}

func TestAcceptLoopSurvivesErrors(t *testing.T) {
	m := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	srv := New(quietConfig(Config{Metrics: m}))
	require.NoError(t, srv.Handle("/", text("root")))

	inner, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	l := &flakyListener{Listener: inner}
	l.failures.Store(3)
	serveLoopback(t, srv, l, 1)

	conn, err := net.Dial("tcp", inner.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, body := get(t, conn, bufio.NewReader(conn), "/")
	assert.Equal(t, "root", body)

	var buf strings.Builder
	require.NoError(t, m.WriteText(&buf))
	assert.Contains(t, buf.String(), "restserver_accept_errors_total 3")
	assert.Contains(t, buf.String(), "restserver_connections_total 1")
}

func TestAcceptRateLimit(t *testing.T) {
	srv := New(quietConfig(Config{AcceptRate: 1000, AcceptBurst: 2}))
	require.NoError(t, srv.Handle("/", text("root")))
	serveLoopback(t, srv, nil, 1)
	require.NotNil(t, srv.limiter)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	_, body := get(t, conn, bufio.NewReader(conn), "/")
	assert.Equal(t, "root", body)
}

func TestServerShutdown(t *testing.T) {
	srv := New(quietConfig(Config{}))
	require.NoError(t, srv.Handle("/", text("root")))
	serveLoopback(t, srv, nil, 2)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	br := bufio.NewReader(conn)
	_, body := get(t, conn, br, "/")
	assert.Equal(t, "root", body)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))

	// the idle keep-alive connection was closed
	_, err = br.ReadByte()
	assert.Error(t, err)

	_, err = net.DialTimeout("tcp", srv.Addr().String(), time.Second)
	assert.Error(t, err)

	assert.ErrorIs(t, srv.Close(), ErrServerClosed)
	assert.ErrorIs(t, srv.StartListening(1), ErrServerClosed)
}

func TestServerShutdownFinishesInFlightRequest(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})

	srv := New(quietConfig(Config{}))
	require.NoError(t, srv.HandleFunc("/slow", func(sink ResponseSink, req *request.Request) {
		close(entered)
		<-release
		sink.SendResponse([]byte("done"), "text/plain")
	}))
	serveLoopback(t, srv, nil, 1)

	conn, err := net.Dial("tcp", srv.Addr().String())
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = io.WriteString(conn, "GET /slow HTTP/1.1\r\nHost: x\r\n\r\n")
	require.NoError(t, err)

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never ran")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stopped := make(chan error, 1)
	go func() { stopped <- srv.Shutdown(ctx) }()
	require.Eventually(t, srv.draining.Load, 5*time.Second, time.Millisecond)
	close(release)

	res, err := http.ReadResponse(bufio.NewReader(conn), nil)
	require.NoError(t, err)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, "done", string(body))
	assert.True(t, res.Close)

	assert.NoError(t, <-stopped)
}

func TestServerSessionMetrics(t *testing.T) {
	m := metrics.New(metrics.WithRegistry(prometheus.NewRegistry()))
	srv := New(quietConfig(Config{Metrics: m}))
	require.NoError(t, srv.Handle("/", text("root")))
	ps := startSession(t, srv)

	ps.roundTrip(t, "GET", "GET /missing HTTP/1.1\r\nHost: x\r\n\r\n")
	ps.roundTrip(t, "GET", "GET /../etc HTTP/1.1\r\nHost: x\r\n\r\n")
	ps.client.Close()
	ps.finish(t)

	var buf strings.Builder
	require.NoError(t, m.WriteText(&buf))
	out := buf.String()
	assert.Contains(t, out, `restserver_session_errors_total{kind="not_found"} 1`)
	assert.Contains(t, out, `restserver_session_errors_total{kind="bad_request"} 1`)
	assert.Contains(t, out, "restserver_open_connections 0")
}

func TestPoolStealsWork(t *testing.T) {
	release := make(chan struct{})
	ran := make(chan *Session, 3)

	blocker := &Session{}
	p := newPool(2, 0, func(sess *Session) {
		if sess == blocker {
			<-release
		}
		ran <- sess
	})

	// queue 0 gets the blocker and a third session, queue 1 the second
	second, third := &Session{}, &Session{}
	require.NoError(t, p.submit(blocker))
	require.NoError(t, p.submit(second))
	require.NoError(t, p.submit(third))
	p.start()

	got := map[*Session]bool{}
	for range 2 {
		select {
		case sess := <-ran:
			got[sess] = true
		case <-time.After(5 * time.Second):
			t.Fatal("idle worker did not steal queued session")
		}
	}
	assert.True(t, got[second])
	assert.True(t, got[third])

	close(release)
	assert.Equal(t, blocker, <-ran)
	assert.Equal(t, 0, p.queued())

	assert.Empty(t, p.close())
	p.wait()
	assert.ErrorIs(t, p.submit(&Session{}), errPoolClosed)
}

func TestPoolCloseReturnsQueued(t *testing.T) {
	p := newPool(1, 0, func(*Session) {})
	a, b := &Session{}, &Session{}
	require.NoError(t, p.submit(a))
	require.NoError(t, p.submit(b))

	// workers never started, so both are still queued
	assert.Equal(t, 2, p.queued())
	assert.ElementsMatch(t, []*Session{a, b}, p.close())
	assert.Nil(t, p.close())
	p.wait()
}

func TestPoolQueueLimit(t *testing.T) {
	p := newPool(2, 2, func(*Session) {})
	require.NoError(t, p.submit(&Session{}))
	require.NoError(t, p.submit(&Session{}))
	assert.ErrorIs(t, p.submit(&Session{}), errPoolFull)
	assert.Equal(t, 2, p.queued())

	// taking one frees a slot
	_, ok := p.take(0)
	require.True(t, ok)
	assert.NoError(t, p.submit(&Session{}))
	assert.Len(t, p.close(), 2)
}

func TestNextBackoff(t *testing.T) {
	d := nextBackoff(0)
	assert.Equal(t, 5*time.Millisecond, d)
	for range 20 {
		d = nextBackoff(d)
	}
	assert.Equal(t, maxAcceptBackoff, d)
}
