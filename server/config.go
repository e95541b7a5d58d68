package server

import (
	"log/slog"
	"net"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/shravanasati/restserver/internal/metrics"
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/response"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHost        = "0.0.0.0"
	DefaultPort        = 8080
	DefaultWorkers     = 32
	DefaultQueueLimit  = 1024
	DefaultIdleTimeout = 30 * time.Second
	DefaultName        = "restserver"
)

type Config struct {
	// Host and Port form the listen address. Port 0 lets the system pick
	// a free port; see [Server.Addr].
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// Workers is the number of goroutines that run handlers and write
	// responses, used when StartListening is given a non-positive count.
	Workers int `koanf:"workers"`

	// QueueLimit bounds the requests waiting for a worker. A request read
	// while the queue is full is answered with 503 and the connection closed.
	QueueLimit int `koanf:"queue_limit"`

	// IdleTimeout bounds the wait for each request. The wait for the first
	// request starts when the connection is accepted.
	IdleTimeout time.Duration `koanf:"idle_timeout"`

	// WriteTimeout bounds the write of each response. Zero means no limit.
	WriteTimeout time.Duration `koanf:"write_timeout"`

	// AcceptRate limits accepted connections per second. Zero means no limit.
	AcceptRate  float64 `koanf:"accept_rate"`
	AcceptBurst int     `koanf:"accept_burst"`

	// Limits bounds buffered request sizes.
	Limits request.Limits `koanf:"limits"`

	// Name is sent in the Server header. Empty disables the header.
	Name string `koanf:"name"`

	Logger  *slog.Logger     `koanf:"-"`
	Metrics *metrics.Metrics `koanf:"-"`
	Tracer  trace.Tracer     `koanf:"-"`

	// Recovery turns the value of a handler panic into the response written
	// to the connection. The connection is closed afterwards.
	Recovery func(any) response.Response `koanf:"-"`
}

// Addr returns host:port.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c Config) withDefaults() Config {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.QueueLimit <= 0 {
		c.QueueLimit = DefaultQueueLimit
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.AcceptRate > 0 && c.AcceptBurst <= 0 {
		c.AcceptBurst = 1
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer("github.com/shravanasati/restserver/server")
	}
	if c.Recovery == nil {
		c.Recovery = defaultRecovery(c.Logger)
	}
	return c
}

func defaultRecovery(logger *slog.Logger) func(any) response.Response {
	return func(r any) response.Response {
		logger.Error("recovered from panic", "panic", r, "stack", string(debug.Stack()))
		return response.NewTextResponse(response.GetStatusReason(response.StatusInternalServerError)).
			WithStatusCode(response.StatusInternalServerError)
	}
}
