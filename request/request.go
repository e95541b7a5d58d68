package request

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/shravanasati/restserver/headers"
)

type MethodType string

const (
	GET     MethodType = "GET"
	HEAD    MethodType = "HEAD"
	POST    MethodType = "POST"
	PUT     MethodType = "PUT"
	PATCH   MethodType = "PATCH"
	DELETE  MethodType = "DELETE"
	TRACE   MethodType = "TRACE"
	OPTIONS MethodType = "OPTIONS"
)

// Default limits applied when a zero [Limits] is passed to [ReadRequest].
const (
	DefaultMaxHeaderBytes = 64 << 10
	DefaultMaxBodyBytes   = 10 << 20
)

// Limits bounds how much of a request is buffered in memory.
type Limits struct {
	MaxHeaderBytes int   `koanf:"max_header_bytes"`
	MaxBodyBytes   int64 `koanf:"max_body_bytes"`
}

func (l Limits) withDefaults() Limits {
	if l.MaxHeaderBytes <= 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxBodyBytes <= 0 {
		l.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return l
}

type RequestLine struct {
	Method      string
	Target      string
	HTTPVersion string
}

// Request is one fully buffered HTTP/1.x request.
type Request struct {
	RequestLine
	Headers headers.Headers
	Body    []byte

	// PathParams holds, in order, the concrete segments matched by
	// placeholder segments of the route template.
	PathParams []string
	// Route is the template of the matched route, empty when nothing matched.
	Route string

	RemoteAddr string

	ctx context.Context
}

var requestLineRegex = regexp.MustCompile(`^(GET|POST|PUT|PATCH|OPTIONS|TRACE|DELETE|HEAD) ([^\s]*) HTTP/(1\.[01])$`)

func parseRequestLine(reqLine []byte) (*RequestLine, error) {
	matches := requestLineRegex.FindSubmatch(reqLine)
	if len(matches) != 4 {
		return nil, ErrIncorrectRequestLine
	}

	return &RequestLine{
		Method:      string(matches[1]),
		Target:      string(matches[2]),
		HTTPVersion: string(matches[3]),
	}, nil
}

// ReadRequest reads exactly one request from br, leaving any pipelined bytes
// buffered for the next call. It returns [io.EOF] untouched when the peer
// closed the connection before sending anything.
func ReadRequest(br *bufio.Reader, limits Limits) (*Request, error) {
	limits = limits.withDefaults()
	budget := limits.MaxHeaderBytes

	var line []byte
	var err error
	for {
		line, err = readLine(br, &budget)
		if err != nil {
			if errors.Is(err, io.EOF) && budget == limits.MaxHeaderBytes {
				return nil, io.EOF
			}
			return nil, incomplete(err)
		}
		// a client may send stray CRLFs between keep-alive requests
		if len(line) != 0 {
			break
		}
	}

	requestLine, err := parseRequestLine(line)
	if err != nil {
		return nil, err
	}

	req := &Request{RequestLine: *requestLine, Headers: *headers.NewHeaders()}

	for {
		line, err = readLine(br, &budget)
		if err != nil {
			return nil, incomplete(err)
		}
		if len(line) == 0 {
			// double CRLF, field section is over
			break
		}
		if err := req.Headers.ParseFieldLine(line); err != nil {
			return nil, err
		}
	}

	if req.HTTPVersion == "1.1" {
		host := req.Headers.Get("host")
		if host == "" || strings.Contains(host, ",") {
			return nil, ErrMissingHost
		}
	}

	body, err := readBody(br, req, limits.MaxBodyBytes)
	if err != nil {
		return nil, err
	}
	req.Body = body

	return req, nil
}

func incomplete(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrIncompleteRequest
	}
	return err
}

func readBody(br *bufio.Reader, req *Request, maxBytes int64) ([]byte, error) {
	te := req.Headers.Get("transfer-encoding")
	cl := req.Headers.Get("content-length")

	if te != "" {
		if cl != "" {
			// https://datatracker.ietf.org/doc/html/rfc9112#section-6.1-15
			return nil, ErrConflictingLength
		}
		codings := strings.Split(te, ",")
		if !strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") || len(codings) > 1 {
			// https://datatracker.ietf.org/doc/html/rfc9112#section-6.3-2.4.3
			return nil, ErrUnsupportedTransferEncoding
		}
		return newChunkedReader(br, maxBytes).decode(&req.Headers)
	}

	if cl == "" {
		return nil, nil
	}

	n, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil || n < 0 {
		return nil, ErrInvalidContentLength
	}
	if n > maxBytes {
		return nil, ErrBodyTooLarge
	}
	return newBodyReader(br, n).readAll()
}

// Path returns the target without its query string.
func (r *Request) Path() string {
	path, _, _ := strings.Cut(r.Target, "?")
	return path
}

// RawQuery returns the part of the target after the first '?'.
func (r *Request) RawQuery() string {
	_, query, _ := strings.Cut(r.Target, "?")
	return query
}

// Query parses the query string. Malformed pairs are skipped.
func (r *Request) Query() url.Values {
	values, _ := url.ParseQuery(r.RawQuery())
	return values
}

// KeepAlive reports whether the client allows the connection to be reused
// after this request.
func (r *Request) KeepAlive() bool {
	if r.Headers.HasToken("connection", "close") {
		return false
	}
	if r.HTTPVersion == "1.0" {
		return r.Headers.HasToken("connection", "keep-alive")
	}
	return true
}

// Context returns the request context, never nil.
func (r *Request) Context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// WithContext returns a shallow copy of r carrying ctx.
func (r *Request) WithContext(ctx context.Context) *Request {
	r2 := *r
	r2.ctx = ctx
	return &r2
}
