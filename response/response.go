package response

import (
	"fmt"
	"io"
	"strconv"

	"github.com/shravanasati/restserver/headers"
)

// Response is an HTTP response under construction. The With* methods mutate
// the receiver and return it for chaining.
type Response interface {
	GetStatusCode() StatusCode
	GetHeaders() *headers.Headers
	GetBody() io.Reader

	WithStatusCode(code StatusCode) Response
	WithHeader(key, value string) Response
	WithHeaders(headers map[string]string) Response
	WithBody(body io.Reader) Response

	Write(w io.Writer) error
}

// part is a section of a serialized response, in wire order.
type part uint8

const (
	partStatusLine part = iota
	partFields
	partBody
	partDone
)

var partNames = [...]string{"status line", "fields", "body", "end of response"}

func (p part) String() string {
	return partNames[p]
}

// ResponseWriter serializes a response in order: status line, fields, body.
// Each part is written exactly once.
type ResponseWriter struct {
	conn io.Writer
	next part
}

func NewResponseWriter(conn io.Writer) *ResponseWriter {
	return &ResponseWriter{conn: conn}
}

// expect checks that p is the part due on the wire.
func (rw *ResponseWriter) expect(p part) error {
	if rw.conn == nil {
		return errNilWriter
	}
	if rw.next != p {
		return fmt.Errorf("%w: cannot write %s, next is %s", ErrInvalidWriterState, p, rw.next)
	}
	return nil
}

func (rw *ResponseWriter) WriteStatusLine(statusCode StatusCode) error {
	if err := rw.expect(partStatusLine); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(rw.conn, "HTTP/1.1 %d %s\r\n", statusCode, GetStatusReason(statusCode)); err != nil {
		return err
	}
	rw.next = partFields
	return nil
}

func (rw *ResponseWriter) WriteHeaders(h *headers.Headers) error {
	if err := rw.expect(partFields); err != nil {
		return err
	}
	for k, v := range h.All() {
		if _, err := fmt.Fprintf(rw.conn, "%s: %s\r\n", k, v); err != nil {
			return err
		}
	}
	if _, err := io.WriteString(rw.conn, "\r\n"); err != nil {
		return err
	}
	rw.next = partBody
	return nil
}

// WriteBody copies b to the connection. A nil b ends a response without a
// body.
func (rw *ResponseWriter) WriteBody(b io.Reader) error {
	if err := rw.expect(partBody); err != nil {
		return err
	}
	if b != nil {
		if _, err := io.Copy(rw.conn, b); err != nil {
			return err
		}
	}
	rw.next = partDone
	return nil
}

func bodyForbidden(code StatusCode) bool {
	return (code >= 100 && code < 200) || code == StatusNoContent || code == StatusNotModified
}

// Prepare makes sure the peer can find the end of the body. A response
// with no length and no chunked coding gets a computed content-length when
// the body size is known, otherwise it is marked connection: close.
func Prepare(r Response) {
	h := r.GetHeaders()
	if h.Has("content-length") || h.HasToken("transfer-encoding", "chunked") {
		return
	}
	if bodyForbidden(r.GetStatusCode()) {
		r.WithBody(nil)
		return
	}

	switch body := r.GetBody().(type) {
	case nil:
		h.Set("content-length", "0")
	case interface{ Len() int }:
		h.Set("content-length", strconv.Itoa(body.Len()))
	default:
		h.Set("connection", "close")
	}
}

// MustClose reports whether writing r obliges the server to close the
// connection afterwards.
func MustClose(r Response) bool {
	return r.GetHeaders().HasToken("connection", "close")
}
