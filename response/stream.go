package response

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/shravanasati/restserver/headers"
)

// TrailerSetter is a function that sets a trailer header.
type TrailerSetter func(key, value string)

// StreamFunc produces a response body incrementally.
type StreamFunc func(w io.Writer, setTrailer TrailerSetter) error

// StreamResponse is a response whose body is produced by a [StreamFunc] and
// sent with chunked transfer coding.
type StreamResponse struct {
	Response
	Stream   StreamFunc
	Trailers *headers.Headers
}

// NewStreamResponse creates a stream response. trailers names the trailer
// fields the stream may set; they are announced in the Trailer header.
func NewStreamResponse(sf StreamFunc, trailers []string) *StreamResponse {
	sr := &StreamResponse{
		Response: NewBaseResponse().
			WithHeader("transfer-encoding", "chunked"),
		Stream:   sf,
		Trailers: headers.NewHeaders(),
	}

	if len(trailers) > 0 {
		sr.WithHeader("Trailer", strings.Join(trailers, ", "))
	}

	sr.WithBody(&chunkedReader{
		r:        sr.reader(),
		trailers: sr.Trailers,
	})

	return sr
}

func (sr *StreamResponse) reader() io.Reader {
	pr, pw := io.Pipe()

	go func() {
		setTrailer := func(key, value string) {
			sr.Trailers.Add(key, value)
		}
		// a stream error reaches the reader and aborts the write
		pw.CloseWithError(sr.Stream(pw, setTrailer))
	}()

	return pr
}

// chunkedReader encodes whatever r yields as HTTP/1.1 chunks.
type chunkedReader struct {
	r        io.Reader
	buf      bytes.Buffer
	eof      bool
	trailers *headers.Headers
}

func (cr *chunkedReader) Read(p []byte) (int, error) {
	if cr.buf.Len() > 0 {
		return cr.buf.Read(p)
	}
	if cr.eof {
		return 0, io.EOF
	}

	raw := make([]byte, 4096)
	n, err := cr.r.Read(raw)
	if n > 0 {
		// size CRLF data CRLF
		fmt.Fprintf(&cr.buf, "%x\r\n", n)
		cr.buf.Write(raw[:n])
		cr.buf.WriteString("\r\n")
		return cr.buf.Read(p)
	}

	if err == io.EOF {
		cr.buf.WriteString("0\r\n")
		if cr.trailers != nil {
			for key, value := range cr.trailers.All() {
				fmt.Fprintf(&cr.buf, "%s: %s\r\n", key, value)
			}
		}
		cr.buf.WriteString("\r\n")
		cr.eof = true
		return cr.buf.Read(p)
	}

	return 0, err
}

// Close closes the wrapped source when it is closable.
func (cr *chunkedReader) Close() error {
	if c, ok := cr.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
