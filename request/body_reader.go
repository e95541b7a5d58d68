package request

import (
	"bufio"
	"io"
)

type bodyReader struct {
	reader        io.Reader // io.LimitReader over the connection
	contentLength int64
}

func newBodyReader(br *bufio.Reader, contentLength int64) *bodyReader {
	return &bodyReader{reader: io.LimitReader(br, contentLength), contentLength: contentLength}
}

// readAll reads exactly contentLength bytes. A short read means the peer
// went away mid-body.
func (b *bodyReader) readAll() ([]byte, error) {
	if b.contentLength == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, b.contentLength)
	if _, err := io.ReadFull(b.reader, buf); err != nil {
		return nil, incomplete(err)
	}
	return buf, nil
}
