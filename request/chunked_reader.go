package request

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/shravanasati/restserver/headers"
)

type chunkedReader struct {
	reader   *bufio.Reader
	maxBytes int64
	budget   int
}

func newChunkedReader(br *bufio.Reader, maxBytes int64) *chunkedReader {
	return &chunkedReader{reader: br, maxBytes: maxBytes, budget: DefaultMaxHeaderBytes}
}

func parseHexadecimal(hex []byte) (int64, error) {
	return strconv.ParseInt(string(bytes.TrimSpace(hex)), 16, 64)
}

// decode reads chunks until the terminating zero-size chunk, then folds any
// trailer fields into trailers.
func (cr *chunkedReader) decode(trailers *headers.Headers) ([]byte, error) {
	var buf bytes.Buffer

	for {
		line, err := readLine(cr.reader, &cr.budget)
		if err != nil {
			return nil, incomplete(err)
		}

		// chunk extensions after ';' are ignored
		chunkSize, _, _ := bytes.Cut(line, []byte(";"))
		size, err := parseHexadecimal(chunkSize)
		if err != nil || size < 0 {
			return nil, ErrMalformedChunk
		}
		if size == 0 {
			break
		}
		if int64(buf.Len())+size > cr.maxBytes {
			return nil, ErrBodyTooLarge
		}

		if _, err := io.CopyN(&buf, cr.reader, size); err != nil {
			return nil, incomplete(err)
		}

		line, err = readLine(cr.reader, &cr.budget)
		if err != nil {
			return nil, incomplete(err)
		}
		if len(line) != 0 {
			return nil, ErrMalformedChunk
		}
	}

	for {
		line, err := readLine(cr.reader, &cr.budget)
		if err != nil {
			return nil, incomplete(err)
		}
		if len(line) == 0 {
			break
		}
		if err := trailers.ParseFieldLine(line); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}
