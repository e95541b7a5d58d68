package response

import (
	"io"
	"io/fs"
	"net/http"
	"strconv"
)

// NamedReadSeeker is the subset of [os.File] a file response needs.
// Stat gives the length and validators, Name and Read/Seek the content type.
type NamedReadSeeker interface {
	io.ReadSeeker
	io.Closer
	Stat() (fs.FileInfo, error)
	Name() string
}

// NewFileResponse streams f. When its size is unknown the body is sent with
// chunked coding instead of a content length. The caller closes f after the
// response has been written.
func NewFileResponse(f NamedReadSeeker) Response {
	br := NewBaseResponse().WithBody(f)

	st, err := f.Stat()
	if err != nil {
		br.WithHeader("transfer-encoding", "chunked").
			WithBody(&chunkedReader{r: f})
		return br
	}

	return br.
		WithHeader("content-length", strconv.FormatInt(st.Size(), 10)).
		WithHeader("content-type", DetectContentType(f.Name(), f)).
		WithHeader("etag", etagFor(f.Name(), st)).
		WithHeader("last-modified", st.ModTime().UTC().Format(http.TimeFormat))
}
