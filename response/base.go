package response

import (
	"bufio"
	"io"

	"github.com/shravanasati/restserver/headers"
)

// BaseResponse is the concrete [Response] every helper builds on.
type BaseResponse struct {
	StatusCode StatusCode
	Headers    *headers.Headers
	Body       io.Reader
}

func NewBaseResponse() Response {
	return &BaseResponse{
		Headers:    headers.NewHeaders(),
		StatusCode: StatusOK,
	}
}

func (r *BaseResponse) GetStatusCode() StatusCode {
	return r.StatusCode
}

func (r *BaseResponse) GetHeaders() *headers.Headers {
	return r.Headers
}

func (r *BaseResponse) GetBody() io.Reader {
	return r.Body
}

func (r *BaseResponse) WithStatusCode(code StatusCode) Response {
	r.StatusCode = code
	return r
}

func (r *BaseResponse) WithHeader(key, value string) Response {
	r.Headers.Add(key, value)
	return r
}

func (r *BaseResponse) WithHeaders(headers map[string]string) Response {
	for key, value := range headers {
		r.Headers.Add(key, value)
	}
	return r
}

func (r *BaseResponse) WithBody(body io.Reader) Response {
	r.Body = body
	return r
}

// Write frames the response with [Prepare] and writes it to w through a
// single buffered flush.
func (r *BaseResponse) Write(w io.Writer) error {
	if w == nil {
		return errNilWriter
	}
	Prepare(r)

	bw := bufio.NewWriter(w)
	rw := NewResponseWriter(bw)
	if err := rw.WriteStatusLine(r.StatusCode); err != nil {
		return err
	}
	if err := rw.WriteHeaders(r.Headers); err != nil {
		return err
	}
	if err := rw.WriteBody(r.Body); err != nil {
		return err
	}
	return bw.Flush()
}
