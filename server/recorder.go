package server

import (
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/response"
)

// Recorder is a [ResponseSink] that keeps the first response in memory.
// It is meant for testing handlers and middleware without a connection.
type Recorder struct {
	Response response.Response
	// Sends counts every send call, including dropped ones.
	Sends int

	req *request.Request
}

// NewRecorder returns a recorder. req, if not nil, names the target in
// not-found answers to SendFile.
func NewRecorder(req *request.Request) *Recorder {
	return &Recorder{req: req}
}

func (r *Recorder) Send(resp response.Response) {
	r.Sends++
	if r.Response != nil {
		closeBody(resp)
		return
	}
	r.Response = resp
}

func (r *Recorder) Status() response.StatusCode {
	if r.Response == nil {
		return 0
	}
	return r.Response.GetStatusCode()
}

func (r *Recorder) SendResponse(body []byte, contentType string) {
	r.Send(response.NewBytesResponse(body, contentType))
}

func (r *Recorder) SendJSON(v any) {
	r.Send(jsonResponse(v))
}

func (r *Recorder) SendBadRequest(reason string) {
	r.Send(badRequestResponse(reason))
}

func (r *Recorder) SendNotFound(target string) {
	r.Send(notFoundResponse(target))
}

func (r *Recorder) SendServerError(detail string) {
	r.Send(serverErrorResponse(detail))
}

func (r *Recorder) SendFile(path string) {
	target := path
	if r.req != nil {
		target = r.req.Target
	}
	r.Send(fileResponse(path, target))
}
