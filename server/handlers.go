package server

import (
	"github.com/shravanasati/restserver/request"
	"github.com/shravanasati/restserver/response"
)

// ResponseSink is how a handler answers a request. Exactly one send call is
// expected per request; later calls in the same cycle are dropped.
type ResponseSink interface {
	Send(resp response.Response)
	SendResponse(body []byte, contentType string)
	SendJSON(v any)
	SendBadRequest(reason string)
	SendNotFound(target string)
	SendServerError(detail string)
	SendFile(path string)
}

// Handler answers one request through the sink.
type Handler interface {
	ServeRequest(sink ResponseSink, req *request.Request)
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(sink ResponseSink, req *request.Request)

func (f HandlerFunc) ServeRequest(sink ResponseSink, req *request.Request) {
	f(sink, req)
}

// Middleware wraps a handler.
type Middleware func(Handler) Handler

var defaultNotFoundHandler = HandlerFunc(func(sink ResponseSink, req *request.Request) {
	sink.SendNotFound(req.Target)
})
