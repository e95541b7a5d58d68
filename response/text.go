package response

import "strings"

// TextResponse is a response whose body is a string of plain text. Its
// length is computed when the response is written.
type TextResponse struct {
	Response
}

// HTMLResponse is a response whose body is an HTML document.
type HTMLResponse struct {
	Response
}

// NewTextResponse answers with body as UTF-8 plain text.
func NewTextResponse(body string) Response {
	return &TextResponse{Response: utf8Body("text/plain", body)}
}

// NewHTMLResponse answers with body as a UTF-8 HTML document.
func NewHTMLResponse(body string) Response {
	return &HTMLResponse{Response: utf8Body("text/html", body)}
}

func utf8Body(mediaType, body string) Response {
	return NewBaseResponse().
		WithHeader("content-type", mediaType+"; charset=utf-8").
		WithBody(strings.NewReader(body))
}
