package response

import (
	"bytes"
	"encoding/json"
)

// JSONResponse is a response that sends JSON.
type JSONResponse struct {
	Response
}

// NewJSONResponse marshals data and wraps it in a response.
func NewJSONResponse(data any) (Response, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	br := NewBaseResponse().
		WithHeader("content-type", "application/json").
		WithBody(bytes.NewReader(body))

	return &JSONResponse{
		Response: br,
	}, nil
}

// NewBytesResponse sends body verbatim with the given content type.
func NewBytesResponse(body []byte, contentType string) Response {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return NewBaseResponse().
		WithHeader("content-type", contentType).
		WithBody(bytes.NewReader(body))
}
