package server

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shravanasati/restserver/response"
)

func jsonResponse(v any) response.Response {
	resp, err := response.NewJSONResponse(v)
	if err != nil {
		return serverErrorResponse(err.Error())
	}
	return resp
}

func badRequestResponse(reason string) response.Response {
	return response.NewTextResponse(reason).WithStatusCode(response.StatusBadRequest)
}

func notFoundResponse(target string) response.Response {
	body := fmt.Sprintf("The resource '%s' was not found.", target)
	return response.NewTextResponse(body).WithStatusCode(response.StatusNotFound)
}

func serverErrorResponse(detail string) response.Response {
	body := fmt.Sprintf("An error occurred: '%s'", detail)
	return response.NewTextResponse(body).WithStatusCode(response.StatusInternalServerError)
}

func overloadedResponse() response.Response {
	return response.NewTextResponse(response.GetStatusReason(response.StatusServiceUnavailable)).
		WithStatusCode(response.StatusServiceUnavailable).
		WithHeader("retry-after", "1")
}

// fileResponse opens path. A missing file or a directory is reported as
// not found under target, other failures as a server error.
func fileResponse(path, target string) response.Response {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return notFoundResponse(target)
		}
		return serverErrorResponse(err.Error())
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return serverErrorResponse(err.Error())
	}
	if st.IsDir() {
		f.Close()
		return notFoundResponse(target)
	}
	return response.NewFileResponse(f)
}

// StatusOf reports the status of the response a handler sent through sink.
// A handler that sent nothing is answered with 500, so that is what it
// reports for an empty sink.
func StatusOf(sink ResponseSink) response.StatusCode {
	if r, ok := sink.(interface{ Status() response.StatusCode }); ok {
		if code := r.Status(); code != 0 {
			return code
		}
	}
	return response.StatusInternalServerError
}
