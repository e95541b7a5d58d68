package request

import (
	"errors"

	"github.com/shravanasati/restserver/headers"
)

var ErrIncorrectRequestLine = errors.New("incorrect request line")
var ErrIncompleteRequest = errors.New("incomplete request")
var ErrHeaderTooLarge = errors.New("request header too large")
var ErrBodyTooLarge = errors.New("request body too large")
var ErrMissingHost = errors.New("missing or repeated host header")
var ErrInvalidContentLength = errors.New("invalid content length")
var ErrConflictingLength = errors.New("both content-length and transfer-encoding present")
var ErrUnsupportedTransferEncoding = errors.New("unsupported transfer encoding")
var ErrMalformedChunk = errors.New("malformed chunk")
var ErrMalformedEscape = errors.New("malformed percent escape")

// IsMalformed reports whether err means the peer sent bytes that are not a
// valid HTTP/1.x request, as opposed to a transport failure.
func IsMalformed(err error) bool {
	for _, target := range []error{
		ErrIncorrectRequestLine,
		ErrHeaderTooLarge,
		ErrBodyTooLarge,
		ErrMissingHost,
		ErrInvalidContentLength,
		ErrConflictingLength,
		ErrUnsupportedTransferEncoding,
		ErrMalformedChunk,
		headers.ErrMalformedHeader,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
