package headers

import "errors"

// ErrMalformedHeader is returned when a field line is malformed.
var ErrMalformedHeader = errors.New("malformed header line")
