package router

import "errors"

// ErrInvalidPath is returned for a template that is empty, not absolute,
// carries a query string or has no segment after the root.
var ErrInvalidPath = errors.New("invalid route path")
