package router

import (
	"fmt"
	"strings"

	"github.com/shravanasati/restserver/request"
)

// SplitPath turns a request target into the segment form [Router.Resolve]
// expects: query dropped, empty segments skipped, each segment
// percent-decoded, [RootSegment] first.
func SplitPath(target string) ([]string, error) {
	path, _, _ := strings.Cut(target, "?")
	if !strings.HasPrefix(path, "/") {
		return nil, ErrInvalidPath
	}

	segments := []string{RootSegment}
	for seg := range strings.SplitSeq(path, "/") {
		if seg == "" {
			continue
		}
		decoded, err := request.Decode(seg)
		if err != nil {
			return nil, fmt.Errorf("segment %q: %w", seg, err)
		}
		segments = append(segments, decoded)
	}
	return segments, nil
}
