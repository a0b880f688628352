package loader

import (
	"fmt"
	"strings"
)

// MultipartNotSupportedError is returned when more than one sibling
// file matching the requested path's multi-part naming convention is
// found (§4.2 pre-check; §1 non-goal "multi-part/sharded model
// files").
type MultipartNotSupportedError struct {
	Paths []string
}

func (e *MultipartNotSupportedError) Error() string {
	return fmt.Sprintf("loader: multi-part model files are not supported, found: %s", strings.Join(e.Paths, ", "))
}
