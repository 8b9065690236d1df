//go:build !manifold

// Package manifold provides a CGo-based geometry kernel binding to the
// Manifold library. When the "manifold" build tag is not set, this stub
// package is compiled instead, returning ErrUnavailable from New.
//
// Build with: go build -tags=manifold
package manifold

import (
	"errors"

	"github.com/chazu/softbody/pkg/kernel"
)

// ErrUnavailable is returned when the binary was built without Manifold.
var ErrUnavailable = errors.New("manifold kernel not available: build with -tags=manifold")

// New returns ErrUnavailable. Build with -tags=manifold to enable.
func New() (kernel.Kernel, error) {
	return nil, ErrUnavailable
}

// NewWithSegments returns ErrUnavailable. Build with -tags=manifold to enable.
func NewWithSegments(segments int) (kernel.Kernel, error) {
	return nil, ErrUnavailable
}
