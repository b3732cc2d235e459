// Package idgen makes the identifiers attached to script runs, keystroke
// records and HTTP traces.
package idgen

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator returns a new identifier on each call.
type Generator func() string

// V7 returns a version 7 UUID. V7 UUIDs sort by creation time.
func V7() string { return uuid.Must(uuid.NewV7()).String() }

// Default is used wherever no Generator is configured.
var Default Generator = V7

// New returns an identifier from Default.
func New() string { return Default() }

// Prefixed tags the IDs of gen with prefix, e.g. "run_" or "key_".
func Prefixed(prefix string, gen Generator) Generator {
	return func() string { return prefix + gen() }
}

// Sequence counts from 1 behind prefix. Tests use it for stable IDs.
func Sequence(prefix string) Generator {
	var n atomic.Uint64
	return func() string { return fmt.Sprintf("%s%d", prefix, n.Add(1)) }
}

// Valid reports whether s is a UUID, optionally behind a prefix that ends
// in an underscore.
func Valid(s string) bool {
	if i := strings.LastIndexByte(s, '_'); i >= 0 {
		s = s[i+1:]
	}
	return uuid.Validate(s) == nil
}
