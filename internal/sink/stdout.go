package sink

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/keyguard/internal/bridge"
)

// Stdout writes JSON lines to an io.Writer (default os.Stdout).
type Stdout struct {
	mu       sync.Mutex
	enc      *json.Encoder
	withKeys bool
}

// NewStdout creates a Stdout sink. If w is nil, os.Stdout is used. Key
// records are written only when withKeys is set.
func NewStdout(w io.Writer, withKeys bool) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{enc: json.NewEncoder(w), withKeys: withKeys}
}

func (s *Stdout) SendRun(_ context.Context, run bridge.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "run", Data: run})
}

func (s *Stdout) SendKey(_ context.Context, rec KeyRecord) error {
	if !s.withKeys {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enc.Encode(envelope{Type: "key", Data: rec})
}

func (s *Stdout) Close() error { return nil }
