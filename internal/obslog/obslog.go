// Package obslog provides the engine's internal diagnostic logger. It is
// deliberately narrow: structured log/telemetry sinks are an out-of-scope
// external collaborator (spec.md section 1), so this package only emits to
// stderr at the warn/info split spec.md section 7 calls for (circuit-open at
// warn, retries at info) and gives every component a consistently-named
// zerolog sub-logger to write through.
package obslog

import (
	"os"
	"sync"

	"github.com/rs/zerolog"
)

var (
	once sync.Once
	base zerolog.Logger
)

func root() zerolog.Logger {
	once.Do(func() {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).
			With().Timestamp().Logger()
	})
	return base
}

// For returns a component-scoped logger, e.g. obslog.For("failover").
func For(component string) zerolog.Logger {
	return root().With().Str("component", component).Logger()
}
