package logger

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joeycumines/izerolog"
	"github.com/joeycumines/logiface"
	"github.com/rs/zerolog"
)

// traceLogger writes one structured record per event to "ityr-<rank>.log",
// backed by github.com/joeycumines/logiface configured with the zerolog
// writer from github.com/joeycumines/izerolog. Selected by
// ITYR_LOGGER_IMPL=trace.
type traceLogger struct {
	rank int
	file *os.File
	log  *logiface.Logger[*izerolog.Event]
}

// NewTrace opens "<dir>/ityr-<rank>.log" and returns a Logger that appends
// one JSON record per Event to it.
func NewTrace(rank int, dir string) (Logger, error) {
	path := filepath.Join(dir, fmt.Sprintf("ityr-%d.log", rank))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logger: open trace file: %w", err)
	}

	zl := zerolog.New(f).With().Timestamp().Logger()
	l := logiface.New(izerolog.L.WithZerolog(zl))

	return &traceLogger{rank: rank, file: f, log: l}, nil
}

func (t *traceLogger) Rank() int { return t.rank }

func (t *traceLogger) Log(e Event) {
	t.log.Info().
		Str("kind", string(e.Kind)).
		Int64("t_begin_ns", e.Begin.UnixNano()).
		Int64("t_end_ns", e.End.UnixNano()).
		Int64("duration_ns", int64(e.Duration())).
		Int("rank", t.rank).
		Any("misc", e.Misc).
		Log("")
}

func (t *traceLogger) Flush() error {
	return t.file.Close()
}
