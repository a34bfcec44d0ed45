package registration

import (
	"io"
	"time"

	"github.com/charmbracelet/log"
)

// NewLogger creates a feedback logger writing to w at the given level.
// Timestamps are formatted as "HH:MM:SS.ms".
func NewLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
		Prefix:          "ffdreg",
	})
}

// progress logs completion of a stage with its elapsed time.
type progress struct {
	logger *log.Logger
	start  time.Time
}

func newProgress(l *log.Logger) *progress {
	return &progress{logger: l, start: time.Now()}
}

func (p *progress) elapsed() time.Duration {
	return time.Since(p.start)
}

func (p *progress) done(msg string, keyvals ...interface{}) {
	keyvals = append(keyvals, "elapsed", p.elapsed().Round(time.Millisecond))
	p.logger.Info(msg, keyvals...)
}
