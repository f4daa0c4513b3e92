// Package monitor fans crawl outcomes out to the configured monitoring backends.
package monitor

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/regcrawl/internal/crawler"
)

// Sink receives the outcome of one list target.
type Sink interface {
	Record(ctx context.Context, outcome crawler.Outcome) error
}

// Fanout delivers each outcome to every sink. A failing sink is logged and
// never stops delivery to the others or the crawl itself.
type Fanout struct {
	sinks  []namedSink
	logger *zap.Logger
}

type namedSink struct {
	name string
	sink Sink
}

// NewFanout builds an empty Fanout.
func NewFanout(logger *zap.Logger) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fanout{logger: logger}
}

// Add registers sink under name. Nil sinks are ignored.
func (f *Fanout) Add(name string, sink Sink) *Fanout {
	if sink != nil {
		f.sinks = append(f.sinks, namedSink{name: name, sink: sink})
	}
	return f
}

// Len reports the number of registered sinks.
func (f *Fanout) Len() int {
	return len(f.sinks)
}

// Record implements Sink. It always returns nil.
func (f *Fanout) Record(ctx context.Context, outcome crawler.Outcome) error {
	for _, s := range f.sinks {
		if err := s.sink.Record(ctx, outcome); err != nil {
			f.logger.Error("monitor sink failed",
				zap.String("sink", s.name),
				zap.String("target", outcome.Target),
				zap.Error(err),
			)
		}
	}
	return nil
}
