// Package sink persists successful read cycles.
//
// A [Sink] receives one [Record] per cycle that produced data. Three
// encodings are provided: newline-delimited JSON ([JSONLSink]),
// length-prefixed msgpack ([MsgpackSink]) and Kafka messages ([KafkaSink]).
package sink

import (
	"context"
	"time"

	"github.com/jpalmerr/telempoll/internal/telem"
)

// Record is the persisted form of one read cycle.
type Record struct {
	Task    string         `json:"task" msgpack:"task"`
	Cycle   uint64         `json:"cycle" msgpack:"cycle"`
	Time    time.Time      `json:"time" msgpack:"time"`
	Warning string         `json:"warning,omitempty" msgpack:"warning,omitempty"`
	Samples map[string]any `json:"samples" msgpack:"samples"`
}

// Sink writes records somewhere durable. Implementations must be safe for
// concurrent use.
type Sink interface {
	Write(ctx context.Context, rec Record) error
	Close() error
}

// NewRecord builds a record from frame, naming each sample after its
// channel. Keys without a name fall back to their numeric key. Only the
// first sample of each series is kept.
func NewRecord(task string, cycle uint64, at time.Time, warning string, frame telem.Frame, names map[telem.ChannelKey]string) Record {
	rec := Record{
		Task:    task,
		Cycle:   cycle,
		Time:    at,
		Warning: warning,
		Samples: make(map[string]any, frame.Len()),
	}
	frame.Range(func(key telem.ChannelKey, s telem.Series) bool {
		if s.Len() == 0 {
			return true
		}
		name, ok := names[key]
		if !ok {
			name = key.String()
		}
		v := s.Samples[0]
		if ts, isTS := v.(telem.TimeStamp); isTS {
			v = int64(ts)
		}
		rec.Samples[name] = v
		return true
	})
	return rec
}
