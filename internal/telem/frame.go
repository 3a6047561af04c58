package telem

// Series is an ordered run of samples of a single data type.
//
// Samples hold the Go type matching DataType: float64, float32, int64,
// int32, int16, int8, uint64, uint32, uint16, uint8, string, or TimeStamp.
type Series struct {
	DataType DataType
	Samples  []any
}

// NewSeries creates a series of the given type holding samples.
func NewSeries(dt DataType, samples ...any) Series {
	return Series{DataType: dt, Samples: samples}
}

// Len returns the number of samples in the series.
func (s Series) Len() int {
	return len(s.Samples)
}

// Frame maps channel keys to series, preserving insertion order.
//
// A Frame is the output of one read cycle. It is not safe for concurrent
// mutation; a completed frame handed to consumers must be treated as
// read-only.
type Frame struct {
	keys   []ChannelKey
	series []Series
}

// NewFrame returns an empty frame with room for n channels.
func NewFrame(n int) Frame {
	return Frame{
		keys:   make([]ChannelKey, 0, n),
		series: make([]Series, 0, n),
	}
}

// Append adds a series under key. Appending a key twice keeps both entries;
// callers that need uniqueness check [Frame.Contains] first.
func (f *Frame) Append(key ChannelKey, s Series) {
	f.keys = append(f.keys, key)
	f.series = append(f.series, s)
}

// Len returns the number of series in the frame.
func (f Frame) Len() int {
	return len(f.keys)
}

// Empty reports whether the frame holds no series.
func (f Frame) Empty() bool {
	return len(f.keys) == 0
}

// Keys returns a copy of the channel keys in insertion order.
func (f Frame) Keys() []ChannelKey {
	return append([]ChannelKey(nil), f.keys...)
}

// Contains reports whether the frame holds a series for key.
func (f Frame) Contains(key ChannelKey) bool {
	for _, k := range f.keys {
		if k == key {
			return true
		}
	}
	return false
}

// Get returns the first series stored under key.
func (f Frame) Get(key ChannelKey) (Series, bool) {
	for i, k := range f.keys {
		if k == key {
			return f.series[i], true
		}
	}
	return Series{}, false
}

// At returns sample i of the series stored under key.
func (f Frame) At(key ChannelKey, i int) (any, bool) {
	s, ok := f.Get(key)
	if !ok || i < 0 || i >= s.Len() {
		return nil, false
	}
	return s.Samples[i], true
}

// Range calls fn for each entry in insertion order until fn returns false.
func (f Frame) Range(fn func(key ChannelKey, s Series) bool) {
	for i, k := range f.keys {
		if !fn(k, f.series[i]) {
			return
		}
	}
}

// Clone returns a deep copy of the frame's keys and sample slices.
func (f Frame) Clone() Frame {
	out := Frame{
		keys:   append([]ChannelKey(nil), f.keys...),
		series: make([]Series, len(f.series)),
	}
	for i, s := range f.series {
		out.series[i] = Series{DataType: s.DataType, Samples: append([]any(nil), s.Samples...)}
	}
	return out
}
