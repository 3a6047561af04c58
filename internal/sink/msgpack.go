package sink

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/vmihailenco/msgpack/v5"
)

const (
	// LengthPrefixSize is the size of the big-endian frame length.
	LengthPrefixSize = 4
	// MaxPayloadSize bounds a single encoded record.
	MaxPayloadSize = 16<<20 - LengthPrefixSize
)

// ErrFrameTooLarge is returned for records over MaxPayloadSize.
var ErrFrameTooLarge = errors.New("msgpack frame too large")

// MsgpackSink writes records as msgpack payloads, each preceded by its
// length as a 4-byte big-endian integer.
type MsgpackSink struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewMsgpackSink writes to w. Close does not close w.
func NewMsgpackSink(w io.Writer) *MsgpackSink {
	return &MsgpackSink{w: w}
}

// OpenMsgpack appends to the file at path, creating it if needed.
func OpenMsgpack(path string) (*MsgpackSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open msgpack sink: %w", err)
	}
	return &MsgpackSink{w: f, closer: f}, nil
}

// Write implements Sink.
func (s *MsgpackSink) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := msgpack.Marshal(&rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if len(payload) > MaxPayloadSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(payload))
	}

	frame := make([]byte, LengthPrefixSize+len(payload))
	binary.BigEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[LengthPrefixSize:], payload)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(frame); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// Close implements Sink.
func (s *MsgpackSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closer == nil {
		return nil
	}
	err := s.closer.Close()
	s.closer = nil
	return err
}

// ReadMsgpackRecord reads one framed record from r. It returns io.EOF when
// r ends cleanly between records.
func ReadMsgpackRecord(r io.Reader) (Record, error) {
	var prefix [LengthPrefixSize]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Record{}, io.EOF
		}
		return Record{}, fmt.Errorf("read length prefix: %w", err)
	}

	size := binary.BigEndian.Uint32(prefix[:])
	if size > MaxPayloadSize {
		return Record{}, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return Record{}, fmt.Errorf("read payload: %w", err)
	}

	var rec Record
	if err := msgpack.Unmarshal(payload, &rec); err != nil {
		return Record{}, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}
