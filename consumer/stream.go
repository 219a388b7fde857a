package consumer

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
)

// DefaultPollTimeout is the Stream poll timeout when none is set.
const DefaultPollTimeout = 10 * time.Second

var newline = []byte("\n")

// Stream accumulates newline terminated payloads from the currently assigned
// partition. There is no overall deadline: ReadUntil keeps polling until it
// has enough bytes.
type Stream struct {
	Client      Poller
	PollTimeout time.Duration
	Logger      *zap.Logger
}

// ReadUntil polls until the buffer holds at least minBytes bytes. Each poll
// waits at most PollTimeout. Payloads are appended as they are; every
// message adds at least the one byte newline. ReadUntil returns early, with
// what it has, only if the handle has been closed.
func (s *Stream) ReadUntil(minBytes int) *Buffer {
	timeout := s.PollTimeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	buf := NewBuffer(newline)
	for buf.Len() < minBytes {
		if s.poll(buf, timeout) {
			break
		}
	}
	return buf
}

func (s *Stream) poll(buf *Buffer, timeout time.Duration) (stop bool) {
	m := s.Client.Consume(timeout)
	defer m.Release()
	if m.Code == kafkasource.CodeNone {
		buf.Append(m.Payload)
		return false
	}
	if m.Code == kafkasource.CodeOther && s.Logger != nil {
		s.Logger.Debug("discarding message", zap.Error(m.Err))
	}
	return errors.Is(m.Err, kafkasource.ErrClosed)
}
