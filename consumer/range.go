package consumer

import (
	"errors"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
)

// Poller is implemented by client.Handle. Consume must return a non nil
// message; a poll without a message has Code CodeTimedOut.
type Poller interface {
	Consume(timeout time.Duration) *kafkasource.Message
}

// Client is what Range needs from a handle.
type Client interface {
	Poller
	Assigner
}

// Range is the bounded batch consumer. Set the public fields before the
// first call and do not change them afterwards. Not safe for concurrent use;
// use one Range (and one handle) per goroutine.
type Range struct {
	Client Client
	// Assignment, if nil, is created over Client on first use.
	Assignment *Assignment
	// Registry, if not nil, gets the range-messages meter, the range-partial
	// counter and the range-duration timer.
	Registry metrics.Registry
	Logger   *zap.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (r *Range) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *Range) logger() *zap.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return zap.NewNop()
}

// Consume reads the messages of window w into a buffer, framing each payload
// with delimiter. It stops when w.Count() messages have been read or when
// timeout has elapsed, whichever comes first; the deadline is only checked
// after a poll returns, so the call can overrun by at most one poll. An
// empty window returns an empty buffer without seeking or polling. The only
// error is a failed seek; a partial buffer is a normal result.
func (r *Range) Consume(w Window, timeout time.Duration, delimiter []byte) (*Buffer, error) {
	buf := NewBuffer(delimiter)
	target := w.Count()
	if target == 0 {
		return buf, nil
	}
	start := r.now()
	b := newBudget(start, timeout)
	if r.Assignment == nil {
		r.Assignment = &Assignment{Client: r.Client}
	}
	if err := r.Assignment.Seek(w.Topic, w.Partition, w.Start); err != nil {
		return buf, err
	}
	remaining := b.remaining(start)
	for buf.Count() < target {
		if stop := r.poll(buf, remaining); stop {
			break
		}
		now := r.now()
		if b.expired(now) {
			break
		}
		remaining = b.remaining(now)
	}
	r.record(w, buf.Count(), r.now().Sub(start))
	return buf, nil
}

// poll consumes one message and appends it if it has no error. The message
// is released before poll returns. stop is set when the handle is closed and
// further polls are pointless.
func (r *Range) poll(buf *Buffer, timeout time.Duration) (stop bool) {
	m := r.Client.Consume(timeout)
	defer m.Release()
	switch m.Code {
	case kafkasource.CodeNone:
		buf.Append(m.Payload)
	case kafkasource.CodeTimedOut, kafkasource.CodePartitionEOF:
	default:
		r.logger().Debug("discarding message", zap.Stringer("code", m.Code), zap.Error(m.Err))
		return errors.Is(m.Err, kafkasource.ErrClosed)
	}
	return false
}

func (r *Range) record(w Window, read int64, elapsed time.Duration) {
	partial := read < w.Count()
	r.logger().Debug("range consumed",
		zap.Stringer("window", w),
		zap.Int64("read", read),
		zap.Bool("partial", partial),
		zap.Duration("elapsed", elapsed),
	)
	if r.Registry == nil {
		return
	}
	metrics.GetOrRegisterMeter("range-messages", r.Registry).Mark(read)
	metrics.GetOrRegisterMeter("range-messages-for-topic-"+w.Topic, r.Registry).Mark(read)
	metrics.GetOrRegisterTimer("range-duration", r.Registry).Update(elapsed)
	if partial {
		metrics.GetOrRegisterCounter("range-partial", r.Registry).Inc(1)
	}
}
