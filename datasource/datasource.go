// Package datasource is the public surface of the engine: a Source reads
// bounded offset ranges from single partitions, reads and commits group
// offsets, answers watermark queries and streams newline framed payloads.
//
// A Source owns one handle and is meant to be used from one goroutine.
// Concurrent reads of several partitions use one Source each, see
// ConsumeRanges.
package datasource

import (
	"time"

	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
	"github.com/philtrade/kafkasource/consumer"
	"github.com/philtrade/kafkasource/offsets"
)

type Source struct {
	handle     *client.Handle
	assignment *consumer.Assignment
	rng        *consumer.Range
	stream     *consumer.Stream
	ledger     *offsets.Ledger
	oracle     *offsets.Oracle
	logger     *zap.Logger
}

// Open creates the handle. See client.New for how config is applied.
func Open(config client.Config, opts ...client.Option) (*Source, error) {
	h, err := client.New(config, opts...)
	if err != nil {
		return nil, err
	}
	return newSource(h), nil
}

func newSource(h *client.Handle) *Source {
	a := &consumer.Assignment{Client: h}
	return &Source{
		handle:     h,
		assignment: a,
		rng: &consumer.Range{
			Client:     h,
			Assignment: a,
			Registry:   h.Registry(),
			Logger:     h.Logger(),
		},
		stream: &consumer.Stream{
			Client:      h,
			PollTimeout: h.DefaultTimeout(),
			Logger:      h.Logger(),
		},
		ledger: &offsets.Ledger{Client: h, Timeout: h.DefaultTimeout()},
		oracle: &offsets.Oracle{Client: h},
		logger: h.Logger(),
	}
}

// Handle returns the underlying handle.
func (s *Source) Handle() *client.Handle {
	return s.handle
}

// ConsumeRange reads offsets [start, end) of topic/partition and returns the
// payloads, each followed by delimiter. It returns fewer messages than asked
// for, without error, when timeout runs out first; use Messages on the
// result (or count delimiters) to tell. The only error is a failed seek.
func (s *Source) ConsumeRange(topic string, partition int32, start, end int64, timeout time.Duration, delimiter []byte) ([]byte, error) {
	buf, err := s.ConsumeWindow(consumer.Window{Topic: topic, Partition: partition, Start: start, End: end}, timeout, delimiter)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ConsumeWindow is ConsumeRange returning the buffer, which knows how many
// messages it holds.
func (s *Source) ConsumeWindow(w consumer.Window, timeout time.Duration, delimiter []byte) (*consumer.Buffer, error) {
	return s.rng.Consume(w, timeout, delimiter)
}

// CommittedOffset returns the offset committed for topic/partition by the
// configured group, or kafkasource.OffsetUnknown.
func (s *Source) CommittedOffset(topic string, partition int32) (int64, error) {
	return s.ledger.Committed(topic, partition)
}

// WatermarkOffsets returns the low and high watermarks, from the client's
// cache when cached is set, otherwise from the broker within timeout.
func (s *Source) WatermarkOffsets(topic string, partition int32, timeout time.Duration, cached bool) (kafkasource.Watermarks, error) {
	return s.oracle.Watermarks(topic, partition, timeout, cached)
}

// CommitOffset synchronously commits offset for topic/partition.
func (s *Source) CommitOffset(topic string, partition int32, offset int64) error {
	return s.ledger.Commit(topic, partition, offset)
}

// Unsubscribe clears the assignment, waiting at most the handle's default
// timeout. A failure is logged and returned; the Source remains usable. After
// a timeout the unassign keeps running: later calls wait for it, except
// Close, which is still bounded by its own timeout.
func (s *Source) Unsubscribe() error {
	timeout := s.handle.DefaultTimeout()
	done := make(chan error, 1)
	go func() { done <- s.assignment.Clear() }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	var err error
	select {
	case err = <-done:
	case <-timer.C:
		err = kafkasource.Errorf("unsubscribe after %v: %w", timeout, kafkasource.ErrTimedOut)
	}
	if err != nil {
		s.logger.Warn("unsubscribe failed", zap.Error(err))
	}
	return err
}

// Close releases the handle, see client.Handle.Close.
func (s *Source) Close(timeout time.Duration) error {
	return s.handle.Close(timeout)
}

// HostRead reads newline framed payloads from the current assignment until
// at least minBytes bytes have been read. There is no overall deadline.
func (s *Source) HostRead(minBytes int) []byte {
	return s.stream.ReadUntil(minBytes).Bytes()
}
