// Package offsets reads and writes consumer group offsets and partition
// watermarks through a client handle.
package offsets

import (
	"errors"
	"time"

	"github.com/philtrade/kafkasource"
)

// Committer is implemented by client.Handle.
type Committer interface {
	Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error)
	CommitSync(partitions []kafkasource.TopicPartition) error
}

// Ledger reads and commits offsets for the group the handle was created
// with.
type Ledger struct {
	Client Committer
	// Timeout bounds the round trip in Committed.
	Timeout time.Duration
}

// Committed makes a single committed offsets call for exactly one
// partition. If there are no offsets committed for the partition (or the
// partition does not exist) there is no error and the returned offset is
// kafkasource.OffsetUnknown. Errors are for things like connection problems
// and error responses from the broker. There is no retry logic.
func (l *Ledger) Committed(topic string, partition int32) (int64, error) {
	tp := kafkasource.TopicPartition{Topic: topic, Partition: partition, Offset: kafkasource.OffsetUnknown}
	if err := tp.Validate(); err != nil {
		return kafkasource.OffsetUnknown, err
	}
	res, err := l.Client.Committed([]kafkasource.TopicPartition{tp}, l.Timeout)
	if err != nil {
		return kafkasource.OffsetUnknown, kafkasource.Wrapf(err,
			"error for topic %s partition %d", topic, partition)
	}
	for _, r := range res {
		if r.Topic == topic && r.Partition == partition {
			return r.Offset, nil
		}
	}
	return kafkasource.OffsetUnknown, nil
}

// Commit makes a single synchronous commit of offset for topic/partition.
// It returns when the broker has acknowledged the commit or has failed it;
// broker failures are returned.
func (l *Ledger) Commit(topic string, partition int32, offset int64) error {
	tp := kafkasource.TopicPartition{Topic: topic, Partition: partition, Offset: offset}
	if err := tp.Validate(); err != nil {
		return err
	}
	if offset < 0 {
		return kafkasource.Errorf("offset %d: %w", offset, kafkasource.ErrInvalidTopicPartition)
	}
	if err := l.Client.CommitSync([]kafkasource.TopicPartition{tp}); err != nil {
		return kafkasource.Wrapf(err, "error for topic %s partition %d", topic, partition)
	}
	return nil
}

// WatermarkSource is implemented by client.Handle.
type WatermarkSource interface {
	GetWatermarkOffsets(topic string, partition int32) (low, high int64, err error)
	QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (low, high int64, err error)
}

// Oracle answers watermark queries.
type Oracle struct {
	Client WatermarkSource
}

// Watermarks returns the low and high watermarks of topic/partition. With
// cached set it returns the client's last known values without a round trip
// (kafkasource.OffsetUnknown for values it has not seen). Otherwise it asks
// the broker, waiting at most timeout. The end of partition signal is not an
// error: the watermarks that come with it are returned. Any other failure is
// returned as a *kafkasource.BrokerError carrying the broker's reason.
func (o *Oracle) Watermarks(topic string, partition int32, timeout time.Duration, cached bool) (kafkasource.Watermarks, error) {
	tp := kafkasource.TopicPartition{Topic: topic, Partition: partition}
	if err := tp.Validate(); err != nil {
		return kafkasource.Watermarks{Low: kafkasource.OffsetUnknown, High: kafkasource.OffsetUnknown}, err
	}
	var low, high int64
	var err error
	if cached {
		low, high, err = o.Client.GetWatermarkOffsets(topic, partition)
	} else {
		low, high, err = o.Client.QueryWatermarkOffsets(topic, partition, timeout)
	}
	if err == nil || errors.Is(err, kafkasource.ErrPartitionEOF) {
		return kafkasource.Watermarks{Low: low, High: high}, nil
	}
	unknown := kafkasource.Watermarks{Low: kafkasource.OffsetUnknown, High: kafkasource.OffsetUnknown}
	if errors.Is(err, kafkasource.ErrClosed) {
		return unknown, err
	}
	var be *kafkasource.BrokerError
	if !errors.As(err, &be) {
		be = &kafkasource.BrokerError{Code: kafkasource.CodeOther, Reason: err.Error()}
	}
	return unknown, kafkasource.Wrapf(be, "error for topic %s partition %d", topic, partition)
}
