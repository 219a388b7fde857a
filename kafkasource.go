package kafkasource

// OffsetUnknown is returned for a partition that has no committed offset, and
// for cached watermarks before the session has learned anything about the
// partition.
const OffsetUnknown int64 = -1001

// TopicPartition identifies a partition by (Topic, Partition). Offset is state
// attached to an assignment, a commit or a committed-offset result.
type TopicPartition struct {
	Topic     string
	Partition int32
	Offset    int64
}

// Validate returns ErrInvalidTopicPartition if tp cannot name a partition.
func (tp TopicPartition) Validate() error {
	if tp.Topic == "" {
		return Errorf("empty topic: %w", ErrInvalidTopicPartition)
	}
	if tp.Partition < 0 {
		return Errorf("topic %s partition %d: %w", tp.Topic, tp.Partition, ErrInvalidTopicPartition)
	}
	return nil
}

// Watermarks are the offset bounds of a partition. Low is the oldest retained
// offset, High is one past the newest produced offset.
type Watermarks struct {
	Low  int64 `json:"low"`
	High int64 `json:"high"`
}

// Message is the result of a single Consume call. A message with Code other
// than CodeNone carries no usable payload. Messages are owned by the caller
// for one poll iteration only; call Release when done with the payload.
type Message struct {
	TopicPartition
	Payload []byte
	Code    ErrorCode
	// Err has the driver's diagnostic when Code is CodeOther.
	Err     error
	release func()
}

// NewMessage returns a message that calls release (if not nil) when the
// message is released. Drivers that recycle receive buffers use release to
// take the payload back.
func NewMessage(tp TopicPartition, payload []byte, release func()) *Message {
	return &Message{TopicPartition: tp, Payload: payload, release: release}
}

// Release drops the payload. It is safe to call on a nil message and more
// than once.
func (m *Message) Release() {
	if m == nil {
		return
	}
	m.Payload = nil
	if m.release != nil {
		m.release()
		m.release = nil
	}
}

// ErrorMessage returns a message with no payload. Drivers return it when a
// poll ends without a message: code CodeTimedOut when the timeout elapsed,
// CodePartitionEOF at the end of the partition, CodeOther otherwise.
func ErrorMessage(code ErrorCode, err error) *Message {
	return &Message{Code: code, Err: err}
}
