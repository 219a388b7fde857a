// Package confluent is the default driver. It opens sessions on
// confluent-kafka-go (librdkafka). Configuration keys are passed to
// librdkafka as they are; keys librdkafka rejects are dropped and reported
// as warnings.
//
//	import _ "github.com/philtrade/kafkasource/drivers/confluent"
package confluent

import (
	"regexp"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/google/uuid"
	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
)

const Name = "confluent"

func init() {
	client.Register(Name, Open)
}

// Session implements client.Session on a *kafka.Consumer.
type Session struct {
	consumer *kafka.Consumer
	logger   *zap.Logger
	errors   metrics.Meter
}

// Open creates the consumer. Keys librdkafka does not know, or whose values
// it does not accept, are removed one at a time and reported with
// env.Warn until the consumer can be created.
func Open(config client.Config, env client.Env) (client.Session, error) {
	cm := kafka.ConfigMap{}
	for _, k := range config.Keys() {
		cm[k] = config[k]
	}
	// NewConsumer refuses to start without group.id; the handle keeps
	// reporting the missing key on offset calls.
	if _, ok := config.GroupID(); !ok {
		cm[client.KeyGroupID] = "kafkasource-" + uuid.NewString()
	}
	c, err := newConsumer(cm, env)
	if err != nil {
		return nil, err
	}
	env.Logger.Debug("consumer created", zap.String("consumer", c.String()))
	return &Session{
		consumer: c,
		logger:   env.Logger,
		errors:   metrics.GetOrRegisterMeter("confluent-consume-errors", env.Registry),
	}, nil
}

func newConsumer(cm kafka.ConfigMap, env client.Env) (*kafka.Consumer, error) {
	for {
		c, err := kafka.NewConsumer(&cm)
		if err == nil {
			return c, nil
		}
		key := offendingKey(err.Error(), cm)
		if key == "" {
			return nil, translate(err)
		}
		env.Warn(key, err.Error())
		delete(cm, key)
	}
}

var word = regexp.MustCompile(`[A-Za-z0-9._-]+`)

// offendingKey returns the config key named in a librdkafka configuration
// error, such as `No such configuration property: "foo"` or `Invalid value
// "x" for configuration property "session.timeout.ms"`, or "" if the error
// names no key of cm. The last key named wins.
func offendingKey(msg string, cm kafka.ConfigMap) string {
	words := word.FindAllString(msg, -1)
	for i := len(words) - 1; i >= 0; i-- {
		if _, ok := cm[words[i]]; ok {
			return words[i]
		}
	}
	return ""
}

// translate maps librdkafka errors to *kafkasource.BrokerError, keeping the
// librdkafka error string as the reason.
func translate(err error) error {
	if err == nil {
		return nil
	}
	ke, ok := err.(kafka.Error)
	if !ok {
		return kafkasource.NewBrokerError(kafkasource.CodeOther, err.Error())
	}
	return &kafkasource.BrokerError{Code: code(ke.Code()), Reason: ke.Error()}
}

func code(c kafka.ErrorCode) kafkasource.ErrorCode {
	switch c {
	case kafka.ErrNoError:
		return kafkasource.CodeNone
	case kafka.ErrPartitionEOF:
		return kafkasource.CodePartitionEOF
	case kafka.ErrTimedOut, kafka.ErrTimedOutQueue:
		return kafkasource.CodeTimedOut
	default:
		return kafkasource.CodeOther
	}
}

func toKafka(partitions []kafkasource.TopicPartition) []kafka.TopicPartition {
	out := make([]kafka.TopicPartition, len(partitions))
	for i, tp := range partitions {
		topic := tp.Topic
		out[i] = kafka.TopicPartition{
			Topic:     &topic,
			Partition: tp.Partition,
			Offset:    kafka.Offset(tp.Offset),
		}
	}
	return out
}

// fromKafka converts partitions back, returning the first per partition
// error.
func fromKafka(partitions []kafka.TopicPartition) ([]kafkasource.TopicPartition, error) {
	out := make([]kafkasource.TopicPartition, len(partitions))
	for i, tp := range partitions {
		if tp.Error != nil {
			return nil, translate(tp.Error)
		}
		if tp.Topic != nil {
			out[i].Topic = *tp.Topic
		}
		out[i].Partition = tp.Partition
		out[i].Offset = int64(tp.Offset)
	}
	return out, nil
}

func milliseconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / time.Millisecond)
}

func (s *Session) Assign(tp kafkasource.TopicPartition) error {
	return translate(s.consumer.Assign(toKafka([]kafkasource.TopicPartition{tp})))
}

func (s *Session) Unassign() error {
	return translate(s.consumer.Unassign())
}

// Consume polls until it gets a message or an error, or until timeout. Other
// events (statistics, commit results) are skipped.
func (s *Session) Consume(timeout time.Duration) *kafkasource.Message {
	deadline := time.Now().Add(timeout)
	for {
		switch e := s.consumer.Poll(milliseconds(time.Until(deadline))).(type) {
		case *kafka.Message:
			if e.TopicPartition.Error != nil {
				return s.errorMessage(translate(e.TopicPartition.Error))
			}
			tp, _ := fromKafka([]kafka.TopicPartition{e.TopicPartition})
			return kafkasource.NewMessage(tp[0], e.Value, nil)
		case kafka.PartitionEOF:
			return kafkasource.ErrorMessage(kafkasource.CodePartitionEOF, kafkasource.ErrPartitionEOF)
		case kafka.Error:
			return s.errorMessage(translate(e))
		case nil:
			return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
		default:
			s.logger.Debug("skipping event", zap.Stringer("event", e))
		}
		if !time.Now().Before(deadline) {
			return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
		}
	}
}

func (s *Session) errorMessage(err error) *kafkasource.Message {
	be := err.(*kafkasource.BrokerError)
	if be.Code == kafkasource.CodeOther {
		s.errors.Mark(1)
	}
	return kafkasource.ErrorMessage(be.Code, be)
}

func (s *Session) Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error) {
	res, err := s.consumer.Committed(toKafka(partitions), milliseconds(timeout))
	if err != nil {
		return nil, translate(err)
	}
	return fromKafka(res)
}

func (s *Session) GetWatermarkOffsets(topic string, partition int32) (int64, int64, error) {
	low, high, err := s.consumer.GetWatermarkOffsets(topic, partition)
	return low, high, translate(err)
}

func (s *Session) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (int64, int64, error) {
	low, high, err := s.consumer.QueryWatermarkOffsets(topic, partition, milliseconds(timeout))
	return low, high, translate(err)
}

// CommitSync commits and waits for the broker to acknowledge.
func (s *Session) CommitSync(partitions []kafkasource.TopicPartition) error {
	res, err := s.consumer.CommitOffsets(toKafka(partitions))
	if err != nil {
		return translate(err)
	}
	_, err = fromKafka(res)
	return err
}

func (s *Session) Close() error {
	return translate(s.consumer.Close())
}
