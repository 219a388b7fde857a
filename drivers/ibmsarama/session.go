package ibmsarama

import (
	"errors"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/eapache/go-resiliency/retrier"
	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
)

const Name = "sarama"

func init() {
	client.Register(Name, Open)
}

var loggerOnce sync.Once

// Open connects to the cluster, retrying with exponential backoff, and
// creates the partition consumer factory. sarama's package logger is routed
// to the first logger a session is opened with.
func Open(config client.Config, env client.Env) (client.Session, error) {
	cfg, st := translate(config, env.Warn)
	cfg.MetricRegistry = env.Registry
	loggerOnce.Do(func() {
		sarama.Logger = zap.NewStdLog(env.Logger.Named("sarama"))
	})
	if len(st.brokers) == 0 {
		return nil, kafkasource.Errorf("%s not set", client.KeyBootstrap)
	}
	var c sarama.Client
	r := retrier.New(retrier.ExponentialBackoff(3, 100*time.Millisecond), nil)
	err := r.Run(func() (err error) {
		c, err = sarama.NewClient(st.brokers, cfg)
		if err != nil {
			env.Logger.Debug("error connecting", zap.Strings("brokers", st.brokers), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return nil, brokerError(err)
	}
	consumer, err := sarama.NewConsumerFromClient(c)
	if err != nil {
		c.Close()
		return nil, brokerError(err)
	}
	return &Session{
		client:       c,
		consumer:     consumer,
		group:        st.group,
		initial:      cfg.Consumer.Offsets.Initial,
		partitionEOF: st.partitionEOF,
		logger:       env.Logger,
		cached:       make(map[key]kafkasource.Watermarks),
	}, nil
}

type key struct {
	topic     string
	partition int32
}

// Session implements client.Session on a sarama client. Fetching is done by
// a sarama.PartitionConsumer for the single assigned partition; committed
// offsets go straight to the group coordinator, without joining the group.
type Session struct {
	client       sarama.Client
	consumer     sarama.Consumer
	group        string
	initial      int64
	partitionEOF bool
	logger       *zap.Logger
	//
	pc       sarama.PartitionConsumer
	assigned kafkasource.TopicPartition
	position int64
	eofSent  bool
	cached   map[key]kafkasource.Watermarks
}

// brokerError maps sarama errors to *kafkasource.BrokerError.
func brokerError(err error) error {
	if err == nil {
		return nil
	}
	code := kafkasource.CodeOther
	if errors.Is(err, sarama.ErrRequestTimedOut) {
		code = kafkasource.CodeTimedOut
	}
	return &kafkasource.BrokerError{Code: code, Reason: err.Error()}
}

// within runs f and waits for it for at most timeout. f keeps running in the
// background after a timeout; sarama's own network timeouts bound it.
func within(timeout time.Duration, f func() error) error {
	done := make(chan error, 1)
	go func() { done <- f() }()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		return kafkasource.NewBrokerError(kafkasource.CodeTimedOut, "timed out after "+timeout.String())
	}
}

func (s *Session) Assign(tp kafkasource.TopicPartition) error {
	if err := s.Unassign(); err != nil {
		s.logger.Warn("error closing partition consumer", zap.Error(err))
	}
	offset := tp.Offset
	if offset < 0 {
		offset = s.initial
	}
	pc, err := s.consumer.ConsumePartition(tp.Topic, tp.Partition, offset)
	if err != nil {
		return brokerError(err)
	}
	s.pc = pc
	s.assigned = tp
	s.position = offset
	s.eofSent = false
	return nil
}

func (s *Session) Unassign() error {
	if s.pc == nil {
		return nil
	}
	pc := s.pc
	s.pc = nil
	return brokerError(pc.Close())
}

func (s *Session) Consume(timeout time.Duration) *kafkasource.Message {
	if s.pc == nil {
		time.Sleep(timeout)
		return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
	}
	if s.partitionEOF && !s.eofSent {
		if hwm := s.pc.HighWaterMarkOffset(); hwm > 0 && s.position >= hwm {
			s.eofSent = true
			return kafkasource.ErrorMessage(kafkasource.CodePartitionEOF, kafkasource.ErrPartitionEOF)
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case m, ok := <-s.pc.Messages():
		if !ok {
			return kafkasource.ErrorMessage(kafkasource.CodeOther, kafkasource.ErrClosed)
		}
		s.position = m.Offset + 1
		s.eofSent = false
		k := key{m.Topic, m.Partition}
		w, seen := s.cached[k]
		if !seen {
			w.Low = kafkasource.OffsetUnknown
		}
		w.High = s.pc.HighWaterMarkOffset()
		s.cached[k] = w
		tp := kafkasource.TopicPartition{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset}
		return kafkasource.NewMessage(tp, m.Value, nil)
	case e, ok := <-s.pc.Errors():
		if !ok {
			return kafkasource.ErrorMessage(kafkasource.CodeOther, kafkasource.ErrClosed)
		}
		err := brokerError(e.Err).(*kafkasource.BrokerError)
		return kafkasource.ErrorMessage(err.Code, err)
	case <-timer.C:
		return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
	}
}

func (s *Session) coordinator() (*sarama.Broker, error) {
	if s.group == "" {
		return nil, kafkasource.ErrMissingGroupID
	}
	b, err := s.client.Coordinator(s.group)
	if err != nil {
		return nil, brokerError(err)
	}
	return b, nil
}

// Committed makes a single OffsetFetch call to the group coordinator. If
// there is an error the coordinator is refreshed before the next call.
func (s *Session) Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error) {
	out := make([]kafkasource.TopicPartition, len(partitions))
	err := within(timeout, func() error {
		b, err := s.coordinator()
		if err != nil {
			return err
		}
		req := &sarama.OffsetFetchRequest{Version: 1, ConsumerGroup: s.group}
		for _, tp := range partitions {
			req.AddPartition(tp.Topic, tp.Partition)
		}
		resp, err := b.FetchOffset(req)
		if err != nil {
			s.client.RefreshCoordinator(s.group) // will reconnect on next call
			return brokerError(err)
		}
		for i, tp := range partitions {
			block := resp.GetBlock(tp.Topic, tp.Partition)
			if block == nil {
				return kafkasource.NewBrokerError(kafkasource.CodeOther, "no offset block in response")
			}
			if block.Err != sarama.ErrNoError {
				return brokerError(block.Err)
			}
			out[i] = tp
			out[i].Offset = block.Offset
			if block.Offset < 0 {
				out[i].Offset = kafkasource.OffsetUnknown
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CommitSync makes a single OffsetCommit call to the group coordinator, as a
// member outside of any group generation, and waits for the response.
func (s *Session) CommitSync(partitions []kafkasource.TopicPartition) error {
	b, err := s.coordinator()
	if err != nil {
		return err
	}
	req := &sarama.OffsetCommitRequest{
		Version:                 2,
		ConsumerGroup:           s.group,
		ConsumerGroupGeneration: sarama.GroupGenerationUndefined,
		RetentionTime:           -1,
	}
	for _, tp := range partitions {
		req.AddBlock(tp.Topic, tp.Partition, tp.Offset, 0, "")
	}
	resp, err := b.CommitOffset(req)
	if err != nil {
		s.client.RefreshCoordinator(s.group)
		return brokerError(err)
	}
	for _, partitions := range resp.Errors {
		for _, kerr := range partitions {
			if kerr != sarama.ErrNoError {
				return brokerError(kerr)
			}
		}
	}
	return nil
}

// GetWatermarkOffsets returns the watermarks last seen by Consume or
// QueryWatermarkOffsets. The low watermark is only known after a query.
func (s *Session) GetWatermarkOffsets(topic string, partition int32) (int64, int64, error) {
	w, ok := s.cached[key{topic, partition}]
	if !ok {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, nil
	}
	return w.Low, w.High, nil
}

func (s *Session) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (int64, int64, error) {
	var w kafkasource.Watermarks
	err := within(timeout, func() (err error) {
		if w.Low, err = s.client.GetOffset(topic, partition, sarama.OffsetOldest); err != nil {
			return brokerError(err)
		}
		if w.High, err = s.client.GetOffset(topic, partition, sarama.OffsetNewest); err != nil {
			return brokerError(err)
		}
		return nil
	})
	if err != nil {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, err
	}
	s.cached[key{topic, partition}] = w
	return w.Low, w.High, nil
}

func (s *Session) Close() error {
	var result *multierror.Error
	if err := s.Unassign(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.consumer.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := s.client.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}
