// Package segmentio opens sessions on segmentio/kafka-go. Fetching uses a
// leader connection for the assigned partition; offsets and watermarks go
// through a kafka.Client.
//
//	import _ "github.com/philtrade/kafkasource/drivers/segmentio"
package segmentio

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/sasl"
	"github.com/segmentio/kafka-go/sasl/plain"
	"github.com/segmentio/kafka-go/sasl/scram"
	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
)

const Name = "kafka-go"

func init() {
	client.Register(Name, Open)
}

const (
	defaultMinBytes = 1
	defaultMaxBytes = 1 << 20
)

type settings struct {
	brokers      []string
	group        string
	minBytes     int
	maxBytes     int
	partitionEOF bool
	dialer       *kafka.Dialer
	transport    *kafka.Transport
}

// translate builds the dialer and transport for c. Every key is either
// applied or passed to warn.
func translate(c client.Config, warn func(key, reason string)) settings {
	st := settings{
		brokers:   c.Brokers(),
		minBytes:  defaultMinBytes,
		maxBytes:  defaultMaxBytes,
		dialer:    &kafka.Dialer{Timeout: 10 * time.Second, DualStack: true},
		transport: &kafka.Transport{},
	}
	st.group, _ = c.GroupID()
	var protocol, mechanism, user, password string
	for _, k := range c.Keys() {
		v := strings.TrimSpace(c[k])
		switch k {
		case client.KeyBootstrap, client.KeyGroupID:
		case client.KeyClientID:
			st.dialer.ClientID = v
			st.transport.ClientID = v
		case "fetch.min.bytes", "fetch.max.bytes":
			n, _, err := c.Int(k)
			if err != nil || n <= 0 {
				warn(k, "not a positive integer")
				continue
			}
			if k == "fetch.min.bytes" {
				st.minBytes = n
			} else {
				st.maxBytes = n
			}
		case "socket.timeout.ms":
			d, _, err := c.Milliseconds(k)
			if err != nil || d <= 0 {
				warn(k, "not a positive integer")
				continue
			}
			st.dialer.Timeout = d
			st.transport.DialTimeout = d
		case "enable.partition.eof":
			b, _, err := c.Bool(k)
			if err != nil {
				warn(k, err.Error())
				continue
			}
			st.partitionEOF = b
		case "security.protocol":
			protocol = strings.ToUpper(v)
		case "sasl.mechanism", "sasl.mechanisms":
			mechanism = strings.ToUpper(v)
		case "sasl.username":
			user = v
		case "sasl.password":
			password = c[k]
		default:
			warn(k, "not supported by the kafka-go driver")
		}
	}
	var useTLS, useSASL bool
	switch protocol {
	case "", "PLAINTEXT":
	case "SSL":
		useTLS = true
	case "SASL_PLAINTEXT":
		useSASL = true
	case "SASL_SSL":
		useTLS, useSASL = true, true
	default:
		warn("security.protocol", fmt.Sprintf("unsupported value %q", protocol))
	}
	if useTLS {
		st.dialer.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
		st.transport.TLS = st.dialer.TLS
	}
	if useSASL {
		m, err := newMechanism(mechanism, user, password)
		if err != nil {
			warn("sasl.mechanism", err.Error())
		} else {
			st.dialer.SASLMechanism = m
			st.transport.SASL = m
		}
	}
	return st
}

func newMechanism(name, user, password string) (sasl.Mechanism, error) {
	switch name {
	case "", "PLAIN":
		return plain.Mechanism{Username: user, Password: password}, nil
	case "SCRAM-SHA-256":
		return scram.Mechanism(scram.SHA256, user, password)
	case "SCRAM-SHA-512":
		return scram.Mechanism(scram.SHA512, user, password)
	default:
		return nil, fmt.Errorf("unsupported value %q", name)
	}
}

// Open returns a session. No connection is made until the first call that
// needs one.
func Open(config client.Config, env client.Env) (client.Session, error) {
	st := translate(config, env.Warn)
	if len(st.brokers) == 0 {
		return nil, kafkasource.Errorf("%s not set", client.KeyBootstrap)
	}
	return &Session{
		settings: st,
		logger:   env.Logger,
		client: &kafka.Client{
			Addr:      kafka.TCP(st.brokers...),
			Transport: st.transport,
		},
		cached: make(map[key]kafkasource.Watermarks),
	}, nil
}

type key struct {
	topic     string
	partition int32
}

// Session implements client.Session on kafka-go.
type Session struct {
	settings
	logger *zap.Logger
	client *kafka.Client
	//
	conn     *kafka.Conn
	batch    *kafka.Batch
	assigned kafkasource.TopicPartition
	position int64
	eofSent  bool
	cached   map[key]kafkasource.Watermarks
}

func brokerError(err error) error {
	if err == nil {
		return nil
	}
	code := kafkasource.CodeOther
	var ne net.Error
	if errors.Is(err, kafka.RequestTimedOut) || errors.Is(err, context.DeadlineExceeded) ||
		(errors.As(err, &ne) && ne.Timeout()) {
		code = kafkasource.CodeTimedOut
	}
	return &kafkasource.BrokerError{Code: code, Reason: err.Error()}
}

func (s *Session) dialLeader(tp kafkasource.TopicPartition) (*kafka.Conn, error) {
	var conn *kafka.Conn
	r := retrier.New(retrier.ExponentialBackoff(3, 100*time.Millisecond), nil)
	err := r.Run(func() error {
		var err error
		for _, b := range s.brokers {
			ctx, cancel := context.WithTimeout(context.Background(), s.dialer.Timeout)
			conn, err = s.dialer.DialLeader(ctx, "tcp", b, tp.Topic, int(tp.Partition))
			cancel()
			if err == nil {
				return nil
			}
			s.logger.Debug("error dialing leader", zap.String("broker", b), zap.Error(err))
		}
		return err
	})
	return conn, err
}

// Assign dials the partition leader and seeks to tp.Offset. A negative
// offset starts at the beginning of the partition.
func (s *Session) Assign(tp kafkasource.TopicPartition) error {
	if err := s.Unassign(); err != nil {
		s.logger.Warn("error closing leader connection", zap.Error(err))
	}
	conn, err := s.dialLeader(tp)
	if err != nil {
		return brokerError(err)
	}
	offset, whence := tp.Offset, kafka.SeekAbsolute
	if offset < 0 {
		offset, whence = 0, kafka.SeekStart
	}
	position, err := conn.Seek(offset, whence)
	if err != nil {
		conn.Close()
		return brokerError(err)
	}
	s.conn = conn
	s.assigned = tp
	s.position = position
	s.eofSent = false
	return nil
}

func (s *Session) Unassign() error {
	if s.conn == nil {
		return nil
	}
	var err error
	if s.batch != nil {
		err = s.batch.Close()
		s.batch = nil
	}
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	s.conn = nil
	return brokerError(err)
}

// Consume reads the next message of the current batch, fetching a new batch
// when the current one is exhausted, until timeout.
func (s *Session) Consume(timeout time.Duration) *kafkasource.Message {
	if s.conn == nil {
		time.Sleep(timeout)
		return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
	}
	deadline := time.Now().Add(timeout)
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return kafkasource.ErrorMessage(kafkasource.CodeOther, brokerError(err))
	}
	for {
		if s.batch == nil {
			s.batch = s.conn.ReadBatch(s.minBytes, s.maxBytes)
		}
		m, err := s.batch.ReadMessage()
		if err == nil {
			s.position = m.Offset + 1
			s.eofSent = false
			tp := kafkasource.TopicPartition{Topic: s.assigned.Topic, Partition: s.assigned.Partition, Offset: m.Offset}
			return kafkasource.NewMessage(tp, m.Value, nil)
		}
		hwm := s.batch.HighWaterMark()
		s.batch.Close()
		s.batch = nil
		s.cache(hwm)
		if !errors.Is(err, io.EOF) {
			be := brokerError(err).(*kafkasource.BrokerError)
			return kafkasource.ErrorMessage(be.Code, be)
		}
		if s.partitionEOF && !s.eofSent && hwm > 0 && s.position >= hwm {
			s.eofSent = true
			return kafkasource.ErrorMessage(kafkasource.CodePartitionEOF, kafkasource.ErrPartitionEOF)
		}
		if !time.Now().Before(deadline) {
			return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
		}
	}
}

func (s *Session) cache(high int64) {
	k := key{s.assigned.Topic, s.assigned.Partition}
	w, ok := s.cached[k]
	if !ok {
		w.Low = kafkasource.OffsetUnknown
	}
	w.High = high
	s.cached[k] = w
}

func (s *Session) Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error) {
	if s.group == "" {
		return nil, kafkasource.ErrMissingGroupID
	}
	req := &kafka.OffsetFetchRequest{GroupID: s.group, Topics: map[string][]int{}}
	for _, tp := range partitions {
		req.Topics[tp.Topic] = append(req.Topics[tp.Topic], int(tp.Partition))
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := s.client.OffsetFetch(ctx, req)
	if err != nil {
		return nil, brokerError(err)
	}
	if resp.Error != nil {
		return nil, brokerError(resp.Error)
	}
	out := make([]kafkasource.TopicPartition, len(partitions))
	for i, tp := range partitions {
		out[i] = tp
		out[i].Offset = kafkasource.OffsetUnknown
		for _, p := range resp.Topics[tp.Topic] {
			if p.Partition != int(tp.Partition) {
				continue
			}
			if p.Error != nil {
				return nil, brokerError(p.Error)
			}
			if p.CommittedOffset >= 0 {
				out[i].Offset = p.CommittedOffset
			}
		}
	}
	return out, nil
}

// CommitSync commits outside of any group generation and waits for the
// response.
func (s *Session) CommitSync(partitions []kafkasource.TopicPartition) error {
	if s.group == "" {
		return kafkasource.ErrMissingGroupID
	}
	req := &kafka.OffsetCommitRequest{GroupID: s.group, GenerationID: -1, Topics: map[string][]kafka.OffsetCommit{}}
	for _, tp := range partitions {
		req.Topics[tp.Topic] = append(req.Topics[tp.Topic], kafka.OffsetCommit{Partition: int(tp.Partition), Offset: tp.Offset})
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.dialer.Timeout)
	defer cancel()
	resp, err := s.client.OffsetCommit(ctx, req)
	if err != nil {
		return brokerError(err)
	}
	for _, ps := range resp.Topics {
		for _, p := range ps {
			if p.Error != nil {
				return brokerError(p.Error)
			}
		}
	}
	return nil
}

func (s *Session) GetWatermarkOffsets(topic string, partition int32) (int64, int64, error) {
	w, ok := s.cached[key{topic, partition}]
	if !ok {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, nil
	}
	return w.Low, w.High, nil
}

func (s *Session) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (int64, int64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	resp, err := s.client.ListOffsets(ctx, &kafka.ListOffsetsRequest{
		Topics: map[string][]kafka.OffsetRequest{
			topic: {kafka.FirstOffsetOf(int(partition)), kafka.LastOffsetOf(int(partition))},
		},
	})
	if err != nil {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, brokerError(err)
	}
	for _, p := range resp.Topics[topic] {
		if p.Partition != int(partition) {
			continue
		}
		if p.Error != nil {
			return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, brokerError(p.Error)
		}
		w := kafkasource.Watermarks{Low: p.FirstOffset, High: p.LastOffset}
		s.cached[key{topic, partition}] = w
		return w.Low, w.High, nil
	}
	return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown,
		kafkasource.NewBrokerError(kafkasource.CodeOther, "no offsets for partition in response")
}

func (s *Session) Close() error {
	err := s.Unassign()
	s.transport.CloseIdleConnections()
	return err
}
