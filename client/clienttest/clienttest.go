// Package clienttest provides an in-memory client.Session for tests. The
// session serves messages from per partition logs, keeps committed offsets
// in a map, and can run against a fake clock so time budgets are
// deterministic.
package clienttest

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
)

// Clock is a manually advanced clock. The zero value starts at the Unix
// epoch.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Unix(1600000000, 0)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Partition is the log of one partition. Messages[i] has offset Low+i.
type Partition struct {
	Low      int64
	Messages [][]byte
	// Deliverable, if >0, is the number of messages from the assigned offset
	// that Consume will return before it starts timing out. Simulates a slow
	// broker.
	Deliverable int
}

func (p *Partition) high() int64 {
	return p.Low + int64(len(p.Messages))
}

type key struct {
	topic     string
	partition int32
}

// Session is a fake client.Session. Set fields before use; counters are
// safe to read after the calls being counted have returned.
type Session struct {
	// Clock, if set, is advanced instead of sleeping.
	Clock *Clock
	// Latency is how long each delivered message takes.
	Latency time.Duration
	// PartitionEOF makes Consume return a CodePartitionEOF message once when
	// the end of the log is reached, and QueryWatermarkOffsets report
	// ErrPartitionEOF together with valid watermarks.
	PartitionEOF bool
	// QueryErr is returned by QueryWatermarkOffsets if set.
	QueryErr error
	// CommitErr is returned by CommitSync if set.
	CommitErr error
	// UnassignErr is returned by Unassign if set.
	UnassignErr error
	// UnassignDelay makes Unassign block for that long (real time, the Clock
	// is not used).
	UnassignDelay time.Duration
	// CloseDelay delays Close.
	CloseDelay time.Duration
	// Interleave, if set, is called before every Consume. Returning a non nil
	// message makes Consume return it instead of reading the log.
	Interleave func(n int) *kafkasource.Message
	//
	mu         sync.Mutex
	partitions map[key]*Partition
	committed  map[key]int64
	cached     map[key]kafkasource.Watermarks
	assigned   *kafkasource.TopicPartition
	position   int64
	delivered  int
	eofSent    bool
	//
	PollTimeouts   []time.Duration
	Assignments    []kafkasource.TopicPartition
	Consumes       int32
	Queries        int32
	CachedQueries  int32
	CommittedCalls int32
	CommittedSizes []int
	Commits        int32
	Released       int32
	Closes         int32
}

// NewSession returns an empty session.
func NewSession() *Session {
	return &Session{
		partitions: make(map[key]*Partition),
		committed:  make(map[key]int64),
		cached:     make(map[key]kafkasource.Watermarks),
	}
}

// SetPartition installs the log for topic/partition.
func (s *Session) SetPartition(topic string, partition int32, p *Partition) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.partitions[key{topic, partition}] = p
	return s
}

// SetStrings installs a log of string payloads starting at low.
func (s *Session) SetStrings(topic string, partition int32, low int64, payloads ...string) *Session {
	p := &Partition{Low: low}
	for _, v := range payloads {
		p.Messages = append(p.Messages, []byte(v))
	}
	return s.SetPartition(topic, partition, p)
}

func (s *Session) sleep(d time.Duration) {
	if s.Clock != nil {
		s.Clock.Advance(d)
		return
	}
	time.Sleep(d)
}

func (s *Session) Assign(tp kafkasource.TopicPartition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := tp
	s.assigned = &a
	s.position = tp.Offset
	s.delivered = 0
	s.eofSent = false
	s.Assignments = append(s.Assignments, tp)
	return nil
}

func (s *Session) Unassign() error {
	if s.UnassignDelay > 0 {
		time.Sleep(s.UnassignDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UnassignErr != nil {
		return s.UnassignErr
	}
	s.assigned = nil
	return nil
}

// Assigned returns the current assignment.
func (s *Session) Assigned() (kafkasource.TopicPartition, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.assigned == nil {
		return kafkasource.TopicPartition{}, false
	}
	return *s.assigned, true
}

func (s *Session) Consume(timeout time.Duration) *kafkasource.Message {
	n := int(atomic.AddInt32(&s.Consumes, 1))
	s.mu.Lock()
	s.PollTimeouts = append(s.PollTimeouts, timeout)
	if s.Interleave != nil {
		if m := s.Interleave(n); m != nil {
			s.mu.Unlock()
			return m
		}
	}
	if s.assigned == nil {
		s.mu.Unlock()
		s.sleep(timeout)
		return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
	}
	tp := *s.assigned
	p := s.partitions[key{tp.Topic, tp.Partition}]
	if p == nil {
		s.mu.Unlock()
		return kafkasource.ErrorMessage(kafkasource.CodeOther,
			kafkasource.NewBrokerError(kafkasource.CodeOther, "Broker: Unknown topic or partition"))
	}
	s.cached[key{tp.Topic, tp.Partition}] = kafkasource.Watermarks{Low: p.Low, High: p.high()}
	available := s.position >= p.Low && s.position < p.high()
	if p.Deliverable > 0 && s.delivered >= p.Deliverable {
		available = false
	}
	if !available {
		atEnd := s.position == p.high()
		sendEOF := s.PartitionEOF && atEnd && !s.eofSent
		if sendEOF {
			s.eofSent = true
		}
		s.mu.Unlock()
		if sendEOF {
			return kafkasource.ErrorMessage(kafkasource.CodePartitionEOF, nil)
		}
		s.sleep(timeout)
		return kafkasource.ErrorMessage(kafkasource.CodeTimedOut, nil)
	}
	payload := p.Messages[s.position-p.Low]
	tp.Offset = s.position
	s.position++
	s.delivered++
	s.mu.Unlock()
	s.sleep(s.Latency)
	buf := append([]byte(nil), payload...)
	return kafkasource.NewMessage(tp, buf, func() { atomic.AddInt32(&s.Released, 1) })
}

func (s *Session) Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error) {
	atomic.AddInt32(&s.CommittedCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CommittedSizes = append(s.CommittedSizes, len(partitions))
	out := make([]kafkasource.TopicPartition, len(partitions))
	for i, tp := range partitions {
		out[i] = tp
		out[i].Offset = kafkasource.OffsetUnknown
		if o, ok := s.committed[key{tp.Topic, tp.Partition}]; ok {
			out[i].Offset = o
		}
	}
	return out, nil
}

func (s *Session) GetWatermarkOffsets(topic string, partition int32) (int64, int64, error) {
	atomic.AddInt32(&s.CachedQueries, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.cached[key{topic, partition}]
	if !ok {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, nil
	}
	return w.Low, w.High, nil
}

func (s *Session) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (int64, int64, error) {
	atomic.AddInt32(&s.Queries, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, s.QueryErr
	}
	p := s.partitions[key{topic, partition}]
	if p == nil {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown,
			kafkasource.NewBrokerError(kafkasource.CodeOther, "Broker: Unknown topic or partition")
	}
	w := kafkasource.Watermarks{Low: p.Low, High: p.high()}
	s.cached[key{topic, partition}] = w
	if s.PartitionEOF {
		return w.Low, w.High, kafkasource.NewBrokerError(kafkasource.CodePartitionEOF, "Broker: No more messages")
	}
	return w.Low, w.High, nil
}

func (s *Session) CommitSync(partitions []kafkasource.TopicPartition) error {
	atomic.AddInt32(&s.Commits, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CommitErr != nil {
		return s.CommitErr
	}
	for _, tp := range partitions {
		s.committed[key{tp.Topic, tp.Partition}] = tp.Offset
	}
	return nil
}

// CloseCount returns Closes. Safe to call while a Close is in progress.
func (s *Session) CloseCount() int32 {
	return atomic.LoadInt32(&s.Closes)
}

func (s *Session) Close() error {
	atomic.AddInt32(&s.Closes, 1)
	if s.CloseDelay > 0 {
		time.Sleep(s.CloseDelay)
	}
	return nil
}

var driverSeq int32

// Driver registers s under a new unique driver name and returns the name.
// The opener warns about every config key with the "bogus." prefix.
func Driver(s *Session) string {
	name := fmt.Sprintf("clienttest-%d", atomic.AddInt32(&driverSeq, 1))
	client.Register(name, func(config client.Config, env client.Env) (client.Session, error) {
		for _, k := range config.Keys() {
			if strings.HasPrefix(k, "bogus.") {
				env.Warn(k, "unknown key")
			}
		}
		return s, nil
	})
	return name
}

// Drivers registers a new driver returning a fresh session from newSession
// on every open, so that each handle gets its own session.
func Drivers(newSession func() *Session) string {
	name := fmt.Sprintf("clienttest-%d", atomic.AddInt32(&driverSeq, 1))
	client.Register(name, func(config client.Config, env client.Env) (client.Session, error) {
		return newSession(), nil
	})
	return name
}
