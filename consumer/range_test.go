package consumer

import (
	"errors"
	"testing"
	"time"

	"github.com/rcrowley/go-metrics"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client/clienttest"
)

func newTestRange(s *clienttest.Session) *Range {
	if s.Clock == nil {
		s.Clock = clienttest.NewClock()
	}
	return &Range{
		Client:   s,
		Registry: metrics.NewRegistry(),
		Now:      s.Clock.Now,
	}
}

func TestUnitRangeFullWindow(t *testing.T) {
	s := clienttest.NewSession().SetStrings("foo", 0, 100, "a", "b", "c", "d", "e")
	r := newTestRange(s)
	w := Window{Topic: "foo", Partition: 0, Start: 100, End: 105}
	buf, err := r.Consume(w, 5000*time.Millisecond, []byte("\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s := string(buf.Bytes()); s != "a\nb\nc\nd\ne\n" {
		t.Fatalf("%q", s)
	}
	if n := buf.Count(); n != 5 {
		t.Fatal(n)
	}
	if n := s.Consumes; n != 5 {
		t.Fatal("expected exactly one poll per message", n)
	}
	if n := s.Released; n != 5 {
		t.Fatal("expected every message released", n)
	}
	a, ok := s.Assigned()
	if !ok || a.Offset != 100 || a.Topic != "foo" {
		t.Fatal(a, ok)
	}
}

func TestUnitRangeMiddleOfLog(t *testing.T) {
	s := clienttest.NewSession().SetStrings("foo", 2, 0, "a", "b", "c", "d", "e")
	r := newTestRange(s)
	buf, err := r.Consume(Window{Topic: "foo", Partition: 2, Start: 1, End: 3}, time.Second, []byte("|"))
	if err != nil {
		t.Fatal(err)
	}
	if s := string(buf.Bytes()); s != "b|c|" {
		t.Fatalf("%q", s)
	}
}

func TestUnitRangePartialOnDeadline(t *testing.T) {
	s := clienttest.NewSession()
	s.SetPartition("foo", 0, &clienttest.Partition{
		Low:         100,
		Messages:    [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")},
		Deliverable: 2,
	})
	r := newTestRange(s)
	start := s.Clock.Now()
	buf, err := r.Consume(Window{Topic: "foo", Partition: 0, Start: 100, End: 105}, 5000*time.Millisecond, []byte("\n"))
	if err != nil {
		t.Fatal("partial read is not an error", err)
	}
	if s := string(buf.Bytes()); s != "a\nb\n" {
		t.Fatalf("%q", s)
	}
	if n := buf.Count(); n != 2 {
		t.Fatal(n)
	}
	if d := s.Clock.Now().Sub(start); d != 5000*time.Millisecond {
		t.Fatal(d)
	}
	if c := metrics.GetOrRegisterCounter("range-partial", r.Registry).Count(); c != 1 {
		t.Fatal(c)
	}
	if c := metrics.GetOrRegisterMeter("range-messages", r.Registry).Count(); c != 2 {
		t.Fatal(c)
	}
}

func TestUnitRangeEmptyWindowDoesNotPoll(t *testing.T) {
	s := clienttest.NewSession().SetStrings("foo", 0, 0, "a")
	r := newTestRange(s)
	for _, w := range []Window{
		{Topic: "foo", Start: 7, End: 7},
		{Topic: "foo", Start: 9, End: 3},
	} {
		buf, err := r.Consume(w, time.Second, []byte("\n"))
		if err != nil {
			t.Fatal(err)
		}
		if buf.Len() != 0 || buf.Count() != 0 {
			t.Fatalf("%q", buf.Bytes())
		}
	}
	if s.Consumes != 0 {
		t.Fatal(s.Consumes)
	}
	if len(s.Assignments) != 0 {
		t.Fatal(s.Assignments)
	}
}

// every poll must get the time left until the deadline, not the total and
// not a running subtraction of per poll durations
func TestUnitRangePollTimeoutFromDeadline(t *testing.T) {
	s := clienttest.NewSession().SetStrings("foo", 0, 0, "a", "b", "c")
	s.Latency = 300 * time.Millisecond
	r := newTestRange(s)
	buf, err := r.Consume(Window{Topic: "foo", Start: 0, End: 3}, time.Second, []byte("\n"))
	if err != nil {
		t.Fatal(err)
	}
	if buf.Count() != 3 {
		t.Fatal(buf.Count())
	}
	want := []time.Duration{1000 * time.Millisecond, 700 * time.Millisecond, 400 * time.Millisecond}
	if len(s.PollTimeouts) != len(want) {
		t.Fatal(s.PollTimeouts)
	}
	for i := range want {
		if s.PollTimeouts[i] != want[i] {
			t.Fatal(i, s.PollTimeouts)
		}
	}
}

// a slow last message can push past the deadline by one poll; the message
// still counts
func TestUnitRangeOverrunByOnePoll(t *testing.T) {
	s := clienttest.NewSession().SetStrings("foo", 0, 0, "a", "b", "c")
	s.Latency = 600 * time.Millisecond
	r := newTestRange(s)
	start := s.Clock.Now()
	buf, err := r.Consume(Window{Topic: "foo", Start: 0, End: 3}, time.Second, []byte("\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s := string(buf.Bytes()); s != "a\nb\n" {
		t.Fatalf("%q", s)
	}
	if d := s.Clock.Now().Sub(start); d != 1200*time.Millisecond {
		t.Fatal(d)
	}
}

func TestUnitRangeDiscardsErrors(t *testing.T) {
	s := clienttest.NewSession().SetStrings("foo", 0, 0, "a", "b")
	s.Interleave = func(n int) *kafkasource.Message {
		switch n {
		case 1:
			return kafkasource.ErrorMessage(kafkasource.CodeOther, errors.New("Broker: Not leader for partition"))
		case 3:
			return kafkasource.ErrorMessage(kafkasource.CodePartitionEOF, nil)
		}
		return nil
	}
	r := newTestRange(s)
	buf, err := r.Consume(Window{Topic: "foo", Start: 0, End: 2}, time.Second, []byte(","))
	if err != nil {
		t.Fatal(err)
	}
	if s := string(buf.Bytes()); s != "a,b," {
		t.Fatalf("%q", s)
	}
	if s.Consumes != 4 {
		t.Fatal(s.Consumes)
	}
}

type closedClient struct {
	polls int
}

func (*closedClient) Assign(kafkasource.TopicPartition) error { return nil }
func (*closedClient) Unassign() error                         { return nil }
func (c *closedClient) Consume(time.Duration) *kafkasource.Message {
	c.polls++
	return kafkasource.ErrorMessage(kafkasource.CodeOther, kafkasource.ErrClosed)
}

func TestUnitRangeStopsOnClosedHandle(t *testing.T) {
	c := &closedClient{}
	r := &Range{Client: c}
	buf, err := r.Consume(Window{Topic: "foo", Start: 0, End: 10}, time.Hour, []byte("\n"))
	if err != nil {
		t.Fatal(err)
	}
	if buf.Count() != 0 || c.polls != 1 {
		t.Fatal(buf.Count(), c.polls)
	}
}

type failingAssigner struct{ closedClient }

func (*failingAssigner) Assign(kafkasource.TopicPartition) error {
	return kafkasource.NewBrokerError(kafkasource.CodeOther, "Local: Erroneous state")
}

func TestUnitRangeSeekError(t *testing.T) {
	c := &failingAssigner{}
	r := &Range{Client: c}
	_, err := r.Consume(Window{Topic: "foo", Start: 0, End: 10}, time.Hour, []byte("\n"))
	var be *kafkasource.BrokerError
	if !errors.As(err, &be) {
		t.Fatal(err)
	}
	if c.polls != 0 {
		t.Fatal(c.polls)
	}
}

// each call re-assigns: a second range on another partition must not see
// the first assignment
func TestUnitRangeReassigns(t *testing.T) {
	s := clienttest.NewSession().
		SetStrings("foo", 0, 0, "a", "b").
		SetStrings("foo", 1, 10, "x", "y")
	r := newTestRange(s)
	if _, err := r.Consume(Window{Topic: "foo", Partition: 0, Start: 0, End: 2}, time.Second, []byte("\n")); err != nil {
		t.Fatal(err)
	}
	buf, err := r.Consume(Window{Topic: "foo", Partition: 1, Start: 11, End: 12}, time.Second, []byte("\n"))
	if err != nil {
		t.Fatal(err)
	}
	if s := string(buf.Bytes()); s != "y\n" {
		t.Fatalf("%q", s)
	}
	if len(s.Assignments) != 2 {
		t.Fatal(s.Assignments)
	}
	if cur, _ := r.Assignment.Current(); cur.Partition != 1 || cur.Offset != 11 {
		t.Fatal(cur)
	}
}
