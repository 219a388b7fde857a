package consumer

import (
	"errors"
	"testing"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client/clienttest"
)

func TestUnitAssignmentReplaces(t *testing.T) {
	s := clienttest.NewSession()
	a := &Assignment{Client: s}
	if _, ok := a.Current(); ok {
		t.Fatal("expected no assignment")
	}
	if err := a.Seek("foo", 0, 10); err != nil {
		t.Fatal(err)
	}
	if err := a.Seek("bar", 3, 20); err != nil {
		t.Fatal(err)
	}
	cur, ok := a.Current()
	if !ok || cur != (kafkasource.TopicPartition{Topic: "bar", Partition: 3, Offset: 20}) {
		t.Fatal(cur)
	}
	got, _ := s.Assigned()
	if got != cur {
		t.Fatal(got)
	}
	if err := a.Clear(); err != nil {
		t.Fatal(err)
	}
	if _, ok := a.Current(); ok {
		t.Fatal("expected no assignment")
	}
	if _, ok := s.Assigned(); ok {
		t.Fatal("expected session unassigned")
	}
}

func TestUnitAssignmentInvalid(t *testing.T) {
	s := clienttest.NewSession()
	a := &Assignment{Client: s}
	if err := a.Seek("", 0, 0); !errors.Is(err, kafkasource.ErrInvalidTopicPartition) {
		t.Fatal(err)
	}
	if err := a.Seek("foo", -1, 0); !errors.Is(err, kafkasource.ErrInvalidTopicPartition) {
		t.Fatal(err)
	}
	if len(s.Assignments) != 0 {
		t.Fatal(s.Assignments)
	}
}

func TestUnitAssignmentClearError(t *testing.T) {
	s := clienttest.NewSession()
	s.UnassignErr = kafkasource.ErrTimedOut
	a := &Assignment{Client: s}
	if err := a.Seek("foo", 0, 1); err != nil {
		t.Fatal(err)
	}
	err := a.Clear()
	if !errors.Is(err, kafkasource.ErrTimedOut) {
		t.Fatal(err)
	}
	// the failed clear leaves the assignment in place
	if _, ok := a.Current(); !ok {
		t.Fatal("expected assignment kept")
	}
}
