package consumer

import (
	"sync"

	"github.com/philtrade/kafkasource"
)

// Assigner is implemented by client.Handle.
type Assigner interface {
	Assign(tp kafkasource.TopicPartition) error
	Unassign() error
}

// Assignment tracks the single active assignment of a handle. Seek replaces
// whatever was assigned before; assignments are never added up.
type Assignment struct {
	Client Assigner
	//
	mu      sync.Mutex
	current *kafkasource.TopicPartition
}

// Seek assigns topic/partition with the fetch position at offset, replacing
// any prior assignment.
func (a *Assignment) Seek(topic string, partition int32, offset int64) error {
	tp := kafkasource.TopicPartition{Topic: topic, Partition: partition, Offset: offset}
	if err := tp.Validate(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.Client.Assign(tp); err != nil {
		// whatever the session is bound to now, it is not what we track
		a.current = nil
		return kafkasource.Wrapf(err, "error assigning %s/%d at offset %d", topic, partition, offset)
	}
	a.current = &tp
	return nil
}

// Clear removes the assignment. An error (typically a timeout) is returned
// to the caller, who may keep using the handle.
func (a *Assignment) Clear() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.Client.Unassign(); err != nil {
		return kafkasource.Wrapf(err, "error unassigning")
	}
	a.current = nil
	return nil
}

// Current returns the assignment made by the last successful Seek, with the
// offset it started from.
func (a *Assignment) Current() (kafkasource.TopicPartition, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return kafkasource.TopicPartition{}, false
	}
	return *a.current, true
}
