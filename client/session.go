package client

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
)

// Session is the broker client capability the engine is built on. Drivers
// implement it on top of a Kafka client library. A session is used by one
// goroutine at a time; Handle enforces that.
//
// Consume never returns nil: a poll that ends without a message returns a
// message with Code CodeTimedOut. QueryWatermarkOffsets may return valid low
// and high together with an error matching kafkasource.ErrPartitionEOF.
// Committed returns an offset of kafkasource.OffsetUnknown for partitions the
// group never committed.
type Session interface {
	Assign(tp kafkasource.TopicPartition) error
	Unassign() error
	Consume(timeout time.Duration) *kafkasource.Message
	Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error)
	GetWatermarkOffsets(topic string, partition int32) (low, high int64, err error)
	QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (low, high int64, err error)
	CommitSync(partitions []kafkasource.TopicPartition) error
	Close() error
}

// Env carries the ambient services a driver may use when opening a session.
type Env struct {
	Logger   *zap.Logger
	Registry metrics.Registry
	warn     func(key, reason string)
}

// NewEnv returns an Env reporting warnings to warn, which may be nil.
// Handle builds its own; NewEnv is for opening sessions directly.
func NewEnv(logger *zap.Logger, registry metrics.Registry, warn func(key, reason string)) Env {
	if logger == nil {
		logger = zap.NewNop()
	}
	if registry == nil {
		registry = metrics.NewRegistry()
	}
	return Env{Logger: logger, Registry: registry, warn: warn}
}

// Warn records that key could not be applied. Unknown and malformed keys are
// never fatal.
func (e Env) Warn(key, reason string) {
	if e.warn != nil {
		e.warn(key, reason)
	}
}

// Opener opens a session for the driver keys of a Config (the "source."
// keys are already removed).
type Opener func(config Config, env Env) (Session, error)

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Opener)
)

// Register makes a driver available under name. It panics if open is nil or
// if name is already registered. Drivers call it from init.
func Register(name string, open Opener) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if open == nil {
		panic("client: Register opener is nil")
	}
	if _, dup := drivers[name]; dup {
		panic(fmt.Sprintf("client: Register called twice for driver %q", name))
	}
	drivers[name] = open
}

// Drivers returns the sorted names of registered drivers.
func Drivers() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookup(name string) (Opener, bool) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	open, ok := drivers[name]
	return open, ok
}
