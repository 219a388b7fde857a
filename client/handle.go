// Package client owns the broker session. A Handle wraps the Session opened
// by a registered driver, applies the handle level configuration, keeps the
// list of configuration warnings and releases the session exactly once.
package client

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/rcrowley/go-metrics"
	"go.uber.org/zap"

	"github.com/philtrade/kafkasource"
)

// Warning records a config key that was not applied.
type Warning struct {
	Key    string `json:"key"`
	Reason string `json:"reason"`
}

// Handle is the sole owner of a broker session. All methods are safe to call
// from multiple goroutines but calls are serialized: the session underneath
// is not designed for concurrent use.
type Handle struct {
	driver   string
	timeout  time.Duration
	logger   *zap.Logger
	registry metrics.Registry
	defect   error
	// closed is set by the first Close, before it waits for mu, so that
	// calls made after Close fail fast even while an earlier call holds mu.
	closed atomic.Bool
	// warnings is only appended to by New.
	warnings []Warning
	//
	mu      sync.Mutex
	session Session
}

// New opens a session with the driver named by config (see KeyDriver).
// Unknown and malformed keys are logged as warnings and do not fail New. A
// missing group.id is a config defect: it is logged and New succeeds, unless
// WithStrictConfig is given.
func New(config Config, opts ...Option) (*Handle, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = metrics.NewRegistry()
	}
	h := &Handle{
		driver:   config.Driver(),
		logger:   o.logger,
		registry: o.registry,
	}
	timeout, ok := config.DefaultTimeout()
	if !ok {
		h.warn(KeyDefaultTimeout, "not a non negative integer, using default")
	}
	h.timeout = timeout
	if _, ok := config.GroupID(); !ok {
		h.defect = &kafkasource.ConfigError{Key: KeyGroupID, Reason: "required for committed offsets"}
		if o.strict {
			return nil, h.defect
		}
		h.logger.Warn("config defect", zap.String("key", KeyGroupID), zap.Error(h.defect))
	}
	open, ok := lookup(h.driver)
	if !ok {
		return nil, kafkasource.Errorf("driver %q (registered: %v): %w",
			h.driver, Drivers(), kafkasource.ErrUnknownDriver)
	}
	env := Env{
		Logger:   h.logger.With(zap.String("driver", h.driver)),
		Registry: h.registry,
		warn:     h.warn,
	}
	session, err := open(config.DriverConfig(), env)
	if err != nil {
		return nil, kafkasource.Wrapf(err, "error opening %s session", h.driver)
	}
	h.session = session
	return h, nil
}

func (h *Handle) warn(key, reason string) {
	h.logger.Warn("config key not applied", zap.String("key", key), zap.String("reason", reason))
	h.warnings = append(h.warnings, Warning{Key: key, Reason: reason})
}

// Warnings returns the config keys that were not applied.
func (h *Handle) Warnings() []Warning {
	return append([]Warning(nil), h.warnings...)
}

// ConfigDefect returns the deferred config defect, or nil.
func (h *Handle) ConfigDefect() error {
	return h.defect
}

// DefaultTimeout is the timeout for operations that do not take one.
func (h *Handle) DefaultTimeout() time.Duration {
	return h.timeout
}

func (h *Handle) Logger() *zap.Logger {
	return h.logger
}

func (h *Handle) Registry() metrics.Registry {
	return h.registry
}

// Driver returns the name of the driver the session was opened with.
func (h *Handle) Driver() string {
	return h.driver
}

// acquire locks the handle and returns the session, or ErrClosed. The caller
// must call h.mu.Unlock when err is nil.
func (h *Handle) acquire() (Session, error) {
	if h.closed.Load() {
		return nil, kafkasource.ErrClosed
	}
	h.mu.Lock()
	if h.closed.Load() || h.session == nil {
		h.mu.Unlock()
		return nil, kafkasource.ErrClosed
	}
	return h.session, nil
}

// Assign replaces the current assignment with tp, fetching from tp.Offset.
func (h *Handle) Assign(tp kafkasource.TopicPartition) error {
	s, err := h.acquire()
	if err != nil {
		return err
	}
	defer h.mu.Unlock()
	return s.Assign(tp)
}

func (h *Handle) Unassign() error {
	s, err := h.acquire()
	if err != nil {
		return err
	}
	defer h.mu.Unlock()
	return s.Unassign()
}

// Consume polls for one message for at most timeout. A negative timeout is
// treated as zero (return immediately).
func (h *Handle) Consume(timeout time.Duration) *kafkasource.Message {
	s, err := h.acquire()
	if err != nil {
		return kafkasource.ErrorMessage(kafkasource.CodeOther, err)
	}
	defer h.mu.Unlock()
	if timeout < 0 {
		timeout = 0
	}
	return s.Consume(timeout)
}

// Committed fails with an error matching kafkasource.ErrMissingGroupID if
// the handle was created without group.id.
func (h *Handle) Committed(partitions []kafkasource.TopicPartition, timeout time.Duration) ([]kafkasource.TopicPartition, error) {
	if h.defect != nil {
		return nil, kafkasource.Wrapf(h.defect, "committed offsets")
	}
	s, err := h.acquire()
	if err != nil {
		return nil, err
	}
	defer h.mu.Unlock()
	return s.Committed(partitions, timeout)
}

func (h *Handle) GetWatermarkOffsets(topic string, partition int32) (int64, int64, error) {
	s, err := h.acquire()
	if err != nil {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, err
	}
	defer h.mu.Unlock()
	return s.GetWatermarkOffsets(topic, partition)
}

func (h *Handle) QueryWatermarkOffsets(topic string, partition int32, timeout time.Duration) (int64, int64, error) {
	s, err := h.acquire()
	if err != nil {
		return kafkasource.OffsetUnknown, kafkasource.OffsetUnknown, err
	}
	defer h.mu.Unlock()
	return s.QueryWatermarkOffsets(topic, partition, timeout)
}

// CommitSync fails with an error matching kafkasource.ErrMissingGroupID if
// the handle was created without group.id.
func (h *Handle) CommitSync(partitions []kafkasource.TopicPartition) error {
	if h.defect != nil {
		return kafkasource.Wrapf(h.defect, "commit offsets")
	}
	s, err := h.acquire()
	if err != nil {
		return err
	}
	defer h.mu.Unlock()
	return s.CommitSync(partitions)
}

// Close releases the session. It waits at most timeout, for a call still in
// progress on the session to return and then for the session to close; past
// that it returns an error matching kafkasource.ErrTimedOut and the session
// finishes closing in the background. Either way the handle is closed
// afterwards and calling Close again is a no-op returning nil.
func (h *Handle) Close(timeout time.Duration) error {
	if !h.closed.CompareAndSwap(false, true) {
		return nil
	}
	done := make(chan error, 1)
	go func() {
		h.mu.Lock()
		s := h.session
		h.session = nil
		h.mu.Unlock()
		done <- s.Close()
	}()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-done:
		if err != nil {
			h.logger.Warn("error closing session", zap.Error(err))
			return kafkasource.Wrapf(err, "error closing %s session", h.driver)
		}
		return nil
	case <-timer.C:
		h.logger.Warn("timeout closing session", zap.Duration("timeout", timeout))
		return kafkasource.Errorf("closing %s session after %v: %w", h.driver, timeout, kafkasource.ErrTimedOut)
	}
}
