package client_test

import (
	"errors"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/rcrowley/go-metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
	"github.com/philtrade/kafkasource/client/clienttest"
)

func TestUnitNewWarnsAndKeepsGoing(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := clienttest.NewSession()
	h, err := client.New(client.Config{
		client.KeyDriver:         clienttest.Driver(s),
		client.KeyGroupID:        "g",
		client.KeyDefaultTimeout: "eventually",
		"bogus.key":              "1",
	}, client.WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer h.Close(time.Second)
	w := h.Warnings()
	require.Len(t, w, 2)
	assert.Equal(t, client.KeyDefaultTimeout, w[0].Key)
	assert.Equal(t, "bogus.key", w[1].Key)
	assert.Equal(t, client.DefaultTimeout, h.DefaultTimeout())
	assert.Equal(t, 2, logs.FilterMessage("config key not applied").Len())
	assert.NoError(t, h.ConfigDefect())
}

func TestUnitNewMissingGroupIDIsDeferred(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	s := clienttest.NewSession()
	h, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s)}, client.WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer h.Close(time.Second)
	assert.True(t, errors.Is(h.ConfigDefect(), kafkasource.ErrMissingGroupID))
	assert.Equal(t, 1, logs.FilterMessage("config defect").Len())
	// the defect surfaces on the first offset ledger call
	_, err = h.Committed([]kafkasource.TopicPartition{{Topic: "foo"}}, time.Second)
	assert.True(t, errors.Is(err, kafkasource.ErrMissingGroupID), err)
	err = h.CommitSync([]kafkasource.TopicPartition{{Topic: "foo", Offset: 1}})
	assert.True(t, errors.Is(err, kafkasource.ErrMissingGroupID), err)
	assert.Zero(t, s.CommittedCalls)
	assert.Zero(t, s.Commits)
	// everything else works
	_, _, err = h.GetWatermarkOffsets("foo", 0)
	assert.NoError(t, err)
}

func TestUnitNewStrictConfig(t *testing.T) {
	s := clienttest.NewSession()
	_, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s)}, client.WithStrictConfig())
	var ce *kafkasource.ConfigError
	require.True(t, errors.As(err, &ce), err)
	assert.Equal(t, client.KeyGroupID, ce.Key)
}

func TestUnitNewUnknownDriver(t *testing.T) {
	_, err := client.New(client.Config{client.KeyDriver: "no-such-driver", client.KeyGroupID: "g"})
	assert.True(t, errors.Is(err, kafkasource.ErrUnknownDriver), err)
}

func TestUnitNewOpenError(t *testing.T) {
	boom := errors.New("boom")
	client.Register("test-open-error", func(client.Config, client.Env) (client.Session, error) {
		return nil, boom
	})
	_, err := client.New(client.Config{client.KeyDriver: "test-open-error", client.KeyGroupID: "g"})
	assert.True(t, errors.Is(err, boom), err)
}

func TestUnitRegisterTwicePanics(t *testing.T) {
	open := func(client.Config, client.Env) (client.Session, error) { return nil, nil }
	client.Register("test-register-twice", open)
	assert.Panics(t, func() { client.Register("test-register-twice", open) })
	assert.Panics(t, func() { client.Register("test-register-nil", nil) })
	assert.Contains(t, client.Drivers(), "test-register-twice")
}

func TestUnitCloseTwice(t *testing.T) {
	defer leaktest.Check(t)()
	s := clienttest.NewSession()
	h, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s), client.KeyGroupID: "g"})
	require.NoError(t, err)
	require.NoError(t, h.Close(time.Second))
	require.NoError(t, h.Close(time.Second))
	assert.EqualValues(t, 1, s.CloseCount())
	// closed handle refuses work without touching the session
	assert.True(t, errors.Is(h.Assign(kafkasource.TopicPartition{Topic: "foo"}), kafkasource.ErrClosed))
	m := h.Consume(time.Millisecond)
	assert.Equal(t, kafkasource.CodeOther, m.Code)
	assert.True(t, errors.Is(m.Err, kafkasource.ErrClosed))
	assert.Zero(t, s.Consumes)
}

func TestUnitCloseTimeoutIsSoft(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	s := clienttest.NewSession()
	s.CloseDelay = 200 * time.Millisecond
	h, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s), client.KeyGroupID: "g"})
	require.NoError(t, err)
	err = h.Close(10 * time.Millisecond)
	assert.True(t, errors.Is(err, kafkasource.ErrTimedOut), err)
	// released exactly once: the second close does not close again
	assert.NoError(t, h.Close(time.Second))
	time.Sleep(300 * time.Millisecond)
	assert.EqualValues(t, 1, s.CloseCount())
}

func TestUnitCloseDoesNotWaitForBlockedCall(t *testing.T) {
	defer leaktest.CheckTimeout(t, 5*time.Second)()
	s := clienttest.NewSession()
	s.UnassignDelay = time.Second
	h, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s), client.KeyGroupID: "g"})
	require.NoError(t, err)
	unassigned := make(chan error, 1)
	go func() { unassigned <- h.Unassign() }()
	time.Sleep(50 * time.Millisecond) // Unassign holds the handle now
	started := time.Now()
	err = h.Close(100 * time.Millisecond)
	assert.True(t, errors.Is(err, kafkasource.ErrTimedOut), err)
	assert.Less(t, time.Since(started), 500*time.Millisecond)
	// calls after Close fail at once instead of queueing behind Unassign
	started = time.Now()
	m := h.Consume(time.Second)
	assert.True(t, errors.Is(m.Err, kafkasource.ErrClosed))
	_, _, err = h.GetWatermarkOffsets("foo", 0)
	assert.True(t, errors.Is(err, kafkasource.ErrClosed))
	assert.Less(t, time.Since(started), 100*time.Millisecond)
	assert.NoError(t, <-unassigned)
	// the session is still released exactly once
	assert.Eventually(t, func() bool { return s.CloseCount() == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.NoError(t, h.Close(time.Second))
}

func TestUnitConsumeClampsNegativeTimeout(t *testing.T) {
	s := clienttest.NewSession()
	s.Clock = clienttest.NewClock()
	h, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s), client.KeyGroupID: "g"})
	require.NoError(t, err)
	defer h.Close(time.Second)
	m := h.Consume(-time.Second)
	assert.Equal(t, kafkasource.CodeTimedOut, m.Code)
	assert.Equal(t, []time.Duration{0}, s.PollTimeouts)
}

func TestUnitRegistryOption(t *testing.T) {
	r := metrics.NewRegistry()
	s := clienttest.NewSession()
	h, err := client.New(client.Config{client.KeyDriver: clienttest.Driver(s), client.KeyGroupID: "g"}, client.WithRegistry(r))
	require.NoError(t, err)
	defer h.Close(time.Second)
	assert.Equal(t, r, h.Registry())
}
