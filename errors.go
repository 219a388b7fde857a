package kafkasource

import (
	"encoding/json"
	"fmt"

	"github.com/philtrade/kafkasource/errors"
)

// Errorf is like fmt.Errorf but the returned error marshals to a JSON string.
func Errorf(format string, v ...interface{}) error {
	return errors.Format(format, v...)
}

// Wrapf annotates err with a formatted prefix, keeping it matchable with
// errors.Is and errors.As. If err is nil, return nil.
func Wrapf(err error, format string, v ...interface{}) error {
	return errors.Wrapf(err, format, v...)
}

var (
	// ErrClosed is returned by every handle operation after Close.
	ErrClosed = errors.New("handle is closed")
	// ErrTimedOut wraps soft failures: unassign or close did not finish in
	// time. The handle remains safe to use (or is already released).
	ErrTimedOut = errors.New("timed out")
	// ErrMissingGroupID is the deferred config defect: offset ledger calls
	// fail with it when the handle was created without group.id.
	ErrMissingGroupID = errors.New("group.id is not set")
	// ErrInvalidTopicPartition is returned when a topic partition record
	// cannot be built from the arguments.
	ErrInvalidTopicPartition = errors.New("invalid topic partition")
	// ErrUnknownDriver is returned by client.New for an unregistered driver.
	ErrUnknownDriver = errors.New("unknown driver")
)

// ErrorCode classifies the outcome of a broker call.
type ErrorCode int8

const (
	CodeNone ErrorCode = iota
	CodeTimedOut
	CodePartitionEOF
	CodeOther
)

func (c ErrorCode) String() string {
	switch c {
	case CodeNone:
		return "NONE"
	case CodeTimedOut:
		return "TIMED_OUT"
	case CodePartitionEOF:
		return "PARTITION_EOF"
	case CodeOther:
		return "OTHER"
	}
	return fmt.Sprintf("CODE(%d)", int8(c))
}

// ErrPartitionEOF matches (with errors.Is) any BrokerError with code
// CodePartitionEOF, whatever its reason text.
var ErrPartitionEOF = &BrokerError{Code: CodePartitionEOF}

// BrokerError is a failure reported by the broker client. Reason is the
// broker's own diagnostic text.
type BrokerError struct {
	Code   ErrorCode
	Reason string
}

// NewBrokerError returns a *BrokerError.
func NewBrokerError(code ErrorCode, reason string) error {
	return &BrokerError{Code: code, Reason: reason}
}

func (e *BrokerError) Error() string {
	if e.Reason == "" {
		return "broker error " + e.Code.String()
	}
	return fmt.Sprintf("broker error %s: %s", e.Code, e.Reason)
}

// Is reports whether target is a BrokerError with the same code and either
// no reason or the same reason.
func (e *BrokerError) Is(target error) bool {
	t, ok := target.(*BrokerError)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Reason == "" || t.Reason == e.Reason)
}

func (e *BrokerError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}

// ConfigError is a configuration defect. It is only returned at creation time
// when strict config checking is enabled; otherwise defects are logged.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %q: %s", e.Key, e.Reason)
}

// Is makes a ConfigError for group.id match ErrMissingGroupID.
func (e *ConfigError) Is(target error) bool {
	return target == ErrMissingGroupID && e.Key == "group.id"
}

func (e *ConfigError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}
