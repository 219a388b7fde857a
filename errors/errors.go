// Package errors provides errors that marshal to JSON strings, so that errors
// held in struct fields (results, log records) serialize to something useful
// instead of "{}".
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// New returns an instance of JsonError.
func New(message string) error {
	return &JsonError{error: errors.New(message)}
}

// Format is analogous to fmt.Errorf returning instance of JsonError.
func Format(format string, v ...interface{}) error {
	return &JsonError{fmt.Errorf(format, v...)}
}

// Wrapf annotates err with a formatted prefix ("prefix: err"). If err is nil,
// return nil.
func Wrapf(err error, format string, v ...interface{}) error {
	if err == nil {
		return nil
	}
	return &JsonError{fmt.Errorf(format+": %w", append(v, err)...)}
}

// JsonError wraps error and implements MarshalJSON.
type JsonError struct {
	error
}

func (e *JsonError) Unwrap() error {
	return e.error
}

func (e *JsonError) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Error())
}
