package client

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Keys with this prefix configure the handle and are never passed to the
// driver.
const handlePrefix = "source."

const (
	// KeyDriver names the registered driver to open. Defaults to
	// DefaultDriver.
	KeyDriver = "source.driver"
	// KeyDefaultTimeout is the poll and round trip timeout, in milliseconds,
	// for operations that do not take one explicitly.
	KeyDefaultTimeout = "source.default.timeout.ms"

	KeyGroupID   = "group.id"
	KeyBootstrap = "bootstrap.servers"
	KeyClientID  = "client.id"
)

const (
	DefaultDriver  = "confluent"
	DefaultTimeout = 10 * time.Second
)

// Config is a set of librdkafka style key/value pairs. Drivers translate the
// keys they understand and report the rest as warnings.
type Config map[string]string

// Clone returns a copy of c.
func (c Config) Clone() Config {
	out := make(Config, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Driver returns the configured driver name.
func (c Config) Driver() string {
	if d := strings.TrimSpace(c[KeyDriver]); d != "" {
		return d
	}
	return DefaultDriver
}

// GroupID returns group.id and whether it is set to a non empty value.
func (c Config) GroupID() (string, bool) {
	g := strings.TrimSpace(c[KeyGroupID])
	return g, g != ""
}

// Brokers splits bootstrap.servers on commas.
func (c Config) Brokers() []string {
	var brokers []string
	for _, b := range strings.Split(c[KeyBootstrap], ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// DefaultTimeout returns source.default.timeout.ms. A missing or malformed
// value yields DefaultTimeout and ok=false when the value was malformed.
func (c Config) DefaultTimeout() (d time.Duration, ok bool) {
	v, set := c[KeyDefaultTimeout]
	if !set {
		return DefaultTimeout, true
	}
	ms, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil || ms < 0 {
		return DefaultTimeout, false
	}
	return time.Duration(ms) * time.Millisecond, true
}

// DriverConfig returns the keys meant for the driver: everything without the
// "source." prefix.
func (c Config) DriverConfig() Config {
	out := make(Config, len(c))
	for k, v := range c {
		if strings.HasPrefix(k, handlePrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Keys returns the keys of c in sorted order, so that drivers apply and warn
// deterministically.
func (c Config) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Int parses key as an integer. ok is false when the key is missing; err is
// set when it is present but malformed.
func (c Config) Int(key string) (n int, ok bool, err error) {
	v, ok := c[key]
	if !ok {
		return 0, false, nil
	}
	n, err = strconv.Atoi(strings.TrimSpace(v))
	return n, true, err
}

// Bool parses key as a boolean, see Int.
func (c Config) Bool(key string) (b bool, ok bool, err error) {
	v, ok := c[key]
	if !ok {
		return false, false, nil
	}
	b, err = strconv.ParseBool(strings.TrimSpace(v))
	return b, true, err
}

// Milliseconds parses key as a millisecond duration, see Int.
func (c Config) Milliseconds(key string) (d time.Duration, ok bool, err error) {
	n, ok, err := c.Int(key)
	return time.Duration(n) * time.Millisecond, ok, err
}
