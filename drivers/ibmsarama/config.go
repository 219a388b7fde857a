// Package ibmsarama opens sessions on IBM/sarama. The librdkafka style keys
// the engine is configured with are translated to a *sarama.Config; keys
// with no sarama equivalent are reported as warnings.
//
//	import _ "github.com/philtrade/kafkasource/drivers/ibmsarama"
package ibmsarama

import (
	"crypto/sha256"
	"crypto/sha512"
	"crypto/tls"
	"fmt"
	"strings"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"
	"golang.org/x/net/proxy"

	"github.com/philtrade/kafkasource/client"
)

// settings is what the driver needs besides the *sarama.Config.
type settings struct {
	brokers      []string
	group        string
	partitionEOF bool
}

// translate builds the sarama config for c. Every key is either applied or
// passed to warn.
func translate(c client.Config, warn func(key, reason string)) (*sarama.Config, settings) {
	cfg := sarama.NewConfig()
	cfg.Consumer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	st := settings{brokers: c.Brokers()}
	st.group, _ = c.GroupID()
	//
	var protocol, mechanism string
	for _, k := range c.Keys() {
		v := strings.TrimSpace(c[k])
		switch k {
		case client.KeyBootstrap, client.KeyGroupID:
		case client.KeyClientID:
			cfg.ClientID = v
		case "client.rack":
			cfg.RackID = v
		case "auto.offset.reset":
			switch v {
			case "earliest", "smallest", "beginning":
				cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
			case "latest", "largest", "end":
				cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
			default:
				warn(k, fmt.Sprintf("unsupported value %q", v))
			}
		case "fetch.min.bytes":
			if n, ok := positive(c, k, warn); ok {
				cfg.Consumer.Fetch.Min = int32(n)
			}
		case "fetch.max.bytes":
			if n, ok := positive(c, k, warn); ok {
				cfg.Consumer.Fetch.Max = int32(n)
			}
		case "fetch.wait.max.ms":
			if d, _, err := c.Milliseconds(k); err != nil || d <= 0 {
				warn(k, "not a positive integer")
			} else {
				cfg.Consumer.MaxWaitTime = d
			}
		case "socket.timeout.ms":
			if d, _, err := c.Milliseconds(k); err != nil || d <= 0 {
				warn(k, "not a positive integer")
			} else {
				cfg.Net.DialTimeout = d
				cfg.Net.ReadTimeout = d
				cfg.Net.WriteTimeout = d
			}
		case "broker.version.fallback", "api.version":
			if version, err := sarama.ParseKafkaVersion(v); err != nil {
				warn(k, err.Error())
			} else {
				cfg.Version = version
			}
		case "enable.partition.eof":
			if b, _, err := c.Bool(k); err != nil {
				warn(k, err.Error())
			} else {
				st.partitionEOF = b
			}
		case "security.protocol":
			protocol = strings.ToUpper(v)
		case "sasl.mechanism", "sasl.mechanisms":
			mechanism = strings.ToUpper(v)
		case "sasl.username":
			cfg.Net.SASL.User = v
		case "sasl.password":
			cfg.Net.SASL.Password = c[k]
		case "socks5.proxy":
			dialer, err := proxy.SOCKS5("tcp", v, nil, proxy.Direct)
			if err != nil {
				warn(k, err.Error())
				continue
			}
			cfg.Net.Proxy.Enable = true
			cfg.Net.Proxy.Dialer = dialer
		default:
			warn(k, "not supported by the sarama driver")
		}
	}
	switch protocol {
	case "", "PLAINTEXT":
	case "SSL":
		cfg.Net.TLS.Enable = true
	case "SASL_PLAINTEXT":
		cfg.Net.SASL.Enable = true
	case "SASL_SSL":
		cfg.Net.SASL.Enable = true
		cfg.Net.TLS.Enable = true
	default:
		warn("security.protocol", fmt.Sprintf("unsupported value %q", protocol))
	}
	if cfg.Net.TLS.Enable {
		cfg.Net.TLS.Config = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.Net.SASL.Enable {
		applyMechanism(cfg, mechanism, warn)
	}
	return cfg, st
}

func positive(c client.Config, key string, warn func(key, reason string)) (int, bool) {
	n, _, err := c.Int(key)
	if err != nil || n <= 0 {
		warn(key, "not a positive integer")
		return 0, false
	}
	return n, true
}

func applyMechanism(cfg *sarama.Config, mechanism string, warn func(key, reason string)) {
	switch mechanism {
	case "", "PLAIN":
		cfg.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	case "SCRAM-SHA-256":
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: sha256.New}
		}
	case "SCRAM-SHA-512":
		cfg.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
		cfg.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
			return &scramClient{HashGeneratorFcn: sha512.New}
		}
	default:
		warn("sasl.mechanism", fmt.Sprintf("unsupported value %q", mechanism))
		cfg.Net.SASL.Enable = false
	}
}

// scramClient implements sarama.SCRAMClient with xdg-go/scram.
type scramClient struct {
	*scram.Client
	*scram.ClientConversation
	scram.HashGeneratorFcn
}

func (x *scramClient) Begin(userName, password, authzID string) (err error) {
	x.Client, err = x.HashGeneratorFcn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	x.ClientConversation = x.Client.NewConversation()
	return nil
}

func (x *scramClient) Step(challenge string) (response string, err error) {
	return x.ClientConversation.Step(challenge)
}

func (x *scramClient) Done() bool {
	return x.ClientConversation.Done()
}
