package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/philtrade/kafkasource"
	"github.com/philtrade/kafkasource/client"
	"github.com/philtrade/kafkasource/consumer"
)

// overlay collects repeated -X key=value flags.
type overlay []string

func (o *overlay) String() string {
	return strings.Join(*o, ",")
}

func (o *overlay) Set(v string) error {
	if !strings.Contains(v, "=") {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	*o = append(*o, v)
	return nil
}

// loadConfig reads the YAML map at path (if path is not empty), applies the
// overlays on top and fills in a random client.id if there is none. YAML
// scalars of any type are taken as their string form.
func loadConfig(path string, overlays []string) (client.Config, error) {
	config := client.Config{}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var raw map[string]interface{}
		if err := yaml.Unmarshal(b, &raw); err != nil {
			return nil, kafkasource.Wrapf(err, "error parsing %s", path)
		}
		for k, v := range raw {
			switch v.(type) {
			case map[string]interface{}, []interface{}:
				return nil, fmt.Errorf("error parsing %s: key %q is not a scalar", path, k)
			case nil:
				config[k] = ""
			default:
				config[k] = fmt.Sprint(v)
			}
		}
	}
	for _, o := range overlays {
		kv := strings.SplitN(o, "=", 2)
		config[strings.TrimSpace(kv[0])] = kv[1]
	}
	if strings.TrimSpace(config[client.KeyClientID]) == "" {
		config[client.KeyClientID] = "consume-range-" + uuid.NewString()
	}
	return config, nil
}

func topicPartition(w *consumer.Window) kafkasource.TopicPartition {
	return kafkasource.TopicPartition{Topic: w.Topic, Partition: w.Partition, Offset: w.Start}
}
