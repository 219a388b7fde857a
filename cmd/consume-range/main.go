// Consume-range reads a bounded offset range of one partition and writes the
// payloads, one per line (or framed with -delimiter), to stdout or -out,
// optionally compressed. Other modes query watermarks and committed offsets,
// commit an offset, or stream from an offset until -min-bytes have been
// read. This is meant as an example of how to use the library.
//
//	consume-range -config consumer.yaml -topic foo -partition 0 -start 100 -end 200
//	consume-range -X bootstrap.servers=localhost:9092 -X group.id=g -mode watermarks -topic foo
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/philtrade/kafkasource/client"
	"github.com/philtrade/kafkasource/compression"
	"github.com/philtrade/kafkasource/consumer"
	"github.com/philtrade/kafkasource/datasource"
	_ "github.com/philtrade/kafkasource/drivers/confluent"
	_ "github.com/philtrade/kafkasource/drivers/ibmsarama"
	_ "github.com/philtrade/kafkasource/drivers/segmentio"
)

var (
	projectName  string
	buildVersion string
	buildTime    string
)

func main() {
	os.Exit(consumeRange(os.Args[1:], newLogger))
}

// consumeRange runs the command and returns the exit code. Deferred cleanup
// (closing the source, syncing the logger) has run by the time it returns.
func consumeRange(args []string, newLogger func(debug bool) (*zap.Logger, error)) int {
	flags := flag.NewFlagSet("consume-range", flag.ContinueOnError)
	var overlays overlay
	configPath := flags.String("config", "", "YAML file of client config keys")
	flags.Var(&overlays, "X", "key=value client config, repeatable, overrides -config")
	mode := flags.String("mode", "range", "range, watermarks, committed, commit or stream")
	topic := flags.String("topic", "", "")
	partition := flags.Int("partition", 0, "")
	start := flags.Int64("start", 0, "first offset (range, stream) or the offset to commit (commit)")
	end := flags.Int64("end", 0, "offset after the last one to read (range)")
	timeout := flags.Duration("timeout", 10*time.Second, "range read and query timeout")
	delimiter := flags.String("delimiter", "\n", "written after each payload (range)")
	minBytes := flags.Int("min-bytes", 1<<20, "bytes to read (stream)")
	cached := flags.Bool("cached", false, "return cached watermarks (watermarks)")
	codec := flags.String("codec", "none", fmt.Sprintf("output compression %v", compression.Names()))
	out := flags.String("out", "", "output file, default stdout")
	debug := flags.Bool("debug", false, "development logging")
	if err := flags.Parse(args); err != nil {
		return 2
	}
	//
	logger, err := newLogger(*debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}
	defer logger.Sync()
	logger.Info("starting",
		zap.String("project", projectName),
		zap.String("version", buildVersion),
		zap.String("built", buildTime),
		zap.String("go", runtime.Version()),
		zap.Strings("drivers", client.Drivers()),
	)
	config, err := loadConfig(*configPath, overlays)
	if err != nil {
		logger.Error("error loading config", zap.Error(err))
		return 1
	}
	c, err := compression.Lookup(*codec)
	if err != nil {
		logger.Error("bad codec", zap.Error(err))
		return 1
	}
	src, err := datasource.Open(config, client.WithLogger(logger))
	if err != nil {
		logger.Error("error opening source", zap.Error(err))
		return 1
	}
	defer func() {
		if err := src.Close(*timeout); err != nil {
			logger.Warn("error closing source", zap.Error(err))
		}
	}()
	w := &consumer.Window{Topic: *topic, Partition: int32(*partition), Start: *start, End: *end}
	if err := run(src, *mode, w, *timeout, *delimiter, *minBytes, *cached, c, *out); err != nil {
		logger.Error("failed", zap.String("mode", *mode), zap.Stringer("window", w), zap.Error(err))
		return 1
	}
	return 0
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(src *datasource.Source, mode string, w *consumer.Window, timeout time.Duration, delimiter string, minBytes int, cached bool, c compression.Codec, out string) error {
	switch mode {
	case "range":
		buf, err := src.ConsumeWindow(*w, timeout, []byte(delimiter))
		if err != nil {
			return err
		}
		if buf.Count() < w.Count() {
			src.Handle().Logger().Warn("partial range",
				zap.Stringer("window", w), zap.Int64("read", buf.Count()))
		}
		return write(out, buf.Bytes(), c)
	case "stream":
		if err := src.Handle().Assign(topicPartition(w)); err != nil {
			return err
		}
		return write(out, src.HostRead(minBytes), c)
	case "watermarks":
		wm, err := src.WatermarkOffsets(w.Topic, w.Partition, timeout, cached)
		if err != nil {
			return err
		}
		return writeJSON(wm)
	case "committed":
		offset, err := src.CommittedOffset(w.Topic, w.Partition)
		if err != nil {
			return err
		}
		return writeJSON(map[string]int64{"committed": offset})
	case "commit":
		return src.CommitOffset(w.Topic, w.Partition, w.Start)
	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func write(path string, b []byte, c compression.Codec) error {
	b, err := c.Compress(b)
	if err != nil {
		return err
	}
	var f io.Writer = os.Stdout
	if path != "" {
		file, err := os.Create(path)
		if err != nil {
			return err
		}
		defer file.Close()
		f = file
	}
	_, err = f.Write(b)
	return err
}

func writeJSON(v interface{}) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}
