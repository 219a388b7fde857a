package datasource

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/philtrade/kafkasource/client"
	"github.com/philtrade/kafkasource/consumer"
)

// ConsumeRanges reads each window concurrently, with a Source of its own,
// and returns the buffers in the order of windows. A configured client.id
// gets the window index appended ("id-0", "id-1", ...) so that the handles
// are told apart on the broker. Each Source is closed
// before ConsumeRanges returns. The first error (open or seek) cancels the
// windows that have not started yet and is returned.
func ConsumeRanges(ctx context.Context, config client.Config, windows []consumer.Window, timeout time.Duration, delimiter []byte, opts ...client.Option) ([]*consumer.Buffer, error) {
	out := make([]*consumer.Buffer, len(windows))
	g, ctx := errgroup.WithContext(ctx)
	for i := range windows {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := config.Clone()
			if id := c[client.KeyClientID]; id != "" {
				c[client.KeyClientID] = fmt.Sprintf("%s-%d", id, i)
			}
			s, err := Open(c, opts...)
			if err != nil {
				return err
			}
			defer func() {
				if err := s.Close(timeout); err != nil {
					s.logger.Warn("error closing source", zap.Stringer("window", windows[i]), zap.Error(err))
				}
			}()
			buf, err := s.ConsumeWindow(windows[i], timeout, delimiter)
			if err != nil {
				return err
			}
			out[i] = buf
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
