package consumer

import "fmt"

// Window is the half-open offset interval [Start, End) of one partition.
type Window struct {
	Topic     string
	Partition int32
	Start     int64
	End       int64
}

// Count is the number of messages in the window; zero when Start >= End.
func (w Window) Count() int64 {
	if w.End <= w.Start {
		return 0
	}
	return w.End - w.Start
}

func (w Window) String() string {
	return fmt.Sprintf("%s/%d[%d,%d)", w.Topic, w.Partition, w.Start, w.End)
}
