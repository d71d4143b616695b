// Package export writes published snapshots to external sinks and forwards
// observations from capture agents to a central radar.
package export

import (
	"context"

	"github.com/golang/glog"

	"github.com/hb9tf/wifiradar/metrics"
	"github.com/hb9tf/wifiradar/publish"
)

// countInfo is how often export counts are logged.
const countInfo = 1000

// Exporter consumes snapshots until the channel is closed or ctx is done.
type Exporter interface {
	Write(context.Context, <-chan publish.Snapshot) error
}

type counter struct {
	backend string
	counts  map[string]int
}

func newCounter(backend string) *counter {
	return &counter{
		backend: backend,
		counts: map[string]int{
			"error":   0,
			"success": 0,
			"total":   0,
		},
	}
}

func (c *counter) record(err error) {
	c.counts["total"] += 1
	if err != nil {
		c.counts["error"] += 1
		metrics.ExportOperations.WithLabelValues(c.backend, "error").Inc()
		glog.Warningf("error exporting snapshot to %s: %s\n", c.backend, err)
	} else {
		c.counts["success"] += 1
		metrics.ExportOperations.WithLabelValues(c.backend, "success").Inc()
	}
	if c.counts["total"]%countInfo == 0 {
		glog.Infof("%s export counts: %+v\n", c.backend, c.counts)
	}
}

// drain calls fn for every snapshot until snapshots is closed or ctx is done.
func drain(ctx context.Context, snapshots <-chan publish.Snapshot, c *counter, fn func(publish.Snapshot) error) error {
	for {
		select {
		case <-ctx.Done():
			glog.Infof("%s export stopped, counts: %+v\n", c.backend, c.counts)
			return ctx.Err()
		case snap, ok := <-snapshots:
			if !ok {
				glog.Infof("%s export done, counts: %+v\n", c.backend, c.counts)
				return nil
			}
			c.record(fn(snap))
		}
	}
}
