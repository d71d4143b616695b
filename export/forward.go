package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/hb9tf/wifiradar/link"
	"github.com/hb9tf/wifiradar/metrics"
)

const (
	contentType              = "application/json"
	CollectEndpoint          = "radar/v1/collect"
	defaultForwardBatch      = 100
	defaultForwardFlushDelay = 250 * time.Millisecond
)

// CollectResponse is what the radar server answers to a collect request.
type CollectResponse struct {
	Status           string `json:"status"`
	ObservationCount int    `json:"observationCount"`
}

// Forwarder sends observations of a capture agent to a radar server in
// batches. A partial batch is sent once FlushDelay passed since its first
// observation, so a quiet channel still reaches the server in time.
type Forwarder struct {
	Server     string
	BatchSize  int
	FlushDelay time.Duration
	Client     *http.Client
}

func (f *Forwarder) Forward(ctx context.Context, observations <-chan link.Observation) error {
	batchSize := defaultForwardBatch
	if f.BatchSize > 0 {
		batchSize = f.BatchSize
	}
	delay := defaultForwardFlushDelay
	if f.FlushDelay > 0 {
		delay = f.FlushDelay
	}
	flush := time.NewTicker(delay)
	defer flush.Stop()

	var pending []link.Observation
	send := func() {
		if len(pending) == 0 {
			return
		}
		if err := f.send(ctx, pending); err != nil {
			metrics.ExportOperations.WithLabelValues("forward", "error").Inc()
			glog.Warningf("error forwarding %d observations: %s\n", len(pending), err)
		} else {
			metrics.ExportOperations.WithLabelValues("forward", "success").Inc()
		}
		pending = nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-flush.C:
			send()
		case o, ok := <-observations:
			if !ok {
				send()
				return nil
			}
			pending = append(pending, o)
			if len(pending) >= batchSize {
				send()
			}
		}
	}
}

func (f *Forwarder) send(ctx context.Context, batch []link.Observation) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("error marshalling observations to JSON: %w", err)
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(f.Server, "/"), CollectEndpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("server answered %s: %s", resp.Status, strings.TrimSpace(string(respBody)))
	}
	collected := CollectResponse{}
	if err := json.Unmarshal(respBody, &collected); err != nil {
		glog.V(1).Infof("submitted %d observations to server %s, unable to parse its reply: %s", len(batch), f.Server, err)
		return nil
	}
	glog.V(1).Infof("submitted %d observations to server %s", collected.ObservationCount, f.Server)
	return nil
}
