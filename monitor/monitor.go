// Copyright 2024 The Erigon Authors
// (original work)
// Copyright 2026 The Merge Recovery Authors
// (modifications)
// This file is part of Merge Recovery.
//
// Merge Recovery is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Merge Recovery is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Merge Recovery. If not, see <http://www.gnu.org/licenses/>.

// Package monitor mirrors recovery.Stat into Prometheus gauges and
// periodically pushes a JSON snapshot to ctx.monitor_endpoint, the
// out-of-scope statistics-persistence collaborator named in spec.md §1.
package monitor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/nexus-storage/mergerecover/recovery"
	"github.com/prometheus/client_golang/prometheus"
)

// Collector is the monitor/stats registry from spec.md §5: keyed per
// node or group, locked only at aggregation points (batch/node/group
// boundaries), never per operation.
type Collector struct {
	mu     sync.Mutex
	totals map[string]recovery.Stat

	skipped    *prometheus.GaugeVec
	read       *prometheus.GaugeVec
	readBytes  *prometheus.GaugeVec
	write      *prometheus.GaugeVec
	writeBytes *prometheus.GaugeVec
	removed    *prometheus.GaugeVec
	failed     *prometheus.GaugeVec
}

// NewCollector builds a Collector and registers its gauges with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		totals: make(map[string]recovery.Stat),
		skipped: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "skipped_total"}, []string{"scope"}),
		read: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "read_total"}, []string{"scope"}),
		readBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "read_bytes_total"}, []string{"scope"}),
		write: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "write_total"}, []string{"scope"}),
		writeBytes: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "written_bytes_total"}, []string{"scope"}),
		removed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "removed_total"}, []string{"scope"}),
		failed: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mergerecover", Name: "failed_total"}, []string{"scope"}),
	}
	reg.MustRegister(c.skipped, c.read, c.readBytes, c.write, c.writeBytes, c.removed, c.failed)
	return c
}

// Record folds stat into scope's running total and updates the gauges.
// scope is a node address or group id string, matching spec.md §5's "keyed
// per-node or per-group" requirement.
func (c *Collector) Record(scope string, stat recovery.Stat) {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.totals[scope].Add(stat)
	c.totals[scope] = total

	c.skipped.WithLabelValues(scope).Set(float64(total.Skipped))
	c.read.WithLabelValues(scope).Set(float64(total.Read))
	c.readBytes.WithLabelValues(scope).Set(float64(total.ReadBytes))
	c.write.WithLabelValues(scope).Set(float64(total.Write))
	c.writeBytes.WithLabelValues(scope).Set(float64(total.WrittenBytes))
	c.removed.WithLabelValues(scope).Set(float64(total.Removed))
	c.failed.WithLabelValues(scope).Set(float64(total.ReadFailed + total.WriteFailed + total.RemoveFailed))
}

// Snapshot returns the grand total across every recorded scope.
func (c *Collector) Snapshot() recovery.Stat {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total recovery.Stat
	for _, s := range c.totals {
		total = total.Add(s)
	}
	return total
}

// Publisher periodically POSTs the collector's grand total to an external
// endpoint, retrying transient failures with backoff.
type Publisher struct {
	Endpoint string
	Interval time.Duration

	client *retryablehttp.Client
}

// NewPublisher builds a Publisher posting to endpoint at interval.
func NewPublisher(endpoint string, interval time.Duration) *Publisher {
	client := retryablehttp.NewClient()
	client.Logger = nil
	return &Publisher{Endpoint: endpoint, Interval: interval, client: client}
}

// Run blocks, pushing c's snapshot every p.Interval until ctx is done. A
// zero Endpoint disables publishing entirely (no-op loop that still
// respects cancellation).
func (p *Publisher) Run(ctx context.Context, c *Collector) error {
	if p.Endpoint == "" {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(p.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.push(ctx, c.Snapshot()); err != nil {
				continue
			}
		}
	}
}

func (p *Publisher) push(ctx context.Context, stat recovery.Stat) error {
	body, err := json.Marshal(stat)
	if err != nil {
		return fmt.Errorf("monitor: marshal snapshot: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("monitor: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("monitor: push: %w", err)
	}
	defer resp.Body.Close()
	return nil
}
