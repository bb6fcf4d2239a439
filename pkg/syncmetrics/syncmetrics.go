// Copyright 2018-2026 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package syncmetrics instruments the replication engine: package-level
// collectors registered once, exported over HTTP for Prometheus to
// scrape. Measurement goes through OpenCensus's stats/views, with
// contrib.go.opencensus.io/exporter/prometheus bridging the two.
package syncmetrics

import (
	"context"
	"net/http"

	"contrib.go.opencensus.io/exporter/prometheus"
	"go.opencensus.io/stats"
	"go.opencensus.io/stats/view"
	"go.opencensus.io/tag"
)

// Tag keys shared across measures.
var (
	KeyRemote, _ = tag.NewKey("remote")
	KeyMode, _   = tag.NewKey("mode") // "push" or "pull"
)

// Measures recorded by the replication engine.
var (
	RevsSent      = stats.Int64("revsync/revs_sent", "revisions sent", stats.UnitDimensionless)
	RevsRecv      = stats.Int64("revsync/revs_received", "revisions received", stats.UnitDimensionless)
	BytesOut      = stats.Int64("revsync/bytes_out", "bytes sent on the wire", stats.UnitBytes)
	BytesIn       = stats.Int64("revsync/bytes_in", "bytes received on the wire", stats.UnitBytes)
	Conflicts     = stats.Int64("revsync/conflicts", "documents that landed in conflict", stats.UnitDimensionless)
	CheckpointLag = stats.Float64("revsync/checkpoint_lag_seconds", "time since last checkpoint save", stats.UnitSeconds)
	Purges        = stats.Int64("revsync/purges", "documents purged on revoked access", stats.UnitDimensionless)
)

var views = []*view.View{
	{Name: "revsync/revs_sent_total", Measure: RevsSent, Aggregation: view.Count(), TagKeys: []tag.Key{KeyRemote, KeyMode}},
	{Name: "revsync/revs_received_total", Measure: RevsRecv, Aggregation: view.Count(), TagKeys: []tag.Key{KeyRemote, KeyMode}},
	{Name: "revsync/bytes_out_total", Measure: BytesOut, Aggregation: view.Sum(), TagKeys: []tag.Key{KeyRemote}},
	{Name: "revsync/bytes_in_total", Measure: BytesIn, Aggregation: view.Sum(), TagKeys: []tag.Key{KeyRemote}},
	{Name: "revsync/conflicts_total", Measure: Conflicts, Aggregation: view.Count(), TagKeys: []tag.Key{KeyRemote}},
	{Name: "revsync/checkpoint_lag_seconds", Measure: CheckpointLag, Aggregation: view.Distribution(0, 1, 5, 15, 30, 60, 300), TagKeys: []tag.Key{KeyRemote}},
	{Name: "revsync/purges_total", Measure: Purges, Aggregation: view.Count(), TagKeys: []tag.Key{KeyRemote}},
}

// Exporter bridges OpenCensus views into a Prometheus scrape endpoint.
type Exporter struct {
	prom *prometheus.Exporter
}

// New registers every view and constructs an Exporter ready to be mounted
// as an http.Handler (e.g. at /metrics).
func New(namespace string) (*Exporter, error) {
	if err := view.Register(views...); err != nil {
		return nil, err
	}
	exp, err := prometheus.NewExporter(prometheus.Options{Namespace: namespace})
	if err != nil {
		return nil, err
	}
	view.RegisterExporter(exp)
	return &Exporter{prom: exp}, nil
}

// Handler returns the Prometheus scrape endpoint.
func (e *Exporter) Handler() http.Handler { return e.prom }

// RecordRevSent records one revision sent to remote under the given mode.
func RecordRevSent(ctx context.Context, remote, mode string) {
	record(ctx, remote, mode, RevsSent.M(1))
}

// RecordRevReceived records one revision received from remote.
func RecordRevReceived(ctx context.Context, remote, mode string) {
	record(ctx, remote, mode, RevsRecv.M(1))
}

// RecordBytesOut records n bytes written to remote's connection.
func RecordBytesOut(ctx context.Context, remote string, n int64) {
	record(ctx, remote, "", BytesOut.M(n))
}

// RecordBytesIn records n bytes read from remote's connection.
func RecordBytesIn(ctx context.Context, remote string, n int64) {
	record(ctx, remote, "", BytesIn.M(n))
}

// RecordConflict records a document landing in conflict while syncing
// with remote.
func RecordConflict(ctx context.Context, remote string) {
	record(ctx, remote, "", Conflicts.M(1))
}

// RecordCheckpointLag records the number of seconds since the last
// successful checkpoint save for remote.
func RecordCheckpointLag(ctx context.Context, remote string, seconds float64) {
	record(ctx, remote, "", CheckpointLag.M(seconds))
}

// RecordPurge records a document purged on revoked access from remote.
func RecordPurge(ctx context.Context, remote string) {
	record(ctx, remote, "", Purges.M(1))
}

func record(ctx context.Context, remote, mode string, m stats.Measurement) {
	mutators := []tag.Mutator{tag.Upsert(KeyRemote, remote)}
	if mode != "" {
		mutators = append(mutators, tag.Upsert(KeyMode, mode))
	}
	_ = stats.RecordWithTags(ctx, mutators, m)
}
