package hub

import "sync/atomic"

// MetricsSnapshot is a point-in-time copy of the hub counters.
type MetricsSnapshot struct {
	Clients          int   `json:"clients"`
	Routed           int64 `json:"routed"`
	Delivered        int64 `json:"delivered"`
	DeliveryFailures int64 `json:"delivery_failures"`
	RepliesRelayed   int64 `json:"replies_relayed"`
	QueueDropped     int64 `json:"queue_dropped"`
	PendingCalls     int   `json:"pending_calls"`
}

// Metrics holds the hub's running counters. All updates are atomic so
// workers and handlers can record without coordination.
type Metrics struct {
	routed    atomic.Int64
	delivered atomic.Int64
	failures  atomic.Int64
	replies   atomic.Int64
	dropped   atomic.Int64
}

func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) RecordRouted(delta int) {
	m.routed.Add(int64(delta))
}

func (m *Metrics) RecordDelivered(delta int) {
	m.delivered.Add(int64(delta))
}

func (m *Metrics) RecordDeliveryFailure(delta int) {
	m.failures.Add(int64(delta))
}

func (m *Metrics) RecordReplyRelayed(delta int) {
	m.replies.Add(int64(delta))
}

func (m *Metrics) RecordQueueDropped(delta int) {
	m.dropped.Add(int64(delta))
}

// Snapshot copies the counter values. The clients and pending-calls
// gauges are filled in by the hub, which owns those collections.
func (m *Metrics) Snapshot() MetricsSnapshot {
	return MetricsSnapshot{
		Routed:           m.routed.Load(),
		Delivered:        m.delivered.Load(),
		DeliveryFailures: m.failures.Load(),
		RepliesRelayed:   m.replies.Load(),
		QueueDropped:     m.dropped.Load(),
	}
}
