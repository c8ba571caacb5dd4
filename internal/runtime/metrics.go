package runtime

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Send results recorded on tracedqueue_messages_sent_total.
const (
	SendResultSuccess      = "success"
	SendResultEncodeFailed = "encode_failed"
	SendResultTooLarge     = "too_large"
	SendResultFailed       = "failed"
)

// QueueMetrics tracks per-queue send and receive statistics both as
// Prometheus collectors and as an in-process snapshot.
type QueueMetrics struct {
	mu sync.RWMutex

	queues    map[string]*QueueStats
	windows   map[string]*queueWindows
	resources *resourceTracker

	sentTotal     *prometheus.CounterVec
	receivedTotal *prometheus.CounterVec
	handlingHist  *prometheus.HistogramVec

	registerer prometheus.Registerer
	registered bool
}

// QueueStats holds counters for a single queue.
type QueueStats struct {
	Sent             uint64    `json:"sent"`
	SendFailed       uint64    `json:"send_failed"`
	Processed        uint64    `json:"processed"`
	DecodeFailed     uint64    `json:"decode_failed"`
	ProcessingFailed uint64    `json:"processing_failed"`
	LastUpdatedAt    time.Time `json:"last_updated_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
}

// QueueMetricsSnapshot is a point-in-time copy of all queue statistics.
type QueueMetricsSnapshot struct {
	Queues      map[string]QueueStats `json:"queues"`
	Resources   ResourceUsage         `json:"resources"`
	CollectedAt time.Time             `json:"collected_at"`
}

// NewQueueMetrics creates the collectors. Call Register before recording.
// A nil registerer uses prometheus.DefaultRegisterer.
func NewQueueMetrics(registerer prometheus.Registerer) *QueueMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	return &QueueMetrics{
		queues:     make(map[string]*QueueStats),
		windows:    make(map[string]*queueWindows),
		resources:  newResourceTracker(),
		registerer: registerer,
		sentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracedqueue",
			Name:      "messages_sent_total",
			Help:      "Publish attempts by queue and result",
		}, []string{"queue", "result"}),
		receivedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tracedqueue",
			Name:      "messages_received_total",
			Help:      "Received messages by queue and handling outcome",
		}, []string{"queue", "outcome"}),
		handlingHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "tracedqueue",
			Name:      "message_handling_seconds",
			Help:      "Time from receipt to settlement of a message",
			Buckets:   prometheus.DefBuckets,
		}, []string{"queue"}),
	}
}

// Register registers the collectors. Safe to call multiple times; collectors
// already registered by another QueueMetrics are shared.
func (m *QueueMetrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	var err error
	if m.sentTotal, err = registerVec(m.registerer, m.sentTotal); err != nil {
		return err
	}
	if m.receivedTotal, err = registerVec(m.registerer, m.receivedTotal); err != nil {
		return err
	}
	if m.handlingHist, err = registerVec(m.registerer, m.handlingHist); err != nil {
		return err
	}

	m.registered = true
	return nil
}

func registerVec[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		are, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return c, err
		}
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
		return c, err
	}
	return c, nil
}

// RecordSend records one publish attempt.
func (m *QueueMetrics) RecordSend(queue, result string) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(queue)
	if result == SendResultSuccess {
		stats.Sent++
	} else {
		stats.SendFailed++
	}
	stats.LastUpdatedAt = time.Now()

	m.sentTotal.WithLabelValues(queue, result).Inc()
}

// RecordReceive records one settled delivery.
func (m *QueueMetrics) RecordReceive(queue string, outcome Outcome, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.getOrCreate(queue)
	switch outcome {
	case OutcomeProcessed:
		stats.Processed++
	case OutcomeDecodeFailed:
		stats.DecodeFailed++
	case OutcomeProcessingFailed:
		stats.ProcessingFailed++
	}
	now := time.Now()
	stats.LastUpdatedAt = now

	w := m.windows[queue]
	if w == nil {
		w = newQueueWindows()
		m.windows[queue] = w
	}
	w.latency.Add(elapsed)
	stats.Latency = w.latency.Snapshot()
	stats.Throughput = w.throughput.Add(now)

	m.receivedTotal.WithLabelValues(queue, outcome.String()).Inc()
	m.handlingHist.WithLabelValues(queue).Observe(elapsed.Seconds())
}

// Snapshot returns a copy of all queue statistics.
func (m *QueueMetrics) Snapshot() QueueMetricsSnapshot {
	snapshot := QueueMetricsSnapshot{
		Queues:      make(map[string]QueueStats),
		CollectedAt: time.Now(),
	}
	if m == nil {
		return snapshot
	}

	m.mu.RLock()
	for queue, stats := range m.queues {
		snapshot.Queues[queue] = *stats
	}
	m.mu.RUnlock()

	snapshot.Resources = m.resources.Snapshot()
	return snapshot
}

// Queue returns the statistics of one queue, or nil when nothing was recorded.
func (m *QueueMetrics) Queue(queue string) *QueueStats {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if stats, ok := m.queues[queue]; ok {
		cp := *stats
		return &cp
	}
	return nil
}

func (m *QueueMetrics) getOrCreate(queue string) *QueueStats {
	if stats, ok := m.queues[queue]; ok {
		return stats
	}
	stats := &QueueStats{}
	m.queues[queue] = stats
	return stats
}
