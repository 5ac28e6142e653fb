// Package metrics exports engine activity as Prometheus counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatsync"

// Collector implements usecase.Metrics.
type Collector struct {
	merges         *prometheus.CounterVec
	rollbacks      prometheus.Counter
	hydrations     *prometheus.CounterVec
	sends          *prometheus.CounterVec
	uploadFailures prometheus.Counter
}

// New creates the counters and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		merges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "message_merges_total",
			Help:      "Inbound messages merged into the store, by result.",
		}, []string{"result"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "optimistic_rollbacks_total",
			Help:      "Optimistic placeholders removed after a failed publish.",
		}),
		hydrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hydrations_total",
			Help:      "History hydration attempts, by outcome.",
		}, []string{"outcome"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sends_total",
			Help:      "User sends, by outcome.",
		}, []string{"outcome"}),
		uploadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attachment_upload_failures_total",
			Help:      "Attachment uploads dropped from a send.",
		}),
	}
	for _, col := range []prometheus.Collector{c.merges, c.rollbacks, c.hydrations, c.sends, c.uploadFailures} {
		if err := reg.Register(col); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) MergeObserved(result string)      { c.merges.WithLabelValues(result).Inc() }
func (c *Collector) RollbackObserved()                { c.rollbacks.Inc() }
func (c *Collector) HydrationObserved(outcome string) { c.hydrations.WithLabelValues(outcome).Inc() }
func (c *Collector) SendObserved(outcome string)      { c.sends.WithLabelValues(outcome).Inc() }
func (c *Collector) UploadFailed()                    { c.uploadFailures.Inc() }
