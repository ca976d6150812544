// Package metrics exposes the bot's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "regiment"

// Collectors holds every counter and gauge the bot publishes. A nil
// *Collectors is valid and records nothing.
type Collectors struct {
	registry *prometheus.Registry

	completionsAnnounced *prometheus.CounterVec
	rankTransitions      *prometheus.CounterVec
	externalRequests     *prometheus.CounterVec

	reportsQueued  prometheus.Counter
	reportsDropped prometheus.Counter
	reportsFlushed prometheus.Counter

	sessionsStarted   *prometheus.CounterVec
	sessionsFinalized *prometheus.CounterVec
	sessionsAbandoned *prometheus.CounterVec
	sessionsActive    prometheus.Gauge
	attendeesCredited *prometheus.CounterVec
}

// New registers the collectors on a private registry alongside the Go
// runtime and process collectors.
func New() *Collectors {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)
	return &Collectors{
		registry: registry,
		completionsAnnounced: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "completions_announced_total",
			Help:      "completion announcements sent, by rank",
		}, []string{"rank"}),
		rankTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rank_transitions_total",
			Help:      "persisted rank transitions",
		}, []string{"from", "to"}),
		externalRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "group-management API calls, by endpoint and outcome",
		}, []string{"endpoint", "outcome"}),
		reportsQueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletion_reports_queued_total",
			Help:      "deletion reports accepted by the batcher",
		}),
		reportsDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletion_reports_dropped_total",
			Help:      "deletion reports dropped on a full or stopped queue",
		}),
		reportsFlushed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deletion_reports_flushed_total",
			Help:      "deletion reports handed to sinks",
		}),
		sessionsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_sessions_started_total",
			Help:      "attendance sessions opened, by event type",
		}, []string{"event_type"}),
		sessionsFinalized: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_sessions_finalized_total",
			Help:      "attendance sessions submitted, by event type",
		}, []string{"event_type"}),
		sessionsAbandoned: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_sessions_abandoned_total",
			Help:      "attendance sessions that expired in review",
		}, []string{"event_type"}),
		sessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "attendance_sessions_active",
			Help:      "attendance sessions currently collecting or in review",
		}),
		attendeesCredited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_credits_total",
			Help:      "attendee credits applied on submission",
		}, []string{"event_type"}),
	}
}

// Registry returns the registry backing the collectors.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// CompletionAnnounced counts a completion announcement.
func (c *Collectors) CompletionAnnounced(rank string) {
	if c == nil {
		return
	}
	c.completionsAnnounced.WithLabelValues(rank).Inc()
}

// RankTransition counts a persisted rank change.
func (c *Collectors) RankTransition(from, to string) {
	if c == nil {
		return
	}
	c.rankTransitions.WithLabelValues(from, to).Inc()
}

// ExternalRequest counts a group-management API call.
func (c *Collectors) ExternalRequest(endpoint, outcome string) {
	if c == nil {
		return
	}
	c.externalRequests.WithLabelValues(endpoint, outcome).Inc()
}

func (c *Collectors) ReportQueued() {
	if c == nil {
		return
	}
	c.reportsQueued.Inc()
}

func (c *Collectors) ReportDropped() {
	if c == nil {
		return
	}
	c.reportsDropped.Inc()
}

func (c *Collectors) ReportsFlushed(count int) {
	if c == nil {
		return
	}
	c.reportsFlushed.Add(float64(count))
}

// SessionStarted counts a new attendance session.
func (c *Collectors) SessionStarted(eventType string) {
	if c == nil {
		return
	}
	c.sessionsStarted.WithLabelValues(eventType).Inc()
	c.sessionsActive.Inc()
}

// SessionFinalized counts a submitted session and its credited attendees.
func (c *Collectors) SessionFinalized(eventType string, credited int) {
	if c == nil {
		return
	}
	c.sessionsFinalized.WithLabelValues(eventType).Inc()
	c.attendeesCredited.WithLabelValues(eventType).Add(float64(credited))
	c.sessionsActive.Dec()
}

// SessionAbandoned counts a session that ended without submission.
func (c *Collectors) SessionAbandoned(eventType string) {
	if c == nil {
		return
	}
	c.sessionsAbandoned.WithLabelValues(eventType).Inc()
	c.sessionsActive.Dec()
}
