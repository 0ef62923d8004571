// Package telemetry records fire-and-forget usage events.
package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
)

// Event names.
const (
	EventSaved    = "Saved batch"
	EventRemoved  = "Remove batch"
	EventUpdated  = "Update batch"
	EventDownload = "Download batch"
	EventImported = "Import batch"
)

// Tracker receives usage events. Implementations must not block or fail.
type Tracker interface {
	RecordEvent(name string, label string)
}

type Noop struct{}

func (Noop) RecordEvent(string, string) {}

// LogTracker writes each event as an info log line.
type LogTracker struct{}

func (LogTracker) RecordEvent(name string, label string) {
	log.WithFields(log.Fields{
		"package": "telemetry",
		"event":   name,
		"label":   label,
	}).Info("event")
}

// Prometheus counts events by name.
type Prometheus struct {
	events *prometheus.CounterVec
}

// NewPrometheus registers the event counter with reg.
func NewPrometheus(reg prometheus.Registerer) (*Prometheus, error) {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "txbatch",
		Name:      "events_total",
		Help:      "Usage events recorded by the batch store and import pipeline.",
	}, []string{"event"})
	if err := reg.Register(events); err != nil {
		return nil, err
	}
	return &Prometheus{events: events}, nil
}

func (p *Prometheus) RecordEvent(name string, _ string) {
	p.events.WithLabelValues(name).Inc()
}

// Recorder keeps events in memory. Used by tests.
type Recorder struct {
	mu     sync.Mutex
	Events []Event
}

type Event struct {
	Name  string
	Label string
}

func (r *Recorder) RecordEvent(name string, label string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Events = append(r.Events, Event{Name: name, Label: label})
}

// Count returns how many events named name were recorded.
func (r *Recorder) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.Events {
		if e.Name == name {
			n++
		}
	}
	return n
}
