// Package metrics registers the server's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SSDPResponses counts M-SEARCH responses sent, by search target kind.
	SSDPResponses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldmedia",
		Subsystem: "ssdp",
		Name:      "responses_total",
		Help:      "SSDP M-SEARCH responses sent, by target.",
	}, []string{"target"})

	// SOAPActions counts dispatched SOAP actions, including unknown ones.
	SOAPActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldmedia",
		Subsystem: "upnp",
		Name:      "soap_actions_total",
		Help:      "SOAP actions handled, by action name.",
	}, []string{"action"})

	// NotifyDeliveries counts GENA NOTIFY attempts, by outcome.
	NotifyDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldmedia",
		Subsystem: "upnp",
		Name:      "notify_deliveries_total",
		Help:      "GENA NOTIFY deliveries, by outcome.",
	}, []string{"outcome"})

	// StreamsStarted counts media streams served, by mode.
	StreamsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldmedia",
		Subsystem: "stream",
		Name:      "started_total",
		Help:      "Media streams started, by mode (direct, transcode).",
	}, []string{"mode"})

	// ProbeJobs counts background probe/thumbnail jobs, by kind and outcome.
	ProbeJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "goldmedia",
		Subsystem: "catalog",
		Name:      "jobs_total",
		Help:      "Background catalog jobs, by kind and outcome.",
	}, []string{"kind", "outcome"})
)
