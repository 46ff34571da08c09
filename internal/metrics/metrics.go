// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "board"

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_accepted_total",
		Help:      "Connections that completed the join handshake.",
	})
	ConnectionsRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "connections_rejected_total",
		Help:      "Connections closed during bootstrap.",
	})
	Mutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "mutations_total",
		Help:      "Mutation requests by action and outcome.",
	}, []string{"action", "outcome"})
	Broadcasts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcasts_total",
		Help:      "Room views fanned out.",
	}, []string{"room"})
	Pruned = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recipients_pruned_total",
		Help:      "Members removed after a failed delivery.",
	}, []string{"room"})
	Members = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "room_members",
		Help:      "Live members per room.",
	}, []string{"room"})
)

// Handler exposes Prometheus metrics at /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
