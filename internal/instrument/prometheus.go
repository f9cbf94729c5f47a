//go:build !noprometheus
// +build !noprometheus

// Package instrument exports the relay's prometheus metrics.
package instrument

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace is the prometheus namespace of every metric.
const Namespace = "outfox"

var (
	packetsReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "received_packets_total",
			Help:      "Number of packets received",
		},
	)
	packetsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "processed_packets_total",
			Help:      "Number of packets processed and forwarded",
		},
	)
	packetsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "dropped_packets_total",
			Help:      "Number of dropped packets",
		},
		[]string{"reason"},
	)
	packetsReplayed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "replayed_packets_total",
			Help:      "Number of replayed packets",
		},
	)
	packetsDelivered = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "delivered_packets_total",
			Help:      "Number of payloads delivered by exit relays",
		},
	)
	decoysSent = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "decoy",
			Name:      "sent_total",
			Help:      "Number of decoy packets injected",
		},
	)
	decoysReceived = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "decoy",
			Name:      "received_total",
			Help:      "Number of decoy packets sunk at their final hop",
		},
	)
	mixingDelay = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "mixing_delay_seconds",
			Help:      "Sampled per-hop mixing delay",
		},
	)
	inboundQueueSize = prometheus.NewSummary(
		prometheus.SummaryOpts{
			Namespace: Namespace,
			Subsystem: "relay",
			Name:      "inbound_queue_size",
			Help:      "Size of the inbound queue",
		},
	)
	reputationEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "reputation",
			Name:      "events_total",
			Help:      "Number of reputation ledger updates",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(packetsReceived)
	prometheus.MustRegister(packetsProcessed)
	prometheus.MustRegister(packetsDropped)
	prometheus.MustRegister(packetsReplayed)
	prometheus.MustRegister(packetsDelivered)
	prometheus.MustRegister(decoysSent)
	prometheus.MustRegister(decoysReceived)
	prometheus.MustRegister(mixingDelay)
	prometheus.MustRegister(inboundQueueSize)
	prometheus.MustRegister(reputationEvents)
}

// StartPrometheusListener serves the registered metrics on address until
// the returned server is closed.  errCh receives the listener's terminal
// error, if any.
func StartPrometheusListener(address string, errCh chan<- error) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		err := srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if errCh != nil {
			errCh <- err
		}
	}()
	return srv
}

// PacketsReceived increments the counter for received packets.
func PacketsReceived() {
	packetsReceived.Inc()
}

// PacketsProcessed increments the counter for processed packets.
func PacketsProcessed() {
	packetsProcessed.Inc()
}

// PacketsDropped increments the counter for dropped packets.
func PacketsDropped(reason string) {
	packetsDropped.With(prometheus.Labels{"reason": reason}).Inc()
}

// PacketsReplayed increments the counter for replayed packets.
func PacketsReplayed() {
	packetsReplayed.Inc()
}

// PacketsDelivered increments the counter for delivered payloads.
func PacketsDelivered() {
	packetsDelivered.Inc()
}

// DecoysSent increments the counter for injected decoys.
func DecoysSent() {
	decoysSent.Inc()
}

// DecoysReceived increments the counter for sunk decoys.
func DecoysReceived() {
	decoysReceived.Inc()
}

// MixingDelay observes a sampled mixing delay.
func MixingDelay(d time.Duration) {
	mixingDelay.Observe(d.Seconds())
}

// InboundQueue observes the size of the inbound queue.
func InboundQueue(size int) {
	inboundQueueSize.Observe(float64(size))
}

// ReputationEvent increments the counter for a reputation ledger update.
func ReputationEvent(event string) {
	reputationEvents.With(prometheus.Labels{"event": event}).Inc()
}
