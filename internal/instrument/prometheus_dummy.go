//go:build noprometheus
// +build noprometheus

package instrument

import (
	"net/http"
	"time"
)

// StartPrometheusListener does nothing
func StartPrometheusListener(address string, errCh chan<- error) *http.Server {
	return &http.Server{Addr: address}
}

// PacketsReceived does nothing
func PacketsReceived() {}

// PacketsProcessed does nothing
func PacketsProcessed() {}

// PacketsDropped does nothing
func PacketsDropped(reason string) {}

// PacketsReplayed does nothing
func PacketsReplayed() {}

// PacketsDelivered does nothing
func PacketsDelivered() {}

// DecoysSent does nothing
func DecoysSent() {}

// DecoysReceived does nothing
func DecoysReceived() {}

// MixingDelay does nothing
func MixingDelay(d time.Duration) {}

// InboundQueue does nothing
func InboundQueue(size int) {}

// ReputationEvent does nothing
func ReputationEvent(event string) {}
