package metrics

import (
	"testing"
	"time"
)

func TestNilAndNopAreSafe(t *testing.T) {
	for _, m := range []*Metrics{nil, Nop()} {
		m.ObserveResponse("cache-first", "cache")
		m.AddStoreError("put")
		m.AddRevalidation(true)
		m.AddCoalesced()
		m.SetLifecycle("1.0.1", 4)
		m.AddSyncResult("contact-form-sync", false)
		m.AddNotification("push")
		m.ObserveRequest("GET", "200", time.Now())
	}
}
