package clock

import (
	"strings"
	"testing"
	"time"
)

func TestU_Simulated_AdvanceFiresDueCallbacks(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewSimulated(start)

	var fired []string
	c.Schedule(start.Add(10*time.Minute), func(time.Time) { fired = append(fired, "b") })
	c.Schedule(start.Add(5*time.Minute), func(time.Time) { fired = append(fired, "a") })
	c.Schedule(start.Add(time.Hour), func(time.Time) { fired = append(fired, "c") })

	c.Advance(30 * time.Minute)

	if got := strings.Join(fired, ""); got != "ab" {
		t.Errorf("expected callbacks a,b in deadline order, got %q", got)
	}

	c.Advance(time.Hour)
	if got := strings.Join(fired, ""); got != "abc" {
		t.Errorf("expected all callbacks fired, got %q", got)
	}
}

func TestU_Simulated_CancelPreventsFiring(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewSimulated(start)

	fired := false
	cancel := c.Schedule(start.Add(time.Minute), func(time.Time) { fired = true })
	cancel()
	c.Advance(time.Hour)

	if fired {
		t.Error("cancelled callback should not fire")
	}
}

func TestU_NewID_Prefix(t *testing.T) {
	id := NewID("doc")
	if !strings.HasPrefix(id, "doc_") {
		t.Errorf("expected doc_ prefix, got %s", id)
	}
	if NewID("doc") == id {
		t.Error("ids should be unique")
	}
}

func TestU_NewNonce_Length(t *testing.T) {
	n, err := NewNonce(16)
	if err != nil {
		t.Fatalf("NewNonce: %v", err)
	}
	if len(n) != 16 {
		t.Errorf("expected 16 bytes, got %d", len(n))
	}
}
