package monitor

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"safe-code-gate/internal/gate"
)

func TestRecordVerdict(t *testing.T) {
	m := NewMetrics()
	g := gate.Default()

	m.RecordVerdict(g.Validate("x = 1"), 5, time.Millisecond)
	m.RecordVerdict(g.Validate("import os"), 9, time.Millisecond)
	m.RecordVerdict(g.Validate("import subprocess"), 17, time.Millisecond)
	m.RecordVerdict(g.Validate("c = chr(65)"), 11, time.Millisecond)

	if got := testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("valid")); got != 1 {
		t.Errorf("valid count = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ValidationsTotal.WithLabelValues("security_violation")); got != 2 {
		t.Errorf("security_violation count = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RejectionsTotal.WithLabelValues(gate.RuleDeniedModule)); got != 2 {
		t.Errorf("denied_module rejections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.RejectionsTotal.WithLabelValues("char_code")); got != 1 {
		t.Errorf("char_code rejections = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.RejectionsTotal); got != 2 {
		t.Errorf("rejection series = %d, want 2 (valid verdicts add none)", got)
	}
	if got := testutil.CollectAndCount(m.CodeSizeBytes); got != 1 {
		t.Errorf("code size histograms = %d, want 1", got)
	}
}

func TestRecordReloadAndCache(t *testing.T) {
	m := NewMetrics()

	m.RecordReload(true)
	m.RecordReload(false)
	m.RecordReload(false)
	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)

	if got := testutil.ToFloat64(m.PolicyReloads.WithLabelValues("failure")); got != 2 {
		t.Errorf("reload failures = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.PolicyReloads.WithLabelValues("success")); got != 1 {
		t.Errorf("reload successes = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")); got != 1 {
		t.Errorf("cache hits = %v, want 1", got)
	}
}

func TestNewMetrics_DedicatedRegistry(t *testing.T) {
	// Two instances must not collide, which they would on the default registry.
	a := NewMetrics()
	b := NewMetrics()
	a.RequestsInFlight.Inc()

	if got := testutil.ToFloat64(b.RequestsInFlight); got != 0 {
		t.Errorf("registries share state: %v", got)
	}
}
