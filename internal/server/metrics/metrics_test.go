package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, reg *prometheus.Registry, op, result string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "refstore_item_operations_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, l := range m.GetLabel() {
				labels[l.GetName()] = l.GetValue()
			}
			if labels["operation"] == op && labels["result"] == result {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestPrometheus_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	p, err := NewPrometheus("refstore", reg)
	require.NoError(t, err)
	ctx := context.Background()

	p.Observe(ctx, "save_add", true, 10*time.Millisecond)
	p.Observe(ctx, "save_add", true, 20*time.Millisecond)
	p.Observe(ctx, "save_add", false, time.Millisecond)
	p.Observe(ctx, "", true, time.Millisecond)

	assert.Equal(t, 2.0, counterValue(t, reg, "save_add", "success"))
	assert.Equal(t, 1.0, counterValue(t, reg, "save_add", "error"))
}

func TestPrometheus_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheus("refstore", reg)
	require.NoError(t, err)
	_, err = NewPrometheus("refstore", reg)
	assert.Error(t, err)
}

func TestNop(t *testing.T) {
	var r Recorder = Nop{}
	r.Observe(context.Background(), "save_add", true, 0)
}
