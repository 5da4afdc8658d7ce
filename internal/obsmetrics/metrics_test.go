package obsmetrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSetStateZeroesOtherStates(t *testing.T) {
	m := New()
	m.SetState("s1", "ONLINE")
	assert.Equal(t, float64(1), testutil.ToFloat64(m.State.WithLabelValues("s1", "ONLINE")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.State.WithLabelValues("s1", "STOPPED")))

	m.SetState("s1", "STOPPED")
	assert.Equal(t, float64(0), testutil.ToFloat64(m.State.WithLabelValues("s1", "ONLINE")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.State.WithLabelValues("s1", "STOPPED")))
}

func TestCountersIncrement(t *testing.T) {
	m := New()
	m.RecordTransition("s1", "ONLINE", "STOPPING")
	m.RecordControllerError()
	m.RecordWakeRequest("s1")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("s1", "ONLINE", "STOPPING")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ControllerErrors))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.WakeRequestsTotal.WithLabelValues("s1")))
}
