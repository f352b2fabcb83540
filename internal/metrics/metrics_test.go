package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCounters(t *testing.T) {
	Register()
	Register()

	IncTransition("payment-pending", "accepted")
	assert.Equal(t, 1.0, testutil.ToFloat64(bookingTransitions.WithLabelValues("payment-pending", "accepted")))

	ObserveProcessor("refund", time.Now(), errors.New("boom"))
	ObserveProcessor("refund", time.Now(), nil)
	assert.Equal(t, 1.0, testutil.ToFloat64(processorCalls.WithLabelValues("refund", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(processorCalls.WithLabelValues("refund", "ok")))

	IncConflict("slot_taken")
	assert.Equal(t, 1.0, testutil.ToFloat64(conflicts.WithLabelValues("slot_taken")))
}
