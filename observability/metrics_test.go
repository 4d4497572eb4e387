package observability

import (
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

type tagged string

func (t tagged) EventType() string { return string(t) }

func TestExchangeMetricsObserve(t *testing.T) {
	m := NewExchangeMetrics(prometheus.NewRegistry())
	m.Observe("addOffer", true, "", 3, time.Millisecond)
	m.Observe("addOffer", false, "validation", 0, time.Millisecond)
	m.Observe("", false, "", 0, time.Millisecond)

	require.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("addOffer", "success")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.invocations.WithLabelValues("addOffer", "failure")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("addOffer", "validation")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.failures.WithLabelValues("unknown", "unknown")))
}

func TestRecordFee(t *testing.T) {
	m := NewExchangeMetrics(nil)
	m.RecordFee(big.NewInt(1500))
	m.RecordFee(big.NewInt(-1))
	m.RecordFee(nil)
	require.Equal(t, 1500.0, testutil.ToFloat64(m.fees))

	var nilMetrics *ExchangeMetrics
	nilMetrics.RecordFee(big.NewInt(1))
	nilMetrics.Observe("x", true, "", 0, 0)
}

func TestEventMetricsCountsByType(t *testing.T) {
	m := newEventMetrics(prometheus.NewRegistry())
	m.Emit(tagged("offerCreated"))
	m.Emit(tagged("offerCreated"))
	m.Emit(tagged(" "))
	require.Equal(t, 2.0, testutil.ToFloat64(m.emitted.WithLabelValues("offerCreated")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.emitted.WithLabelValues("unknown")))
}
