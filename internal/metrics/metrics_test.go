package metrics

import (
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAdvance(t *testing.T) {
	before := testutil.ToFloat64(snpDraws.WithLabelValues("accepted"))
	SNPAccepted()
	SNPAccepted()
	assert.Equal(t, before+2, testutil.ToFloat64(snpDraws.WithLabelValues("accepted")))

	beforeErr := testutil.ToFloat64(simulationCalls.WithLabelValues("loci", "error"))
	ObserveCall("loci", time.Now(), errors.New("boom"))
	assert.Equal(t, beforeErr+1, testutil.ToFloat64(simulationCalls.WithLabelValues("loci", "error")))

	beforeMasked := testutil.ToFloat64(maskedCells)
	AddMaskedCells(7)
	assert.Equal(t, beforeMasked+7, testutil.ToFloat64(maskedCells))
}

func TestHandlerExposesMetrics(t *testing.T) {
	AddLoci(1)
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "ipcoal_loci_simulated_total"))
}
