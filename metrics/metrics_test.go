package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersIncrement(t *testing.T) {
	before := testutil.ToFloat64(ProofSubmissions.WithLabelValues("accepted"))
	ProofSubmissions.WithLabelValues("accepted").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(ProofSubmissions.WithLabelValues("accepted")))

	before = testutil.ToFloat64(SessionEvents.WithLabelValues("login"))
	SessionEvents.WithLabelValues("login").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(SessionEvents.WithLabelValues("login")))
}
