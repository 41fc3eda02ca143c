package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestEscrowTransitionsTotal(t *testing.T) {
	before := testutil.ToFloat64(EscrowTransitionsTotal.WithLabelValues("paid"))
	EscrowTransitionsTotal.WithLabelValues("paid").Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(EscrowTransitionsTotal.WithLabelValues("paid")))
}

func TestRegistryGathers(t *testing.T) {
	AdvisoryFallbacksTotal.WithLabelValues("support_chat").Inc()

	families, err := Registry.Gather()
	assert.NoError(t, err)

	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["middleman_advisory_fallbacks_total"])
	assert.True(t, names["go_goroutines"])
}
