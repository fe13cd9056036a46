// Copyright Envoy AI Gateway Authors
// SPDX-License-Identifier: Apache-2.0
// The full text of the Apache license is available in the LICENSE file at
// the root of the repo.

package metricsobs

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordRequest(t *testing.T) {
	m := New()
	m.RecordRequest("claude-3", "200", 50*time.Millisecond)
	m.RecordRequest("claude-3", "200", 75*time.Millisecond)

	count := testutil.ToFloat64(m.requestsTotal.WithLabelValues("claude-3", "200"))
	assert.Equal(t, float64(2), count)
}

func TestMetrics_RecordTokens(t *testing.T) {
	m := New()
	m.RecordTokens("claude-3", "input", 100)
	m.RecordTokens("claude-3", "input", 50)
	m.RecordTokens("claude-3", "output", 0)

	assert.Equal(t, float64(150), testutil.ToFloat64(m.tokensTotal.WithLabelValues("claude-3", "input")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.tokensTotal.WithLabelValues("claude-3", "output")))
}
