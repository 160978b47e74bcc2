package metrics

import (
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordOutcomes(t *testing.T) {
	r := New("c1")
	require.NotEmpty(t, r.RecallID)
	r.Finish(true)
	assert.Equal(t, OutcomeOK, r.Outcome)

	r = New("c1")
	r.Finish(false)
	assert.Equal(t, OutcomeEmpty, r.Outcome)

	r = New("c1")
	r.Degrade(ReasonRerankFailed, errors.New("503"))
	r.Degrade(ReasonRerankFailed, nil)
	r.Finish(true)
	assert.Equal(t, OutcomeDegraded, r.Outcome)
	assert.Equal(t, []string{ReasonRerankFailed}, r.Reasons)
	assert.Len(t, r.Errors, 1)

	r = New("c1")
	r.Degrade(ReasonEmbedFailed, errors.New("timeout"))
	r.Finish(false)
	assert.Equal(t, OutcomeFailed, r.Outcome, "upstream failure is distinguishable from nothing found")

	r = New("c1")
	r.Degrade(ReasonNoQuery, nil)
	r.Finish(false)
	assert.Equal(t, OutcomeEmpty, r.Outcome)
}

func TestRecordStagesAndLogText(t *testing.T) {
	r := New("c1")
	stop := r.Stage("query")
	stop()
	r.Degrade(ReasonLexicalUnavailable, nil)
	r.Query.LexicalTerms = []string{"sword", "broken"}
	r.Fusion.MustKeep = []int{4}
	r.Dense.CacheHits, r.Dense.CacheMisses = 2, 1
	r.Finish(true)

	require.Len(t, r.Stages, 1)
	assert.Equal(t, "query", r.Stages[0].Name)

	text := r.LogText()
	assert.True(t, strings.HasPrefix(text, "recall "+r.RecallID))
	assert.Contains(t, text, "degraded: lexical_unavailable")
	assert.Contains(t, text, "terms=[sword broken]")
	assert.Contains(t, text, "must_keep=[4]")
	assert.Contains(t, text, "cache=2/3")
	assert.Contains(t, text, "stages: query=")
}

func TestCollectorsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectors(reg)

	r := New("c1")
	r.Stage("dense")()
	r.Degrade(ReasonRerankFailed, nil)
	r.Evidence.Atoms = 3
	r.Finish(true)
	c.Observe(r)
	c.Observe(nil)
	(*Collectors)(nil).Observe(r)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Calls.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Degrades.WithLabelValues(ReasonRerankFailed)))
	assert.Equal(t, 1, testutil.CollectAndCount(c.StageSeconds))
	assert.Equal(t, 5, testutil.CollectAndCount(c.Selected))
}
