package analytics

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apothes/labledger/internal/domain"
)

type staticLister struct {
	experiments []domain.Experiment
}

func (s *staticLister) ListExperiments() ([]domain.Experiment, error) {
	return s.experiments, nil
}

func TestComputeSummaryEmpty(t *testing.T) {
	svc := NewService(&staticLister{}, zerolog.Nop())

	summary, err := svc.ComputeSummary()
	require.NoError(t, err)

	assert.Equal(t, 0, summary.TotalExperiments)
	assert.Zero(t, summary.MeanDeposited)
	assert.Zero(t, summary.StdDevPool)
}

func TestComputeSummary(t *testing.T) {
	lister := &staticLister{experiments: []domain.Experiment{
		{ID: 0, TotalDeposited: 100, TotalBet0: 40, TotalBet1: 60, Open: true, Outcome: domain.OutcomeUnset},
		{ID: 1, TotalDeposited: 300, TotalBet0: 0, TotalBet1: 0, Open: false, Outcome: domain.OutcomeSide1},
	}}
	svc := NewService(lister, zerolog.Nop())

	summary, err := svc.ComputeSummary()
	require.NoError(t, err)

	assert.Equal(t, 2, summary.TotalExperiments)
	assert.Equal(t, 1, summary.OpenExperiments)
	assert.Equal(t, 1, summary.ResolvedMarkets)
	assert.Equal(t, int64(400), summary.TotalDeposited)
	assert.Equal(t, int64(100), summary.TotalPool)
	assert.InDelta(t, 200.0, summary.MeanDeposited, 1e-9)
	assert.InDelta(t, 50.0, summary.MeanPool, 1e-9)
	assert.Greater(t, summary.StdDevDeposited, 0.0)
}

func TestComputeSummarySingleSample(t *testing.T) {
	lister := &staticLister{experiments: []domain.Experiment{
		{ID: 0, TotalDeposited: 100, Outcome: domain.OutcomeUnset},
	}}
	svc := NewService(lister, zerolog.Nop())

	summary, err := svc.ComputeSummary()
	require.NoError(t, err)

	// one sample has no spread, not NaN
	assert.Zero(t, summary.StdDevDeposited)
	assert.Zero(t, summary.StdDevPool)
}
