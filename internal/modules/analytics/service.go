// Package analytics computes summary statistics over the experiment ledger.
package analytics

import (
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/stat"

	"github.com/apothes/labledger/internal/domain"
)

// ExperimentLister provides the experiments to summarize
type ExperimentLister interface {
	ListExperiments() ([]domain.Experiment, error)
}

// Summary aggregates ledger-wide statistics
type Summary struct {
	TotalExperiments int `json:"total_experiments"`
	OpenExperiments  int `json:"open_experiments"`
	ResolvedMarkets  int `json:"resolved_markets"`

	TotalDeposited int64 `json:"total_deposited"`
	TotalPool      int64 `json:"total_pool"`

	MeanDeposited   float64 `json:"mean_deposited"`
	StdDevDeposited float64 `json:"stddev_deposited"`
	MeanPool        float64 `json:"mean_pool"`
	StdDevPool      float64 `json:"stddev_pool"`
}

// Service computes analytics over experiments
type Service struct {
	experiments ExperimentLister
	log         zerolog.Logger
}

// NewService creates a new analytics service
func NewService(experiments ExperimentLister, log zerolog.Logger) *Service {
	return &Service{
		experiments: experiments,
		log:         log.With().Str("service", "analytics").Logger(),
	}
}

// ComputeSummary builds a Summary over all experiments
func (s *Service) ComputeSummary() (*Summary, error) {
	exps, err := s.experiments.ListExperiments()
	if err != nil {
		return nil, err
	}

	summary := &Summary{TotalExperiments: len(exps)}
	if len(exps) == 0 {
		return summary, nil
	}

	deposits := make([]float64, 0, len(exps))
	pools := make([]float64, 0, len(exps))

	for _, exp := range exps {
		if exp.Open {
			summary.OpenExperiments++
		}
		if exp.Outcome.IsSet() {
			summary.ResolvedMarkets++
		}

		summary.TotalDeposited += exp.TotalDeposited
		summary.TotalPool += exp.Pool()

		deposits = append(deposits, float64(exp.TotalDeposited))
		pools = append(pools, float64(exp.Pool()))
	}

	summary.MeanDeposited = stat.Mean(deposits, nil)
	summary.MeanPool = stat.Mean(pools, nil)

	// StdDev returns NaN for a single sample; report 0 instead
	if len(exps) > 1 {
		summary.StdDevDeposited = stat.StdDev(deposits, nil)
		summary.StdDevPool = stat.StdDev(pools, nil)
	}

	return summary, nil
}
