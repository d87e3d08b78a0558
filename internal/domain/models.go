// Package domain contains the core business entities and collaborator
// interfaces. It has no infrastructure dependencies.
package domain

import "time"

// Outcome is the tri-state result of an experiment's betting market.
// It starts Unset and transitions at most once to Side0 or Side1.
type Outcome int

const (
	// OutcomeUnset is the sentinel value before a result is finalized
	OutcomeUnset Outcome = -1
	// OutcomeSide0 means side 0 won
	OutcomeSide0 Outcome = 0
	// OutcomeSide1 means side 1 won
	OutcomeSide1 Outcome = 1
)

// Valid reports whether o is one of the three known outcome values
func (o Outcome) Valid() bool {
	return o == OutcomeUnset || o == OutcomeSide0 || o == OutcomeSide1
}

// IsSet reports whether a result has been finalized
func (o Outcome) IsSet() bool {
	return o == OutcomeSide0 || o == OutcomeSide1
}

// String returns a human-readable outcome label
func (o Outcome) String() string {
	switch o {
	case OutcomeSide0:
		return "side0"
	case OutcomeSide1:
		return "side1"
	default:
		return "unset"
	}
}

// Experiment is the unit of state: a capped crowdfunding pool plus a
// binary parimutuel market, both gated by the same open flag.
//
// Amounts are int64 base units of the external fungible asset.
type Experiment struct {
	ID             int64     `json:"id"`
	CostMin        int64     `json:"cost_min"`
	CostMax        int64     `json:"cost_max"`
	TotalDeposited int64     `json:"total_deposited"`
	TotalBet0      int64     `json:"total_bet0"`
	TotalBet1      int64     `json:"total_bet1"`
	Outcome        Outcome   `json:"outcome"`
	Open           bool      `json:"open"`
	CreatedAt      time.Time `json:"created_at"`
}

// Pool returns the combined bet pool over both sides
func (e *Experiment) Pool() int64 {
	return e.TotalBet0 + e.TotalBet1
}

// TotalBet returns the running total for one side
func (e *Experiment) TotalBet(side Outcome) int64 {
	if side == OutcomeSide1 {
		return e.TotalBet1
	}
	return e.TotalBet0
}

// Position is a participant's per-experiment ledger row. Each amount is
// independently zeroable; zeroing one never affects the others.
type Position struct {
	ExperimentID  int64  `json:"experiment_id"`
	Participant   string `json:"participant"`
	DepositAmount int64  `json:"deposit_amount"`
	Bet0Amount    int64  `json:"bet0_amount"`
	Bet1Amount    int64  `json:"bet1_amount"`
}

// BetTotal returns the sum of both side rows
func (p *Position) BetTotal() int64 {
	return p.Bet0Amount + p.Bet1Amount
}

// FundedExperiment pairs an experiment id with a participant's live
// deposit in it, for the "what have I funded" query.
type FundedExperiment struct {
	ExperimentID  int64 `json:"experiment_id"`
	DepositAmount int64 `json:"deposit_amount"`
}
