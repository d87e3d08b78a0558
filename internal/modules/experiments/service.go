// Package experiments implements the experiment lifecycle state machine:
// a capped crowdfunding pool and a binary parimutuel market per
// experiment, coupled under one open/close gate.
package experiments

import (
	"database/sql"
	"fmt"
	"math"
	"math/big"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/apothes/labledger/internal/database"
	"github.com/apothes/labledger/internal/domain"
	"github.com/apothes/labledger/internal/events"
)

// Config holds the service's policy knobs
type Config struct {
	// MinUnit is the global minimum for deposits, bets and cost bounds
	MinUnit int64

	// PoolAddress is the service's own account on the asset ledger;
	// pulled deposits and stakes accumulate there
	PoolAddress string

	// UnbetTimeout is the elapsed time after which the permissionless
	// unbet escape valve opens (60 days in production)
	UnbetTimeout time.Duration
}

// Service owns every state transition against the experiment ledger.
//
// Operations are serialized by a single mutex and each runs inside one
// database transaction. Within a transaction, state writes happen first
// and the external asset-ledger call last, so a failed transfer rolls
// back the whole operation and a reentrant call cannot observe a
// half-applied state.
type Service struct {
	mu     sync.Mutex
	db     *sql.DB
	repo   *Repository
	assets domain.AssetLedger
	access *AccessControl
	bus    *events.Bus
	clock  domain.Clock
	cfg    Config
	log    zerolog.Logger
}

// NewService creates the experiments service
func NewService(
	db *sql.DB,
	repo *Repository,
	assets domain.AssetLedger,
	access *AccessControl,
	bus *events.Bus,
	clock domain.Clock,
	cfg Config,
	log zerolog.Logger,
) *Service {
	return &Service{
		db:     db,
		repo:   repo,
		assets: assets,
		access: access,
		bus:    bus,
		clock:  clock,
		cfg:    cfg,
		log:    log.With().Str("service", "experiments").Logger(),
	}
}

// Create allocates a new experiment with the given funding bounds.
// Requires the primary or secondary role. Returns the sequential id.
func (s *Service) Create(caller string, costMin, costMax int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.access.RequireAdmin(caller); err != nil {
		return 0, err
	}
	if costMin < s.cfg.MinUnit || costMax < costMin {
		return 0, ErrInvalidBounds
	}

	var id int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		next, err := s.repo.NextID(tx)
		if err != nil {
			return err
		}
		id = next

		exp := &domain.Experiment{
			ID:        id,
			CostMin:   costMin,
			CostMax:   costMax,
			Outcome:   domain.OutcomeUnset,
			Open:      true,
			CreatedAt: s.clock.Now(),
		}
		return s.repo.Insert(tx, exp)
	})
	if err != nil {
		return 0, err
	}

	s.bus.Publish(&events.ExperimentCreatedData{
		ExperimentID: id,
		CostMin:      costMin,
		CostMax:      costMax,
		Creator:      caller,
	})

	s.log.Info().
		Int64("experiment_id", id).
		Int64("cost_min", costMin).
		Int64("cost_max", costMax).
		Msg("Experiment created")

	return id, nil
}

// Deposit credits amount to the caller's funding row, pulling the value
// from the caller via the asset ledger. Deposits that would push the
// total past costMax are rejected outright, never truncated.
func (s *Service) Deposit(caller string, id, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var total int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getOpen(tx, id)
		if err != nil {
			return err
		}
		if amount < s.cfg.MinUnit {
			return ErrBelowMinimum
		}
		// Subtraction form: headroom is always in range, the sum may not be
		if amount > exp.CostMax-exp.TotalDeposited {
			return ErrExceedsCap
		}

		pos, err := s.repo.GetPositionTx(tx, id, caller)
		if err != nil {
			return err
		}
		pos.DepositAmount += amount
		exp.TotalDeposited += amount
		total = exp.TotalDeposited

		if err := s.repo.UpsertPosition(tx, pos); err != nil {
			return err
		}
		if err := s.repo.Update(tx, exp); err != nil {
			return err
		}

		// Transfer runs last: mutate-then-transfer ordering
		if err := s.assets.TransferFrom(caller, s.cfg.PoolAddress, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(&events.DepositedData{
		ExperimentID:   id,
		Participant:    caller,
		Amount:         amount,
		TotalDeposited: total,
	})

	return nil
}

// Undeposit returns the caller's entire deposit row in one call; there
// is no partial withdrawal. A zero row still succeeds with no transfer.
func (s *Service) Undeposit(caller string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var amount, total int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getOpen(tx, id)
		if err != nil {
			return err
		}

		pos, err := s.repo.GetPositionTx(tx, id, caller)
		if err != nil {
			return err
		}
		amount = pos.DepositAmount
		if amount == 0 {
			return nil
		}

		pos.DepositAmount = 0
		exp.TotalDeposited -= amount
		total = exp.TotalDeposited

		if err := s.repo.UpsertPosition(tx, pos); err != nil {
			return err
		}
		if err := s.repo.Update(tx, exp); err != nil {
			return err
		}

		if err := s.assets.Transfer(caller, amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if amount > 0 {
		s.bus.Publish(&events.UndepositedData{
			ExperimentID:   id,
			Participant:    caller,
			Amount:         amount,
			TotalDeposited: total,
		})
	}

	return nil
}

// AdminWithdraw is the "funding succeeded" terminal transition: the
// primary role collects the full pool and the experiment closes for
// good, which also ends the betting window.
//
// Per-participant deposit rows are deliberately left untouched as a
// historical record for downstream eligibility claims; this is the one
// place totals and rows diverge.
func (s *Service) AdminWithdraw(caller string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.access.RequirePrimary(caller); err != nil {
		return err
	}

	var amount int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getOpen(tx, id)
		if err != nil {
			return err
		}
		if exp.TotalDeposited < exp.CostMin {
			return ErrGoalNotReached
		}

		amount = exp.TotalDeposited
		exp.TotalDeposited = 0
		exp.Open = false

		if err := s.repo.Update(tx, exp); err != nil {
			return err
		}

		if err := s.assets.Transfer(s.access.PrimaryAddress(), amount); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(&events.AdminWithdrewData{
		ExperimentID: id,
		Amount:       amount,
		Recipient:    s.access.PrimaryAddress(),
	})

	s.log.Info().
		Int64("experiment_id", id).
		Int64("amount", amount).
		Msg("Funding withdrawn, experiment closed")

	return nil
}

// AdminClose is the "cancelled with nothing outstanding" terminal
// transition. All deposits and bets must have been drained first via
// refunds and bet returns.
func (s *Service) AdminClose(caller string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.access.RequireAdmin(caller); err != nil {
		return err
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getOpen(tx, id)
		if err != nil {
			return err
		}
		if exp.TotalDeposited != 0 || exp.TotalBet0 != 0 || exp.TotalBet1 != 0 {
			return ErrOutstandingBalances
		}

		exp.Open = false
		return s.repo.Update(tx, exp)
	})
	if err != nil {
		return err
	}

	s.bus.Publish(&events.AdminClosedData{ExperimentID: id})

	s.log.Info().Int64("experiment_id", id).Msg("Experiment closed")

	return nil
}

// AdminRefund returns the deposits of the listed participants.
// Participants with a zero row are skipped, so accidental repeats and
// non-participants are harmless.
func (s *Service) AdminRefund(caller string, id int64, participants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.access.RequireAdmin(caller); err != nil {
		return err
	}

	type refund struct {
		participant string
		amount      int64
		total       int64
	}
	var refunds []refund

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getOpen(tx, id)
		if err != nil {
			return err
		}

		for _, participant := range participants {
			pos, err := s.repo.GetPositionTx(tx, id, participant)
			if err != nil {
				return err
			}
			amount := pos.DepositAmount
			if amount == 0 {
				continue
			}

			pos.DepositAmount = 0
			exp.TotalDeposited -= amount

			if err := s.repo.UpsertPosition(tx, pos); err != nil {
				return err
			}
			if err := s.repo.Update(tx, exp); err != nil {
				return err
			}

			if err := s.assets.Transfer(participant, amount); err != nil {
				return fmt.Errorf("%w: %v", ErrTransferFailed, err)
			}

			refunds = append(refunds, refund{participant, amount, exp.TotalDeposited})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, rf := range refunds {
		s.bus.Publish(&events.UndepositedData{
			ExperimentID:   id,
			Participant:    rf.participant,
			Amount:         rf.amount,
			TotalDeposited: rf.total,
		})
	}

	return nil
}

// Bet stakes amounts on the two outcome sides in one pull. Backing both
// sides in a single call is allowed; backing neither is rejected.
func (s *Service) Bet(caller string, id, amount0, amount1 int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getOpen(tx, id)
		if err != nil {
			return err
		}
		if amount0 == 0 && amount1 == 0 {
			return ErrZeroBet
		}
		if amount0 != 0 && amount0 < s.cfg.MinUnit {
			return ErrBelowMinimum
		}
		if amount1 != 0 && amount1 < s.cfg.MinUnit {
			return ErrBelowMinimum
		}
		// The combined pull and the running totals must stay in int64 range
		if amount0 > math.MaxInt64-amount1 {
			return ErrAmountOverflow
		}
		if amount0 > math.MaxInt64-exp.TotalBet0 || amount1 > math.MaxInt64-exp.TotalBet1 {
			return ErrAmountOverflow
		}

		pos, err := s.repo.GetPositionTx(tx, id, caller)
		if err != nil {
			return err
		}
		pos.Bet0Amount += amount0
		pos.Bet1Amount += amount1
		exp.TotalBet0 += amount0
		exp.TotalBet1 += amount1

		if err := s.repo.UpsertPosition(tx, pos); err != nil {
			return err
		}
		if err := s.repo.Update(tx, exp); err != nil {
			return err
		}

		if err := s.assets.TransferFrom(caller, s.cfg.PoolAddress, amount0+amount1); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.bus.Publish(&events.BetPlacedData{
		ExperimentID: id,
		Participant:  caller,
		Amount0:      amount0,
		Amount1:      amount1,
	})

	return nil
}

// AdminReturnBet unwinds the listed participants' bets on both sides.
// Deliberately has no open precondition: bets can always be returned,
// even after the experiment closed. Zero rows are skipped.
func (s *Service) AdminReturnBet(caller string, id int64, participants []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.access.RequireAdmin(caller); err != nil {
		return err
	}

	type returned struct {
		participant string
		amount      int64
	}
	var returns []returned

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getExisting(tx, id)
		if err != nil {
			return err
		}

		for _, participant := range participants {
			amount, err := s.drainBets(tx, exp, participant)
			if err != nil {
				return err
			}
			if amount > 0 {
				returns = append(returns, returned{participant, amount})
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, ret := range returns {
		s.bus.Publish(&events.BetReturnedData{
			ExperimentID: id,
			Participant:  ret.participant,
			Amount:       ret.amount,
		})
	}

	return nil
}

// AdminSetResult finalizes the betting outcome. The market must already
// be closed, the result unset, and the winning side non-empty: a result
// nobody backed would make the payout division undefined.
func (s *Service) AdminSetResult(caller string, id int64, outcome domain.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.access.RequirePrimary(caller); err != nil {
		return err
	}
	if !outcome.IsSet() {
		return ErrInvalidOutcome
	}

	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getExisting(tx, id)
		if err != nil {
			return err
		}
		if exp.Open {
			return ErrMarketOpen
		}
		if exp.Outcome.IsSet() {
			return ErrResultAlreadySet
		}
		if exp.TotalBet(outcome) == 0 {
			return ErrWinningSideEmpty
		}

		exp.Outcome = outcome
		return s.repo.Update(tx, exp)
	})
	if err != nil {
		return err
	}

	s.bus.Publish(&events.ResultSetData{
		ExperimentID: id,
		Outcome:      outcome.String(),
	})

	s.log.Info().
		Int64("experiment_id", id).
		Str("outcome", outcome.String()).
		Msg("Result finalized")

	return nil
}

// Unbet is the permissionless escape valve: once the timeout since
// creation has elapsed and no result was ever set, any bettor can drain
// their own side rows without administrative help.
func (s *Service) Unbet(caller string, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var amount int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getExisting(tx, id)
		if err != nil {
			return err
		}
		if exp.Outcome.IsSet() {
			return ErrResultAlreadySet
		}
		if s.clock.Now().Sub(exp.CreatedAt) < s.cfg.UnbetTimeout {
			return ErrTimeoutNotElapsed
		}

		amount, err = s.drainBets(tx, exp, caller)
		return err
	})
	if err != nil {
		return err
	}

	if amount > 0 {
		s.bus.Publish(&events.BetReturnedData{
			ExperimentID: id,
			Participant:  caller,
			Amount:       amount,
		})
	}

	return nil
}

// ClaimProfit pays out a winning bettor: stake times the combined pool,
// divided by the winning side's total, rounded down. The floor-division
// remainder stays in the pool account; it is never redistributed. The
// winning-side row is zeroed so a second claim fails.
func (s *Service) ClaimProfit(caller string, id int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stake, payout int64
	err := database.WithTransaction(s.db, func(tx *sql.Tx) error {
		exp, err := s.getExisting(tx, id)
		if err != nil {
			return err
		}
		if !exp.Outcome.IsSet() {
			return ErrResultNotSet
		}

		pos, err := s.repo.GetPositionTx(tx, id, caller)
		if err != nil {
			return err
		}

		if exp.Outcome == domain.OutcomeSide0 {
			stake = pos.Bet0Amount
		} else {
			stake = pos.Bet1Amount
		}
		if stake == 0 {
			return ErrNoWinningBet
		}

		payout = proportionalPayout(stake, exp.Pool(), exp.TotalBet(exp.Outcome))

		// Only the winning-side row is zeroed. Bet totals stay fixed:
		// after resolution they are the payout denominator, not a live sum.
		if exp.Outcome == domain.OutcomeSide0 {
			pos.Bet0Amount = 0
		} else {
			pos.Bet1Amount = 0
		}
		if err := s.repo.UpsertPosition(tx, pos); err != nil {
			return err
		}

		if err := s.assets.Transfer(caller, payout); err != nil {
			return fmt.Errorf("%w: %v", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.bus.Publish(&events.ProfitClaimedData{
		ExperimentID: id,
		Participant:  caller,
		Stake:        stake,
		Payout:       payout,
	})

	return payout, nil
}

// Query operations (read-only, no serialization needed)

// GetExperiment returns one experiment by id
func (s *Service) GetExperiment(id int64) (*domain.Experiment, error) {
	exp, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, ErrNotFound
	}
	return exp, nil
}

// ListExperiments returns all experiments ever created
func (s *Service) ListExperiments() ([]domain.Experiment, error) {
	return s.repo.List()
}

// GetPosition returns a participant's ledger row for one experiment
func (s *Service) GetPosition(id int64, participant string) (*domain.Position, error) {
	exp, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, ErrNotFound
	}
	return s.repo.GetPosition(id, participant)
}

// ListFundedBy returns the experiment ids and deposit amounts a
// participant has funded
func (s *Service) ListFundedBy(participant string) ([]domain.FundedExperiment, error) {
	return s.repo.ListFundedBy(participant)
}

// Helper methods

// getExisting loads an experiment or fails with ErrNotFound
func (s *Service) getExisting(tx *sql.Tx, id int64) (*domain.Experiment, error) {
	exp, err := s.repo.GetTx(tx, id)
	if err != nil {
		return nil, err
	}
	if exp == nil {
		return nil, ErrNotFound
	}
	return exp, nil
}

// getOpen loads an experiment and requires its window to still be open
func (s *Service) getOpen(tx *sql.Tx, id int64) (*domain.Experiment, error) {
	exp, err := s.getExisting(tx, id)
	if err != nil {
		return nil, err
	}
	if !exp.Open {
		return nil, ErrMarketClosed
	}
	return exp, nil
}

// drainBets zeroes one participant's side rows, decrements the running
// totals and pushes the sum back. Returns the drained amount; zero rows
// are a no-op with no transfer.
func (s *Service) drainBets(tx *sql.Tx, exp *domain.Experiment, participant string) (int64, error) {
	pos, err := s.repo.GetPositionTx(tx, exp.ID, participant)
	if err != nil {
		return 0, err
	}

	amount := pos.BetTotal()
	if amount == 0 {
		return 0, nil
	}

	exp.TotalBet0 -= pos.Bet0Amount
	exp.TotalBet1 -= pos.Bet1Amount
	pos.Bet0Amount = 0
	pos.Bet1Amount = 0

	if err := s.repo.UpsertPosition(tx, pos); err != nil {
		return 0, err
	}
	if err := s.repo.Update(tx, exp); err != nil {
		return 0, err
	}

	if err := s.assets.Transfer(participant, amount); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	return amount, nil
}

// proportionalPayout computes floor(stake * pool / winningTotal). The
// intermediate product can exceed int64 for large pools, so it is
// computed over big integers.
func proportionalPayout(stake, pool, winningTotal int64) int64 {
	product := new(big.Int).Mul(big.NewInt(stake), big.NewInt(pool))
	return new(big.Int).Div(product, big.NewInt(winningTotal)).Int64()
}
