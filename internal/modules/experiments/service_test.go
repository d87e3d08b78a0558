package experiments

import (
	"database/sql"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/apothes/labledger/internal/domain"
	"github.com/apothes/labledger/internal/events"
)

const (
	primary   = "addr-primary"
	secondary = "addr-secondary"
	poolAddr  = "addr-pool"
	alice     = "addr-alice"
	bob       = "addr-bob"
	carol     = "addr-carol"
)

// mockLedger records asset movements in memory
type mockLedger struct {
	transfers []transferCall
	failNext  bool
}

type transferCall struct {
	from   string
	to     string
	amount int64
}

func (m *mockLedger) Transfer(to string, amount int64) error {
	if m.failNext {
		m.failNext = false
		return errors.New("ledger rejected transfer")
	}
	m.transfers = append(m.transfers, transferCall{from: poolAddr, to: to, amount: amount})
	return nil
}

func (m *mockLedger) TransferFrom(from, to string, amount int64) error {
	if m.failNext {
		m.failNext = false
		return errors.New("ledger rejected transfer")
	}
	m.transfers = append(m.transfers, transferCall{from: from, to: to, amount: amount})
	return nil
}

func (m *mockLedger) BalanceOf(account string) (int64, error) { return 0, nil }
func (m *mockLedger) Approve(spender string, amount int64) error {
	return nil
}

func (m *mockLedger) lastTransfer() transferCall {
	return m.transfers[len(m.transfers)-1]
}

// fakeClock returns a settable fixed time
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestService(t *testing.T) (*Service, *mockLedger, *fakeClock, *events.Bus) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, EnsureSchema(db))

	log := zerolog.Nop()
	bus := events.NewBus(log)
	clock := &fakeClock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	ledger := &mockLedger{}

	svc := NewService(
		db,
		NewRepository(db, log),
		ledger,
		NewAccessControl(primary, secondary),
		bus,
		clock,
		Config{
			MinUnit:      10,
			PoolAddress:  poolAddr,
			UnbetTimeout: 60 * 24 * time.Hour,
		},
		log,
	)

	return svc, ledger, clock, bus
}

func TestCreateValidation(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Create(alice, 100, 500)
	assert.ErrorIs(t, err, ErrRoleMismatch)

	// costMin below the global minimum
	_, err = svc.Create(primary, 5, 500)
	assert.ErrorIs(t, err, ErrInvalidBounds)

	// inverted bounds
	_, err = svc.Create(primary, 500, 100)
	assert.ErrorIs(t, err, ErrInvalidBounds)

	// ids are sequential from zero
	id0, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	id1, err := svc.Create(secondary, 100, 500)
	require.NoError(t, err)
	assert.Equal(t, int64(0), id0)
	assert.Equal(t, int64(1), id1)

	// equal bounds are allowed
	_, err = svc.Create(primary, 100, 100)
	assert.NoError(t, err)
}

func TestFundingLifecycle(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	require.NoError(t, svc.Deposit(alice, id, 50))
	require.NoError(t, svc.Deposit(bob, id, 75))
	require.NoError(t, svc.Deposit(alice, id, 100))

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(225), exp.TotalDeposited)

	// deposits were pulled from the participants into the pool
	assert.Equal(t, transferCall{from: alice, to: poolAddr, amount: 100}, ledger.lastTransfer())

	pos, err := svc.GetPosition(id, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(150), pos.DepositAmount)

	// undeposit returns the whole row, not part of it
	require.NoError(t, svc.Undeposit(bob, id))
	assert.Equal(t, transferCall{from: poolAddr, to: bob, amount: 75}, ledger.lastTransfer())

	exp, err = svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), exp.TotalDeposited)

	// goal reached: primary collects the pool and the experiment closes
	require.NoError(t, svc.AdminWithdraw(primary, id))
	assert.Equal(t, transferCall{from: poolAddr, to: primary, amount: 150}, ledger.lastTransfer())

	exp, err = svc.GetExperiment(id)
	require.NoError(t, err)
	assert.False(t, exp.Open)
	assert.Equal(t, int64(0), exp.TotalDeposited)

	// deposit rows survive withdrawal as a historical record
	pos, err = svc.GetPosition(id, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(150), pos.DepositAmount)

	// closed experiments accept no more funding in either direction
	assert.ErrorIs(t, svc.Deposit(carol, id, 50), ErrMarketClosed)
	assert.ErrorIs(t, svc.Undeposit(alice, id), ErrMarketClosed)
}

func TestDepositValidation(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 200)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Deposit(alice, id, 5), ErrBelowMinimum)

	require.NoError(t, svc.Deposit(alice, id, 150))

	// a deposit past the cap is rejected whole, never truncated
	assert.ErrorIs(t, svc.Deposit(bob, id, 75), ErrExceedsCap)

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), exp.TotalDeposited)

	// exactly reaching the cap is fine
	require.NoError(t, svc.Deposit(bob, id, 50))

	assert.ErrorIs(t, svc.Deposit(carol, id, 10), ErrExceedsCap)
	assert.Len(t, ledger.transfers, 2)

	assert.ErrorIs(t, svc.Deposit(alice, 99, 50), ErrNotFound)
}

func TestUndepositZeroRowIsSilent(t *testing.T) {
	svc, ledger, _, bus := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	var published int
	bus.Subscribe(events.Undeposited, func(*events.Event) { published++ })

	// never deposited: succeeds with no transfer and no notification
	require.NoError(t, svc.Undeposit(alice, id))
	assert.Empty(t, ledger.transfers)
	assert.Zero(t, published)
}

func TestAdminWithdrawGuards(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(alice, id, 50))

	// below costMin
	assert.ErrorIs(t, svc.AdminWithdraw(primary, id), ErrGoalNotReached)

	// secondary role cannot collect funding
	require.NoError(t, svc.Deposit(bob, id, 50))
	assert.ErrorIs(t, svc.AdminWithdraw(secondary, id), ErrRoleMismatch)
	assert.ErrorIs(t, svc.AdminWithdraw(alice, id), ErrRoleMismatch)

	require.NoError(t, svc.AdminWithdraw(primary, id))
	assert.ErrorIs(t, svc.AdminWithdraw(primary, id), ErrMarketClosed)
}

func TestAdminCloseRequiresDrainedState(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(alice, id, 50))
	require.NoError(t, svc.Bet(bob, id, 20, 0))

	assert.ErrorIs(t, svc.AdminClose(primary, id), ErrOutstandingBalances)

	require.NoError(t, svc.AdminRefund(secondary, id, []string{alice}))
	assert.ErrorIs(t, svc.AdminClose(primary, id), ErrOutstandingBalances)

	require.NoError(t, svc.AdminReturnBet(secondary, id, []string{bob}))
	require.NoError(t, svc.AdminClose(secondary, id))

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.False(t, exp.Open)

	// everything was returned to its owner
	assert.Contains(t, ledger.transfers, transferCall{from: poolAddr, to: alice, amount: 50})
	assert.Contains(t, ledger.transfers, transferCall{from: poolAddr, to: bob, amount: 20})
}

func TestRefundAndCloseScenario(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	require.NoError(t, svc.Deposit(alice, id, 50))
	require.NoError(t, svc.Deposit(bob, id, 75))
	require.NoError(t, svc.Deposit(carol, id, 100))

	require.NoError(t, svc.Undeposit(bob, id))

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), exp.TotalDeposited)

	require.NoError(t, svc.AdminRefund(primary, id, []string{alice, carol}))
	require.NoError(t, svc.AdminClose(primary, id))

	exp, err = svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.TotalDeposited)
	assert.False(t, exp.Open)
}

func TestAdminRefundSkipsZeroRows(t *testing.T) {
	svc, ledger, _, bus := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(alice, id, 50))

	var refunded []string
	bus.Subscribe(events.Undeposited, func(e *events.Event) {
		refunded = append(refunded, e.Data.(*events.UndepositedData).Participant)
	})

	assert.ErrorIs(t, svc.AdminRefund(alice, id, []string{alice}), ErrRoleMismatch)

	// carol has no row and alice is listed twice: both are harmless
	require.NoError(t, svc.AdminRefund(primary, id, []string{alice, carol, alice}))

	assert.Equal(t, []string{alice}, refunded)
	assert.Len(t, ledger.transfers, 2) // deposit pull + one refund

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.TotalDeposited)
}

func TestBetValidation(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	assert.ErrorIs(t, svc.Bet(alice, id, 0, 0), ErrZeroBet)
	assert.ErrorIs(t, svc.Bet(alice, id, 5, 0), ErrBelowMinimum)
	assert.ErrorIs(t, svc.Bet(alice, id, 20, 5), ErrBelowMinimum)

	// backing both sides in one call is allowed; one pull for the sum
	require.NoError(t, svc.Bet(alice, id, 50, 30))
	assert.Equal(t, transferCall{from: alice, to: poolAddr, amount: 80}, ledger.lastTransfer())

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(50), exp.TotalBet0)
	assert.Equal(t, int64(30), exp.TotalBet1)

	pos, err := svc.GetPosition(id, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(50), pos.Bet0Amount)
	assert.Equal(t, int64(30), pos.Bet1Amount)
}

func TestBetOverflowRejected(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	// both sides pass the minimum individually but their sum wraps
	err = svc.Bet(alice, id, math.MaxInt64-7, 16)
	assert.ErrorIs(t, err, ErrAmountOverflow)
	assert.Empty(t, ledger.transfers)

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.TotalBet0)
	assert.Equal(t, int64(0), exp.TotalBet1)

	// a huge single-side stake is fine on its own but must not wrap the
	// running total on the next bet
	require.NoError(t, svc.Bet(alice, id, math.MaxInt64-5, 0))
	assert.ErrorIs(t, svc.Bet(bob, id, 10, 0), ErrAmountOverflow)

	exp, err = svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64-5), exp.TotalBet0)
}

func TestDepositOverflowRejectedAsCap(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, math.MaxInt64-100)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(alice, id, 200))

	// the wrapped sum must surface as a cap rejection, not slip past the
	// guard into a constraint failure
	assert.ErrorIs(t, svc.Deposit(bob, id, math.MaxInt64), ErrExceedsCap)
	assert.Len(t, ledger.transfers, 1)
}

func TestBettingPayoutLifecycle(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(carol, id, 100))

	require.NoError(t, svc.Bet(alice, id, 100, 0))
	require.NoError(t, svc.Bet(bob, id, 0, 50))

	// result cannot be set while the window is open
	assert.ErrorIs(t, svc.AdminSetResult(primary, id, domain.OutcomeSide0), ErrMarketOpen)

	require.NoError(t, svc.AdminWithdraw(primary, id))

	// betting window closed along with funding
	assert.ErrorIs(t, svc.Bet(carol, id, 20, 0), ErrMarketClosed)

	assert.ErrorIs(t, svc.AdminSetResult(secondary, id, domain.OutcomeSide0), ErrRoleMismatch)
	require.NoError(t, svc.AdminSetResult(primary, id, domain.OutcomeSide0))
	assert.ErrorIs(t, svc.AdminSetResult(primary, id, domain.OutcomeSide1), ErrResultAlreadySet)

	// winner takes stake * pool / winningTotal = 100 * 150 / 100
	payout, err := svc.ClaimProfit(alice, id)
	require.NoError(t, err)
	assert.Equal(t, int64(150), payout)
	assert.Equal(t, transferCall{from: poolAddr, to: alice, amount: 150}, ledger.lastTransfer())

	// a second claim finds a zeroed row
	_, err = svc.ClaimProfit(alice, id)
	assert.ErrorIs(t, err, ErrNoWinningBet)

	// the losing side has nothing to claim
	_, err = svc.ClaimProfit(bob, id)
	assert.ErrorIs(t, err, ErrNoWinningBet)
}

func TestClaimBeforeResult(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Bet(alice, id, 100, 0))

	_, err = svc.ClaimProfit(alice, id)
	assert.ErrorIs(t, err, ErrResultNotSet)
}

func TestSetResultRequiresBackedSide(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Bet(alice, id, 100, 0))
	require.NoError(t, svc.AdminReturnBet(primary, id, nil)) // no-op, market still open
	require.NoError(t, svc.Deposit(bob, id, 100))
	require.NoError(t, svc.AdminWithdraw(primary, id))

	// nobody backed side1: finalizing it would make payout undefined
	assert.ErrorIs(t, svc.AdminSetResult(primary, id, domain.OutcomeSide1), ErrWinningSideEmpty)

	assert.ErrorIs(t, svc.AdminSetResult(primary, id, domain.OutcomeUnset), ErrInvalidOutcome)

	require.NoError(t, svc.AdminSetResult(primary, id, domain.OutcomeSide0))
}

func TestPayoutFloorResidual(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(carol, id, 100))

	// winning side 60 across two bettors, pool 110
	require.NoError(t, svc.Bet(alice, id, 30, 0))
	require.NoError(t, svc.Bet(bob, id, 30, 0))
	require.NoError(t, svc.Bet(carol, id, 0, 50))

	require.NoError(t, svc.AdminWithdraw(primary, id))
	require.NoError(t, svc.AdminSetResult(primary, id, domain.OutcomeSide0))

	p1, err := svc.ClaimProfit(alice, id)
	require.NoError(t, err)
	p2, err := svc.ClaimProfit(bob, id)
	require.NoError(t, err)

	// floor(30 * 110 / 60) = 55 each, no residual in this split
	assert.Equal(t, int64(55), p1)
	assert.Equal(t, int64(55), p2)
	assert.LessOrEqual(t, p1+p2, int64(110))

	// totals stay fixed after resolution: they are the payout denominator
	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(60), exp.TotalBet0)
	assert.Equal(t, int64(50), exp.TotalBet1)

	_ = ledger
}

func TestPayoutResidualStaysInPool(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	// pool 100, winning side 30 across three bettors of 10 each:
	// each claims floor(10 * 100 / 30) = 33, residual 1 is stranded
	require.NoError(t, svc.Bet(alice, id, 10, 0))
	require.NoError(t, svc.Bet(bob, id, 10, 0))
	require.NoError(t, svc.Bet(carol, id, 10, 0))
	require.NoError(t, svc.Bet(alice, id, 0, 70))

	require.NoError(t, svc.Deposit(alice, id, 100))
	require.NoError(t, svc.AdminWithdraw(primary, id))
	require.NoError(t, svc.AdminSetResult(primary, id, domain.OutcomeSide0))

	var sum int64
	for _, caller := range []string{alice, bob, carol} {
		payout, err := svc.ClaimProfit(caller, id)
		require.NoError(t, err)
		assert.Equal(t, int64(33), payout)
		sum += payout
	}

	assert.Equal(t, int64(99), sum)
	assert.LessOrEqual(t, int64(100)-sum, int64(3-1))
}

func TestUnbetEscapeValve(t *testing.T) {
	svc, ledger, clock, bus := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Bet(alice, id, 50, 30))

	assert.ErrorIs(t, svc.Unbet(alice, id), ErrTimeoutNotElapsed)

	clock.advance(59 * 24 * time.Hour)
	assert.ErrorIs(t, svc.Unbet(alice, id), ErrTimeoutNotElapsed)

	var published int
	bus.Subscribe(events.BetReturned, func(*events.Event) { published++ })

	clock.advance(24 * time.Hour)
	require.NoError(t, svc.Unbet(alice, id))
	assert.Equal(t, transferCall{from: poolAddr, to: alice, amount: 80}, ledger.lastTransfer())
	assert.Equal(t, 1, published)

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.TotalBet0)
	assert.Equal(t, int64(0), exp.TotalBet1)

	// drained row: silent success, nothing published
	require.NoError(t, svc.Unbet(alice, id))
	assert.Equal(t, 1, published)
}

func TestUnbetBlockedAfterResult(t *testing.T) {
	svc, _, clock, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(alice, id, 100))
	require.NoError(t, svc.Bet(alice, id, 50, 0))
	require.NoError(t, svc.Bet(bob, id, 0, 30))
	require.NoError(t, svc.AdminWithdraw(primary, id))
	require.NoError(t, svc.AdminSetResult(primary, id, domain.OutcomeSide0))

	clock.advance(90 * 24 * time.Hour)

	// once a result exists, settlement goes through claims only
	assert.ErrorIs(t, svc.Unbet(alice, id), ErrResultAlreadySet)
	assert.ErrorIs(t, svc.Unbet(bob, id), ErrResultAlreadySet)
}

func TestAdminReturnBetWorksAfterClose(t *testing.T) {
	svc, ledger, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	require.NoError(t, svc.Deposit(alice, id, 100))
	require.NoError(t, svc.Bet(bob, id, 40, 20))
	require.NoError(t, svc.AdminWithdraw(primary, id))

	require.NoError(t, svc.AdminReturnBet(primary, id, []string{bob, carol}))
	assert.Equal(t, transferCall{from: poolAddr, to: bob, amount: 60}, ledger.lastTransfer())

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.TotalBet0)
	assert.Equal(t, int64(0), exp.TotalBet1)
}

func TestTransferFailureRollsBack(t *testing.T) {
	svc, ledger, _, bus := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	var published int
	bus.Subscribe(events.Deposited, func(*events.Event) { published++ })

	ledger.failNext = true
	err = svc.Deposit(alice, id, 50)
	assert.ErrorIs(t, err, ErrTransferFailed)
	assert.Zero(t, published)

	// the whole transaction rolled back with the failed transfer
	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, int64(0), exp.TotalDeposited)

	pos, err := svc.GetPosition(id, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(0), pos.DepositAmount)

	// the next attempt is unaffected
	require.NoError(t, svc.Deposit(alice, id, 50))
	assert.Equal(t, 1, published)
}

func TestTotalsMatchPositionRows(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	require.NoError(t, svc.Deposit(alice, id, 50))
	require.NoError(t, svc.Deposit(bob, id, 75))
	require.NoError(t, svc.Bet(alice, id, 30, 0))
	require.NoError(t, svc.Bet(carol, id, 20, 40))
	require.NoError(t, svc.Undeposit(bob, id))

	deposits, bet0, bet1, err := svc.repo.SumPositions(id)
	require.NoError(t, err)

	exp, err := svc.GetExperiment(id)
	require.NoError(t, err)
	assert.Equal(t, exp.TotalDeposited, deposits)
	assert.Equal(t, exp.TotalBet0, bet0)
	assert.Equal(t, exp.TotalBet1, bet1)
}

func TestListFundedBy(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	id0, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)
	id1, err := svc.Create(primary, 100, 500)
	require.NoError(t, err)

	require.NoError(t, svc.Deposit(alice, id0, 50))
	require.NoError(t, svc.Deposit(alice, id1, 30))
	require.NoError(t, svc.Bet(bob, id0, 20, 0)) // bets don't count as funding

	funded, err := svc.ListFundedBy(alice)
	require.NoError(t, err)
	require.Len(t, funded, 2)
	assert.Equal(t, id0, funded[0].ExperimentID)
	assert.Equal(t, int64(50), funded[0].DepositAmount)

	funded, err = svc.ListFundedBy(bob)
	require.NoError(t, err)
	assert.Empty(t, funded)
}
