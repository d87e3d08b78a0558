package experiments

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/apothes/labledger/internal/domain"
)

// experimentColumns is the list of columns for the experiments table.
// Used to avoid SELECT * which can break when schema changes.
// Column order must match the scan helpers below.
const experimentColumns = `id, cost_min, cost_max, total_deposited, total_bet0, total_bet1, outcome, open, created_at`

// Repository handles experiment and position database operations.
// Mutating methods take a *sql.Tx: every state transition runs inside
// one transaction owned by the service, so a failed step (including a
// failed external transfer) rolls back every prior write.
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewRepository creates a new experiment repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "experiments").Logger(),
	}
}

// NextID returns the next sequential experiment id within a transaction.
// Ids start at 0 and experiments are never deleted, so MAX(id)+1 is the
// monotonic counter.
func (r *Repository) NextID(tx *sql.Tx) (int64, error) {
	var next int64
	err := tx.QueryRow(`SELECT COALESCE(MAX(id) + 1, 0) FROM experiments`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to get next experiment id: %w", err)
	}
	return next, nil
}

// Insert stores a newly created experiment
func (r *Repository) Insert(tx *sql.Tx, exp *domain.Experiment) error {
	query := `
		INSERT INTO experiments
		(id, cost_min, cost_max, total_deposited, total_bet0, total_bet1, outcome, open, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := tx.Exec(query,
		exp.ID,
		exp.CostMin,
		exp.CostMax,
		exp.TotalDeposited,
		exp.TotalBet0,
		exp.TotalBet1,
		int(exp.Outcome),
		boolToInt(exp.Open),
		exp.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert experiment: %w", err)
	}

	return nil
}

// Update persists an experiment's mutable fields (totals, outcome, open)
func (r *Repository) Update(tx *sql.Tx, exp *domain.Experiment) error {
	query := `
		UPDATE experiments
		SET total_deposited = ?, total_bet0 = ?, total_bet1 = ?, outcome = ?, open = ?
		WHERE id = ?
	`

	result, err := tx.Exec(query,
		exp.TotalDeposited,
		exp.TotalBet0,
		exp.TotalBet1,
		int(exp.Outcome),
		boolToInt(exp.Open),
		exp.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update experiment %d: %w", exp.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update of experiment %d: %w", exp.ID, err)
	}
	if affected == 0 {
		return fmt.Errorf("experiment %d vanished during update", exp.ID)
	}

	return nil
}

// GetTx retrieves an experiment within a transaction.
// Returns nil without error when the id was never assigned.
func (r *Repository) GetTx(tx *sql.Tx, id int64) (*domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE id = ?`
	return scanExperiment(tx.QueryRow(query, id))
}

// Get retrieves an experiment outside a transaction
func (r *Repository) Get(id int64) (*domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments WHERE id = ?`
	return scanExperiment(r.db.QueryRow(query, id))
}

// List retrieves all experiments ordered by id
func (r *Repository) List() ([]domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments ORDER BY id ASC`

	rows, err := r.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list experiments: %w", err)
	}
	defer rows.Close()

	var experiments []domain.Experiment
	for rows.Next() {
		exp, err := scanExperimentFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, *exp)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiments: %w", err)
	}

	return experiments, nil
}

// GetPositionTx retrieves a participant's ledger row within a
// transaction. A participant with no row yet gets a zero-valued one.
func (r *Repository) GetPositionTx(tx *sql.Tx, experimentID int64, participant string) (*domain.Position, error) {
	query := `
		SELECT experiment_id, participant, deposit_amount, bet0_amount, bet1_amount
		FROM positions
		WHERE experiment_id = ? AND participant = ?
	`

	pos := &domain.Position{ExperimentID: experimentID, Participant: participant}
	err := tx.QueryRow(query, experimentID, participant).Scan(
		&pos.ExperimentID,
		&pos.Participant,
		&pos.DepositAmount,
		&pos.Bet0Amount,
		&pos.Bet1Amount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pos, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return pos, nil
}

// GetPosition retrieves a participant's ledger row outside a transaction
func (r *Repository) GetPosition(experimentID int64, participant string) (*domain.Position, error) {
	query := `
		SELECT experiment_id, participant, deposit_amount, bet0_amount, bet1_amount
		FROM positions
		WHERE experiment_id = ? AND participant = ?
	`

	pos := &domain.Position{ExperimentID: experimentID, Participant: participant}
	err := r.db.QueryRow(query, experimentID, participant).Scan(
		&pos.ExperimentID,
		&pos.Participant,
		&pos.DepositAmount,
		&pos.Bet0Amount,
		&pos.Bet1Amount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return pos, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get position: %w", err)
	}

	return pos, nil
}

// UpsertPosition writes a participant's ledger row
func (r *Repository) UpsertPosition(tx *sql.Tx, pos *domain.Position) error {
	query := `
		INSERT INTO positions (experiment_id, participant, deposit_amount, bet0_amount, bet1_amount)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(experiment_id, participant) DO UPDATE SET
			deposit_amount = excluded.deposit_amount,
			bet0_amount = excluded.bet0_amount,
			bet1_amount = excluded.bet1_amount
	`

	_, err := tx.Exec(query,
		pos.ExperimentID,
		pos.Participant,
		pos.DepositAmount,
		pos.Bet0Amount,
		pos.Bet1Amount,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert position: %w", err)
	}

	return nil
}

// ListFundedBy returns the experiments a participant has a live deposit
// in, with the deposit amounts
func (r *Repository) ListFundedBy(participant string) ([]domain.FundedExperiment, error) {
	query := `
		SELECT experiment_id, deposit_amount
		FROM positions
		WHERE participant = ? AND deposit_amount > 0
		ORDER BY experiment_id ASC
	`

	rows, err := r.db.Query(query, participant)
	if err != nil {
		return nil, fmt.Errorf("failed to list funded experiments: %w", err)
	}
	defer rows.Close()

	var funded []domain.FundedExperiment
	for rows.Next() {
		var f domain.FundedExperiment
		if err := rows.Scan(&f.ExperimentID, &f.DepositAmount); err != nil {
			return nil, fmt.Errorf("failed to scan funded experiment: %w", err)
		}
		funded = append(funded, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating funded experiments: %w", err)
	}

	return funded, nil
}

// SumPositions aggregates the per-participant rows of one experiment.
// Used by invariant checks: outside the post-withdrawal case the sums
// must equal the experiment's running totals exactly.
func (r *Repository) SumPositions(experimentID int64) (deposits, bet0, bet1 int64, err error) {
	query := `
		SELECT
			COALESCE(SUM(deposit_amount), 0),
			COALESCE(SUM(bet0_amount), 0),
			COALESCE(SUM(bet1_amount), 0)
		FROM positions
		WHERE experiment_id = ?
	`

	err = r.db.QueryRow(query, experimentID).Scan(&deposits, &bet0, &bet1)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("failed to sum positions: %w", err)
	}

	return deposits, bet0, bet1, nil
}

// Helper functions

func scanExperiment(row *sql.Row) (*domain.Experiment, error) {
	exp, err := scanExperimentFrom(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experiment: %w", err)
	}
	return exp, nil
}

func scanExperimentFromRows(rows *sql.Rows) (*domain.Experiment, error) {
	return scanExperimentFrom(rows.Scan)
}

func scanExperimentFrom(scan func(...interface{}) error) (*domain.Experiment, error) {
	var exp domain.Experiment
	var outcome, open int
	var createdAt int64

	err := scan(
		&exp.ID,
		&exp.CostMin,
		&exp.CostMax,
		&exp.TotalDeposited,
		&exp.TotalBet0,
		&exp.TotalBet1,
		&outcome,
		&open,
		&createdAt,
	)
	if err != nil {
		return nil, err
	}

	exp.Outcome = domain.Outcome(outcome)
	exp.Open = open == 1
	exp.CreatedAt = time.Unix(createdAt, 0).UTC()

	return &exp, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
