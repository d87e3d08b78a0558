package experiments

import (
	"database/sql"
	"fmt"
)

// schema is the single source of truth for the ledger database layout.
//
// Experiments are never deleted: the table is an append-only arena and
// ids are assigned sequentially starting at 0. Positions are keyed by
// the composite (experiment_id, participant) so the running-total
// invariants can be checked with one aggregate query.
const schema = `
CREATE TABLE IF NOT EXISTS experiments (
	id              INTEGER PRIMARY KEY,
	cost_min        INTEGER NOT NULL,
	cost_max        INTEGER NOT NULL,
	total_deposited INTEGER NOT NULL DEFAULT 0,
	total_bet0      INTEGER NOT NULL DEFAULT 0,
	total_bet1      INTEGER NOT NULL DEFAULT 0,
	outcome         INTEGER NOT NULL DEFAULT -1,
	open            INTEGER NOT NULL DEFAULT 1,
	created_at      INTEGER NOT NULL,

	CHECK (cost_min <= cost_max),
	CHECK (total_deposited >= 0 AND total_deposited <= cost_max),
	CHECK (total_bet0 >= 0),
	CHECK (total_bet1 >= 0),
	CHECK (outcome IN (-1, 0, 1))
);

CREATE TABLE IF NOT EXISTS positions (
	experiment_id  INTEGER NOT NULL,
	participant    TEXT NOT NULL,
	deposit_amount INTEGER NOT NULL DEFAULT 0,
	bet0_amount    INTEGER NOT NULL DEFAULT 0,
	bet1_amount    INTEGER NOT NULL DEFAULT 0,

	PRIMARY KEY (experiment_id, participant),
	CHECK (deposit_amount >= 0),
	CHECK (bet0_amount >= 0),
	CHECK (bet1_amount >= 0)
);

CREATE INDEX IF NOT EXISTS idx_positions_participant ON positions(participant);
`

// EnsureSchema applies the ledger schema. Statements are idempotent so
// this is safe to run on every startup.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to apply ledger schema: %w", err)
	}
	return nil
}
