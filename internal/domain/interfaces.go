package domain

import "time"

// AssetLedger is the external fungible-asset ledger that actually moves
// value. The experiment ledger only calls Transfer (push from the pool
// account) and TransferFrom (pull, requiring prior caller approval) on
// its hot paths; BalanceOf and Approve are exposed for completeness.
//
// A failed call must abort the enclosing operation: callers run inside a
// database transaction and treat any returned error as fatal to the call.
type AssetLedger interface {
	// Transfer pushes amount from the pool account to the given address
	Transfer(to string, amount int64) error

	// TransferFrom pulls amount from one address to another.
	// Requires the source to have approved the pool account beforehand.
	TransferFrom(from, to string, amount int64) error

	// BalanceOf returns the balance of an address
	BalanceOf(account string) (int64, error)

	// Approve authorizes a spender for amount on behalf of the pool account
	Approve(spender string, amount int64) error
}

// Clock supplies the current timestamp per operation. The environment
// guarantees it is monotonically non-decreasing across the total order
// of operations; it is used for creation timestamps and the unbet
// timeout comparison only.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock backed by the system time
type RealClock struct{}

// Now returns the current UTC time
func (RealClock) Now() time.Time {
	return time.Now().UTC()
}
