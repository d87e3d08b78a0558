// Package events provides the notification bus and event payload types.
// Notifications are fire-and-forget: they are published after the owning
// database transaction commits, and serve as the system's audit trail.
package events

// EventType identifies a notification kind
type EventType string

const (
	ExperimentCreated EventType = "EXPERIMENT_CREATED"
	Deposited         EventType = "DEPOSITED"
	Undeposited       EventType = "UNDEPOSITED"
	BetPlaced         EventType = "BET_PLACED"
	BetReturned       EventType = "BET_RETURNED"
	ResultSet         EventType = "RESULT_SET"
	AdminWithdrew     EventType = "ADMIN_WITHDREW"
	AdminClosed       EventType = "ADMIN_CLOSED"
	ProfitClaimed     EventType = "PROFIT_CLAIMED"
)

// EventData is the interface that all event data types must implement.
// This allows for type-safe event data while maintaining flexibility.
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// ExperimentCreatedData contains data for ExperimentCreated events
type ExperimentCreatedData struct {
	ExperimentID int64  `json:"experiment_id"`
	CostMin      int64  `json:"cost_min"`
	CostMax      int64  `json:"cost_max"`
	Creator      string `json:"creator"`
}

// EventType returns the event type for ExperimentCreatedData
func (d *ExperimentCreatedData) EventType() EventType {
	return ExperimentCreated
}

// DepositedData contains data for Deposited events
type DepositedData struct {
	ExperimentID   int64  `json:"experiment_id"`
	Participant    string `json:"participant"`
	Amount         int64  `json:"amount"`
	TotalDeposited int64  `json:"total_deposited"`
}

// EventType returns the event type for DepositedData
func (d *DepositedData) EventType() EventType {
	return Deposited
}

// UndepositedData contains data for Undeposited events.
// Emitted both for self-service undeposits and administrative refunds.
type UndepositedData struct {
	ExperimentID   int64  `json:"experiment_id"`
	Participant    string `json:"participant"`
	Amount         int64  `json:"amount"`
	TotalDeposited int64  `json:"total_deposited"`
}

// EventType returns the event type for UndepositedData
func (d *UndepositedData) EventType() EventType {
	return Undeposited
}

// BetPlacedData contains data for BetPlaced events
type BetPlacedData struct {
	ExperimentID int64  `json:"experiment_id"`
	Participant  string `json:"participant"`
	Amount0      int64  `json:"amount0"`
	Amount1      int64  `json:"amount1"`
}

// EventType returns the event type for BetPlacedData
func (d *BetPlacedData) EventType() EventType {
	return BetPlaced
}

// BetReturnedData contains data for BetReturned events.
// Emitted for administrative bet returns and the permissionless unbet.
type BetReturnedData struct {
	ExperimentID int64  `json:"experiment_id"`
	Participant  string `json:"participant"`
	Amount       int64  `json:"amount"`
}

// EventType returns the event type for BetReturnedData
func (d *BetReturnedData) EventType() EventType {
	return BetReturned
}

// ResultSetData contains data for ResultSet events
type ResultSetData struct {
	ExperimentID int64  `json:"experiment_id"`
	Outcome      string `json:"outcome"`
}

// EventType returns the event type for ResultSetData
func (d *ResultSetData) EventType() EventType {
	return ResultSet
}

// AdminWithdrewData contains data for AdminWithdrew events
type AdminWithdrewData struct {
	ExperimentID int64  `json:"experiment_id"`
	Amount       int64  `json:"amount"`
	Recipient    string `json:"recipient"`
}

// EventType returns the event type for AdminWithdrewData
func (d *AdminWithdrewData) EventType() EventType {
	return AdminWithdrew
}

// AdminClosedData contains data for AdminClosed events
type AdminClosedData struct {
	ExperimentID int64 `json:"experiment_id"`
}

// EventType returns the event type for AdminClosedData
func (d *AdminClosedData) EventType() EventType {
	return AdminClosed
}

// ProfitClaimedData contains data for ProfitClaimed events
type ProfitClaimedData struct {
	ExperimentID int64  `json:"experiment_id"`
	Participant  string `json:"participant"`
	Stake        int64  `json:"stake"`
	Payout       int64  `json:"payout"`
}

// EventType returns the event type for ProfitClaimedData
func (d *ProfitClaimedData) EventType() EventType {
	return ProfitClaimed
}
