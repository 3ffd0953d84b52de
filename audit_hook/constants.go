package audithook

// Action constants for audit events.
const (
	// Grant actions
	ActionCreditsGranted = "credits.granted"

	// Allocation actions
	ActionCreditsAllocated = "credits.allocated"

	// Consumption actions
	ActionCreditsConsumed     = "credits.consumed"
	ActionInsufficientCredits = "credits.insufficient"

	// Transfer actions
	ActionCreditsTransferred = "credits.transferred"

	// Expiry actions
	ActionPoolsExpired = "pools.expired"

	// Account actions
	ActionAccountDisabled = "account.disabled"

	// Outbox actions
	ActionEventPublished = "event.published"
	ActionEventFailed    = "event.failed"
)

// Resource constants for audit events.
const (
	ResourceAccount    = "account"
	ResourcePool       = "pool"
	ResourceAllocation = "allocation"
	ResourceTransfer   = "transfer"
	ResourceEvent      = "event"
)

// Category constants for audit events.
const (
	CategoryLedger  = "ledger"
	CategoryAccess  = "access"
	CategoryOutbox  = "outbox"
	CategoryAccount = "account"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
