package billing

// Status is the settlement status of a billing record
type Status string

const (
	StatusPending              Status = "pending"
	StatusCharged              Status = "charged"
	StatusFailed               Status = "failed"
	StatusSubscriptionIncluded Status = "subscription_included"
)

// String returns the string representation of Status
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is known
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusCharged, StatusFailed, StatusSubscriptionIncluded:
		return true
	}
	return false
}

// IsTerminal returns true if no further settlement happens automatically
func (s Status) IsTerminal() bool {
	return s != StatusPending
}

// Stage is a step of the calculator's per-event state machine
type Stage string

const (
	StageReceived  Stage = "received"
	StagePriced    Stage = "priced"
	StageComputed  Stage = "computed"
	StageRecorded  Stage = "recorded"
	StagePublished Stage = "published"
	StageError     Stage = "error"
)
