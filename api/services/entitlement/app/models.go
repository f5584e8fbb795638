package app

// AccessStatus is the status reported to API callers. It is coarser than the
// stored subscription status.
type AccessStatus string

const (
	AccessTrial   AccessStatus = "trial"
	AccessActive  AccessStatus = "active"
	AccessExpired AccessStatus = "expired"
)

// Evaluation is the result of an access check.
type Evaluation struct {
	Entitled      bool         `json:"entitled"`
	Status        AccessStatus `json:"status"`
	DaysRemaining int          `json:"daysRemaining"`
	Reason        string       `json:"reason"`
}

const (
	ReasonTrial             = "trial period"
	ReasonSubscription      = "active subscription"
	ReasonCanceledUntilEnd  = "subscription canceled, access continues until the paid period ends"
	ReasonNoEntitlement     = "trial ended and no active subscription"
	ReasonSubscriptionEnded = "subscription period ended"
)
