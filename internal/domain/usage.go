package domain

// UsageIncrement is a single unit of token/request usage to be aggregated
// and reported to governance. All fields are non-negative.
type UsageIncrement struct {
	ExternalID   string `json:"external_id"`
	InputTokens  int64  `json:"input_tokens"`
	OutputTokens int64  `json:"output_tokens"`
	Requests     int64  `json:"requests"`
}

// IsEmpty reports whether the increment carries no usage at all.
func (u UsageIncrement) IsEmpty() bool {
	return u.InputTokens == 0 && u.OutputTokens == 0 && u.Requests == 0
}

// AggregatedUsage accumulates increments for a single external id within
// one flush window. It is ephemeral: constructed, summed into, drained.
type AggregatedUsage struct {
	InputTokens  int64
	OutputTokens int64
	Requests     int64
}

// Add merges an increment into the aggregate.
func (a *AggregatedUsage) Add(inc UsageIncrement) {
	a.InputTokens += inc.InputTokens
	a.OutputTokens += inc.OutputTokens
	a.Requests += inc.Requests
}

// IsEmpty reports whether the aggregate carries no usage at all.
func (a AggregatedUsage) IsEmpty() bool {
	return a.InputTokens == 0 && a.OutputTokens == 0 && a.Requests == 0
}

// ResetPeriod is the cadence on which a UserLimit replenishes.
type ResetPeriod string

const (
	ResetDaily   ResetPeriod = "DAILY"
	ResetWeekly  ResetPeriod = "WEEKLY"
	ResetMonthly ResetPeriod = "MONTHLY"
	ResetNever   ResetPeriod = "NEVER"
)

// UserLimit describes one governance-tracked quota for a user.
type UserLimit struct {
	LimitID     string       `json:"limit_id"`
	Name        string       `json:"name"`
	DisplayName string       `json:"display_name"`
	Unit        string       `json:"unit,omitempty"`
	Limit       int64        `json:"limit"`
	Used        int64        `json:"used"`
	Remaining   int64        `json:"remaining"`
	ResetPeriod ResetPeriod  `json:"reset_period,omitempty"`
	PeriodStart *string      `json:"period_start,omitempty"`
	PeriodEnd   *string      `json:"period_end,omitempty"`
}

// UserProfile is the governance-reported identity behind a bearer token.
type UserProfile struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	ExternalID    string  `json:"external_id,omitempty"`
	EmailVerified bool    `json:"email_verified"`
	CreatedAt     string  `json:"created_at"`
	LastLoginAt   *string `json:"last_login_at,omitempty"`
	Name          *string `json:"name,omitempty"`
}
