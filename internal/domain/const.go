package domain

import "time"

const (
	// DefaultSessionWindow is the half-open window in which a page view joins an
	// existing visit instead of opening a new one
	DefaultSessionWindow = 30 * time.Minute

	// DefaultTrailingPageAllowance is the fixed time credited to the last page of
	// a visit, since no follow-up request marks when it was left
	DefaultTrailingPageAllowance = 10 * time.Second

	// DefaultRechargeThreshold is the balance step at which an auto-recharging
	// tenant gets a billing top-up event
	DefaultRechargeThreshold = 100

	// DefaultPollInterval is how long the pipeline idles when storage has no
	// unprocessed partition
	DefaultPollInterval = 10 * time.Minute
)
