package model

import "time"

type AccountStatus string

const (
	AccountActive   AccountStatus = "active"
	AccountInactive AccountStatus = "inactive"
	AccountBanned   AccountStatus = "banned"
)

func (s AccountStatus) Valid() bool {
	switch s {
	case AccountActive, AccountInactive, AccountBanned:
		return true
	}
	return false
}

// Account is a scraping credential. Accounts are provisioned by operators and
// never deleted here.
type Account struct {
	ID           int64
	Platform     string
	Name         string
	Credential   string
	Status       AccountStatus
	LastUsedAt   time.Time
	FailureCount int
	BanUntil     time.Time // zero when not banned
}

// Available reports whether the account may be handed out at now.
func (a Account) Available(now time.Time) bool {
	if a.Status != AccountActive {
		return false
	}
	return a.BanUntil.IsZero() || !a.BanUntil.After(now)
}
