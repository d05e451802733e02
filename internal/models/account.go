package models

import "time"

// Account is the owning user record. Session issuance lives outside this
// service; SessionToken is only looked up to authenticate management calls.
type Account struct {
	ID           string
	Email        string
	SessionToken string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
