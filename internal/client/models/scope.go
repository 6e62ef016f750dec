// Package models defines the client-side entities of the conversation cache:
// conversations, members, messages, key material and the bookkeeping types of
// the live-subscription index.
package models

// Scope identifies the local account a cached row belongs to, so several
// accounts can share one store without collisions.
type Scope struct {
	AccountID      string
	OrganizationID string
}

// IsZero reports whether the scope carries no account.
func (s Scope) IsZero() bool {
	return s.AccountID == ""
}
