// Package model defines the data structures used throughout the application.
package model

import "time"

// UserRecord is one account as the directory service reports it over the wire.
//
// It is the unit the admin view works with: the User List Controller holds an
// ordered slice of these, filters them and renders them as table rows.
//
// WIRE SHAPE:
//
//	{"name":"Ada","email":"ada@example.com","provider":"google","createdAt":"2024-05-01T10:00:00Z"}
//
// Records are values. Nothing in the admin view edits a record in place; a
// record only changes when the whole list is fetched again.
//
// CreatedAt stays a string: the directory sends an ISO-8601 timestamp and the
// core never parses it. Only the presentation layer turns it into a local date.
type UserRecord struct {
	Name      string `json:"name"`
	Email     string `json:"email"`    // unique within one loaded snapshot; the delete key
	Provider  string `json:"provider"` // open set: "google", "github", "email", ...
	CreatedAt string `json:"createdAt"`
}

// User is an account row as the directory service stores it.
//
// The directory owns an internal ID (xid) so primary keys never depend on the
// email, but every external operation addresses a user by Email, which the
// users table keeps UNIQUE.
type User struct {
	ID        string    `json:"id"        db:"id"`
	Name      string    `json:"name"      db:"name"`
	Email     string    `json:"email"     db:"email"`
	Provider  string    `json:"provider"  db:"provider"` // identity provider tag, lower-case
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// Record converts a stored user into its wire form.
// CreatedAt is rendered as RFC 3339 in UTC.
func (u User) Record() UserRecord {
	return UserRecord{
		Name:      u.Name,
		Email:     u.Email,
		Provider:  u.Provider,
		CreatedAt: u.CreatedAt.UTC().Format(time.RFC3339),
	}
}
