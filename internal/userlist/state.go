// Package userlist is the state machine behind the admin user table.
//
// A Controller owns the loaded records, the loading flag, two transient
// messages and the search term. The presentation layer reads immutable
// Snapshots and dispatches intents (Refresh, DeleteByEmail, SetSearchTerm,
// DismissError, DismissSuccess); it never mutates state itself.
//
// CONCURRENCY MODEL:
// One loop goroutine applies intents, call completions and timer expiries in
// the order they arrive. Network calls run on their own goroutines and post
// their result back to the loop, so a search keystroke is applied while a
// reload is still outstanding.
package userlist

import (
	"time"

	"github.com/sakif/user-admin/internal/model"
)

// User-facing messages. The core never surfaces anything more specific.
const (
	MsgLoadFailed   = "Failed to load users."
	MsgDeleteFailed = "Failed to delete user."
	MsgDeleted      = "User deleted successfully."
)

// How long each message stays visible unless dismissed first.
const (
	ErrorDisplayDuration   = 4000 * time.Millisecond
	SuccessDisplayDuration = 2500 * time.Millisecond
)

// Snapshot is one immutable view of the controller state.
//
// Records is shared between snapshots and must not be modified by readers.
type Snapshot struct {
	Records        []model.UserRecord `json:"records"`
	Loading        bool               `json:"loading"`
	ErrorMessage   string             `json:"errorMessage,omitempty"`   // "" = none
	SuccessMessage string             `json:"successMessage,omitempty"` // "" = none
	SearchTerm     string             `json:"searchTerm"`

	// Version increases by one on every state change.
	Version uint64 `json:"version"`
}

// Visible returns the records matching the current search term.
func (s Snapshot) Visible() []model.UserRecord {
	return Filter(s.Records, s.SearchTerm)
}

// Rows returns the visible records with their presentation index.
func (s Snapshot) Rows() []Row {
	return Rows(s.Visible())
}

// HasError reports whether an error message is showing.
func (s Snapshot) HasError() bool { return s.ErrorMessage != "" }

// HasSuccess reports whether a success message is showing.
func (s Snapshot) HasSuccess() bool { return s.SuccessMessage != "" }

// Row is a record as rendered in the table. Index is its position in the
// filtered view and is never used as a domain key; Email is.
type Row struct {
	Index int `json:"index"`
	model.UserRecord
}
