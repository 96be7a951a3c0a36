package userlist

import (
	"slices"
	"strings"

	"github.com/sakif/user-admin/internal/model"
)

// Filter returns the records whose name, email or provider contains term,
// ignoring case, in their original order. An empty term matches everything.
//
// Filter is pure: it never modifies records and the result never aliases it.
func Filter(records []model.UserRecord, term string) []model.UserRecord {
	if term == "" {
		return slices.Clone(records)
	}

	needle := strings.ToLower(term)
	out := make([]model.UserRecord, 0, len(records))
	for _, r := range records {
		if matches(r, needle) {
			out = append(out, r)
		}
	}
	return out
}

func matches(r model.UserRecord, needle string) bool {
	return strings.Contains(strings.ToLower(r.Name), needle) ||
		strings.Contains(strings.ToLower(r.Email), needle) ||
		strings.Contains(strings.ToLower(r.Provider), needle)
}

// Rows attaches a 0-based index to each record by position.
func Rows(records []model.UserRecord) []Row {
	rows := make([]Row, len(records))
	for i, r := range records {
		rows[i] = Row{Index: i, UserRecord: r}
	}
	return rows
}
