package gmail

import (
	"strings"
	"time"
)

// Query builds a Gmail search expression
func Query(unreadOnly bool, since time.Time) string {
	var terms []string
	if unreadOnly {
		terms = append(terms, "is:unread")
	}
	if !since.IsZero() {
		terms = append(terms, "after:"+since.Format("2006/01/02"))
	}
	return strings.Join(terms, " ")
}
