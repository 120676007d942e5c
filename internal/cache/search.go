package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brandon/mailcore/pkg/types"
)

// Filter narrows a folder listing by message state
type Filter string

const (
	FilterAll        Filter = "all"
	FilterUnread     Filter = "unread"
	FilterRead       Filter = "read"
	FilterFlagged    Filter = "flagged"
	FilterAttachment Filter = "attachment"
)

// ParseFilter validates a filter name; empty means all
func ParseFilter(s string) (Filter, error) {
	switch f := Filter(strings.ToLower(s)); f {
	case "":
		return FilterAll, nil
	case FilterAll, FilterUnread, FilterRead, FilterFlagged, FilterAttachment:
		return f, nil
	}
	return "", fmt.Errorf("unknown filter %q", s)
}

func (f Filter) match(m *types.MailRecord) bool {
	switch f {
	case FilterUnread:
		return !m.Flags.Read
	case FilterRead:
		return m.Flags.Read
	case FilterFlagged:
		return m.Flags.Flagged
	case FilterAttachment:
		return len(m.Attachments) > 0
	}
	return true
}

// SearchOptions contains search parameters
type SearchOptions struct {
	AccountID string
	FolderID  string
	Filter    Filter
	Sender    string
	Subject   string
	DateFrom  time.Time
	DateTo    time.Time
	Limit     int
}

// Search lists cached messages of one folder matching opts, newest first
func (s *Store) Search(ctx context.Context, opts SearchOptions) ([]types.MailRecord, error) {
	mails, err := s.Mails(ctx, opts.AccountID, opts.FolderID)
	if err != nil {
		return nil, err
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}

	sender := strings.ToLower(opts.Sender)
	subject := strings.ToLower(opts.Subject)

	var results []types.MailRecord
	for i := range mails {
		m := &mails[i]
		if !opts.Filter.match(m) {
			continue
		}
		if sender != "" && !strings.Contains(strings.ToLower(m.From), sender) {
			continue
		}
		if subject != "" && !strings.Contains(strings.ToLower(m.Subject), subject) {
			continue
		}
		if !opts.DateFrom.IsZero() && m.Date.Before(opts.DateFrom) {
			continue
		}
		if !opts.DateTo.IsZero() && m.Date.After(opts.DateTo) {
			continue
		}
		results = append(results, *m)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Date.After(results[j].Date) })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

// UnreadCount counts unread cached messages in a folder
func (s *Store) UnreadCount(ctx context.Context, accountID, folderID string) (int, error) {
	mails, err := s.Mails(ctx, accountID, folderID)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range mails {
		if !mails[i].Flags.Read {
			n++
		}
	}
	return n, nil
}
