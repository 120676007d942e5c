package sync

import (
	"context"
	"time"

	"github.com/brandon/mailcore/internal/batch"
	"github.com/brandon/mailcore/internal/folders"
	"github.com/brandon/mailcore/pkg/types"
)

// Target is a folder as both the cache and the provider know it
type Target struct {
	// ID is the canonical or custom folder id
	ID string
	// Path is the provider-native mailbox name or label id
	Path string
}

// SyncOptions narrows a folder sync
type SyncOptions struct {
	Limit      int
	Since      time.Time
	UnreadOnly bool
}

// Backend is how an account's provider is reached. Mutations report the
// provider message ids they applied to in Succeeded.
type Backend interface {
	Kind() folders.Kind
	ListFolders(ctx context.Context) ([]folders.ProviderFolder, error)
	Fetch(ctx context.Context, target Target, opts SyncOptions) (batch.Result[types.MailRecord], error)
	SetRead(ctx context.Context, target Target, ids []string, read bool) (batch.Result[string], error)
	SetFlagged(ctx context.Context, target Target, ids []string, flagged bool) (batch.Result[string], error)
	Delete(ctx context.Context, target Target, ids []string) (batch.Result[string], error)
	Move(ctx context.Context, from Target, ids []string, to Target) (batch.Result[string], error)
	Send(ctx context.Context, msg *types.OutgoingMessage) error
	CreateFolder(ctx context.Context, name string) error
	DeleteFolder(ctx context.Context, target Target) error
}

func kindName(k folders.Kind) string {
	if k == folders.REST {
		return "rest"
	}
	return "session"
}
