package sync

import (
	"context"
	"fmt"
	"strings"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/brandon/mailcore/internal/batch"
	"github.com/brandon/mailcore/internal/cache"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/folders"
	"github.com/brandon/mailcore/internal/gmail"
	"github.com/brandon/mailcore/internal/oauth"
	"github.com/brandon/mailcore/internal/proxy"
	"github.com/brandon/mailcore/pkg/types"
)

// Defaults
const (
	DefaultLimit            = 50
	DefaultRESTBatchSize    = 10
	DefaultSessionBatchSize = 10
)

// Deps are the components an Orchestrator drives
type Deps struct {
	Store       *cache.Store
	Credentials *oauth.Manager
	Sessions    *email.Sessions
	SMTP        *email.SMTPClient
	Reconciler  *folders.Reconciler
	Engine      *batch.Engine
	Proxy       *proxy.Settings
	Tunnels     *proxy.Factory
}

// Options tunes an Orchestrator. Zero values take the defaults.
type Options struct {
	Limit            int
	RESTBatchSize    int
	SessionBatchSize int
	// GmailEndpoint overrides the Gmail API base URL
	GmailEndpoint string
	GmailRate     rate.Limit
}

// Result reports one folder sync
type Result struct {
	RunID     string          `json:"runId"`
	AccountID string          `json:"accountId"`
	FolderID  string          `json:"folderId"`
	Backend   string          `json:"backend"`
	Fetched   int             `json:"fetched"`
	Added     int             `json:"added"`
	Failed    []batch.Failure `json:"failed,omitempty"`
}

// Orchestrator syncs folders and routes mutations to the right backend.
// Calls for one account are serialized; different accounts run in
// parallel.
type Orchestrator struct {
	deps   Deps
	opts   Options
	logger *logrus.Logger
	now    func() time.Time

	mu       gosync.Mutex
	locks    map[string]*gosync.Mutex
	backends map[string]Backend

	onSession func(*email.Session)
}

// New creates an orchestrator
func New(deps Deps, opts Options, logger *logrus.Logger) *Orchestrator {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.RESTBatchSize <= 0 {
		opts.RESTBatchSize = DefaultRESTBatchSize
	}
	if opts.SessionBatchSize <= 0 {
		opts.SessionBatchSize = DefaultSessionBatchSize
	}
	if deps.Engine == nil {
		deps.Engine = batch.NewEngine(logger)
	}
	if deps.Reconciler == nil {
		deps.Reconciler = folders.NewReconciler(logger)
	}
	return &Orchestrator{
		deps:     deps,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
		locks:    make(map[string]*gosync.Mutex),
		backends: make(map[string]Backend),
	}
}

func (o *Orchestrator) lock(accountID string) func() {
	o.mu.Lock()
	l, ok := o.locks[accountID]
	if !ok {
		l = &gosync.Mutex{}
		o.locks[accountID] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// backend picks REST for OAuth2 accounts of a REST-capable provider and
// the IMAP session otherwise. The choice is made once per account.
func (o *Orchestrator) backend(ctx context.Context, acct Account) (Backend, error) {
	o.mu.Lock()
	b, ok := o.backends[acct.ID]
	o.mu.Unlock()
	if ok {
		return b, nil
	}

	if acct.OAuth {
		if p, ok := o.deps.Credentials.Provider(acct.Provider); ok && p.RESTCapable {
			rb, err := o.restBackend(ctx, acct)
			if err != nil {
				return nil, err
			}
			b = rb
		}
	}
	if b == nil {
		b = &sessionBackend{
			acct:      acct,
			sessions:  o.deps.Sessions,
			smtp:      o.deps.SMTP,
			creds:     o.deps.Credentials,
			proxies:   o.deps.Proxy,
			engine:    o.deps.Engine,
			batchSize: o.opts.SessionBatchSize,
			logger:    o.logger,
			now:       o.now,
			observe:   o.onSession,
		}
	}

	o.mu.Lock()
	o.backends[acct.ID] = b
	o.mu.Unlock()
	return b, nil
}

func (o *Orchestrator) restBackend(ctx context.Context, acct Account) (*restBackend, error) {
	cfg := gmail.Config{
		TokenSource: tokenSource{creds: o.deps.Credentials, accountID: acct.ID},
		Endpoint:    o.opts.GmailEndpoint,
		Rate:        o.opts.GmailRate,
	}
	if o.deps.Tunnels != nil {
		cfg.HTTPClient = o.deps.Tunnels.HTTPClient(o.deps.Proxy.Effective(&acct.Proxy))
	}

	client, err := gmail.NewClient(ctx, cfg, o.logger)
	if err != nil {
		return nil, err
	}
	return &restBackend{
		acct:      acct,
		client:    client,
		engine:    o.deps.Engine,
		batchSize: o.opts.RESTBatchSize,
		logger:    o.logger,
		now:       o.now,
	}, nil
}

// Forget drops the cached backend so the next call selects it again
func (o *Orchestrator) Forget(accountID string) {
	o.mu.Lock()
	delete(o.backends, accountID)
	o.mu.Unlock()
}

// target resolves ref, a canonical id or provider-native name
func (o *Orchestrator) target(ctx context.Context, acct Account, kind folders.Kind, ref string) (Target, error) {
	records, err := o.deps.Store.Folders(ctx, acct.ID)
	if err != nil {
		return Target{}, fmt.Errorf("failed to load folders: %w", err)
	}
	for _, r := range records {
		if r.ID == ref || (r.ProviderPath != "" && r.ProviderPath == ref) {
			path := r.ProviderPath
			if path == "" {
				path = defaultPath(r.ID, kind, r.ID)
			}
			return Target{ID: r.ID, Path: path}, nil
		}
	}

	if id, ok := o.deps.Reconciler.Resolve(ref, kind); ok {
		path := ref
		if id == ref {
			path = defaultPath(id, kind, ref)
		}
		return Target{ID: id, Path: path}, nil
	}
	return Target{ID: ref, Path: ref}, nil
}

func defaultPath(id string, kind folders.Kind, fallback string) string {
	if kind == folders.REST {
		if label, ok := folders.CanonicalLabel(id); ok {
			return label
		}
		return fallback
	}
	if id == folders.Inbox {
		return "INBOX"
	}
	return fallback
}

// SyncFolder fetches folderRef's messages and merges them into the cache.
// Per-message failures are reported in Result.Failed; connection,
// credential and selection failures are returned as errors.
func (o *Orchestrator) SyncFolder(ctx context.Context, acct Account, folderRef string, opts SyncOptions) (*Result, error) {
	unlock := o.lock(acct.ID)
	defer unlock()

	b, err := o.backend(ctx, acct)
	if err != nil {
		return nil, err
	}
	target, err := o.target(ctx, acct, b.Kind(), folderRef)
	if err != nil {
		return nil, err
	}
	if opts.Limit <= 0 {
		opts.Limit = o.opts.Limit
	}

	runID := uuid.NewString()[:8]
	log := o.logger.WithFields(logrus.Fields{
		"run":     runID,
		"account": acct.ID,
		"folder":  target.ID,
		"backend": kindName(b.Kind()),
	})
	log.WithField("path", target.Path).Debug("Syncing folder")

	fetched, err := b.Fetch(ctx, target, opts)
	if err != nil {
		log.WithError(err).Warn("Folder sync failed")
		return nil, fmt.Errorf("failed to sync folder %s: %w", folderRef, err)
	}

	res := &Result{
		RunID:     runID,
		AccountID: acct.ID,
		FolderID:  target.ID,
		Backend:   kindName(b.Kind()),
		Fetched:   len(fetched.Succeeded),
		Failed:    fetched.Failed,
	}
	for folderID, records := range groupByFolder(fetched.Succeeded) {
		added, err := o.mergeInto(ctx, acct.ID, folderID, records)
		if err != nil {
			return nil, err
		}
		res.Added += added
	}

	log.WithFields(logrus.Fields{
		"fetched": res.Fetched,
		"added":   res.Added,
		"failed":  len(res.Failed),
	}).Info("Synced folder")
	return res, nil
}

func (o *Orchestrator) mergeInto(ctx context.Context, accountID, folderID string, records []types.MailRecord) (int, error) {
	var added int
	err := o.deps.Store.UpdateMails(ctx, accountID, folderID, func(existing []types.MailRecord) []types.MailRecord {
		merged, n := merge(existing, records)
		added = n
		return merged
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save emails: %w", err)
	}
	return added, nil
}

// SyncFolders lists the provider's folders, reconciles them with the
// cached set and saves the result
func (o *Orchestrator) SyncFolders(ctx context.Context, acct Account) ([]types.FolderRecord, error) {
	unlock := o.lock(acct.ID)
	defer unlock()

	b, err := o.backend(ctx, acct)
	if err != nil {
		return nil, err
	}
	return o.syncFolders(ctx, acct, b)
}

func (o *Orchestrator) syncFolders(ctx context.Context, acct Account, b Backend) ([]types.FolderRecord, error) {
	provider, err := b.ListFolders(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	existing, err := o.deps.Store.Folders(ctx, acct.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load folders: %w", err)
	}
	if len(existing) == 0 {
		existing = folders.Defaults()
	}

	out := o.deps.Reconciler.Reconcile(existing, provider, b.Kind())
	if err := o.deps.Store.SaveFolders(ctx, acct.ID, out); err != nil {
		return nil, fmt.Errorf("failed to save folders: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"account":  acct.ID,
		"provider": len(provider),
		"folders":  len(out),
	}).Info("Synced folders")
	return out, nil
}

// Folders returns the cached folder set, or the defaults before the first
// folder sync
func (o *Orchestrator) Folders(ctx context.Context, acct Account) ([]types.FolderRecord, error) {
	out, err := o.deps.Store.Folders(ctx, acct.ID)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return folders.Defaults(), nil
	}
	return out, nil
}

// CreateFolder creates a mailbox (or label) named name on the provider and
// returns the refreshed folder set
func (o *Orchestrator) CreateFolder(ctx context.Context, acct Account, name string) ([]types.FolderRecord, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("folder name is required")
	}
	unlock := o.lock(acct.ID)
	defer unlock()

	b, err := o.backend(ctx, acct)
	if err != nil {
		return nil, err
	}
	if err := b.CreateFolder(ctx, name); err != nil {
		return nil, fmt.Errorf("failed to create folder %s: %w", name, err)
	}
	o.logger.WithFields(logrus.Fields{
		"account": acct.ID,
		"name":    name,
	}).Info("Created folder")
	return o.syncFolders(ctx, acct, b)
}

// DeleteFolder removes a custom folder on the provider, then drops it and
// its cached messages locally. System folders are refused.
func (o *Orchestrator) DeleteFolder(ctx context.Context, acct Account, folderRef string) error {
	unlock := o.lock(acct.ID)
	defer unlock()

	b, err := o.backend(ctx, acct)
	if err != nil {
		return err
	}
	target, err := o.target(ctx, acct, b.Kind(), folderRef)
	if err != nil {
		return err
	}
	records, err := o.Folders(ctx, acct)
	if err != nil {
		return fmt.Errorf("failed to load folders: %w", err)
	}
	idx := -1
	for i, r := range records {
		if r.ID == target.ID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("folder not found: %s", folderRef)
	}
	if records[idx].IsSystem {
		return fmt.Errorf("cannot delete system folder %s", target.ID)
	}

	if err := b.DeleteFolder(ctx, target); err != nil {
		return fmt.Errorf("failed to delete folder %s: %w", folderRef, err)
	}
	records = append(records[:idx], records[idx+1:]...)
	if err := o.deps.Store.SaveFolders(ctx, acct.ID, records); err != nil {
		return fmt.Errorf("failed to save folders: %w", err)
	}
	if err := o.deps.Store.DeleteMails(ctx, acct.ID, target.ID); err != nil {
		return fmt.Errorf("failed to drop cached emails: %w", err)
	}

	o.logger.WithFields(logrus.Fields{
		"account": acct.ID,
		"folder":  target.ID,
	}).Info("Deleted folder")
	return nil
}

// mutation looks up ids in the folder cache, applies fn through the
// backend and hands the records it succeeded for to apply
type mutation func(b Backend, target Target, providerIDs []string) (batch.Result[string], error)

func (o *Orchestrator) mutate(ctx context.Context, acct Account, folderRef string, ids []string, op string, fn mutation, apply func([]types.MailRecord, map[string]bool) []types.MailRecord) error {
	unlock := o.lock(acct.ID)
	defer unlock()

	b, err := o.backend(ctx, acct)
	if err != nil {
		return err
	}
	target, err := o.target(ctx, acct, b.Kind(), folderRef)
	if err != nil {
		return err
	}

	cached, err := o.deps.Store.Mails(ctx, acct.ID, target.ID)
	if err != nil {
		return fmt.Errorf("failed to load emails: %w", err)
	}
	byID := make(map[string]string, len(cached))
	for _, m := range cached {
		byID[m.ID] = m.ProviderMessageID
	}
	providerIDs := make([]string, 0, len(ids))
	for _, id := range ids {
		pid, ok := byID[id]
		if !ok {
			return fmt.Errorf("email not found: %s", id)
		}
		providerIDs = append(providerIDs, pid)
	}

	res, err := fn(b, target, providerIDs)
	if err != nil {
		return fmt.Errorf("failed to %s: %w", op, err)
	}

	done := make(map[string]bool, len(res.Succeeded))
	for _, id := range res.Succeeded {
		done[id] = true
	}
	if len(done) > 0 {
		err := o.deps.Store.UpdateMails(ctx, acct.ID, target.ID, func(mails []types.MailRecord) []types.MailRecord {
			return apply(mails, done)
		})
		if err != nil {
			return fmt.Errorf("failed to update cache: %w", err)
		}
	}

	o.logger.WithFields(logrus.Fields{
		"account": acct.ID,
		"folder":  target.ID,
		"op":      op,
		"done":    len(res.Succeeded),
		"failed":  len(res.Failed),
	}).Info("Applied mutation")

	if len(res.Failed) > 0 {
		msgs := make([]string, 0, len(res.Failed))
		for _, f := range res.Failed {
			msgs = append(msgs, f.ID+": "+f.Err)
		}
		return fmt.Errorf("failed to %s %d of %d messages: %s", op, len(res.Failed), len(ids), strings.Join(msgs, "; "))
	}
	return nil
}

// SetRead marks cached messages read or unread on the provider and in the
// cache
func (o *Orchestrator) SetRead(ctx context.Context, acct Account, folderRef string, ids []string, read bool) error {
	op := "mark read"
	if !read {
		op = "mark unread"
	}
	return o.mutate(ctx, acct, folderRef, ids, op,
		func(b Backend, t Target, pids []string) (batch.Result[string], error) {
			return b.SetRead(ctx, t, pids, read)
		},
		func(mails []types.MailRecord, done map[string]bool) []types.MailRecord {
			for i := range mails {
				if done[mails[i].ProviderMessageID] {
					mails[i].Flags.Read = read
				}
			}
			return mails
		})
}

// SetFlagged stars or unstars cached messages
func (o *Orchestrator) SetFlagged(ctx context.Context, acct Account, folderRef string, ids []string, flagged bool) error {
	op := "flag"
	if !flagged {
		op = "unflag"
	}
	return o.mutate(ctx, acct, folderRef, ids, op,
		func(b Backend, t Target, pids []string) (batch.Result[string], error) {
			return b.SetFlagged(ctx, t, pids, flagged)
		},
		func(mails []types.MailRecord, done map[string]bool) []types.MailRecord {
			for i := range mails {
				if done[mails[i].ProviderMessageID] {
					mails[i].Flags.Flagged = flagged
				}
			}
			return mails
		})
}

// Delete removes messages on the provider and drops them from the cache
func (o *Orchestrator) Delete(ctx context.Context, acct Account, folderRef string, ids []string) error {
	return o.mutate(ctx, acct, folderRef, ids, "delete",
		func(b Backend, t Target, pids []string) (batch.Result[string], error) {
			return b.Delete(ctx, t, pids)
		},
		dropDone)
}

// Move moves messages to destRef. They leave the source folder's cache and
// arrive in the destination's on its next sync.
func (o *Orchestrator) Move(ctx context.Context, acct Account, folderRef string, ids []string, destRef string) error {
	return o.mutate(ctx, acct, folderRef, ids, "move",
		func(b Backend, t Target, pids []string) (batch.Result[string], error) {
			dest, err := o.target(ctx, acct, b.Kind(), destRef)
			if err != nil {
				return batch.Result[string]{}, err
			}
			return b.Move(ctx, t, pids, dest)
		},
		dropDone)
}

func dropDone(mails []types.MailRecord, done map[string]bool) []types.MailRecord {
	out := mails[:0]
	for _, m := range mails {
		if !done[m.ProviderMessageID] {
			out = append(out, m)
		}
	}
	return out
}

// Send submits msg through the account's backend
func (o *Orchestrator) Send(ctx context.Context, acct Account, msg *types.OutgoingMessage) error {
	unlock := o.lock(acct.ID)
	defer unlock()

	b, err := o.backend(ctx, acct)
	if err != nil {
		return err
	}
	if err := b.Send(ctx, msg); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}
