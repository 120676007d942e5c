package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/pkg/types"
)

const proxyConfigKey = "proxy_config"

func foldersKey(accountID string) string { return "folders/" + accountID }

func mailsKey(accountID, folderID string) string { return "emails/" + accountID + "/" + folderID }

func credentialKey(accountID string) string { return "credentials/" + accountID }

// Store provides typed access to cached folders, mail and credentials
type Store struct {
	blobs   BlobStore
	secrets BlobStore
	logger  *logrus.Logger
}

// NewStore creates a new store instance. Credentials go to secrets,
// everything else to blobs.
func NewStore(blobs, secrets BlobStore, logger *logrus.Logger) *Store {
	if secrets == nil {
		secrets = blobs
	}
	return &Store{
		blobs:   blobs,
		secrets: secrets,
		logger:  logger,
	}
}

func readJSON(ctx context.Context, b BlobStore, key string, v interface{}) (bool, error) {
	data, ok, err := b.Read(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

func writeJSON(ctx context.Context, b BlobStore, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return b.Write(ctx, key, data)
}

// Folders returns the account's folder set, nil when never synced
func (s *Store) Folders(ctx context.Context, accountID string) ([]types.FolderRecord, error) {
	var out []types.FolderRecord
	if _, err := readJSON(ctx, s.blobs, foldersKey(accountID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveFolders replaces the account's folder set
func (s *Store) SaveFolders(ctx context.Context, accountID string, folders []types.FolderRecord) error {
	return writeJSON(ctx, s.blobs, foldersKey(accountID), folders)
}

// Mails returns cached messages for a folder, newest first
func (s *Store) Mails(ctx context.Context, accountID, folderID string) ([]types.MailRecord, error) {
	var out []types.MailRecord
	if _, err := readJSON(ctx, s.blobs, mailsKey(accountID, folderID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// SaveMails replaces cached messages for a folder
func (s *Store) SaveMails(ctx context.Context, accountID, folderID string, mails []types.MailRecord) error {
	if err := writeJSON(ctx, s.blobs, mailsKey(accountID, folderID), mails); err != nil {
		return err
	}
	s.logger.WithFields(logrus.Fields{
		"account": accountID,
		"folder":  folderID,
		"count":   len(mails),
	}).Debug("Cached emails")
	return nil
}

// GetMail finds one cached message by local id
func (s *Store) GetMail(ctx context.Context, accountID, folderID, id string) (*types.MailRecord, error) {
	mails, err := s.Mails(ctx, accountID, folderID)
	if err != nil {
		return nil, err
	}
	for i := range mails {
		if mails[i].ID == id {
			return &mails[i], nil
		}
	}
	return nil, fmt.Errorf("email not found: %s", id)
}

// UpdateMails applies fn to the folder's cached records and saves the
// result
func (s *Store) UpdateMails(ctx context.Context, accountID, folderID string, fn func([]types.MailRecord) []types.MailRecord) error {
	mails, err := s.Mails(ctx, accountID, folderID)
	if err != nil {
		return err
	}
	return s.SaveMails(ctx, accountID, folderID, fn(mails))
}

// DeleteMails drops a folder's cached messages
func (s *Store) DeleteMails(ctx context.Context, accountID, folderID string) error {
	return s.blobs.Delete(ctx, mailsKey(accountID, folderID))
}

// LoadCredential returns the stored credential or (nil, nil)
func (s *Store) LoadCredential(ctx context.Context, accountID string) (*types.Credential, error) {
	var cred types.Credential
	ok, err := readJSON(ctx, s.secrets, credentialKey(accountID), &cred)
	if err != nil || !ok {
		return nil, err
	}
	return &cred, nil
}

// SaveCredential persists cred for the account
func (s *Store) SaveCredential(ctx context.Context, accountID string, cred *types.Credential) error {
	return writeJSON(ctx, s.secrets, credentialKey(accountID), cred)
}

// DeleteCredential removes the account's credential
func (s *Store) DeleteCredential(ctx context.Context, accountID string) error {
	return s.secrets.Delete(ctx, credentialKey(accountID))
}

// ProxyConfig returns the stored global proxy descriptor
func (s *Store) ProxyConfig(ctx context.Context) (types.ProxyDescriptor, bool, error) {
	var desc types.ProxyDescriptor
	ok, err := readJSON(ctx, s.blobs, proxyConfigKey, &desc)
	return desc, ok, err
}

// SaveProxyConfig persists the global proxy descriptor
func (s *Store) SaveProxyConfig(ctx context.Context, desc types.ProxyDescriptor) error {
	return writeJSON(ctx, s.blobs, proxyConfigKey, desc)
}

// ForgetAccount removes the account's credential, folders and cached mail.
// Stores that list keys lose every mail list under the account, others
// only those of folders in the saved folder set.
func (s *Store) ForgetAccount(ctx context.Context, accountID string) error {
	keys, err := s.mailKeys(ctx, accountID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := s.blobs.Delete(ctx, key); err != nil {
			return err
		}
	}
	if err := s.blobs.Delete(ctx, foldersKey(accountID)); err != nil {
		return err
	}
	return s.DeleteCredential(ctx, accountID)
}

func (s *Store) mailKeys(ctx context.Context, accountID string) ([]string, error) {
	if l, ok := s.blobs.(KeyLister); ok {
		return l.Keys(ctx, mailsKey(accountID, ""))
	}
	folders, err := s.Folders(ctx, accountID)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(folders))
	for _, f := range folders {
		keys = append(keys, mailsKey(accountID, f.ID))
	}
	return keys, nil
}
