package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"studybuddy/internal/model"

	"github.com/rs/zerolog"
)

const (
	subscriptionFileName = "subscription.json"
	usageFileName        = "usage.json"

	fileStoreDirPerm  = 0o700
	fileStoreFilePerm = 0o600
)

// FileStore keeps each account's records as JSON files under
// <root>/accounts/<id>/. Writes go through a temp file and rename so a crash
// can never leave a half-written record. A single process owns the directory,
// so one store-level mutex is enough to make AddUsage atomic.
type FileStore struct {
	root   string
	mu     sync.Mutex
	logger zerolog.Logger
}

// NewFileStore creates the accounts directory if needed.
func NewFileStore(root string, logger zerolog.Logger) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(root, "accounts"), fileStoreDirPerm); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return &FileStore{
		root:   root,
		logger: logger.With().Str("service", "FileStore").Logger(),
	}, nil
}

func (s *FileStore) accountDir(accountID string) string {
	return filepath.Join(s.root, "accounts", accountID)
}

// readRecord loads a record file. A file that exists but cannot be decoded is
// quarantined to <name>.corrupt and reported as ErrMalformedState.
func (s *FileStore) readRecord(path string, decode func([]byte) error) error {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := decode(data); err != nil {
		s.logger.Warn().Err(err).Str("path", path).Msg("Quarantining malformed record")
		if renameErr := os.Rename(path, path+".corrupt"); renameErr != nil {
			s.logger.Warn().Err(renameErr).Str("path", path).Msg("Failed to quarantine record")
		}
		return fmt.Errorf("%w: %s", ErrMalformedState, path)
	}
	return nil
}

// writeRecordAtomic writes data to path via a temp file and rename.
func (s *FileStore) writeRecordAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, fileStoreDirPerm); err != nil {
		return fmt.Errorf("create account dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp record: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpPath)
		}
	}()
	if err := tmp.Chmod(fileStoreFilePerm); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp record: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp record: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename record into place: %w", err)
	}
	cleanup = false
	return nil
}

func (s *FileStore) LoadSubscription(ctx context.Context, accountID string) (*model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadSubscriptionLocked(accountID)
}

func (s *FileStore) loadSubscriptionLocked(accountID string) (*model.Subscription, error) {
	var sub *model.Subscription
	path := filepath.Join(s.accountDir(accountID), subscriptionFileName)
	err := s.readRecord(path, func(data []byte) error {
		decoded, err := model.UnmarshalSubscription(data)
		if err != nil {
			return err
		}
		sub = decoded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *FileStore) SaveSubscription(ctx context.Context, accountID string, sub *model.Subscription) error {
	data, err := model.MarshalSubscription(sub)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecordAtomic(filepath.Join(s.accountDir(accountID), subscriptionFileName), data)
}

func (s *FileStore) DeleteSubscription(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(filepath.Join(s.accountDir(accountID), subscriptionFileName))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete subscription for account %s: %w", accountID, err)
	}
	return nil
}

func (s *FileStore) LoadUsage(ctx context.Context, accountID string) (model.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUsageLocked(accountID)
}

func (s *FileStore) loadUsageLocked(accountID string) (model.UsageStats, error) {
	var usage model.UsageStats
	path := filepath.Join(s.accountDir(accountID), usageFileName)
	err := s.readRecord(path, func(data []byte) error {
		decoded, err := model.UnmarshalUsage(data)
		if err != nil {
			return err
		}
		usage = decoded
		return nil
	})
	if err != nil {
		return model.UsageStats{}, err
	}
	return usage, nil
}

func (s *FileStore) SaveUsage(ctx context.Context, accountID string, usage model.UsageStats) error {
	data, err := model.MarshalUsage(usage)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeRecordAtomic(filepath.Join(s.accountDir(accountID), usageFileName), data)
}

func (s *FileStore) AddUsage(ctx context.Context, accountID string, feature model.Feature, qty int) (model.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	usage, err := s.loadUsageLocked(accountID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMalformedState) {
		return model.UsageStats{}, err
	}
	usage.Add(feature, qty)
	data, err := model.MarshalUsage(usage)
	if err != nil {
		return model.UsageStats{}, err
	}
	if err := s.writeRecordAtomic(filepath.Join(s.accountDir(accountID), usageFileName), data); err != nil {
		return model.UsageStats{}, err
	}
	return usage, nil
}

func (s *FileStore) ApplyReset(ctx context.Context, accountID string, rolled model.UsageStats, prevReset time.Time) (model.UsageStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.loadUsageLocked(accountID)
	if err != nil && !errors.Is(err, ErrNotFound) && !errors.Is(err, ErrMalformedState) {
		return model.UsageStats{}, err
	}
	// Another writer already rolled over; keep the stored record.
	if err == nil && !current.LastResetDate.Equal(prevReset) {
		return current, nil
	}
	data, err := model.MarshalUsage(rolled)
	if err != nil {
		return model.UsageStats{}, err
	}
	if err := s.writeRecordAtomic(filepath.Join(s.accountDir(accountID), usageFileName), data); err != nil {
		return model.UsageStats{}, err
	}
	return rolled, nil
}

func (s *FileStore) FindAccountByTransaction(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", ErrNotFound
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	accounts, err := s.listAccountsLocked()
	if err != nil {
		return "", err
	}
	for _, id := range accounts {
		sub, err := s.loadSubscriptionLocked(id)
		if err != nil {
			continue
		}
		if sub.MatchesTransaction(key) {
			return id, nil
		}
	}
	return "", ErrNotFound
}

func (s *FileStore) ListAccounts(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listAccountsLocked()
}

func (s *FileStore) listAccountsLocked() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.root, "accounts"))
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
}
