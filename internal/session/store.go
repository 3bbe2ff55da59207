package session

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rohmanhakim/antibot-acquire/internal/config"
	"github.com/rohmanhakim/antibot-acquire/internal/coordinator"
)

// Store is the production coordinator.SessionStore: an in-memory cache
// backed by one encrypted file per domain under dir, each written with
// 0600 permissions.
type Store struct {
	mu  sync.RWMutex
	dir string

	ttl              time.Duration
	refreshThreshold time.Duration
	autoRefresh      bool

	key cipherKey

	cache map[string]*Record
}

var _ coordinator.SessionStore = (*Store)(nil)

// New builds a Store rooted at cfg.StorageDir, deriving its encryption key
// from the environment variable named by cfg.SecretEnv. If that variable is
// unset, sessions are still encrypted but under a random process-local key
// that does not survive a restart — callers should log this themselves by
// checking Ephemeral().
func New(cfg config.SessionManagementConfig) (*Store, error) {
	dir := cfg.StorageDir
	if dir == "" {
		dir = "data/sessions"
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}

	key, err := loadOrCreateKey(dir, cfg.SecretEnv)
	if err != nil {
		return nil, err
	}

	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	refreshThreshold := cfg.RefreshThreshold
	if refreshThreshold <= 0 {
		refreshThreshold = 5 * time.Minute
	}

	return &Store{
		dir:              dir,
		ttl:              ttl,
		refreshThreshold: refreshThreshold,
		autoRefresh:      cfg.AutoRefresh,
		key:              key,
		cache:            make(map[string]*Record),
	}, nil
}

// Ephemeral reports whether the store's encryption key is process-local
// (no SESSION secret was configured), meaning persisted files from this
// process cannot be decrypted after a restart.
func (s *Store) Ephemeral() bool {
	return s.key.ephemeral
}

func loadOrCreateKey(dir, secretEnv string) (cipherKey, error) {
	saltPath := filepath.Join(dir, ".session_salt")

	secret := ""
	if secretEnv != "" {
		secret = os.Getenv(secretEnv)
	}
	if secret == "" {
		return randomKey()
	}

	if existing, err := os.ReadFile(saltPath); err == nil {
		return deriveKeyWithSalt(secret, existing), nil
	}

	k, err := deriveKey(secret)
	if err != nil {
		return cipherKey{}, &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncryptFailed}
	}
	if err := os.WriteFile(saltPath, k.salt, 0o600); err != nil {
		return cipherKey{}, &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseIOFailure}
	}
	return k, nil
}

// Load implements coordinator.SessionStore: it returns the narrow
// cookies/headers view a replayed request needs.
func (s *Store) Load(domain string) (coordinator.SessionRecord, bool) {
	record, ok := s.load(domain)
	if !ok {
		return coordinator.SessionRecord{}, false
	}
	return coordinator.SessionRecord{Cookies: record.Cookies, Headers: record.Headers}, true
}

// Update implements coordinator.SessionStore: it merges cookies/headers
// into the existing record (creating one if absent) and extends its TTL.
func (s *Store) Update(domain string, cookies, headers map[string]string) {
	now := time.Now()

	s.mu.Lock()
	record, ok := s.cache[domain]
	if !ok {
		record = &Record{
			Domain:    domain,
			Cookies:   map[string]string{},
			Headers:   map[string]string{},
			CreatedAt: now,
		}
	}
	for k, v := range cookies {
		record.Cookies[k] = v
	}
	for k, v := range headers {
		record.Headers[k] = v
	}
	record.LastAccessed = now
	record.ExpiresAt = now.Add(s.ttl)
	s.cache[domain] = record
	s.mu.Unlock()

	_ = s.persist(domain, record)
}

func (s *Store) load(domain string) (*Record, bool) {
	now := time.Now()

	s.mu.RLock()
	record, ok := s.cache[domain]
	s.mu.RUnlock()

	if !ok {
		loaded, err := s.readFromDisk(domain)
		if err != nil || loaded == nil {
			return nil, false
		}
		record = loaded
		s.mu.Lock()
		s.cache[domain] = record
		s.mu.Unlock()
	}

	if !record.valid(now) {
		s.Delete(domain)
		return nil, false
	}

	record.LastAccessed = now
	if s.autoRefresh && !record.ExpiresAt.IsZero() && record.ExpiresAt.Sub(now) < s.refreshThreshold {
		record.ExpiresAt = now.Add(s.ttl)
		_ = s.persist(domain, record)
	}

	return record, true
}

// Delete removes a domain's session from both cache and disk.
func (s *Store) Delete(domain string) {
	s.mu.Lock()
	delete(s.cache, domain)
	s.mu.Unlock()
	_ = os.Remove(s.filePath(domain))
}

// ClearExpired removes every expired record from cache and disk, returning
// how many were cleared.
func (s *Store) ClearExpired() int {
	now := time.Now()
	cleared := 0

	s.mu.Lock()
	var expiredDomains []string
	for domain, record := range s.cache {
		if record.expired(now) {
			expiredDomains = append(expiredDomains, domain)
		}
	}
	for _, domain := range expiredDomains {
		delete(s.cache, domain)
	}
	s.mu.Unlock()

	cleared += len(expiredDomains)
	for _, domain := range expiredDomains {
		_ = os.Remove(s.filePath(domain))
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return cleared
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".session") {
			continue
		}
		path := filepath.Join(s.dir, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) > s.ttl {
			_ = os.Remove(path)
			cleared++
		}
	}
	return cleared
}

// Stats summarizes the in-memory cache.
func (s *Store) Stats() Stats {
	now := time.Now()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{CachedSessions: len(s.cache)}
	for _, record := range s.cache {
		if record.valid(now) {
			stats.ValidSessions++
		}
		if record.expired(now) {
			stats.ExpiredSessions++
		}
		if record.Authenticated {
			stats.AuthenticatedSessions++
		}
	}
	return stats
}

func (s *Store) persist(domain string, record *Record) error {
	plaintext, err := json.Marshal(record)
	if err != nil {
		return &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncryptFailed}
	}
	ciphertext, err := encrypt(s.key, plaintext)
	if err != nil {
		return &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseEncryptFailed}
	}
	if err := os.WriteFile(s.filePath(domain), ciphertext, 0o600); err != nil {
		return &SessionError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}
	return nil
}

func (s *Store) readFromDisk(domain string) (*Record, error) {
	ciphertext, err := os.ReadFile(s.filePath(domain))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &SessionError{Message: err.Error(), Retryable: true, Cause: ErrCauseIOFailure}
	}

	plaintext, err := decrypt(s.key, ciphertext)
	if err != nil {
		_ = os.Remove(s.filePath(domain))
		return nil, &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseDecryptFailed}
	}

	var record Record
	if err := json.Unmarshal(plaintext, &record); err != nil {
		_ = os.Remove(s.filePath(domain))
		return nil, &SessionError{Message: err.Error(), Retryable: false, Cause: ErrCauseCorruptFile}
	}
	return &record, nil
}

func (s *Store) filePath(domain string) string {
	return filepath.Join(s.dir, sanitizeDomain(domain)+".session")
}

func sanitizeDomain(domain string) string {
	clean := strings.NewReplacer("https://", "", "http://", "", "/", "_", ":", "_").Replace(domain)
	sum := md5.Sum([]byte(clean))
	return hex.EncodeToString(sum[:])[:16]
}
