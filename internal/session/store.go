// Package session persists per-(observer, channel) cookie state across runs.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/brandsight/adharvest/internal/harvest"
)

// Config captures the parameters for the file-backed session store.
type Config struct {
	// Root is the directory holding one file per (observer, channel) pair.
	Root string
	// MaxAge is how long a stored session stays loadable. Older entries are
	// treated as absent and deleted lazily.
	MaxAge time.Duration
	// SensitivePrefixes lists cookie-name prefixes that must never be
	// persisted (session/auth tokens). Matched case-insensitively.
	SensitivePrefixes []string
}

// Store is a file-backed harvest.SessionStore. Files are partitioned by
// (observer, channel) so concurrent work units for different pairs never
// contend.
type Store struct {
	root      string
	maxAge    time.Duration
	sensitive []string
	clock     harvest.Clock
	logger    *zap.Logger
}

type envelope struct {
	UpdatedAt   time.Time        `json:"updated_at"`
	CookieCount int              `json:"cookie_count"`
	Cookies     []harvest.Cookie `json:"cookies"`
}

// New creates a Store rooted at cfg.Root, creating the directory if needed.
func New(cfg Config, clock harvest.Clock, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Root) == "" {
		return nil, fmt.Errorf("session root is required")
	}
	if err := os.MkdirAll(cfg.Root, 0o750); err != nil {
		return nil, fmt.Errorf("create session root %s: %w", cfg.Root, err)
	}
	sensitive := make([]string, 0, len(cfg.SensitivePrefixes))
	for _, p := range cfg.SensitivePrefixes {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			sensitive = append(sensitive, p)
		}
	}
	return &Store{
		root:      cfg.Root,
		maxAge:    cfg.MaxAge,
		sensitive: sensitive,
		clock:     clock,
		logger:    logger,
	}, nil
}

// Load returns the stored cookies for the pair, or empty on missing file,
// parse error, or expiry. An expired entry is deleted as a side effect.
func (s *Store) Load(observerID, channelID string) ([]harvest.Cookie, error) {
	path, err := s.entryPath(observerID, channelID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read session %s: %w", path, err)
	}
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("session file unreadable, starting cold",
			zap.String("observer", observerID),
			zap.String("channel", channelID),
			zap.Error(err),
		)
		return nil, nil
	}
	if s.maxAge > 0 && s.clock.Now().Sub(env.UpdatedAt) > s.maxAge {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("delete expired session failed", zap.String("path", path), zap.Error(rmErr))
		}
		s.logger.Debug("session expired",
			zap.String("observer", observerID),
			zap.String("channel", channelID),
			zap.Time("updated_at", env.UpdatedAt),
		)
		return nil, nil
	}
	return env.Cookies, nil
}

// Save persists the cookies for the pair, redacting sensitive names first.
// A no-op on empty input. The prior entry is replaced atomically.
func (s *Store) Save(observerID, channelID string, cookies []harvest.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	kept := s.redact(cookies)
	if len(kept) == 0 {
		return nil
	}
	path, err := s.entryPath(observerID, channelID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return fmt.Errorf("create session dir for %s: %w", path, err)
	}
	payload, err := json.MarshalIndent(envelope{
		UpdatedAt:   s.clock.Now(),
		CookieCount: len(kept),
		Cookies:     kept,
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o600); err != nil {
		return fmt.Errorf("write session temp %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session %s: %w", path, err)
	}
	return nil
}

// Clear removes one entry, all entries for an observer (empty channelID),
// or everything (both empty).
func (s *Store) Clear(observerID, channelID string) error {
	switch {
	case observerID == "" && channelID == "":
		entries, err := os.ReadDir(s.root)
		if err != nil {
			return fmt.Errorf("read session root: %w", err)
		}
		for _, e := range entries {
			if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
				return fmt.Errorf("clear session entry %s: %w", e.Name(), err)
			}
		}
		return nil
	case channelID == "":
		dir, err := s.observerDir(observerID)
		if err != nil {
			return err
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("clear observer sessions %s: %w", observerID, err)
		}
		return nil
	default:
		path, err := s.entryPath(observerID, channelID)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("clear session %s/%s: %w", observerID, channelID, err)
		}
		return nil
	}
}

func (s *Store) redact(cookies []harvest.Cookie) []harvest.Cookie {
	kept := make([]harvest.Cookie, 0, len(cookies))
	for _, c := range cookies {
		if s.isSensitive(c.Name) {
			s.logger.Debug("cookie redacted", zap.String("name", c.Name))
			continue
		}
		kept = append(kept, c)
	}
	return kept
}

func (s *Store) isSensitive(name string) bool {
	lower := strings.ToLower(name)
	for _, prefix := range s.sensitive {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) observerDir(observerID string) (string, error) {
	if err := validComponent(observerID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, observerID), nil
}

func (s *Store) entryPath(observerID, channelID string) (string, error) {
	if err := validComponent(observerID); err != nil {
		return "", err
	}
	if err := validComponent(channelID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, observerID, channelID+".json"), nil
}

func validComponent(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("identifier is required")
	}
	if strings.ContainsAny(v, `/\`) || v == "." || v == ".." {
		return fmt.Errorf("invalid identifier %q", v)
	}
	return nil
}
