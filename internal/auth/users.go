package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"

	"pkt.systems/pslog"
	"pkt.systems/relayd/internal/svcfields"
)

// Credentials verifies a username and password.
type Credentials interface {
	Verify(username, password string) error
}

// Static is a single configured operator account compared in constant time.
type Static struct {
	Username string
	Password string
}

// Verify implements Credentials.
func (s Static) Verify(username, password string) error {
	if s.Username == "" || s.Password == "" {
		return ErrInvalidCredentials
	}
	userOK := subtle.ConstantTimeCompare([]byte(s.Username), []byte(username)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(s.Password), []byte(password)) == 1
	if !userOK || !passOK {
		return ErrInvalidCredentials
	}
	return nil
}

// Chain tries each store in order and accepts the first match.
type Chain []Credentials

// Verify implements Credentials.
func (c Chain) Verify(username, password string) error {
	for _, store := range c {
		if store == nil {
			continue
		}
		if err := store.Verify(username, password); err == nil {
			return nil
		}
	}
	return ErrInvalidCredentials
}

// HashPassword returns a bcrypt hash suitable for the users file.
func HashPassword(password string, cost int) (string, error) {
	if password == "" {
		return "", errors.New("auth: password is empty")
	}
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("auth: hash password: %w", err)
	}
	return string(hash), nil
}

// UsersDocument is the YAML layout of a users file.
type UsersDocument struct {
	Users []UserEntry `yaml:"users"`
}

// UserEntry is one account in a users file.
type UserEntry struct {
	Username     string `yaml:"username"`
	PasswordHash string `yaml:"password_hash"`
}

// UsersFile is a bcrypt backed account list loaded from YAML. Watch keeps it
// in sync with the file on disk.
type UsersFile struct {
	path   string
	logger pslog.Logger

	mu    sync.RWMutex
	users map[string][]byte

	watchOnce sync.Once
	watcher   *fsnotify.Watcher
}

// LoadUsersFile reads path and returns the account list.
func LoadUsersFile(path string, logger pslog.Logger) (*UsersFile, error) {
	u := &UsersFile{
		path:   filepath.Clean(path),
		logger: svcfields.WithSubsystem(logger, svcfields.AuthUsers),
	}
	if err := u.Reload(); err != nil {
		return nil, err
	}
	return u, nil
}

// Reload re-reads the file. On error the previous accounts stay active.
func (u *UsersFile) Reload() error {
	data, err := os.ReadFile(u.path)
	if err != nil {
		return fmt.Errorf("auth: read users file: %w", err)
	}
	var doc UsersDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("auth: parse users file %s: %w", u.path, err)
	}
	users := make(map[string][]byte, len(doc.Users))
	for i, entry := range doc.Users {
		name := strings.TrimSpace(entry.Username)
		if name == "" {
			return fmt.Errorf("auth: users file %s: entry %d has no username", u.path, i)
		}
		if _, err := bcrypt.Cost([]byte(entry.PasswordHash)); err != nil {
			return fmt.Errorf("auth: users file %s: user %q: %w", u.path, name, err)
		}
		users[name] = []byte(entry.PasswordHash)
	}
	u.mu.Lock()
	u.users = users
	u.mu.Unlock()
	u.logger.Info("auth.users.loaded", "path", u.path, "count", len(users))
	return nil
}

// Len reports the number of loaded accounts.
func (u *UsersFile) Len() int {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return len(u.users)
}

// Verify implements Credentials.
func (u *UsersFile) Verify(username, password string) error {
	u.mu.RLock()
	hash, ok := u.users[username]
	u.mu.RUnlock()
	if !ok {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}

// Watch reloads the file whenever it is written, created or renamed into
// place. The directory is watched so editors that replace the file
// atomically are picked up. Watch returns once the watcher is running; it
// stops when ctx ends or Close is called.
func (u *UsersFile) Watch(ctx context.Context) error {
	var startErr error
	u.watchOnce.Do(func() {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			startErr = fmt.Errorf("auth: create users watcher: %w", err)
			return
		}
		if err := watcher.Add(filepath.Dir(u.path)); err != nil {
			_ = watcher.Close()
			startErr = fmt.Errorf("auth: watch %s: %w", u.path, err)
			return
		}
		u.watcher = watcher
		go u.watch(ctx, watcher)
	})
	return startErr
}

func (u *UsersFile) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			_ = watcher.Close()
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != u.path {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if err := u.Reload(); err != nil {
				u.logger.Warn("auth.users.reload_failed", "path", u.path, "error", err)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			u.logger.Warn("auth.users.watch_error", "error", err)
		}
	}
}

// Close stops the watcher.
func (u *UsersFile) Close() error {
	if u.watcher == nil {
		return nil
	}
	return u.watcher.Close()
}
