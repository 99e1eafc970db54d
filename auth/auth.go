// Package auth checks reader credentials against a login database.
package auth

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"github.com/javi11/nntpchand/logging"
)

var logger = logging.Logger("auth")

// LoginDB answers whether a user/password pair is valid.
type LoginDB interface {
	CheckLogin(user, pass string) (bool, error)
}

// FileDB is a login database read from a text file with one
// "user:bcrypt-hash" entry per line. Blank lines and lines starting with
// '#' are ignored.
type FileDB struct {
	path string

	mu    sync.RWMutex
	users map[string][]byte
}

// OpenFile loads the login database at path.
func OpenFile(path string) (*FileDB, error) {
	db := &FileDB{path: path}
	if err := db.Reload(); err != nil {
		return nil, err
	}
	return db, nil
}

// Reload rereads the file. On error the previous entries are kept.
func (db *FileDB) Reload() error {
	f, err := os.Open(db.path)
	if err != nil {
		return fmt.Errorf("open login db: %w", err)
	}
	defer f.Close()

	users, err := parse(f)
	if err != nil {
		return fmt.Errorf("%s: %w", db.path, err)
	}

	db.mu.Lock()
	db.users = users
	db.mu.Unlock()
	logger.Info("login db loaded", "path", db.path, "users", len(users))
	return nil
}

func parse(r io.Reader) (map[string][]byte, error) {
	users := make(map[string][]byte)
	sc := bufio.NewScanner(r)
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		user, hash, ok := strings.Cut(line, ":")
		if !ok || user == "" || hash == "" {
			return nil, fmt.Errorf("line %d: want user:hash", n)
		}
		if _, err := bcrypt.Cost([]byte(hash)); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		users[user] = []byte(hash)
	}
	return users, sc.Err()
}

func (db *FileDB) CheckLogin(user, pass string) (bool, error) {
	db.mu.RLock()
	hash, ok := db.users[user]
	db.mu.RUnlock()
	if !ok {
		return false, nil
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(pass))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, err
	}
}

// Entry returns a login db line for user with a freshly hashed password.
func Entry(user, pass string) (string, error) {
	if user == "" || strings.ContainsAny(user, ": \t\r\n") {
		return "", fmt.Errorf("invalid user name %q", user)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return user + ":" + string(hash), nil
}
