// Package store is the content-addressed article store.
//
// Article bytes live in one file per message-id under <root>/articles,
// named by the digest of the id. Files are written to <root>/tmp, synced
// and renamed into place; the index commit that follows is what makes an
// article visible to Get, Exists and ListGroup. An id enumerable through
// ListGroup is therefore always readable through Get.
package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/javi11/nntpchand/article"
	"github.com/javi11/nntpchand/digest"
	"github.com/javi11/nntpchand/logging"
)

var logger = logging.Logger("store")

// listBatch is how many entries ListGroup pulls from the index per scan.
const listBatch = 256

// Outcome of a Put.
type Outcome int

const (
	Accepted Outcome = iota + 1
	Duplicate
)

func (o Outcome) String() string {
	switch o {
	case Accepted:
		return "accepted"
	case Duplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// Range is an inclusive article number range.
type Range struct {
	Low  int64
	High int64
}

// All covers every article number.
var All = Range{Low: 1, High: math.MaxInt64}

// Options configures Open.
type Options struct {
	Root   string
	Index  string
	Hasher *digest.Hasher
}

// Store is safe for concurrent use.
type Store struct {
	root        string
	articlesDir string
	tmpDir      string
	hasher      *digest.Hasher
	index       Index
	claims      *claimTable
}

// Open creates the directory layout under opts.Root if needed and opens
// the index.
func Open(opts Options) (*Store, error) {
	if opts.Root == "" {
		return nil, errors.New("store root path is empty")
	}
	if opts.Hasher == nil {
		h, err := digest.New("")
		if err != nil {
			return nil, err
		}
		opts.Hasher = h
	}

	s := &Store{
		root:        opts.Root,
		articlesDir: filepath.Join(opts.Root, "articles"),
		tmpDir:      filepath.Join(opts.Root, "tmp"),
		hasher:      opts.Hasher,
		claims:      newClaimTable(),
	}
	for _, dir := range []string{s.articlesDir, s.tmpDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, &StorageError{Op: "mkdir", Err: err}
		}
	}
	s.cleanStaging()
	if err := s.checkHashAlgorithm(); err != nil {
		return nil, err
	}

	idx, err := openIndex(opts.Index, filepath.Join(opts.Root, "index"))
	if err != nil {
		return nil, &StorageError{Op: "open index", Err: err}
	}
	s.index = idx

	logger.Info("article store opened", "root", opts.Root, "index", opts.Index, "hash", opts.Hasher.Name())
	return s, nil
}

// checkHashAlgorithm pins the digest used for file names and content
// hashes to the first one the store was opened with.
func (s *Store) checkHashAlgorithm() error {
	p := filepath.Join(s.root, "hash")
	b, err := os.ReadFile(p)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(p, []byte(s.hasher.Name()+"\n"), 0o644); err != nil {
			return &StorageError{Op: "write hash marker", Err: err}
		}
		return nil
	}
	if err != nil {
		return &StorageError{Op: "read hash marker", Err: err}
	}
	if got := strings.TrimSpace(string(b)); got != s.hasher.Name() {
		return fmt.Errorf("store %s uses hash %s, configured %s", s.root, got, s.hasher.Name())
	}
	return nil
}

// cleanStaging drops staging files left by an interrupted write.
func (s *Store) cleanStaging() {
	entries, err := os.ReadDir(s.tmpDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.Remove(filepath.Join(s.tmpDir, e.Name())); err == nil {
			logger.Debug("removed stale staging file", "file", e.Name())
		}
	}
}

// Put stores a. It sets a.ContentHash on success.
//
// Put of an id that is already stored returns Duplicate and changes
// nothing. Concurrent Puts of the same id produce exactly one Accepted;
// the others wait for it and return Duplicate, or take over if it failed.
func (s *Store) Put(ctx context.Context, a *article.Article) (Outcome, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	id := a.MessageID

	c, err := s.claims.acquire(ctx, id)
	if errors.Is(err, errClaimStored) {
		return Duplicate, nil
	}
	if err != nil {
		return 0, err
	}
	stored := false
	defer func() { s.claims.release(id, c, stored) }()

	has, err := s.index.Has(id)
	if err != nil {
		return 0, &StorageError{Op: "exists", ID: id, Err: err}
	}
	if has {
		stored = true
		return Duplicate, nil
	}

	raw := a.Bytes()
	sum := s.hasher.Sum(raw)
	rel := s.relPath(id)
	final := filepath.Join(s.root, rel)

	if err := s.publish(raw, final); err != nil {
		return 0, &StorageError{Op: "write", ID: id, Err: err}
	}

	rec := &Record{
		MessageID:   id,
		File:        rel,
		ContentHash: sum,
		Size:        int64(len(raw)),
		Received:    time.Now().UTC(),
	}
	if err := s.index.Commit(rec, uniqueGroups(a.Newsgroups)); err != nil {
		if errors.Is(err, errExists) {
			stored = true
			return Duplicate, nil
		}
		_ = os.Remove(final)
		return 0, &StorageError{Op: "index", ID: id, Err: err}
	}

	a.ContentHash = sum
	stored = true
	logger.Debug("article stored", "message_id", id, "bytes", rec.Size, "groups", rec.Numbers)
	return Accepted, nil
}

func (s *Store) relPath(id string) string {
	return filepath.Join("articles", s.hasher.SumHex(id))
}

func (s *Store) publish(raw []byte, final string) error {
	f, err := os.CreateTemp(s.tmpDir, "article-*")
	if err != nil {
		return err
	}
	tmp := f.Name()

	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return err
	}
	return syncDir(s.articlesDir)
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	return d.Sync()
}

func uniqueGroups(groups []string) []string {
	seen := make(map[string]struct{}, len(groups))
	out := make([]string, 0, len(groups))
	for _, g := range groups {
		if _, ok := seen[g]; ok {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}

// Get returns the article stored under id. A missing article is not an
// error.
func (s *Store) Get(id string) (*article.Article, bool, error) {
	if !article.ValidMessageID(id) {
		return nil, false, nil
	}
	rec, err := s.index.Record(id)
	if err != nil {
		return nil, false, &StorageError{Op: "lookup", ID: id, Err: err}
	}
	if rec == nil {
		return nil, false, nil
	}

	raw, err := os.ReadFile(filepath.Join(s.root, rec.File))
	if err != nil {
		return nil, false, &StorageError{Op: "read", ID: id, Err: err}
	}
	if !s.hasher.Verify(raw, rec.ContentHash) {
		return nil, false, &StorageError{Op: "verify", ID: id, Err: ErrCorrupt}
	}

	a, err := article.Parse(raw)
	if err != nil {
		return nil, false, &StorageError{Op: "parse", ID: id, Err: err}
	}
	a.ContentHash = rec.ContentHash
	return a, true, nil
}

// Exists reports whether id is stored. Index errors count as absent.
func (s *Store) Exists(id string) bool {
	if !article.ValidMessageID(id) {
		return false
	}
	has, err := s.index.Has(id)
	if err != nil {
		logger.Warn("existence probe failed", "message_id", id, "error", err)
		return false
	}
	return has
}

// Info returns the index record for id.
func (s *Store) Info(id string) (*Record, bool, error) {
	if !article.ValidMessageID(id) {
		return nil, false, nil
	}
	rec, err := s.index.Record(id)
	if err != nil {
		return nil, false, &StorageError{Op: "lookup", ID: id, Err: err}
	}
	return rec, rec != nil, nil
}

// Path returns the on-disk location of a stored article.
func (s *Store) Path(id string) (string, bool) {
	rec, ok, err := s.Info(id)
	if err != nil || !ok {
		return "", false
	}
	return filepath.Join(s.root, rec.File), true
}

// ListGroup yields the ids of group within r in ascending number order.
// The sequence reads the index lazily and may be iterated again; a rerun
// sees the same ids plus any appended since.
func (s *Store) ListGroup(group string, r Range) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		from, to := r.Low, r.High
		if from < 1 {
			from = 1
		}
		for from <= to {
			batch, err := s.index.Scan(group, from, to, listBatch)
			if err != nil {
				yield(Entry{}, &StorageError{Op: "scan", Err: fmt.Errorf("group %s: %w", group, err)})
				return
			}
			for _, e := range batch {
				if !yield(e, nil) {
					return
				}
			}
			if len(batch) < listBatch {
				return
			}
			last := batch[len(batch)-1].Number
			if last == math.MaxInt64 {
				return
			}
			from = last + 1
		}
	}
}

// Group returns the watermarks of a group that has at least one article.
func (s *Store) Group(name string) (GroupInfo, bool, error) {
	info, ok, err := s.index.Group(name)
	if err != nil {
		return GroupInfo{}, false, &StorageError{Op: "group", Err: err}
	}
	return info, ok, nil
}

// Groups lists every group, sorted by name.
func (s *Store) Groups() ([]GroupInfo, error) {
	groups, err := s.index.Groups()
	if err != nil {
		return nil, &StorageError{Op: "groups", Err: err}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// Lookup maps an article number in group to its message-id.
func (s *Store) Lookup(group string, n int64) (string, bool, error) {
	if n < 1 {
		return "", false, nil
	}
	id, ok, err := s.index.Number(group, n)
	if err != nil {
		return "", false, &StorageError{Op: "lookup number", Err: err}
	}
	return id, ok, nil
}

// Close closes the index.
func (s *Store) Close() error {
	return s.index.Close()
}
