package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dgraph-io/badger"
)

// Key layout:
//
//	a:<message-id>             -> gob Record
//	g:<group>\x00<be64 number> -> message-id
//	h:<group>                  -> be64 high watermark
const (
	badgerArticlePrefix = "a:"
	badgerGroupPrefix   = "g:"
	badgerHighPrefix    = "h:"
)

const maxConflictRetries = 128

type badgerIndex struct {
	db *badger.DB
}

func openBadgerIndex(dir string) (*badgerIndex, error) {
	opts := badger.DefaultOptions(dir).
		WithSyncWrites(true).
		WithLogger(badgerLogger{})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger index %s: %w", dir, err)
	}
	return &badgerIndex{db: db}, nil
}

func articleKey(id string) []byte { return []byte(badgerArticlePrefix + id) }
func highKey(group string) []byte { return []byte(badgerHighPrefix + group) }

func groupPrefix(group string) []byte {
	return []byte(badgerGroupPrefix + group + "\x00")
}

func groupKey(group string, n int64) []byte {
	return append(groupPrefix(group), numKey(n)...)
}

func (b *badgerIndex) Has(id string) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(articleKey(id))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (b *badgerIndex) Record(id string) (*Record, error) {
	var rec *Record
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(articleKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		rec, err = decodeRecord(v)
		return err
	})
	return rec, err
}

func readHigh(txn *badger.Txn, group string) (int64, error) {
	item, err := txn.Get(highKey(group))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	v, err := item.ValueCopy(nil)
	if err != nil {
		return 0, err
	}
	return keyNum(v), nil
}

// Commit retries on transaction conflicts; two commits touching the same
// group's high watermark conflict, and the loser re-reads it.
func (b *badgerIndex) Commit(rec *Record, groups []string) error {
	var err error
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		err = b.db.Update(func(txn *badger.Txn) error {
			_, err := txn.Get(articleKey(rec.MessageID))
			if err == nil {
				return errExists
			}
			if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			rec.Numbers = make(map[string]int64, len(groups))
			for _, g := range groups {
				high, err := readHigh(txn, g)
				if err != nil {
					return err
				}
				n := high + 1
				if err := txn.Set(groupKey(g, n), []byte(rec.MessageID)); err != nil {
					return err
				}
				if err := txn.Set(highKey(g), numKey(n)); err != nil {
					return err
				}
				rec.Numbers[g] = n
			}

			enc, err := encodeRecord(rec)
			if err != nil {
				return err
			}
			return txn.Set(articleKey(rec.MessageID), enc)
		})
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}

func (b *badgerIndex) Group(name string) (GroupInfo, bool, error) {
	var (
		info  GroupInfo
		found bool
	)
	err := b.db.View(func(txn *badger.Txn) error {
		high, err := readHigh(txn, name)
		if err != nil || high == 0 {
			return err
		}
		found = true
		info = groupInfo(name, b.low(txn, name), high)
		return nil
	})
	return info, found, err
}

func (b *badgerIndex) low(txn *badger.Txn, group string) int64 {
	prefix := groupPrefix(group)
	it := txn.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()
	it.Seek(prefix)
	if !it.ValidForPrefix(prefix) {
		return 1
	}
	return keyNum(it.Item().Key()[len(prefix):])
}

func (b *badgerIndex) Groups() ([]GroupInfo, error) {
	var out []GroupInfo
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := []byte(badgerHighPrefix)
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			name := strings.TrimPrefix(string(item.KeyCopy(nil)), badgerHighPrefix)
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, groupInfo(name, b.low(txn, name), keyNum(v)))
		}
		return nil
	})
	return out, err
}

func (b *badgerIndex) Number(group string, n int64) (string, bool, error) {
	var id string
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(groupKey(group, n))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		v, err := item.ValueCopy(nil)
		id = string(v)
		return err
	})
	return id, id != "", err
}

func (b *badgerIndex) Scan(group string, from, to int64, limit int) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := groupPrefix(group)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(groupKey(group, from)); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			item := it.Item()
			n := keyNum(item.Key()[len(prefix):])
			if n > to {
				break
			}
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			out = append(out, Entry{Number: n, MessageID: string(v)})
		}
		return nil
	})
	return out, err
}

func (b *badgerIndex) Close() error {
	return b.db.Close()
}

// badgerLogger routes badger's printf-style logs into slog.
type badgerLogger struct{}

func (badgerLogger) Errorf(f string, args ...interface{}) {
	logger.Error(strings.TrimSpace(fmt.Sprintf(f, args...)), "backend", IndexBadger)
}

func (badgerLogger) Warningf(f string, args ...interface{}) {
	logger.Warn(strings.TrimSpace(fmt.Sprintf(f, args...)), "backend", IndexBadger)
}

func (badgerLogger) Infof(f string, args ...interface{}) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)), "backend", IndexBadger)
}

func (badgerLogger) Debugf(f string, args ...interface{}) {
	logger.Debug(strings.TrimSpace(fmt.Sprintf(f, args...)), "backend", IndexBadger)
}
