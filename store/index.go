package store

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"time"
)

// Index backend names.
const (
	IndexBolt   = "bbolt"
	IndexBadger = "badger"
)

// errExists is returned by Index.Commit when the id is already indexed.
var errExists = errors.New("message-id already indexed")

// Record is the index entry of one stored article.
type Record struct {
	MessageID   string
	File        string // relative to the store root
	ContentHash []byte
	Size        int64
	Numbers     map[string]int64
	Received    time.Time
}

// GroupInfo describes one newsgroup's watermarks. An empty group has
// Count 0, Low 1, High 0.
type GroupInfo struct {
	Name  string
	Count int64
	Low   int64
	High  int64
}

// Entry is one article number in a group.
type Entry struct {
	Number    int64
	MessageID string
}

// Index maps message-ids to records and keeps the per-group number
// sequences. Commit is the only mutation and must be atomic: either the
// record and every group append become visible together, or none do.
type Index interface {
	Has(id string) (bool, error)
	Record(id string) (*Record, error)
	Commit(rec *Record, groups []string) error
	Group(name string) (GroupInfo, bool, error)
	Groups() ([]GroupInfo, error)
	Number(group string, n int64) (string, bool, error)
	Scan(group string, from, to int64, limit int) ([]Entry, error)
	Close() error
}

func openIndex(kind, path string) (Index, error) {
	switch kind {
	case "", IndexBolt:
		return openBoltIndex(path + ".db")
	case IndexBadger:
		return openBadgerIndex(path)
	default:
		return nil, fmt.Errorf("unknown index backend %q", kind)
	}
}

func encodeRecord(rec *Record) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeRecord(b []byte) (*Record, error) {
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func numKey(n int64) []byte {
	var k [8]byte
	binary.BigEndian.PutUint64(k[:], uint64(n))
	return k[:]
}

func keyNum(k []byte) int64 {
	return int64(binary.BigEndian.Uint64(k))
}

func groupInfo(name string, low, high int64) GroupInfo {
	if high < low || high == 0 {
		return GroupInfo{Name: name, Low: 1}
	}
	return GroupInfo{Name: name, Count: high - low + 1, Low: low, High: high}
}
