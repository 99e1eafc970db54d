package store

import (
	"fmt"

	"github.com/gofiber/storage/bbolt"
	bolt "go.etcd.io/bbolt"
)

const (
	metaBucket     = "nntpchand_meta"
	schemaKey      = "schema_version"
	schemaVersion  = "1"
	articlesBucket = "articles"
	groupsBucket   = "groups"
)

// boltIndex keeps records in one bucket and a sub-bucket per newsgroup,
// keyed by big-endian article number. Numbers come from the sub-bucket
// sequence so they never repeat.
type boltIndex struct {
	store *bbolt.Storage
	db    *bolt.DB
}

func openBoltIndex(path string) (idx *boltIndex, err error) {
	// bbolt.New panics when the file cannot be opened
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("open bbolt index %s: %v", path, r)
		}
	}()

	st := bbolt.New(bbolt.Config{
		Database: path,
		Bucket:   metaBucket,
	})

	version, err := st.Get(schemaKey)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	if version == nil {
		if err := st.Set(schemaKey, []byte(schemaVersion), 0); err != nil {
			_ = st.Close()
			return nil, err
		}
	} else if string(version) != schemaVersion {
		_ = st.Close()
		return nil, fmt.Errorf("index %s has schema %s, want %s", path, version, schemaVersion)
	}

	db := st.Conn()
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(articlesBucket)); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists([]byte(groupsBucket))
		return err
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	return &boltIndex{store: st, db: db}, nil
}

func (b *boltIndex) Has(id string) (bool, error) {
	var found bool
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket([]byte(articlesBucket)).Get([]byte(id)) != nil
		return nil
	})
	return found, err
}

func (b *boltIndex) Record(id string) (*Record, error) {
	var rec *Record
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket([]byte(articlesBucket)).Get([]byte(id))
		if v == nil {
			return nil
		}
		var err error
		rec, err = decodeRecord(v)
		return err
	})
	return rec, err
}

func (b *boltIndex) Commit(rec *Record, groups []string) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		arts := tx.Bucket([]byte(articlesBucket))
		if arts.Get([]byte(rec.MessageID)) != nil {
			return errExists
		}

		root := tx.Bucket([]byte(groupsBucket))
		rec.Numbers = make(map[string]int64, len(groups))
		for _, g := range groups {
			gb, err := root.CreateBucketIfNotExists([]byte(g))
			if err != nil {
				return err
			}
			seq, err := gb.NextSequence()
			if err != nil {
				return err
			}
			n := int64(seq)
			if err := gb.Put(numKey(n), []byte(rec.MessageID)); err != nil {
				return err
			}
			rec.Numbers[g] = n
		}

		enc, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		return arts.Put([]byte(rec.MessageID), enc)
	})
}

func (b *boltIndex) Group(name string) (GroupInfo, bool, error) {
	var (
		info  GroupInfo
		found bool
	)
	err := b.db.View(func(tx *bolt.Tx) error {
		gb := tx.Bucket([]byte(groupsBucket)).Bucket([]byte(name))
		if gb == nil {
			return nil
		}
		found = true
		info = boltGroupInfo(name, gb)
		return nil
	})
	return info, found, err
}

func boltGroupInfo(name string, gb *bolt.Bucket) GroupInfo {
	c := gb.Cursor()
	first, _ := c.First()
	if first == nil {
		return groupInfo(name, 1, 0)
	}
	last, _ := c.Last()
	return groupInfo(name, keyNum(first), keyNum(last))
}

func (b *boltIndex) Groups() ([]GroupInfo, error) {
	var out []GroupInfo
	err := b.db.View(func(tx *bolt.Tx) error {
		root := tx.Bucket([]byte(groupsBucket))
		return root.ForEach(func(k, v []byte) error {
			// sub-buckets have a nil value
			if v != nil {
				return nil
			}
			out = append(out, boltGroupInfo(string(k), root.Bucket(k)))
			return nil
		})
	})
	return out, err
}

func (b *boltIndex) Number(group string, n int64) (string, bool, error) {
	var id string
	err := b.db.View(func(tx *bolt.Tx) error {
		gb := tx.Bucket([]byte(groupsBucket)).Bucket([]byte(group))
		if gb == nil {
			return nil
		}
		if v := gb.Get(numKey(n)); v != nil {
			id = string(v)
		}
		return nil
	})
	return id, id != "", err
}

func (b *boltIndex) Scan(group string, from, to int64, limit int) ([]Entry, error) {
	var out []Entry
	err := b.db.View(func(tx *bolt.Tx) error {
		gb := tx.Bucket([]byte(groupsBucket)).Bucket([]byte(group))
		if gb == nil {
			return nil
		}
		c := gb.Cursor()
		for k, v := c.Seek(numKey(from)); k != nil && len(out) < limit; k, v = c.Next() {
			n := keyNum(k)
			if n > to {
				break
			}
			out = append(out, Entry{Number: n, MessageID: string(v)})
		}
		return nil
	})
	return out, err
}

func (b *boltIndex) Close() error {
	return b.store.Close()
}
