package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path"

	"github.com/dgraph-io/badger/v3"
	"github.com/rs/zerolog/log"

	dlog "github.com/jkaberg/torsync/log"
	"github.com/jkaberg/torsync/torrent/engine"
)

var _ Store = &DB{}

const resumeRootKey = "/resume/"
const statsKey = "/stats/global"

type DB struct {
	db *badger.DB
}

// NewDB opens the store at path. An empty path keeps everything in memory.
func NewDB(p string) (*DB, error) {
	l := log.Logger.With().Str("component", "torrent-store").Logger()

	opts := badger.DefaultOptions(p).
		WithLogger(&dlog.Badger{L: l}).
		WithValueLogFileSize(1<<26 - 1)
	if p == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}

	if p != "" {
		err = db.RunValueLogGC(0.5)
		if err != nil && err != badger.ErrNoRewrite {
			return nil, err
		}
	}

	return &DB{
		db: db,
	}, nil
}

func (l *DB) SaveDescriptor(d engine.Descriptor) error {
	if d.InfoHash == "" {
		return errors.New("descriptor without info hash")
	}

	v, err := json.Marshal(d)
	if err != nil {
		return err
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(path.Join(resumeRootKey, d.InfoHash)), v)
	})
	if err != nil {
		return fmt.Errorf("error saving descriptor %s: %w", d.InfoHash, err)
	}

	return l.db.Sync()
}

func (l *DB) DeleteDescriptor(hash string) error {
	return l.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(path.Join(resumeRootKey, hash)))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		return err
	})
}

func (l *DB) ListDescriptors() ([]engine.Descriptor, []string, error) {
	tx := l.db.NewTransaction(false)
	defer tx.Discard()

	it := tx.NewIterator(badger.DefaultIteratorOptions)
	defer it.Close()

	var out []engine.Descriptor
	var corrupt []string
	prefix := []byte(resumeRootKey)
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		_, hash := path.Split(string(it.Item().Key()))
		var d engine.Descriptor
		err := it.Item().Value(func(v []byte) error {
			return json.Unmarshal(v, &d)
		})
		if err != nil {
			log.Warn().Err(err).Str("hash", hash).Msg("corrupt resume descriptor")
			corrupt = append(corrupt, hash)
			continue
		}
		if len(d.MetaInfo) == 0 && d.Magnet == "" {
			corrupt = append(corrupt, hash)
			continue
		}

		out = append(out, d)
	}

	return out, corrupt, nil
}

func (l *DB) SaveTotals(t Totals) error {
	v, err := json.Marshal(t)
	if err != nil {
		return err
	}

	err = l.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(statsKey), v)
	})
	if err != nil {
		return err
	}

	return l.db.Sync()
}

// LoadTotals returns zero totals when nothing was saved yet.
func (l *DB) LoadTotals() (Totals, error) {
	var t Totals
	err := l.db.View(func(txn *badger.Txn) error {
		it, err := txn.Get([]byte(statsKey))
		if err != nil {
			return err
		}
		return it.Value(func(v []byte) error {
			return json.Unmarshal(v, &t)
		})
	})
	if err == badger.ErrKeyNotFound {
		return Totals{}, nil
	}

	return t, err
}

func (l *DB) Close() error {
	return l.db.Close()
}
