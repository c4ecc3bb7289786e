// Package boltstore is a bbolt-backed storage.Store, one bucket holding
// one key per team name, its value the team's opaque save blob.
package boltstore

import (
	"fmt"

	"github.com/claudiu/gocron"
	"github.com/piprate/teamkeep/storage"
	"github.com/rs/zerolog/log"
	"go.etcd.io/bbolt"
)

const teamsBucket = "teams"

func init() {
	storage.Register("bolt", New)
}

// BoltStore is a storage.Store backed by a single bbolt database file.
type BoltStore struct {
	db        *bbolt.DB
	scheduler *gocron.Scheduler
}

var _ storage.Store = (*BoltStore)(nil)

// New opens (creating if absent) the bolt file at params["path"]. If
// params["statsIntervalSeconds"] is a positive int, a background tick logs
// the team count at that interval — the same gocron.Scheduler pattern used
// to drive periodic block checks in a local ledger.
func New(params storage.Parameters) (storage.Store, error) {
	path, _ := params["path"].(string)
	if path == "" {
		return nil, fmt.Errorf("boltstore: missing %q parameter", "path")
	}

	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("boltstore: open %s: %w", path, err)
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(teamsBucket))
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("boltstore: install schema: %w", err)
	}

	bs := &BoltStore{db: db}

	if interval, _ := params["statsIntervalSeconds"].(int); interval > 0 {
		bs.scheduler = gocron.NewScheduler()
		bs.scheduler.Every(uint64(interval)).Seconds().Do(logStoreStats, bs)
		bs.scheduler.Start()
	}

	return bs, nil
}

func logStoreStats(bs *BoltStore) {
	names, err := bs.List()
	if err != nil {
		log.Err(err).Msg("boltstore: stats tick failed")
		return
	}
	log.Debug().Int("teams", len(names)).Msg("boltstore: stats tick")
}

// Save writes blob under teamName, replacing any prior value.
func (bs *BoltStore) Save(teamName string, blob []byte) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(teamsBucket)).Put([]byte(teamName), blob)
	})
}

// Load returns the blob last saved under teamName.
func (bs *BoltStore) Load(teamName string) ([]byte, error) {
	var out []byte
	err := bs.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(teamsBucket)).Get([]byte(teamName))
		if v == nil {
			return storage.ErrTeamNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Delete removes teamName's blob.
func (bs *BoltStore) Delete(teamName string) error {
	return bs.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(teamsBucket))
		if b.Get([]byte(teamName)) == nil {
			return storage.ErrTeamNotFound
		}
		return b.Delete([]byte(teamName))
	})
}

// List returns every team name with a saved blob.
func (bs *BoltStore) List() ([]string, error) {
	var names []string
	err := bs.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(teamsBucket)).ForEach(func(k, _ []byte) error {
			names = append(names, string(k))
			return nil
		})
	})
	return names, err
}

// Close stops the stats scheduler, if running, and closes the database.
func (bs *BoltStore) Close() error {
	if bs.scheduler != nil {
		bs.scheduler.Stop()
	}
	return bs.db.Close()
}
