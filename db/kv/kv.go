// Package kv implements the coordinator document store on top of BoltDB. All
// ceremony documents are stored as snappy-compressed JSON values; multi
// document writes commit in a single writable transaction, which is what
// makes the conditional batch semantics linearizable.
package kv

import (
	"context"
	"os"
	"path"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/zkmpc/ceremonyd/async/event"
	"github.com/zkmpc/ceremonyd/db/iface"
	"github.com/zkmpc/ceremonyd/time/clock"
)

var log = logrus.WithField("prefix", "db")

// DatabaseFileName is the name of the coordinator database file.
const DatabaseFileName = "ceremony.db"

// ErrConflict is returned when a guarded write observes a document whose
// LastUpdated no longer matches the value the caller read.
var ErrConflict = errors.New("document was modified concurrently")

// Store defines an implementation of the coordinator Database interface
// using BoltDB as the underlying persistent kv-store.
type Store struct {
	db           *bolt.DB
	databasePath string
	clock        clock.Clock

	participantFeed  event.Feed[iface.ParticipantChange]
	contributionFeed event.Feed[iface.ContributionCreated]
}

// Config options for the coordinator db.
type Config struct {
	Clock clock.Clock
}

// NewKVStore initializes a new boltDB key-value store at the directory
// path specified, creates the kv-buckets based on the schema, and stores
// an open connection db object as a property of the Store struct.
func NewKVStore(ctx context.Context, dirPath string, cfg *Config) (*Store, error) {
	if err := os.MkdirAll(dirPath, 0700); err != nil {
		return nil, err
	}
	datafile := path.Join(dirPath, DatabaseFileName)
	boltDB, err := bolt.Open(datafile, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		if errors.Is(err, bolt.ErrTimeout) {
			return nil, errors.New("cannot obtain database lock, database may be in use by another process")
		}
		return nil, err
	}
	c := cfg.Clock
	if c == nil {
		c = clock.System{}
	}
	kv := &Store{db: boltDB, databasePath: datafile, clock: c}

	if err := kv.db.Update(func(tx *bolt.Tx) error {
		return createBuckets(
			tx,
			ceremoniesBucket,
			circuitsBucket,
			participantsBucket,
			contributionsBucket,
			timeoutsBucket,
		)
	}); err != nil {
		return nil, err
	}
	return kv, nil
}

func createBuckets(tx *bolt.Tx, buckets ...[]byte) error {
	for _, bucket := range buckets {
		if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying boltdb database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ClearDB removes any previously stored data at the configured data directory.
func (s *Store) ClearDB() error {
	if _, err := os.Stat(s.databasePath); os.IsNotExist(err) {
		return nil
	}
	return os.Remove(s.databasePath)
}

// DatabasePath at which this database writes files.
func (s *Store) DatabasePath() string {
	return s.databasePath
}

// Size returns the db size in bytes.
func (s *Store) Size() (int64, error) {
	var size int64
	err := s.db.View(func(tx *bolt.Tx) error {
		size = tx.Size()
		return nil
	})
	return size, err
}

// SubscribeParticipantChanges registers ch to receive a change event after
// every committed participant write.
func (s *Store) SubscribeParticipantChanges(ch chan<- iface.ParticipantChange) event.Subscription {
	return s.participantFeed.Subscribe(ch)
}

// SubscribeContributions registers ch to receive an event after every
// committed contribution creation.
func (s *Store) SubscribeContributions(ch chan<- iface.ContributionCreated) event.Subscription {
	return s.contributionFeed.Subscribe(ch)
}
