package regdb

import (
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"

	"github.com/wolfeidau/swstore/store/codec"
)

// DB is the registration database.
type DB struct {
	db       *bbolt.DB
	codec    *codec.Codec
	ownCodec bool
	logger   *slog.Logger
	now      func() time.Time
	noSync   bool // disables fsync per transaction (for testing only)
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) Option {
	return func(d *DB) {
		d.logger = logger
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(d *DB) {
		d.now = now
	}
}

// WithNoSync disables fsync per transaction.
// WARNING: This improves write performance but risks data loss on crash.
// Use only for testing or benchmarking, never in production.
func WithNoSync(noSync bool) Option {
	return func(d *DB) {
		d.noSync = noSync
	}
}

// WithCodec shares a value codec instead of creating one on Open.
func WithCodec(c *codec.Codec) Option {
	return func(d *DB) {
		d.codec = c
	}
}

// New creates a DB with options. Call Open before use.
func New(opts ...Option) *DB {
	d := &DB{
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Open opens the database at path, creating it and its buckets if needed.
func (d *DB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  d.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return err
	}

	if d.codec == nil {
		c, err := codec.New()
		if err != nil {
			_ = db.Close()
			return err
		}
		d.codec = c
		d.ownCodec = true
	}

	d.db = db
	d.logger.Debug("opened registration database", "path", path, "noSync", d.noSync)
	return nil
}

// Close closes the database and releases resources.
func (d *DB) Close() error {
	if d.ownCodec && d.codec != nil {
		d.codec.Close()
		d.codec = nil
		d.ownCodec = false
	}
	if d.db == nil {
		return nil
	}
	d.logger.Debug("closing registration database")
	err := d.db.Close()
	d.db = nil
	return err
}

// Path returns the database file path, or "" when closed.
func (d *DB) Path() string {
	if d.db == nil {
		return ""
	}
	return d.db.Path()
}

func (d *DB) view(fn func(tx *bbolt.Tx) error) error {
	if d.db == nil {
		return ErrNotOpen
	}
	return d.db.View(fn)
}

func (d *DB) update(fn func(tx *bbolt.Tx) error) error {
	if d.db == nil {
		return ErrNotOpen
	}
	return d.db.Update(fn)
}
