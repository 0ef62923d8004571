// Package store keeps canonical batch files in a key-value namespace.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/robertlestak/txbatch/internal/kv"
	"github.com/robertlestak/txbatch/internal/output"
	"github.com/robertlestak/txbatch/internal/schema"
	"github.com/robertlestak/txbatch/internal/telemetry"
	log "github.com/sirupsen/logrus"
)

var (
	ErrNotFound = errors.New("batch not found")
)

// Store owns the id -> batch mapping. Storage faults are logged and
// returned to the caller; a missing batch is reported as ErrNotFound.
type Store struct {
	kv      kv.KV
	tracker telemetry.Tracker
	ids     IDGenerator
}

type Option func(*Store)

func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

func New(k kv.KV, t telemetry.Tracker, opts ...Option) *Store {
	if t == nil {
		t = telemetry.Noop{}
	}
	s := &Store{
		kv:      k,
		tracker: t,
		ids:     RandomGenerator{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Create stores b under a fresh identifier.
func (s *Store) Create(ctx context.Context, b *schema.BatchFile) (string, *schema.BatchFile, error) {
	id := s.ids.NewID()
	l := log.WithFields(log.Fields{
		"package": "store",
		"func":    "Create",
		"id":      id,
	})
	if err := s.put(ctx, id, b); err != nil {
		l.Error(err)
		return id, b, err
	}
	l.WithField("txs", len(b.Transactions)).Info("Saved batch")
	s.tracker.RecordEvent(telemetry.EventSaved, strconv.Itoa(len(b.Transactions)))
	return id, b, nil
}

// Update overwrites the batch stored under id, creating it if absent.
func (s *Store) Update(ctx context.Context, id string, b *schema.BatchFile) error {
	l := log.WithFields(log.Fields{
		"package": "store",
		"func":    "Update",
		"id":      id,
	})
	if id == "" {
		return fmt.Errorf("update: empty batch id")
	}
	if err := s.put(ctx, id, b); err != nil {
		l.Error(err)
		return err
	}
	l.Debug("Updated batch")
	s.tracker.RecordEvent(telemetry.EventUpdated, "")
	return nil
}

// Remove deletes the batch stored under id. Removing a missing batch is a
// no-op.
func (s *Store) Remove(ctx context.Context, id string) error {
	l := log.WithFields(log.Fields{
		"package": "store",
		"func":    "Remove",
		"id":      id,
	})
	if err := s.kv.Remove(ctx, id); err != nil {
		l.Error(err)
		return fmt.Errorf("remove batch %s: %w", id, err)
	}
	l.Debug("Removed batch")
	s.tracker.RecordEvent(telemetry.EventRemoved, "")
	return nil
}

func (s *Store) Get(ctx context.Context, id string) (*schema.BatchFile, error) {
	l := log.WithFields(log.Fields{
		"package": "store",
		"func":    "Get",
		"id":      id,
	})
	jd, err := s.kv.Get(ctx, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	} else if err != nil {
		l.Error(err)
		return nil, fmt.Errorf("get batch %s: %w", id, err)
	}
	var b schema.BatchFile
	if err := json.Unmarshal(jd, &b); err != nil {
		l.Error(err)
		return nil, fmt.Errorf("decode batch %s: %w", id, err)
	}
	return &b, nil
}

// ListAll returns every batch in the namespace. Entries that cannot be
// decoded are logged and left out.
func (s *Store) ListAll(ctx context.Context) (map[string]*schema.BatchFile, error) {
	l := log.WithFields(log.Fields{
		"package": "store",
		"func":    "ListAll",
	})
	batches := make(map[string]*schema.BatchFile)
	err := s.kv.Iterate(ctx, func(key string, value []byte) error {
		var b schema.BatchFile
		if err := json.Unmarshal(value, &b); err != nil {
			l.WithField("id", key).Warnf("skipping undecodable batch: %v", err)
			return nil
		}
		batches[key] = &b
		return nil
	})
	if err != nil {
		l.Error(err)
		return nil, fmt.Errorf("list batches: %w", err)
	}
	l.Debugf("Listed %d batches", len(batches))
	return batches, nil
}

// Export writes b as a downloadable JSON file to w and returns its file name.
func (s *Store) Export(ctx context.Context, w io.Writer, b *schema.BatchFile) (string, error) {
	l := log.WithFields(log.Fields{
		"package": "store",
		"func":    "Export",
	})
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := b.Validate(); err != nil {
		return "", err
	}
	if err := output.WriteJSON(w, b); err != nil {
		l.Error(err)
		return "", err
	}
	s.tracker.RecordEvent(telemetry.EventDownload, "")
	return output.Filename(b), nil
}

func (s *Store) put(ctx context.Context, id string, b *schema.BatchFile) error {
	if err := b.Validate(); err != nil {
		return err
	}
	jd, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("encode batch %s: %w", id, err)
	}
	if err := s.kv.Set(ctx, id, jd); err != nil {
		return fmt.Errorf("save batch %s: %w", id, err)
	}
	return nil
}
