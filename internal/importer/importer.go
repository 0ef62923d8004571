// Package importer turns uploaded batch files into canonical batches.
//
// Three file shapes are accepted: a single batch file, a deposit data array
// produced by the staking deposit cli, and a bulk export of another store.
// The first two yield one batch for the caller to keep; a bulk export is
// written straight through to the store.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/robertlestak/txbatch/internal/checksum"
	"github.com/robertlestak/txbatch/internal/schema"
	"github.com/robertlestak/txbatch/internal/telemetry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxBytes    int64 = 10 << 20
	DefaultConcurrency       = 8
)

var (
	ErrParse        = errors.New("import file is not valid JSON")
	ErrInvalidBatch = errors.New("invalid batch file")
	ErrTooLarge     = errors.New("import file too large")

	errTrailingData = errors.New("unexpected data after JSON document")
)

// Writer persists bulk imported batches. *store.Store satisfies it.
type Writer interface {
	Update(ctx context.Context, id string, b *schema.BatchFile) error
}

// Result describes what an import produced.
type Result struct {
	Kind Kind `json:"kind"`
	// Batch is set for batch and legacy imports.
	Batch *schema.BatchFile `json:"batch,omitempty"`
	// Imported lists the ids written by a bulk import, sorted.
	Imported []string `json:"imported,omitempty"`
	// Failed maps bulk entry ids to the reason they were not written.
	Failed   map[string]error `json:"-"`
	Warnings []string         `json:"warnings,omitempty"`
}

// FailedReasons returns Failed as strings, for reporting.
func (r *Result) FailedReasons() map[string]string {
	if len(r.Failed) == 0 {
		return nil
	}
	out := make(map[string]string, len(r.Failed))
	for id, err := range r.Failed {
		out[id] = err.Error()
	}
	return out
}

type Importer struct {
	writer      Writer
	tracker     telemetry.Tracker
	legacy      LegacyDefaults
	concurrency int
	maxBytes    int64
	now         func() time.Time
	client      *http.Client
}

type Option func(*Importer)

func WithLegacyDefaults(d LegacyDefaults) Option {
	return func(i *Importer) { i.legacy = d }
}

// WithConcurrency bounds the number of in-flight bulk writes.
func WithConcurrency(n int) Option {
	return func(i *Importer) {
		if n > 0 {
			i.concurrency = n
		}
	}
}

func WithMaxBytes(n int64) Option {
	return func(i *Importer) {
		if n > 0 {
			i.maxBytes = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(i *Importer) { i.now = now }
}

func WithHTTPClient(c *http.Client) Option {
	return func(i *Importer) { i.client = c }
}

func New(w Writer, t telemetry.Tracker, opts ...Option) *Importer {
	if t == nil {
		t = telemetry.Noop{}
	}
	i := &Importer{
		writer:      w,
		tracker:     t,
		legacy:      DefaultLegacyDefaults(),
		concurrency: DefaultConcurrency,
		maxBytes:    DefaultMaxBytes,
		now:         time.Now,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Import reads a whole file from r and imports it.
func (i *Importer) Import(ctx context.Context, r io.Reader) (*Result, error) {
	raw, err := io.ReadAll(io.LimitReader(r, i.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	if int64(len(raw)) > i.maxBytes {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrTooLarge, i.maxBytes)
	}
	return i.ImportBytes(ctx, raw)
}

// ImportBytes classifies raw and runs the matching conversion. Only a parse
// failure, an invalid single batch or a failed deposit conversion is
// returned as an error; an unrecognized document is reported through
// Result.Kind.
func (i *Importer) ImportBytes(ctx context.Context, raw []byte) (*Result, error) {
	l := log.WithFields(log.Fields{
		"package": "importer",
		"func":    "ImportBytes",
		"bytes":   len(raw),
	})
	doc, err := parse(raw)
	if err != nil {
		l.Error(err)
		return nil, fmt.Errorf("%w: %v", ErrParse, err)
	}
	kind := Classify(doc)
	l = l.WithField("kind", kind.String())
	l.Info("Importing file")
	switch kind {
	case KindBatch:
		return i.importBatch(raw)
	case KindLegacy:
		return i.importDeposits(raw)
	case KindBulk:
		return i.importBulk(ctx, raw)
	default:
		l.Warn("unrecognized import file")
		return &Result{Kind: KindUnrecognized}, nil
	}
}

func (i *Importer) importBatch(raw []byte) (*Result, error) {
	l := log.WithFields(log.Fields{
		"package": "importer",
		"func":    "importBatch",
	})
	var b schema.BatchFile
	if err := json.Unmarshal(raw, &b); err != nil {
		l.Error(err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	if err := b.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
	}
	res := &Result{Kind: KindBatch, Batch: &b}
	if err := schema.CheckVersion(b.Version); err != nil {
		l.Warn(err)
		res.Warnings = append(res.Warnings, err.Error())
	}
	if b.Meta.Checksum != "" {
		ok, err := checksum.Validate(raw)
		if err != nil {
			l.Warn(err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("checksum not verified: %v", err))
		} else if !ok {
			l.Warn("checksum mismatch")
			res.Warnings = append(res.Warnings, "checksum does not match batch content")
		}
	}
	i.tracker.RecordEvent(telemetry.EventImported, "")
	return res, nil
}

func (i *Importer) importDeposits(raw []byte) (*Result, error) {
	l := log.WithFields(log.Fields{
		"package": "importer",
		"func":    "importDeposits",
	})
	var deposits []schema.DepositData
	if err := json.Unmarshal(raw, &deposits); err != nil {
		l.Error(err)
		return nil, fmt.Errorf("%w: deposit data: %v", ErrInvalidBatch, err)
	}
	b, err := ConvertDeposits(deposits, i.legacy, i.now())
	if err != nil {
		l.Error(err)
		return nil, err
	}
	l.Infof("Converted %d deposits", len(deposits))
	i.tracker.RecordEvent(telemetry.EventImported, "")
	return &Result{Kind: KindLegacy, Batch: b}, nil
}

// importBulk writes every envelope entry through the Writer. A failed entry
// does not stop the others; there is no atomicity across entries.
func (i *Importer) importBulk(ctx context.Context, raw []byte) (*Result, error) {
	l := log.WithFields(log.Fields{
		"package": "importer",
		"func":    "importBulk",
	})
	var env schema.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		l.Error(err)
		return nil, fmt.Errorf("%w: bulk envelope: %v", ErrInvalidBatch, err)
	}
	res := &Result{Kind: KindBulk, Failed: map[string]error{}}
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(i.concurrency)
	for id, entry := range env.Data {
		id, entry := id, entry
		var b schema.BatchFile
		if err := json.Unmarshal(entry, &b); err != nil {
			l.WithField("id", id).Error(err)
			mu.Lock()
			res.Failed[id] = fmt.Errorf("%w: %v", ErrInvalidBatch, err)
			mu.Unlock()
			continue
		}
		g.Go(func() error {
			err := i.writer.Update(ctx, id, &b)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				l.WithField("id", id).Error(err)
				res.Failed[id] = err
				return nil
			}
			res.Imported = append(res.Imported, id)
			return nil
		})
	}
	_ = g.Wait()
	sort.Strings(res.Imported)
	l.WithFields(log.Fields{
		"imported": len(res.Imported),
		"failed":   len(res.Failed),
	}).Info("Bulk import done")
	return res, nil
}
