// Package kv provides the flat key-value namespace batches are persisted in.
//
// A KV is scoped to one Namespace: keys passed to and returned from a KV are
// bare identifiers, the backend adds and strips the namespace prefix.
package kv

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("key not found")
)

// KV is the persistent store collaborator. Every call is independently
// atomic at the single-key level; there are no multi-key transactions.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	// Remove deletes key. Removing a missing key is not an error.
	Remove(ctx context.Context, key string) error
	// Iterate calls visit for every key in the namespace. Returning an error
	// from visit stops the iteration and the error is returned.
	Iterate(ctx context.Context, visit func(key string, value []byte) error) error
	Close() error
}

// Namespace identifies one logical store instance.
type Namespace struct {
	Name    string
	Version string
	Table   string
}

// DefaultNamespace matches the store the tx-builder app writes to.
var DefaultNamespace = Namespace{
	Name:    "tx-builder",
	Version: "1",
	Table:   "batch_transactions",
}

// Prefix is prepended to every key stored in the namespace.
func (n Namespace) Prefix() string {
	return fmt.Sprintf("%s:%s:%s:", n.Name, n.Version, n.Table)
}

func (n Namespace) key(id string) string {
	return n.Prefix() + id
}
