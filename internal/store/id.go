package store

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// IDGenerator produces batch identifiers.
type IDGenerator interface {
	NewID() string
}

const idTemplate = "xxxxxxxx-xxxx-4xxx-yxxx-xxxxxxxxxxxx"

// RandomGenerator produces v4-shaped identifiers from math/rand. It is the
// format the tx-builder app has always written; ids are not guaranteed
// unique and a collision overwrites the older batch.
type RandomGenerator struct{}

func (RandomGenerator) NewID() string {
	var b strings.Builder
	b.Grow(len(idTemplate))
	for _, c := range idTemplate {
		r := rand.Intn(16)
		switch c {
		case 'x':
			b.WriteString(fmt.Sprintf("%x", r))
		case 'y':
			b.WriteString(fmt.Sprintf("%x", r&0x3|0x8))
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// UUIDGenerator produces RFC 4122 version 4 UUIDs.
type UUIDGenerator struct{}

func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// ULIDGenerator produces lexicographically sortable ULIDs.
type ULIDGenerator struct{}

func (ULIDGenerator) NewID() string {
	return ulid.Make().String()
}

// NewIDGenerator returns the generator for strategy: random, uuid or ulid.
func NewIDGenerator(strategy string) (IDGenerator, error) {
	switch strings.ToLower(strategy) {
	case "", "random":
		return RandomGenerator{}, nil
	case "uuid":
		return UUIDGenerator{}, nil
	case "ulid":
		return ULIDGenerator{}, nil
	default:
		return nil, fmt.Errorf("unknown id strategy %q", strategy)
	}
}
