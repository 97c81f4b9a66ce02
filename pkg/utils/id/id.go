// Package id provides unique ID generation utilities for kgrag.
//
// Two strategies are supported:
//   - UUID: Standard UUID v4 (random), used for ingest batch ids
//   - ULID: Universally Unique Lexicographically Sortable Identifier, used for request ids
//
// Usage:
//
//	batch := id.NewUUID() // e.g., "550e8400-e29b-41d4-a716-446655440000"
//	req := id.NewULID()   // e.g., "01ARZ3NDEKTSV4RRFFQ69G5FAV"
package id

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Generator defines the interface for ID generators.
type Generator interface {
	// Generate creates a new unique ID.
	Generate() string
}

// Type represents the type of ID generator.
type Type string

const (
	// TypeUUID represents UUID v4 generator.
	TypeUUID Type = "uuid"

	// TypeULID represents ULID generator.
	TypeULID Type = "ulid"
)

// UUIDGenerator generates random UUID v4 strings.
type UUIDGenerator struct{}

// Generate creates a new UUID v4.
func (UUIDGenerator) Generate() string {
	return uuid.NewString()
}

// ULIDGenerator generates monotonic ULIDs. Safe for concurrent use.
type ULIDGenerator struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// NewULIDGenerator creates a ULID generator backed by crypto/rand.
func NewULIDGenerator() *ULIDGenerator {
	return &ULIDGenerator{
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}
}

// Generate creates a new ULID. IDs from one generator sort in creation order.
func (g *ULIDGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(g.now()), g.entropy).String()
}

var (
	defaultUUID Generator = UUIDGenerator{}
	defaultULID Generator = NewULIDGenerator()
)

// NewUUID generates a new UUID v4 string.
func NewUUID() string {
	return defaultUUID.Generate()
}

// NewULID generates a new ULID string.
func NewULID() string {
	return defaultULID.Generate()
}

// New generates a new ID using the specified generator type.
func New(t Type) string {
	switch t {
	case TypeULID:
		return NewULID()
	default:
		return NewUUID()
	}
}

// ValidateUUID returns ErrInvalidUUID when s is not a UUID.
func ValidateUUID(s string) error {
	if _, err := uuid.Parse(s); err != nil {
		return ErrInvalidUUID
	}
	return nil
}

// ValidateULID returns ErrInvalidULID when s is not a ULID.
func ValidateULID(s string) error {
	if _, err := ulid.ParseStrict(s); err != nil {
		return ErrInvalidULID
	}
	return nil
}
