package id

import (
	"strconv"
	"sync"
)

// ID is a job identifier. The zero value means "no job".
type ID uint64

// String returns the decimal form used in protocol replies.
func (i ID) String() string { return strconv.FormatUint(uint64(i), 10) }

// Parse reads a decimal job ID. Signs, spaces and other non-digit characters
// are rejected.
func Parse(s string) (ID, error) {
	if s == "" {
		return 0, strconv.ErrSyntax
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, strconv.ErrSyntax
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return ID(v), nil
}

// Generator produces monotonically increasing IDs per process.
type Generator struct {
	mu   sync.Mutex
	next uint64
}

// NewGenerator creates a new Generator whose first ID is 1.
func NewGenerator() *Generator { return &Generator{next: 1} }

// Next returns a new ID.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.next == 0 {
		g.next = 1
	}
	v := g.next
	g.next++
	return ID(v)
}
