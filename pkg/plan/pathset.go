package plan

import (
	"fmt"
	"math/bits"

	"github.com/aretw0/reindex/pkg/core"
)

// PathIndex assigns a stable bit to every dirty path of one type.
// It is built once when the type is registered.
type PathIndex struct {
	names []string
	bits  map[string]int
}

// NewPathIndex indexes names in order; duplicates keep their first bit.
func NewPathIndex(names ...string) *PathIndex {
	idx := &PathIndex{bits: make(map[string]int, len(names))}
	for _, n := range names {
		if _, ok := idx.bits[n]; ok {
			continue
		}
		idx.bits[n] = len(idx.names)
		idx.names = append(idx.names, n)
	}
	return idx
}

// Len is the number of indexed paths.
func (p *PathIndex) Len() int { return len(p.names) }

// Names returns the indexed paths in bit order.
func (p *PathIndex) Names() []string {
	return append([]string(nil), p.names...)
}

// Bit returns the bit assigned to name.
func (p *PathIndex) Bit(name string) (int, bool) {
	b, ok := p.bits[name]
	return b, ok
}

// NewSet returns an empty set sized for this index.
func (p *PathIndex) NewSet() PathSet {
	return PathSet{words: make([]uint64, (len(p.names)+63)/64)}
}

// Set builds a set from path names.
func (p *PathIndex) Set(names ...string) (PathSet, error) {
	s := p.NewSet()
	for _, n := range names {
		b, ok := p.bits[n]
		if !ok {
			return PathSet{}, fmt.Errorf("%w: %q", core.ErrUnknownPath, n)
		}
		s.words[b/64] |= 1 << (uint(b) % 64)
	}
	return s, nil
}

// NamesOf lists the path names present in s, in bit order.
func (p *PathIndex) NamesOf(s PathSet) []string {
	var out []string
	for i, name := range p.names {
		if s.Has(i) {
			out = append(out, name)
		}
	}
	return out
}

// PathSet is a fixed size bit-vector over a PathIndex.
type PathSet struct {
	words []uint64
}

// Has reports whether bit is set.
func (s PathSet) Has(bit int) bool {
	w := bit / 64
	if bit < 0 || w >= len(s.words) {
		return false
	}
	return s.words[w]&(1<<(uint(bit)%64)) != 0
}

// IsEmpty reports whether no bit is set.
func (s PathSet) IsEmpty() bool {
	for _, w := range s.words {
		if w != 0 {
			return false
		}
	}
	return true
}

// Count returns the number of set bits.
func (s PathSet) Count() int {
	n := 0
	for _, w := range s.words {
		n += bits.OnesCount64(w)
	}
	return n
}

// Union returns s | o. Sets of different sizes are widened.
func (s PathSet) Union(o PathSet) PathSet {
	n := max(len(s.words), len(o.words))
	out := PathSet{words: make([]uint64, n)}
	copy(out.words, s.words)
	for i, w := range o.words {
		out.words[i] |= w
	}
	return out
}

// Intersects reports whether s & o is not empty.
func (s PathSet) Intersects(o PathSet) bool {
	n := min(len(s.words), len(o.words))
	for i := 0; i < n; i++ {
		if s.words[i]&o.words[i] != 0 {
			return true
		}
	}
	return false
}
