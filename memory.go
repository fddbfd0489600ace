package golem

import (
	"bytes"
	"fmt"

	"github.com/benbjohnson/immutable"
)

// Memory is a sparse byte-addressed address space. The zero value is not
// usable; call NewMemory. Copies share structure: a write returns a new
// Memory and leaves the receiver untouched, so forked states alias the
// common prefix of their history.
type Memory struct {
	m *immutable.SortedMap
}

// NewMemory returns an empty address space.
func NewMemory() Memory {
	return Memory{m: immutable.NewSortedMap(&uint64Comparer{})}
}

// Len returns the number of mapped bytes.
func (m Memory) Len() int { return m.m.Len() }

// ReadByte returns the byte expression mapped at addr.
func (m Memory) ReadByte(addr uint64) (Expr, bool) {
	v, ok := m.m.Get(addr)
	if !ok {
		return nil, false
	}
	return v.(Expr), true
}

// WriteByte maps a single byte expression at addr.
func (m Memory) WriteByte(addr uint64, value Expr) Memory {
	assert(ExprWidth(value) == Width8, "memory: invalid byte write width: %d", ExprWidth(value))
	return Memory{m: m.m.Set(addr, value)}
}

// WriteBytes maps a run of concrete bytes starting at addr.
func (m Memory) WriteBytes(addr uint64, data []byte) Memory {
	other := m.m
	for i, b := range data {
		other = other.Set(addr+uint64(i), NewConstantExpr(uint64(b), Width8))
	}
	return Memory{m: other}
}

// Load reads a width-bit value at addr, composing bytes little-endian.
// Unmapped bytes are produced by fill, keyed by absolute address.
func (m Memory) Load(addr uint64, width uint, fill func(uint64) Expr) Expr {
	assert(width > 0 && width%8 == 0, "load: invalid width: %d", width)

	// Handle read byte-by-byte, least significant byte first.
	var result Expr
	for i, n := uint64(0), uint64(width/8); i != n; i++ {
		value, ok := m.ReadByte(addr + i)
		if !ok {
			assert(fill != nil, "load: unmapped byte at %#x", addr+i)
			value = fill(addr + i)
		}
		if i == 0 {
			result = value
		} else {
			result = NewConcatExpr(value, result)
		}
	}
	return result
}

// Store writes value at addr byte by byte, little-endian.
// Returns the new copy of the address space.
func (m Memory) Store(addr uint64, value Expr) Memory {
	width := ExprWidth(value)
	assert(width > 0 && width%8 == 0, "store: invalid width: %d", width)

	other := m.m
	for i, n := uint64(0), uint64(width/8); i != n; i++ {
		other = other.Set(addr+i, NewExtractExpr(value, uint(i*8), Width8))
	}
	return Memory{m: other}
}

// FirstUnmapped returns the lowest address in [addr, addr+n) with no mapped
// byte.
func (m Memory) FirstUnmapped(addr, n uint64) (uint64, bool) {
	for i := uint64(0); i < n; i++ {
		if _, ok := m.m.Get(addr + i); !ok {
			return addr + i, true
		}
	}
	return 0, false
}

// Range calls fn for each mapped byte in [lo, hi), in address order, until
// fn returns false.
func (m Memory) Range(lo, hi uint64, fn func(addr uint64, value Expr) bool) {
	itr := m.m.Iterator()
	itr.Seek(lo)
	for !itr.Done() {
		k, v := itr.Next()
		if addr := k.(uint64); addr >= hi {
			return
		} else if !fn(addr, v.(Expr)) {
			return
		}
	}
}

// Dump returns the mapped bytes as a string, one line per byte.
func (m Memory) Dump() string {
	var buf bytes.Buffer
	itr := m.m.Iterator()
	for !itr.Done() {
		k, v := itr.Next()
		fmt.Fprintf(&buf, "%08x %s\n", k.(uint64), v.(Expr).String())
	}
	return buf.String()
}

// uint64Comparer compares two 64-bit unsigned integers. Implements immutable.Comparer.
type uint64Comparer struct{}

// Compare returns -1 if a is less than b, returns 1 if a is greater than b, and
// returns 0 if a is equal to b. Panic if a or b is not a uint64.
func (c *uint64Comparer) Compare(a, b interface{}) int {
	if i, j := a.(uint64), b.(uint64); i < j {
		return -1
	} else if i > j {
		return 1
	}
	return 0
}
