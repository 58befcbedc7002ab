package paging

import (
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// An Addr is a virtual address as seen by code running under the kernel's
// page tables.
type Addr uint64

const (
	// pageLevels is the number of page table levels walked on amd64.
	pageLevels = 4

	// pageLevelBits is the number of address bits consumed by each level,
	// 512 entries per table.
	pageLevelBits = 9

	// pageShift is the number of address bits addressing a byte inside a
	// 4K page.
	pageShift = 12

	pageLevelMask  = 1<<pageLevelBits - 1
	pageOffsetMask = 1<<pageShift - 1

	// addrBits is the width of the address space translated by four
	// levels of page tables.
	addrBits = pageShift + pageLevels*pageLevelBits

	// AddrMask selects the bits of an address that take part in the
	// page table walk.
	AddrMask = Addr(1<<addrBits - 1)
)

// pageLevelShifts is the shift that brings the index of each level, P4
// first, down to bit 0.
var pageLevelShifts = [pageLevels]uint{39, 30, 21, 12}

// Indices is the decomposition of an Addr into the index used at each
// level of the page table walk plus the offset inside the final page.
type Indices struct {
	P4     uint16
	P3     uint16
	P2     uint16
	P1     uint16
	Offset uint16
}

// Decompose splits a into its page table indices. Bits above bit 47 are
// ignored.
func Decompose(a Addr) Indices {
	return Indices{
		P4:     uint16((a >> pageLevelShifts[0]) & pageLevelMask),
		P3:     uint16((a >> pageLevelShifts[1]) & pageLevelMask),
		P2:     uint16((a >> pageLevelShifts[2]) & pageLevelMask),
		P1:     uint16((a >> pageLevelShifts[3]) & pageLevelMask),
		Offset: uint16(a & pageOffsetMask),
	}
}

// Compose is the inverse of Decompose. Each index is truncated to the
// width of its field and the result is not sign extended, use Canonical
// for that.
func Compose(ix Indices) Addr {
	return Addr(ix.P4&pageLevelMask)<<pageLevelShifts[0] |
		Addr(ix.P3&pageLevelMask)<<pageLevelShifts[1] |
		Addr(ix.P2&pageLevelMask)<<pageLevelShifts[2] |
		Addr(ix.P1&pageLevelMask)<<pageLevelShifts[3] |
		Addr(ix.Offset&pageOffsetMask)
}

// Canonical returns a with bit 47 copied into bits 48 to 63.
func Canonical(a Addr) Addr {
	a &= AddrMask
	if a&(1<<(addrBits-1)) != 0 {
		a |= ^AddrMask
	}
	return a
}

// Canonical reports whether bits 48 to 63 of a are all equal to bit 47.
func (a Addr) Canonical() bool {
	return Canonical(a) == a
}

func (a Addr) String() string {
	return fmt.Sprintf("%#x", uint64(a))
}

var errEmptyAddr = errors.New("empty address")

var lowBits = new(big.Int).SetUint64(^uint64(0))

// ParseAddr parses s as an address. It accepts the prefixes understood by
// strconv (0x, 0o, 0b, plain decimal) with optional underscores, a leading
// minus sign, which yields the two's complement of the value, and the
// WinDbg notation ffffffff`80001000, which is always hexadecimal.
// Values wider than 64 bits are truncated to their low 64 bits.
func ParseAddr(s string) (Addr, error) {
	in := strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(in, "-") {
		neg = true
		in = in[1:]
	}
	if in == "" {
		return 0, fmt.Errorf("could not parse address %q: %w", s, errEmptyAddr)
	}

	base := 0
	if strings.Contains(in, "`") {
		in = strings.ReplaceAll(in, "`", "")
		in = strings.TrimPrefix(strings.TrimPrefix(in, "0x"), "0X")
		base = 16
	}
	v, err := strconv.ParseUint(in, base, 64)
	if errors.Is(err, strconv.ErrRange) {
		v, err = parseWide(in, base)
	}
	if err != nil {
		return 0, fmt.Errorf("could not parse address %q: %w", s, err)
	}
	if neg {
		v = -v
	}
	return Addr(v), nil
}

// parseWide parses an unsigned integer of any width and returns its low 64
// bits.
func parseWide(s string, base int) (uint64, error) {
	n, ok := new(big.Int).SetString(s, base)
	if !ok || n.Sign() < 0 {
		return 0, strconv.ErrSyntax
	}
	return n.And(n, lowBits).Uint64(), nil
}
