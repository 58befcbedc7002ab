package symbolize

import (
	"context"
	"debug/dwarf"
	"debug/elf"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/arch/x86/x86asm"

	"github.com/kdbg-tools/kdbg/pkg/logflags"
)

// maxInstLen is the longest possible x86-64 instruction.
const maxInstLen = 15

// unknownLocation is what addr2line prints for addresses without line
// information.
const unknownLocation = "??:?"

// compileUnit is a PC range covered by the line table of one compile unit.
type compileUnit struct {
	lowpc, highpc uint64
	entry         *dwarf.Entry
}

// Native resolves addresses from the DWARF line table of the kernel
// binary without running an external tool. The output mimics addr2line.
// The binary is opened on the first call to Symbolize. Native is not safe
// for concurrent use.
type Native struct {
	Binary string
	// Disasm appends the instruction at the address, in GNU syntax.
	Disasm bool

	cacheSize int
	cache     *lru.Cache

	exe   *elf.File
	dwarf *dwarf.Data
	cus   []compileUnit
}

// NewNative returns a Native backend for binary caching up to cacheSize
// results.
func NewNative(binary string, cacheSize int) *Native {
	return &Native{Binary: binary, cacheSize: cacheSize}
}

func (n *Native) load() error {
	if n.exe != nil {
		return nil
	}
	logger := logflags.SymbolizerLogger()

	exe, err := elf.Open(n.Binary)
	if err != nil {
		return err
	}
	data, err := exe.DWARF()
	if err != nil {
		exe.Close()
		return fmt.Errorf("could not read debug info of %s: %w", n.Binary, err)
	}
	cus, err := loadCompileUnits(data)
	if err != nil {
		exe.Close()
		return fmt.Errorf("could not read compile units of %s: %w", n.Binary, err)
	}
	size := n.cacheSize
	if size <= 0 {
		size = 1
	}
	cache, err := lru.New(size)
	if err != nil {
		exe.Close()
		return err
	}

	n.exe, n.dwarf, n.cus, n.cache = exe, data, cus, cache
	logger.Debugf("loaded %d compile unit ranges from %s", len(cus), n.Binary)
	return nil
}

func loadCompileUnits(data *dwarf.Data) ([]compileUnit, error) {
	var cus []compileUnit
	rdr := data.Reader()
	for {
		entry, err := rdr.Next()
		if err != nil {
			return nil, err
		}
		if entry == nil {
			break
		}
		if entry.Tag != dwarf.TagCompileUnit {
			rdr.SkipChildren()
			continue
		}
		ranges, err := data.Ranges(entry)
		if err != nil {
			return nil, err
		}
		for _, rng := range ranges {
			cus = append(cus, compileUnit{lowpc: rng[0], highpc: rng[1], entry: entry})
		}
		rdr.SkipChildren()
	}
	return cus, nil
}

// Close releases the kernel binary.
func (n *Native) Close() error {
	if n.exe == nil {
		return nil
	}
	err := n.exe.Close()
	n.exe = nil
	return err
}

// parseHexAddr parses addr the way addr2line does, as hexadecimal with an
// optional 0x prefix.
func parseHexAddr(addr string) (uint64, error) {
	s := strings.TrimPrefix(strings.TrimPrefix(addr, "0x"), "0X")
	pc, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", addr, err)
	}
	return pc, nil
}

// Symbolize returns "file:line\n" for addr, or "??:?\n" if no line table
// covers it.
func (n *Native) Symbolize(ctx context.Context, addr string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	pc, err := parseHexAddr(addr)
	if err != nil {
		return "", err
	}
	if err := n.load(); err != nil {
		return "", err
	}
	if v, ok := n.cache.Get(pc); ok {
		return v.(string), nil
	}

	file, line, err := n.pcToLine(pc)
	if err != nil {
		return "", err
	}
	var out strings.Builder
	if file == "" {
		out.WriteString(unknownLocation)
	} else {
		fmt.Fprintf(&out, "%s:%d", file, line)
	}
	out.WriteByte('\n')
	if n.Disasm {
		out.WriteString(n.disassemble(pc))
		out.WriteByte('\n')
	}

	n.cache.Add(pc, out.String())
	return out.String(), nil
}

func (n *Native) findCompileUnit(pc uint64) *dwarf.Entry {
	for _, cu := range n.cus {
		if pc >= cu.lowpc && pc < cu.highpc {
			return cu.entry
		}
	}
	return nil
}

func (n *Native) pcToLine(pc uint64) (string, int, error) {
	cu := n.findCompileUnit(pc)
	if cu == nil {
		return "", 0, nil
	}
	lr, err := n.dwarf.LineReader(cu)
	if err != nil {
		return "", 0, err
	}
	if lr == nil {
		return "", 0, nil
	}
	var entry dwarf.LineEntry
	if err := lr.SeekPC(pc, &entry); err != nil {
		if errors.Is(err, dwarf.ErrUnknownPC) {
			return "", 0, nil
		}
		return "", 0, err
	}
	if entry.File == nil {
		return "", 0, nil
	}
	return entry.File.Name, entry.Line, nil
}

func (n *Native) disassemble(pc uint64) string {
	for _, sec := range n.exe.Sections {
		if sec.Flags&elf.SHF_EXECINSTR == 0 || pc < sec.Addr || pc >= sec.Addr+sec.Size {
			continue
		}
		size := sec.Addr + sec.Size - pc
		if size > maxInstLen {
			size = maxInstLen
		}
		buf := make([]byte, size)
		if _, err := sec.ReadAt(buf, int64(pc-sec.Addr)); err != nil {
			return "(bad)"
		}
		inst, err := x86asm.Decode(buf, 64)
		if err != nil {
			return "(bad)"
		}
		return x86asm.GNUSyntax(inst, pc, nil)
	}
	return "(bad)"
}
