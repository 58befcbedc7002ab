package paging

import (
	"fmt"
	"io"
)

// Printer writes Indices in the layout used by the pagetable command.
type Printer struct {
	// LabelColor is the ANSI SGR color code used for the labels (3/4 bit
	// codes, e.g. 34 for blue). Zero disables escapes.
	LabelColor int
}

// Print writes one line per field, P4 first and the page offset last,
// each value in hexadecimal.
func (p Printer) Print(w io.Writer, ix Indices) error {
	fields := []struct {
		label string
		val   uint16
	}{
		{"p4", ix.P4},
		{"p3", ix.P3},
		{"p2", ix.P2},
		{"p1", ix.P1},
		{"off", ix.Offset},
	}
	for _, f := range fields {
		if _, err := fmt.Fprintf(w, "%s: %#x\n", p.label(f.label), f.val); err != nil {
			return err
		}
	}
	return nil
}

func (p Printer) label(s string) string {
	if p.LabelColor == 0 {
		return s
	}
	return fmt.Sprintf("\x1b[%dm%s\x1b[0m", p.LabelColor, s)
}

// Print writes ix to w without colors.
func Print(w io.Writer, ix Indices) error {
	return Printer{}.Print(w, ix)
}
