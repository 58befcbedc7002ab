package symbolize

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/kdbg-tools/kdbg/pkg/logflags"
)

// Symbolizer maps an instruction address of the kernel to a source
// location. The returned text is printed as is.
type Symbolizer interface {
	Symbolize(ctx context.Context, addr string) (string, error)
}

// Trace resolves addrs in order using s and writes the results to w.
// The full list is echoed first, then each address is followed by the
// output of the symbolizer. The first failure stops the loop and is
// returned, remaining addresses are not resolved.
func Trace(ctx context.Context, w io.Writer, s Symbolizer, addrs []string) error {
	logger := logflags.SymbolizerLogger()

	if _, err := fmt.Fprintln(w, formatList(addrs)); err != nil {
		return err
	}
	for i, addr := range addrs {
		if _, err := fmt.Fprintln(w, addr); err != nil {
			return err
		}
		out, err := s.Symbolize(ctx, addr)
		if err != nil {
			logger.WithError(err).Debugf("resolving %s failed, %d addresses left", addr, len(addrs)-i-1)
			return fmt.Errorf("could not resolve %s: %w", addr, err)
		}
		if _, err := fmt.Fprintln(w, out); err != nil {
			return err
		}
	}
	return nil
}

// formatList renders addrs as a list literal of single quoted strings,
// ['0x1', '0x2'], switching to double quotes for an element that contains
// a single quote but no double quote.
func formatList(addrs []string) string {
	var buf strings.Builder
	buf.WriteByte('[')
	for i, addr := range addrs {
		if i > 0 {
			buf.WriteString(", ")
		}
		quoteElem(&buf, addr)
	}
	buf.WriteByte(']')
	return buf.String()
}

func quoteElem(buf *strings.Builder, s string) {
	quote := '\''
	if strings.ContainsRune(s, '\'') && !strings.ContainsRune(s, '"') {
		quote = '"'
	}
	buf.WriteRune(quote)
	for _, r := range s {
		switch {
		case r == quote || r == '\\':
			buf.WriteByte('\\')
			buf.WriteRune(r)
		case r == '\t':
			buf.WriteString(`\t`)
		case r == '\n':
			buf.WriteString(`\n`)
		case r == '\r':
			buf.WriteString(`\r`)
		case r < 0x20 || r == 0x7f:
			fmt.Fprintf(buf, `\x%02x`, r)
		default:
			buf.WriteRune(r)
		}
	}
	buf.WriteRune(quote)
}
