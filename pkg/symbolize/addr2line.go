package symbolize

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/kdbg-tools/kdbg/pkg/logflags"
)

const (
	addr2lineDefault = "addr2line"
	kernelDefault    = "target/bin/kernel"
)

// Addr2Line resolves addresses by running an addr2line compatible tool,
// one process per address.
type Addr2Line struct {
	// Path is the executable, looked up in PATH if it has no separator.
	Path string
	// Args are passed before "-e Binary".
	Args []string
	// Binary is the kernel image carrying debug information.
	Binary string
	// Stderr receives the standard error of the tool.
	Stderr io.Writer

	command func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewAddr2Line returns an Addr2Line running "addr2line -e target/bin/kernel".
func NewAddr2Line() *Addr2Line {
	return &Addr2Line{
		Path:    addr2lineDefault,
		Binary:  kernelDefault,
		Stderr:  os.Stderr,
		command: exec.CommandContext,
	}
}

func (a *Addr2Line) argv(addr string) []string {
	args := make([]string, 0, len(a.Args)+3)
	args = append(args, a.Args...)
	return append(args, "-e", a.Binary, addr)
}

// Symbolize runs the tool for addr and returns its standard output. It
// fails if the tool can not be started or exits with a non-zero status.
func (a *Addr2Line) Symbolize(ctx context.Context, addr string) (string, error) {
	command := a.command
	if command == nil {
		command = exec.CommandContext
	}
	args := a.argv(addr)
	if logflags.Symbolizer() {
		logflags.SymbolizerLogger().Debugf("running %s %s", a.Path, strings.Join(args, " "))
	}

	cmd := command(ctx, a.Path, args...)
	cmd.Stderr = a.Stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("%s failed: %w", a.Path, err)
	}
	return string(out), nil
}
