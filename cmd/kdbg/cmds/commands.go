package cmds

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kdbg-tools/kdbg/pkg/config"
	"github.com/kdbg-tools/kdbg/pkg/logflags"
	"github.com/kdbg-tools/kdbg/pkg/paging"
	"github.com/kdbg-tools/kdbg/pkg/symbolize"
	"github.com/kdbg-tools/kdbg/pkg/version"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configPath overrides the default configuration file location.
	configPath string
	// color selects when pagetable labels are colored.
	color colorMode

	// symbolizerCmd is the command line of the address-to-line tool.
	symbolizerCmd string
	// kernel is the kernel binary passed to the symbolizer.
	kernel string
	// backend selects the symbolizer implementation.
	backend string
	// disasm prints the instruction at each address (native backend).
	disasm bool

	verbose bool

	conf *config.Config
)

const kdbgCommandLongDesc = `kdbg collects small helpers used while debugging a kernel.

pagetable decodes a virtual address into its x86-64 four-level page table
indices. stacktrace resolves instruction addresses, for example copied from
a panic backtrace, to source locations using addr2line and the kernel binary
at target/bin/kernel.`

type colorMode string

const (
	colorAuto   colorMode = "auto"
	colorAlways colorMode = "always"
	colorNever  colorMode = "never"
)

var _ pflag.Value = (*colorMode)(nil)

func (c *colorMode) String() string {
	return string(*c)
}

func (c *colorMode) Set(s string) error {
	switch colorMode(s) {
	case colorAuto, colorAlways, colorNever:
		*c = colorMode(s)
		return nil
	}
	return fmt.Errorf("unknown color mode %q, must be one of auto, always, never", s)
}

func (c *colorMode) Type() string {
	return "mode"
}

// New returns an initialized command tree.
func New() *cobra.Command {
	color = colorAuto

	// Main kdbg root command.
	rootCommand := &cobra.Command{
		Use:   "kdbg",
		Short: "kdbg is a set of kernel debugging helpers.",
		Long:  kdbgCommandLongDesc,

		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := logflags.Setup(log, logOutput, logDest); err != nil {
				return err
			}
			var err error
			conf, err = config.LoadConfig(configPath)
			return err
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'kdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'kdbg help log').")
	rootCommand.PersistentFlags().StringVar(&configPath, "config", "", "Configuration file (default ~/.kdbg/config.yml).")
	rootCommand.PersistentFlags().Var(&color, "color", "Color pagetable labels: auto, always or never.")

	// 'pagetable' subcommand.
	pagetableCommand := &cobra.Command{
		Use:     "pagetable <addr>",
		Aliases: []string{"pt"},
		Short:   "Decode a virtual address into page table indices.",
		Long: `Decode a virtual address into its x86-64 four-level page table indices.

Prints the P4, P3, P2 and P1 table indices and the offset inside the 4K page,
one per line, in hexadecimal. Only bits 0 to 47 take part in the walk, higher
bits are ignored.

The address may be written in decimal, with a 0x, 0o or 0b prefix, with _
separators, as ffffffff` + "`" + `80001000, or as a negative number. Negative
numbers must follow --, for example 'kdbg pt -- -0x1000'.`,
		Args: cobra.ExactArgs(1),
		RunE: pagetableCmd,
	}
	rootCommand.AddCommand(pagetableCommand)

	// 'compose' subcommand.
	composeCommand := &cobra.Command{
		Use:   "compose <p4> <p3> <p2> <p1> <off>",
		Short: "Build a canonical virtual address from page table indices.",
		Long: `Build a canonical virtual address from page table indices.

This is the inverse of pagetable: bit 47 of the result is copied into bits 48
to 63. Table indices must be below 512 and the offset below 4096.`,
		Args: cobra.ExactArgs(5),
		RunE: composeCmd,
	}
	rootCommand.AddCommand(composeCommand)

	// 'stacktrace' subcommand.
	stacktraceCommand := &cobra.Command{
		Use:     "stacktrace [addr...]",
		Aliases: []string{"trace"},
		Short:   "Resolve kernel instruction addresses to source locations.",
		Long: `Resolve kernel instruction addresses to source locations.

The list of addresses is printed first, then for each address the address
itself and the output of the symbolizer. The symbolizer is run once per
address as

	addr2line -e target/bin/kernel <addr>

and the first failure stops the resolution of the remaining addresses.

Pass - as the only argument to read whitespace separated addresses from
standard input.`,
		RunE: stacktraceCmd,
	}
	stacktraceCommand.Flags().StringVar(&symbolizerCmd, "symbolizer", config.DefaultSymbolizer, "Command line of the address-to-line tool.")
	stacktraceCommand.Flags().StringVar(&kernel, "kernel", config.DefaultKernel, "Kernel binary with debug information.")
	stacktraceCommand.Flags().StringVar(&backend, "backend", config.DefaultBackend, `Backend selection (see 'kdbg help backend').`)
	stacktraceCommand.Flags().BoolVar(&disasm, "disasm", false, "Print the instruction at each address (native backend only).")
	rootCommand.AddCommand(stacktraceCommand)

	// 'version' subcommand.
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "kdbg\n%s\n", version.KdbgVersion)
			if verbose {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&verbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "backend",
		Short: "Help about the --backend flag.",
		Long: `The --backend flag of stacktrace specifies how addresses are resolved,
possible values are:

	addr2line	Runs the symbolizer (addr2line by default) once per address.
	native		Reads the DWARF line table of the kernel binary directly.

`})

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	pagetable	Log non canonical addresses
	symbolizer	Log every symbolizer invocation
	config		Log configuration file loading

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

// Execute runs cmd, a tree returned by New, and closes the log output
// opened by --log-dest once it returns, whether or not it failed.
func Execute(ctx context.Context, cmd *cobra.Command) error {
	defer logflags.Close()
	return cmd.ExecuteContext(ctx)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// stdout returns the output of cmd and whether ANSI escapes may be written
// to it.
func stdout(cmd *cobra.Command) (io.Writer, bool) {
	out := cmd.OutOrStdout()
	f, isFile := out.(*os.File)
	switch color {
	case colorNever:
		return out, false
	case colorAlways:
		if isFile {
			return colorable.NewColorable(f), true
		}
		return out, true
	}
	if isFile && isatty.IsTerminal(f.Fd()) {
		return colorable.NewColorable(f), true
	}
	return out, false
}

func pagetableCmd(cmd *cobra.Command, args []string) error {
	logger := logflags.PagetableLogger()

	addr, err := paging.ParseAddr(args[0])
	if err != nil {
		return err
	}
	if !addr.Canonical() {
		logger.Warnf("%s is not canonical, bits 48-63 are ignored", addr)
	}

	out, colored := stdout(cmd)
	var p paging.Printer
	if colored && conf.LabelColor != nil {
		p.LabelColor = *conf.LabelColor
	}
	return p.Print(out, paging.Decompose(addr))
}

func composeCmd(cmd *cobra.Command, args []string) error {
	var v [5]paging.Addr
	for i := range args {
		var err error
		v[i], err = paging.ParseAddr(args[i])
		if err != nil {
			return err
		}
	}
	for i, name := range []string{"p4", "p3", "p2", "p1"} {
		if v[i] > 0x1ff {
			return fmt.Errorf("%s index %s out of range, must be below 0x200", name, v[i])
		}
	}
	if v[4] > 0xfff {
		return fmt.Errorf("page offset %s out of range, must be below 0x1000", v[4])
	}

	ix := paging.Indices{P4: uint16(v[0]), P3: uint16(v[1]), P2: uint16(v[2]), P1: uint16(v[3]), Offset: uint16(v[4])}
	addr := paging.Canonical(paging.Compose(ix))
	if logflags.Pagetable() {
		logflags.PagetableLogger().Debugf("composed %+v into %s", ix, addr)
	}
	_, err := fmt.Fprintln(cmd.OutOrStdout(), addr)
	return err
}

// readAddrs returns the whitespace separated words read from r.
func readAddrs(r io.Reader) ([]string, error) {
	addrs := []string{}
	s := bufio.NewScanner(r)
	s.Split(bufio.ScanWords)
	for s.Scan() {
		addrs = append(addrs, s.Text())
	}
	return addrs, s.Err()
}

func stacktraceCmd(cmd *cobra.Command, args []string) error {
	if cmd.Flags().Changed("symbolizer") {
		conf.Symbolizer = symbolizerCmd
	}
	if cmd.Flags().Changed("kernel") {
		conf.Kernel = kernel
	}
	if cmd.Flags().Changed("backend") {
		conf.Backend = backend
	}

	addrs := args
	if len(args) == 1 && args[0] == "-" {
		var err error
		addrs, err = readAddrs(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("could not read addresses: %w", err)
		}
	}

	var s symbolize.Symbolizer
	switch conf.Backend {
	case "addr2line":
		if disasm {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: --disasm ignored with the addr2line backend\n")
		}
		exe, extra, err := conf.SymbolizerArgv()
		if err != nil {
			return err
		}
		a := symbolize.NewAddr2Line()
		a.Path = exe
		a.Args = extra
		a.Binary = conf.Kernel
		a.Stderr = cmd.ErrOrStderr()
		s = a
	case "native":
		n := symbolize.NewNative(conf.Kernel, conf.NativeCacheSize)
		n.Disasm = disasm
		defer n.Close()
		s = n
	default:
		return errors.New("unknown backend " + conf.Backend + ", see 'kdbg help backend'")
	}

	return symbolize.Trace(commandContext(cmd), cmd.OutOrStdout(), s, addrs)
}
