package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	pathpkg "path/filepath"
	"runtime/pprof"

	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/fang"
	"github.com/charmbracelet/log"
	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"reil/internal/analysis"
	"reil/internal/lifter"
	"reil/internal/logging"
	rlog "reil/internal/reil/log"
)

func init() {
	rootCmd.PersistentFlags().String("config", "", "JSON configuration file (see 'reil schema')")
	rootCmd.PersistentFlags().StringP("arch", "a", "", "Architecture: x86 or arm (detected for ELF input)")
	rootCmd.PersistentFlags().String("addr", "", "Address of the first byte of raw input, in hex")
	rootCmd.PersistentFlags().Int("max", 0, "Stop after this many native instructions (0 means no limit)")
	rootCmd.PersistentFlags().Bool("one", false, "Translate only the first instruction")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output the listing as JSON")
	rootCmd.PersistentFlags().BoolP("summary", "s", false, "Print an analysis report")
	rootCmd.PersistentFlags().BoolP("native", "N", false, "Interleave native disassembly")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "Debug")
	rootCmd.PersistentFlags().String("log-file", "", "Write application logs to a file")
	rootCmd.PersistentFlags().String("cpuprofile", "", "Write CPU profile to file")

	rootCmd.Flags().BoolP("help", "h", false, "Help")
	rootCmd.Flags().Int("offset", 0, "Skip this many bytes of the selected code")
	rootCmd.Flags().Int("length", 0, "Translate at most this many bytes (0 means all)")
	rootCmd.Flags().String("symbol", "", "Translate a single function of an ELF input")
	rootCmd.Flags().BoolP("no-tui", "n", false, "Print the listing without the browser")
}

var rootCmd = &cobra.Command{
	Use:   "reil [file]",
	Short: "Lift x86 and ARM machine code to REIL",
	Long: `Reil translates x86 (32-bit) and ARM machine code into REIL, a small
intermediate language for binary analysis.

The input is either a 32-bit ELF executable, whose code section or a single
symbol is translated, or a raw blob of code given with --arch and --addr.
On a terminal, ELF input with symbols opens an interactive browser.`,
	Example: `
# Browse the functions of an ELF binary
reil ./a.out

# Print the REIL of one function with native disassembly
reil --no-tui --native --symbol main ./a.out

# Translate a raw ARM blob loaded at 0x8000
reil --arch arm --addr 0x8000 firmware.bin

# Print an analysis report as JSON-free markdown
reil --summary --symbol main ./a.out
  `,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := resolveSettings(cmd)
		if err != nil {
			return err
		}
		rlog.Setup(s.LogFile, s.Debug)
		cmd.SetContext(withSettings(cmd.Context(), s))
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settingsFrom(cmd.Context())

		if s.ProfilePath != "" {
			stop, err := startProfile(s.ProfilePath)
			if err != nil {
				return err
			}
			defer stop()
		}

		absPath, err := pathpkg.Abs(args[0])
		if err != nil {
			return fmt.Errorf("failed to resolve path: %v", err)
		}
		if _, err := os.Stat(absPath); err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file not found: %s", args[0])
			}
			return fmt.Errorf("cannot access file: %v", err)
		}

		in, err := loadInput(absPath, s)
		if err != nil {
			return err
		}
		defer in.Close()
		slog.Debug("input loaded", "name", in.name, "arch", in.arch, "start", fmt.Sprintf("%#x", in.va), "bytes", len(in.code))

		tty := term.IsTerminal(os.Stdout.Fd())
		if !tty || s.noTUI || s.json {
			os.Setenv("REIL_NO_COLOR", "1")
		}

		if tty && !s.noTUI && !s.json && !s.Summary && in.image != nil && len(in.image.Functions()) > 0 {
			program := tea.NewProgram(
				NewModel(in, s),
				tea.WithAltScreen(),
				tea.WithContext(cmd.Context()),
			)
			if _, err := program.Run(); err != nil {
				slog.Error("TUI run error", "error", err)
				return fmt.Errorf("TUI error: %v", err)
			}
			return nil
		}
		return translate(cmd.OutOrStdout(), in, s)
	},
}

type settingsKey struct{}

func withSettings(ctx context.Context, s *settings) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, settingsKey{}, s)
}

func settingsFrom(ctx context.Context) *settings {
	if s, ok := ctx.Value(settingsKey{}).(*settings); ok {
		return s
	}
	return &settings{}
}

// newLogger returns the session logger for s.
func newLogger(s *settings) *logging.LoggerCloser {
	lg := logging.NewLogger()
	if s.Debug {
		lg.SetLevel(log.DebugLevel)
	}
	return lg
}

// lift translates the selected input with a fresh session.
func lift(in *input, s *settings, lg *log.Logger) (analysis.Listing, error) {
	return analysis.Lift(in.arch, in.code, in.va, s.one,
		lifter.WithLogger(lg),
		lifter.WithMaxInstructions(s.MaxInstructions),
	)
}

// translate lifts the input and writes it in the selected format. A
// decode error still prints what was translated before it.
func translate(w io.Writer, in *input, s *settings) error {
	lg := newLogger(s)
	defer lg.Close()

	l, err := lift(in, s, lg.Logger)
	if err != nil && !analysis.IsDecodeError(err) && !errors.Is(err, lifter.ErrInstructionLimit) {
		return err
	}

	color := os.Getenv("REIL_NO_COLOR") == ""
	switch {
	case s.json:
		if werr := writeJSON(w, in, l, err); werr != nil {
			return werr
		}
	case s.Summary:
		if werr := writeSummary(w, in, l, 100, color); werr != nil {
			return werr
		}
	default:
		if werr := writeListing(w, l, s.Native, color); werr != nil {
			return werr
		}
	}
	return err
}

func startProfile(path string) (func(), error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("could not create CPU profile: %v", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("could not start CPU profile: %v", err)
	}
	return func() {
		pprof.StopCPUProfile()
		f.Close()
	}, nil
}

func Execute() {
	// Bypass fang's styled output when piping or when plain output was asked for.
	plain := !term.IsTerminal(os.Stdout.Fd())
	for _, arg := range os.Args[1:] {
		if arg == "--no-tui" || arg == "-n" || arg == "--json" || arg == "-j" {
			plain = true
			break
		}
	}

	var err error
	if plain {
		err = rootCmd.Execute()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
	} else {
		err = fang.Execute(
			context.Background(),
			rootCmd,
			fang.WithNotifySignal(os.Interrupt),
		)
	}
	if err != nil {
		os.Exit(1)
	}
}
