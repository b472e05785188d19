package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"reil/internal/lifter"
)

var hexCmd = &cobra.Command{
	Use:   "hex <bytes>...",
	Short: "Translate machine code given as hex",
	Long: `Translate machine code given on the command line as hex and exit.
Bytes may be separated by spaces and prefixed with 0x or \x.`,
	Example: `
# mov eax, 1; ret
reil hex b801000000 c3

# ARM: mov r0, #1 at 0x8000
reil hex --arch arm --addr 0x8000 0100a0e3
  `,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := settingsFrom(cmd.Context())
		code, err := parseHex(strings.Join(args, " "))
		if err != nil {
			return err
		}
		if s.Arch == "" {
			s.Arch = lifter.X86.String()
		}
		arch, err := lifter.ParseArch(s.Arch)
		if err != nil {
			return err
		}
		va, err := parseAddr(s.Address)
		if err != nil {
			return err
		}
		if !term.IsTerminal(os.Stdout.Fd()) || s.json {
			os.Setenv("REIL_NO_COLOR", "1")
		}
		in := &input{name: "hex", arch: arch, va: va, code: code}
		return translate(cmd.OutOrStdout(), in, s)
	},
}

// parseHex decodes hex text, ignoring whitespace, commas and 0x or \x
// byte prefixes.
func parseHex(s string) ([]byte, error) {
	r := strings.NewReplacer("0x", "", "0X", "", `\x`, "", ",", "", " ", "", "\t", "", "\n", "")
	clean := r.Replace(s)
	if clean == "" {
		return nil, fmt.Errorf("no bytes given")
	}
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex: %w", err)
	}
	return b, nil
}

func init() {
	rootCmd.AddCommand(hexCmd)
}
