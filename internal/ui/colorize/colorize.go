// Package colorize highlights REIL listings and native disassembly for
// terminal output. Set REIL_NO_COLOR to disable it.
package colorize

import (
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Enabled reports whether colour output is allowed.
func Enabled() bool {
	return os.Getenv("REIL_NO_COLOR") == ""
}

// nativeLexer returns the assembly lexer for an architecture name.
func nativeLexer(arch string) chroma.Lexer {
	candidates := []string{"nasm", "gas"}
	if arch == "arm" {
		candidates = []string{"armasm", "gas"}
	}
	for _, name := range candidates {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

// getStyle returns the listing style with fallbacks
func getStyle() *chroma.Style {
	for _, name := range []string{"reil-dark", "dracula", "monokai"} {
		if style := styles.Get(name); style != nil {
			return style
		}
	}
	return styles.Fallback
}

// getTerminalFormatter returns an appropriate terminal formatter
func getTerminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if formatter := formatters.Get(name); formatter != nil {
			return formatter
		}
	}
	return formatters.Fallback
}

func highlight(lexer chroma.Lexer, code string) (string, error) {
	if !Enabled() || lexer == nil {
		return code, nil
	}
	iterator, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code, err
	}
	var buf strings.Builder
	if err := getTerminalFormatter().Format(&buf, getStyle(), iterator); err != nil {
		return code, err
	}
	return buf.String(), nil
}

// Listing highlights REIL listing text.
func Listing(code string) (string, error) {
	return highlight(ReilLexer, code)
}

// Native highlights disassembly for arch ("x86" or "arm").
func Native(code, arch string) (string, error) {
	return highlight(nativeLexer(arch), code)
}

// Line highlights a single REIL line, returning it unchanged on error.
func Line(line string) string {
	out, err := Listing(line)
	if err != nil {
		return line
	}
	return strings.TrimSuffix(out, "\n")
}
