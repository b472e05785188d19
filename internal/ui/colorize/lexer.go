package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/lexers"
)

// ReilLexer tokenises listing lines of the form
// "00401000.00     ADD      R_EAX:32,  1:32,  V_00:32".
var ReilLexer = lexers.Register(chroma.MustNewLexer(
	&chroma.Config{
		Name:      "REIL",
		Aliases:   []string{"reil"},
		Filenames: []string{"*.reil"},
	},
	func() chroma.Rules {
		return chroma.Rules{
			"root": {
				{Pattern: `\s+`, Type: chroma.Text},
				{Pattern: `;[^\n]*`, Type: chroma.Comment},
				{Pattern: `[0-9a-fA-F]+\.[0-9a-fA-F]{2}\b`, Type: chroma.NameLabel},
				{Pattern: chroma.Words(`\b`, `\b`,
					"NONE", "UNK", "JCC", "STR", "STM", "LDM", "ADD", "SUB", "NEG", "MUL", "DIV",
					"MOD", "SMUL", "SDIV", "SMOD", "SHL", "SHR", "AND", "OR", "XOR", "NOT", "EQ", "LT"),
					Type: chroma.Keyword},
				{Pattern: `R_\w+`, Type: chroma.NameVariable},
				{Pattern: `V_\d+`, Type: chroma.NameOther},
				{Pattern: `:\d+`, Type: chroma.KeywordType},
				{Pattern: `0x[0-9a-fA-F]+`, Type: chroma.LiteralNumberHex},
				{Pattern: `\d+`, Type: chroma.LiteralNumberInteger},
				{Pattern: `[,\[\]]`, Type: chroma.Punctuation},
				{Pattern: `.`, Type: chroma.Text},
			},
		}
	},
))
