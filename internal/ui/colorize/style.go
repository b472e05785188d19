package colorize

import (
	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/styles"
)

// ReilDark is the style used for REIL listings and native disassembly.
var ReilDark = styles.Register(chroma.MustNewStyle("reil-dark", chroma.StyleEntries{
	chroma.Text:        "#FFFFFF",
	chroma.Background:  "bg:#1e1e1e",
	chroma.Comment:     "#6A9955",
	chroma.Punctuation: "#808080",
	chroma.Operator:    "#FFFFFF",

	// REIL opcodes and native mnemonics
	chroma.Keyword:       "bold #FFFFFF",
	chroma.KeywordPseudo: "#FFFFFF",
	chroma.NameFunction:  "#FFFFFF",
	// operand widths
	chroma.KeywordType: "#858585",

	// Registers in teal, temporaries dimmer
	chroma.Name:         "#7C9C9D",
	chroma.NameBuiltin:  "#7C9C9D",
	chroma.NameVariable: "#7C9C9D",
	chroma.NameOther:    "#5F7F80",

	chroma.LiteralNumber:        "#FF5F87",
	chroma.LiteralNumberHex:     "#FF5F87",
	chroma.LiteralNumberInteger: "#FF5F87",

	// Addresses and code locations in gold
	chroma.NameLabel: "#FFD700",

	chroma.String: "#EACD53",
}))
