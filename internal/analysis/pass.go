package analysis

// Pass inspects a listing and accumulates a result.
type Pass interface {
	Name() string
	Run(l Listing)
	// Markdown renders the result as a report section.
	Markdown() string
}

// PassChain runs multiple passes in sequence.
type PassChain struct {
	passes []Pass
}

func NewPassChain(passes ...Pass) *PassChain {
	return &PassChain{passes: passes}
}

// Run runs all passes over l.
func (pc *PassChain) Run(l Listing) {
	for _, p := range pc.passes {
		p.Run(l)
	}
}

func (pc *PassChain) Passes() []Pass { return pc.passes }

// Markdown joins the reports of all passes.
func (pc *PassChain) Markdown() string {
	var out string
	for _, p := range pc.passes {
		out += p.Markdown() + "\n"
	}
	return out
}
