package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/bubbles/v2/list"
	"github.com/charmbracelet/bubbles/v2/spinner"
	"github.com/charmbracelet/bubbles/v2/viewport"
	tea "github.com/charmbracelet/bubbletea/v2"
	"github.com/charmbracelet/lipgloss/v2"

	"reil/internal/analysis"
	"reil/internal/elfx"
	"reil/internal/lifter"
	"reil/internal/reil/styles"
	"reil/internal/ui/colorize"
)

type viewMode int

const (
	viewListing viewMode = iota
	viewSymbols
	viewReport
)

type symbolItem struct {
	sym        elfx.Symbol
	filterTerm string
}

func (i symbolItem) Title() string       { return fmt.Sprintf("%08x  %s", i.sym.Addr, i.sym.Display()) }
func (i symbolItem) Description() string { return "" }
func (i symbolItem) FilterValue() string { return i.filterTerm }

type itemDelegate struct{}

func (d itemDelegate) Height() int                               { return 1 }
func (d itemDelegate) Spacing() int                              { return 0 }
func (d itemDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }

func (d itemDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(symbolItem)
	if !ok {
		return
	}
	indicator := " "
	addrStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Muted))
	nameStyle := lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Foreground))
	if index == m.Index() {
		indicator = ">"
		addrStyle = lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Accent))
		nameStyle = nameStyle.Bold(true)
	}
	fmt.Fprintf(w, "%s %s  %s %s", indicator,
		addrStyle.Render(fmt.Sprintf("%08x", i.sym.Addr)),
		nameStyle.Render(i.sym.Display()),
		addrStyle.Render(fmt.Sprintf("(%d bytes)", i.sym.Size)))
}

type model struct {
	viewport    viewport.Model
	symbolsList list.Model
	report      viewport.Model
	spinner     spinner.Model
	mode        viewMode
	in          *input
	settings    *settings
	current     string // name of the translated code
	listing     analysis.Listing
	err         error
	lifting     bool
	width       int
	height      int
}

// liftedMsg carries the result of translating one symbol.
type liftedMsg struct {
	name    string
	va      uint32
	size    int
	listing analysis.Listing
	err     error
}

// liftCmd translates code in the background with its own session.
func liftCmd(arch lifter.Arch, name string, va uint32, code []byte, s *settings) tea.Cmd {
	return func() tea.Msg {
		l, err := analysis.Lift(arch, code, va, false, lifter.WithMaxInstructions(s.MaxInstructions))
		return liftedMsg{name: name, va: va, size: len(code), listing: l, err: err}
	}
}

func NewModel(in *input, s *settings) model {
	vp := viewport.New()
	vp.SetWidth(80)
	vp.SetHeight(24)

	symbolsList := list.New([]list.Item{}, itemDelegate{}, 80, 24)
	symbolsList.SetShowStatusBar(false)
	symbolsList.SetFilteringEnabled(true)
	symbolsList.Styles.Title = lipgloss.NewStyle().
		Foreground(lipgloss.Color(styles.Heading)).
		MarginLeft(2)
	symbolsList.SetShowHelp(true)

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(lipgloss.Color(styles.Accent))

	rp := viewport.New()
	rp.SetWidth(80)
	rp.SetHeight(24)

	m := model{
		viewport:    vp,
		symbolsList: symbolsList,
		report:      rp,
		spinner:     sp,
		mode:        viewListing,
		in:          in,
		settings:    s,
		current:     in.name,
		lifting:     true,
		width:       80,
		height:      24,
	}
	m.updateSymbolsList()
	m.updateContent()
	return m
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		liftCmd(m.in.arch, m.in.name, m.in.va, m.in.code, m.settings),
		m.spinner.Tick,
	)
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case liftedMsg:
		m.lifting = false
		m.current = msg.name
		m.listing = msg.listing
		m.err = msg.err
		m.updateContent()
		m.updateReport(msg.va, msg.size)
		m.viewport.GotoTop()
		m.report.GotoTop()
		return m, nil

	case spinner.TickMsg:
		if !m.lifting {
			return m, nil
		}
		m.spinner, cmd = m.spinner.Update(msg)
		m.updateContent()
		return m, cmd

	case tea.WindowSizeMsg:
		if msg.Width != m.width || msg.Height != m.height {
			m.width = msg.Width
			m.height = msg.Height
			m.viewport.SetWidth(msg.Width)
			m.viewport.SetHeight(msg.Height - 2)
			m.symbolsList.SetWidth(msg.Width)
			m.symbolsList.SetHeight(msg.Height - 2)
			m.report.SetWidth(msg.Width)
			m.report.SetHeight(msg.Height - 2)
			m.updateContent()
		}

	case tea.KeyMsg:
		// Keys go to the list while its filter is being edited.
		if m.mode == viewSymbols && m.symbolsList.FilterState() == list.Filtering {
			if msg.String() == "ctrl+c" {
				return m, tea.Quit
			}
			break
		}
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "l":
			m.mode = viewListing
			return m, nil
		case "s":
			m.mode = viewSymbols
			return m, nil
		case "r":
			m.mode = viewReport
			return m, nil
		case "n":
			m.settings.Native = !m.settings.Native
			m.updateContent()
			return m, nil
		case "enter":
			if m.mode != viewSymbols {
				break
			}
			item, ok := m.symbolsList.SelectedItem().(symbolItem)
			if !ok {
				return m, nil
			}
			code, ok := m.in.image.Code(item.sym)
			if !ok || item.sym.Addr > 0xffffffff {
				return m, nil
			}
			m.mode = viewListing
			m.lifting = true
			m.current = item.sym.Display()
			m.updateContent()
			return m, tea.Batch(
				liftCmd(m.in.arch, item.sym.Display(), uint32(item.sym.Addr), code, m.settings),
				m.spinner.Tick,
			)
		case "tab":
			m.mode = (m.mode + 1) % 3
			return m, nil
		case "shift+tab":
			m.mode = (m.mode + 2) % 3
			return m, nil
		}
	}

	switch m.mode {
	case viewSymbols:
		m.symbolsList, cmd = m.symbolsList.Update(msg)
	case viewReport:
		m.report, cmd = m.report.Update(msg)
	default:
		m.viewport, cmd = m.viewport.Update(msg)
	}
	return m, cmd
}

func (m model) View() string {
	var content string
	switch m.mode {
	case viewSymbols:
		content = m.symbolsList.View()
	case viewReport:
		content = m.report.View()
	default:
		content = m.viewport.View()
	}

	var menu string
	switch m.mode {
	case viewSymbols:
		menu = " Enter: translate • L: listing • R: report • Tab: cycle • Q: quit "
	case viewReport:
		menu = " L: listing • S: symbols • Tab: cycle • Q: quit "
	default:
		menu = " S: symbols • R: report • N: native • Tab: cycle • Q: quit "
	}

	menuStyle := lipgloss.NewStyle().
		Background(lipgloss.Color(styles.Muted)).
		Foreground(lipgloss.Color(styles.Foreground)).
		Padding(0, 1).
		Width(m.width)

	return content + "\n" + menuStyle.Render(menu)
}

func (m *model) updateContent() {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; %s (%s)\n", m.current, m.in.arch)
	if m.lifting {
		fmt.Fprintf(&sb, "\n%s Translating...\n", m.spinner.View())
		m.viewport.SetContent(sb.String())
		return
	}
	fmt.Fprintf(&sb, "; %d native, %d REIL instructions\n\n", m.listing.NativeCount(), len(m.listing))
	sb.WriteString(formatListing(m.listing, m.settings.Native))
	if m.err != nil {
		fmt.Fprintf(&sb, "\n; error: %v\n", m.err)
	}
	text := sb.String()
	if colorize.Enabled() {
		text, _ = colorize.Listing(text)
	}
	m.viewport.SetContent(text)
}

func (m *model) updateReport(va uint32, size int) {
	width := m.width
	if width == 0 {
		width = 80
	}
	md := summaryMarkdown(m.current, m.in.arch, va, size, m.in.image, m.listing)
	rendered, err := styles.Render(md, width-2, colorize.Enabled())
	if err != nil {
		rendered = md
	}
	m.report.SetContent(strings.TrimSuffix(rendered, "\n"))
}

func (m *model) updateSymbolsList() {
	if m.in.image == nil {
		return
	}
	fns := m.in.image.Functions()
	items := make([]list.Item, 0, len(fns))
	for _, sym := range fns {
		items = append(items, symbolItem{
			sym:        sym,
			filterTerm: fmt.Sprintf("%x %s", sym.Addr, sym.Display()),
		})
	}
	m.symbolsList.SetItems(items)
	m.symbolsList.Title = fmt.Sprintf("Functions (%d total)", len(items))
}
