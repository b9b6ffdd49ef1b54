package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/apresai/callsynth/internal/config"
	"github.com/apresai/callsynth/internal/dialogue"
)

var errSetupAborted = errors.New("setup aborted")

type fieldKind int

const (
	fieldText fieldKind = iota
	fieldNumber
	fieldChoice
	fieldSubmit
)

type choice struct {
	label string
	value string
}

// field is one batch setting. Its flag receives the value when the batch
// is submitted and the value differs from the loaded config.
type field struct {
	section string
	label   string
	flag    string
	kind    fieldKind
	value   string
	initial string
	before  string // value when editing began, restored on esc
	choices []choice
	pick    int
}

func (f field) display() string {
	for _, c := range f.choices {
		if c.value == f.value {
			return c.label
		}
	}
	return f.value
}

// setupModel is the Bubble Tea model behind `callsynth generate -i`.
type setupModel struct {
	fields  []field
	focus   int
	open    bool
	width   int
	err     error
	done    bool
	aborted bool
}

var palette = struct {
	title, section, label, value, unset, focus, choice, picked, submit, submitDim, summary, help, err lipgloss.Style
}{
	title:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#E8A33D")),
	section:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8A8A8A")).MarginTop(1),
	label:     lipgloss.NewStyle().Width(16),
	value:     lipgloss.NewStyle().Foreground(lipgloss.Color("#5FB3B3")),
	unset:     lipgloss.NewStyle().Foreground(lipgloss.Color("#5C5C5C")).Italic(true),
	focus:     lipgloss.NewStyle().Foreground(lipgloss.Color("#E8A33D")).Bold(true),
	choice:    lipgloss.NewStyle().PaddingLeft(6).Foreground(lipgloss.Color("#9A9A9A")),
	picked:    lipgloss.NewStyle().PaddingLeft(4).Foreground(lipgloss.Color("#5FB3B3")).Bold(true),
	submit:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#1E1E1E")).Background(lipgloss.Color("#E8A33D")).Padding(0, 2),
	submitDim: lipgloss.NewStyle().Foreground(lipgloss.Color("#8A8A8A")).Border(lipgloss.RoundedBorder()).Padding(0, 1),
	summary:   lipgloss.NewStyle().Foreground(lipgloss.Color("#BBBBBB")).Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#5C5C5C")).Padding(0, 1).MarginTop(1),
	help:      lipgloss.NewStyle().Foreground(lipgloss.Color("#6C6C6C")).MarginTop(1),
	err:       lipgloss.NewStyle().Foreground(lipgloss.Color("#E06C75")).Bold(true),
}

func setupFields(cfg *config.Config) []field {
	fields := []field{
		{section: "Inputs", label: "Locale", flag: "locale", value: cfg.Locale},
		{section: "Inputs", label: "Kind", flag: "kind", kind: fieldChoice, value: cfg.Kind, choices: []choice{
			{"scam: seeded fraud calls", string(dialogue.KindScam)},
			{"legit: everyday service calls", string(dialogue.KindLegit)},
		}},
		{section: "Inputs", label: "Seeds", flag: "seeds", value: cfg.SeedsPath},
		{section: "Inputs", label: "Placeholders", flag: "placeholders", value: cfg.CatalogPath()},

		{section: "Batch", label: "Mode", flag: "mode", kind: fieldChoice, value: cfg.ControlMode, choices: []choice{
			{"stop at a target count", "conversations"},
			{"every scenario of N seeds", "seeds"},
		}},
		{section: "Batch", label: "Target", flag: "target", kind: fieldNumber, value: strconv.Itoa(cfg.TargetConversations)},
		{section: "Batch", label: "Per seed", flag: "per-seed", kind: fieldNumber, value: strconv.Itoa(cfg.ScenariosPerSeed)},
		{section: "Batch", label: "Concurrency", flag: "concurrency", kind: fieldNumber, value: strconv.Itoa(cfg.Concurrency)},
		{section: "Batch", label: "On exhausted", flag: "on-exhausted", kind: fieldChoice, value: cfg.ExhaustionPolicy, choices: []choice{
			{"reject the conversation", string(dialogue.PolicyReject)},
			{"accept with a warning", string(dialogue.PolicyAcceptWithWarning)},
		}},

		{section: "Model", label: "Provider", flag: "provider", kind: fieldChoice, value: cfg.Provider, choices: []choice{
			{"anthropic", "anthropic"},
			{"bedrock", "bedrock"},
			{"gemini", "gemini"},
		}},
		{section: "Model", label: "Model", flag: "model", kind: fieldChoice, value: cfg.Model, choices: []choice{
			{"haiku", "haiku"},
			{"sonnet", "sonnet"},
			{"gemini-flash", "gemini-flash"},
			{"gemini-pro", "gemini-pro"},
		}},

		{section: "Output", label: "Dataset", flag: "output", value: cfg.OutputPath},
		{section: "Output", label: "Report", flag: "report", value: cfg.ReportPath},

		{label: "Generate", kind: fieldSubmit},
	}
	for i := range fields {
		f := &fields[i]
		f.initial = f.value
		for j, c := range f.choices {
			if c.value == f.value {
				f.pick = j
			}
		}
	}
	return fields
}

func newSetupModel(cfg *config.Config) setupModel {
	return setupModel{fields: setupFields(cfg)}
}

// indexOf returns the position of the field bound to flag, or -1.
func (m setupModel) indexOf(flag string) int {
	for i, f := range m.fields {
		if f.flag == flag && f.kind != fieldSubmit {
			return i
		}
	}
	return -1
}

func (m setupModel) valueOf(flag string) string {
	if i := m.indexOf(flag); i >= 0 {
		return m.fields[i].value
	}
	return ""
}

func (m setupModel) submitIdx() int {
	return len(m.fields) - 1
}

func (m setupModel) Init() tea.Cmd {
	return nil
}

func (m setupModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			m.aborted = true
			return m, tea.Quit
		}
		if m.open {
			return m.edit(msg), nil
		}
		return m.navigate(msg)
	}
	return m, nil
}

func (m setupModel) navigate(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "esc":
		m.aborted = true
		return m, tea.Quit
	case "up", "k", "shift+tab":
		m.focus = max(m.focus-1, 0)
	case "down", "j":
		m.focus = min(m.focus+1, m.submitIdx())
	case "tab":
		m.focus = m.nextSection()
	case "g":
		return m.submit()
	case "enter", " ":
		if m.focus == m.submitIdx() {
			return m.submit()
		}
		f := &m.fields[m.focus]
		f.before = f.value
		m.open = true
		m.err = nil
	}
	return m, nil
}

// nextSection returns the first field of the section after the focused one.
func (m setupModel) nextSection() int {
	cur := m.fields[m.focus].section
	for i := m.focus + 1; i < len(m.fields); i++ {
		if m.fields[i].section != cur {
			return i
		}
	}
	return m.submitIdx()
}

func (m setupModel) submit() (tea.Model, tea.Cmd) {
	if err := m.validate(); err != nil {
		m.err = err
		return m, nil
	}
	m.done = true
	return m, tea.Quit
}

func (m setupModel) edit(msg tea.KeyMsg) setupModel {
	f := &m.fields[m.focus]
	key := msg.String()

	switch key {
	case "esc":
		f.value = f.before
		m.open = false
		return m
	case "enter":
		if f.kind == fieldChoice && f.pick < len(f.choices) {
			f.value = f.choices[f.pick].value
		}
		m.open = false
		m.focus = min(m.focus+1, m.submitIdx())
		return m
	}

	if f.kind == fieldChoice {
		switch key {
		case "up", "k":
			f.pick = max(f.pick-1, 0)
		case "down", "j":
			f.pick = min(f.pick+1, len(f.choices)-1)
		}
		return m
	}

	switch {
	case key == "backspace":
		r := []rune(f.value)
		if len(r) > 0 {
			f.value = string(r[:len(r)-1])
		}
	case key == "ctrl+u":
		f.value = ""
	case msg.Type == tea.KeyRunes:
		f.value += string(msg.Runes)
	}
	return m
}

func (m setupModel) validate() error {
	if strings.TrimSpace(m.valueOf("locale")) == "" {
		return errors.New("locale is required")
	}
	if m.valueOf("kind") == string(dialogue.KindScam) && strings.TrimSpace(m.valueOf("seeds")) == "" {
		return errors.New("a seeds file is required for scam batches")
	}
	for _, f := range m.fields {
		if f.kind != fieldNumber {
			continue
		}
		if n, err := strconv.Atoi(f.value); err != nil || n < 1 {
			return fmt.Errorf("%s must be a positive number, got %q", strings.ToLower(f.label), f.value)
		}
	}
	return nil
}

// summary describes the batch the current settings would run.
func (m setupModel) summary() string {
	kind := m.valueOf("kind")
	var size string
	if kind == string(dialogue.KindScam) && m.valueOf("mode") == "seeds" {
		size = fmt.Sprintf("%s scenarios per seed", m.valueOf("per-seed"))
	} else {
		size = fmt.Sprintf("%s %s conversations", m.valueOf("target"), kind)
	}
	locale := m.valueOf("locale")
	if locale == "" {
		locale = "?"
	}
	return fmt.Sprintf("%s in %s with %s via %s", size, locale, m.valueOf("model"), m.valueOf("provider"))
}

func (m setupModel) View() string {
	var b strings.Builder
	b.WriteString(palette.title.Render("callsynth · new batch"))
	b.WriteString("\n")

	section := ""
	for i, f := range m.fields {
		focused := i == m.focus
		if f.kind == fieldSubmit {
			b.WriteString(palette.summary.Render(m.summary()) + "\n")
			if focused {
				b.WriteString(palette.submit.Render(f.label))
			} else {
				b.WriteString(palette.submitDim.Render(f.label))
			}
			b.WriteString("\n")
			continue
		}
		if f.section != section {
			section = f.section
			b.WriteString(palette.section.Render(strings.ToUpper(section)) + "\n")
		}

		marker := "  "
		if focused {
			marker = palette.focus.Render("▸ ")
		}
		var value string
		switch {
		case focused && m.open && f.kind != fieldChoice:
			value = palette.value.Render(f.value + "▏")
		case f.value == "":
			value = palette.unset.Render("unset")
		default:
			value = palette.value.Render(f.display())
			if f.value != f.initial {
				value += palette.unset.Render(" (edited)")
			}
		}
		b.WriteString(marker + palette.label.Render(f.label) + value + "\n")

		if focused && m.open && f.kind == fieldChoice {
			for j, c := range f.choices {
				if j == f.pick {
					b.WriteString(palette.picked.Render("• "+c.label) + "\n")
				} else {
					b.WriteString(palette.choice.Render(c.label) + "\n")
				}
			}
		}
	}

	if m.err != nil {
		b.WriteString("\n" + palette.err.Render(m.err.Error()) + "\n")
	}

	help := "↑/↓ move · tab next section · enter edit · g generate · q quit"
	if m.open {
		help = "enter keep · esc revert"
		if m.fields[m.focus].kind != fieldChoice {
			help += " · ctrl+u clear"
		}
	}
	b.WriteString(palette.help.Render(help) + "\n")
	return b.String()
}

// applySelections sets every edited value on cmd's flags, so the usual
// flag layering in loadConfig picks them up.
func (m setupModel) applySelections(cmd *cobra.Command) error {
	for _, f := range m.fields {
		if f.flag == "" || f.value == f.initial {
			continue
		}
		if err := cmd.Flags().Set(f.flag, f.value); err != nil {
			return fmt.Errorf("%s: %w", f.flag, err)
		}
	}
	return nil
}

func runInteractiveSetup(cmd *cobra.Command) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	applyFlags(cmd, cfg)

	result, err := tea.NewProgram(newSetupModel(cfg), tea.WithAltScreen()).Run()
	if err != nil {
		return fmt.Errorf("setup screen: %w", err)
	}
	final := result.(setupModel)
	if final.aborted || !final.done {
		return errSetupAborted
	}
	return final.applySelections(cmd)
}
