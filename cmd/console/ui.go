package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/jwebster45206/stage-engine/pkg/catalog"
	"github.com/jwebster45206/stage-engine/pkg/directive"
	"github.com/jwebster45206/stage-engine/pkg/generation"
	"github.com/jwebster45206/stage-engine/pkg/stage"
)

const PlaceHolderText = "Paste model output with [BG: ...] [SPRITE: ...] tags and press Enter..."

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	session       *Session
	state         stage.State
	log           []logLine
	lastProse     string
	generation    string // human readable pipeline status, "" when idle
	generating    bool
	proseViewport viewport.Model
	metaViewport  viewport.Model
	textarea      textarea.Model
	ready         bool
	width         int
	height        int
	loading       bool

	showQuitModal bool

	progressTick int
}

type lineKind int

const (
	lineInput lineKind = iota
	lineProse
	lineDirective
	lineMiss
	lineCue
	lineStatus
	lineError
)

type logLine struct {
	kind lineKind
	text string
}

type progressTickMsg struct{}

var (
	prosePanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(1).
			PaddingLeft(3).
			PaddingRight(0)

	metaPanelStyle = lipgloss.NewStyle().
			PaddingTop(2).
			PaddingBottom(0).
			PaddingLeft(0).
			PaddingRight(2)

	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")). // pink
			Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	proseStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	inputStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")) // teal

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // red

	loadingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // yellow

	promptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")) // dark grey

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Padding(1, 2).
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255"))

	modalTitleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205")).
			Bold(true).
			Align(lipgloss.Center)
)

var separatorStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("240")) // dark grey

func NewConsoleUI(session *Session) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 8000
	ta.SetWidth(50)
	ta.SetHeight(3)
	ta.ShowLineNumbers = false

	proseVp := viewport.New(50, 20)
	proseVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	return ConsoleUI{
		session:       session,
		state:         session.State(),
		textarea:      ta,
		proseViewport: proseVp,
		metaViewport:  metaVp,
	}
}

// writeStagePanel renders the live stage for the side panel.
func writeStagePanel(st stage.State, genStatus string) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("STAGE") + "\n\n")

	field := func(label, value string) {
		if value == "" {
			value = "none"
		}
		content.WriteString(labelStyle.Render(label) + "\n" + value + "\n\n")
	}
	field("Background:", st.Background)
	field("Overlay:", st.Overlay)
	field("Music:", st.Music)

	content.WriteString(labelStyle.Render("Characters:") + "\n")
	ids := st.VisibleCharacters()
	if len(ids) == 0 {
		content.WriteString("none\n")
	}
	for _, id := range ids {
		p := st.Portraits[id]
		mood := p.Mood
		if mood == "" {
			mood = "default"
		}
		content.WriteString(fmt.Sprintf("• %s (%s)\n", id, mood))
	}
	content.WriteString("\n")

	list := func(label string, items []string) {
		content.WriteString(labelStyle.Render(label) + "\n")
		if len(items) == 0 {
			content.WriteString("none\n\n")
			return
		}
		for _, item := range items {
			content.WriteString("• " + item + "\n")
		}
		content.WriteString("\n")
	}
	list("Inventory:", st.Inventory)
	list("Scene:", st.SceneObjects)

	if genStatus != "" {
		content.WriteString(labelStyle.Render("Generation:") + "\n")
		content.WriteString(loadingStyle.Render(genStatus) + "\n\n")
	}

	content.WriteString("Commands:\n")
	content.WriteString("• Enter: Apply\n")
	content.WriteString("• Ctrl+Y: Copy prose\n")
	content.WriteString("• /help /assets\n")
	content.WriteString("• /state /save /reset\n")
	content.WriteString("• Ctrl+C: Quit\n")

	return content.String()
}

// turnLines turns one processed turn into log lines.
func turnLines(msg turnMsg) []logLine {
	lines := []logLine{{kind: lineInput, text: summarizeInput(msg.input)}}
	if msg.result.Text != "" {
		lines = append(lines, logLine{kind: lineProse, text: msg.result.Text})
	}

	weak := make(map[int]bool, len(msg.result.Result.Weak))
	for _, d := range msg.result.Result.Weak {
		weak[d.Position] = true
	}
	missed := make(map[int]string, len(msg.result.Result.Unresolved))
	for _, u := range msg.result.Result.Unresolved {
		missed[u.Directive.Position] = u.Reason
	}

	for _, d := range msg.result.Directives {
		switch {
		case missed[d.Position] != "":
			lines = append(lines, logLine{kind: lineMiss, text: fmt.Sprintf("%s: %s", describeDirective(d), missed[d.Position])})
		case weak[d.Position]:
			lines = append(lines, logLine{kind: lineMiss, text: describeDirective(d) + ": weak mood match"})
		default:
			lines = append(lines, logLine{kind: lineDirective, text: describeDirective(d)})
		}
	}
	return lines
}

func describeDirective(d directive.Directive) string {
	if d.Secondary != "" {
		return fmt.Sprintf("%s %q → %q", d.Type, d.Value, d.Secondary)
	}
	return fmt.Sprintf("%s %q", d.Type, d.Value)
}

func summarizeInput(input string) string {
	first := strings.TrimSpace(strings.SplitN(strings.TrimSpace(input), "\n", 2)[0])
	if len(first) > 60 {
		first = first[:57] + "..."
	}
	return first
}

// writeProseContent builds the log for the current viewport width
func (m *ConsoleUI) writeProseContent() {
	proseWidth := m.proseViewport.Width - 6 // Account for left(3) + right(3) padding
	if proseWidth < 20 {
		proseWidth = 20
	}

	var content strings.Builder
	content.WriteString(titleStyle.Render("STAGE ENGINE") + "\n\n")
	content.WriteString("Paste a model response below. Tags are applied to the stage and stripped from the prose.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", proseWidth-6)) + "\n\n")

	for _, line := range m.log {
		switch line.kind {
		case lineInput:
			content.WriteString(inputStyle.Render("» ") + promptStyle.Render(line.text) + "\n")
		case lineProse:
			content.WriteString(proseStyle.Render(wordwrap.String(line.text, proseWidth)) + "\n")
		case lineDirective:
			content.WriteString(promptStyle.Render("  ✓ "+line.text) + "\n")
		case lineMiss:
			content.WriteString(loadingStyle.Render("  ? "+line.text) + "\n")
		case lineCue:
			content.WriteString(labelStyle.Render("  ♪ ") + line.text + "\n")
		case lineStatus:
			content.WriteString(loadingStyle.Render("  … "+line.text) + "\n")
		case lineError:
			content.WriteString(errorStyle.Render("Error: "+line.text) + "\n")
		}
		if line.kind == lineProse {
			content.WriteString("\n")
		}
	}

	if m.generating {
		content.WriteString("\n" + m.renderProgressBar() + "\n")
	}

	m.proseViewport.SetContent(content.String())
	m.proseViewport.GotoBottom()
}

func (m *ConsoleUI) refreshPanels() {
	m.writeProseContent()
	m.metaViewport.SetContent(writeStagePanel(m.state, m.generation))
}

func (m *ConsoleUI) appendLog(kind lineKind, text string) {
	m.log = append(m.log, logLine{kind: kind, text: text})
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(textarea.Blink, m.session.Listen())
}

func (m ConsoleUI) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.showQuitModal {
		return m.updateQuitModal(msg)
	}

	var (
		tiCmd tea.Cmd
		vpCmd tea.Cmd
		mvCmd tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.MouseMsg:
		m.proseViewport, vpCmd = m.proseViewport.Update(msg)
		m.textarea, tiCmd = m.textarea.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(tiCmd, vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		proseWidth := int(float64(m.width)*0.7) - 4
		metaWidth := m.width - proseWidth - 6

		m.proseViewport.Width = proseWidth - 2
		m.proseViewport.Height = m.height - 9
		m.metaViewport.Width = metaWidth - 2
		m.metaViewport.Height = m.height - 4
		m.textarea.SetWidth(proseWidth - 4)

		m.ready = true
		m.refreshPanels()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyCtrlY:
			if m.lastProse == "" {
				return m, nil
			}
			if err := clipboard.WriteAll(m.lastProse); err != nil {
				m.appendLog(lineError, "copy failed: "+err.Error())
			} else {
				m.appendLog(lineStatus, "prose copied to clipboard")
			}
			m.writeProseContent()
			return m, nil
		case tea.KeyEnter:
			if m.loading {
				return m, nil
			}

			input := strings.TrimSpace(m.textarea.Value())
			if input == "" {
				return m, nil
			}

			if strings.HasPrefix(input, "/") {
				return m.handleCommand(input)
			}

			m.textarea.Reset()
			m.loading = true
			return m, m.session.Process(input)
		}

	case turnMsg:
		m.loading = false
		m.state = msg.result.State
		m.log = append(m.log, turnLines(msg)...)
		if msg.result.Text != "" {
			m.lastProse = msg.result.Text
		}
		m.refreshPanels()
		return m, nil

	case cueMsg:
		m.appendLog(lineCue, msg.text)
		m.writeProseContent()
		return m, m.session.Listen()

	case commitMsg:
		m.state = msg.state
		label := "background ready: "
		if msg.fallback {
			label = "fallback background: "
		}
		m.appendLog(lineStatus, label+msg.path)
		m.refreshPanels()
		return m, m.session.Listen()

	case generationMsg:
		m.generation = generation.Describe(msg.status)
		wasGenerating := m.generating
		m.generating = !msg.status.Final()
		if !m.generating {
			m.generation = ""
		}
		if msg.status.Phase == generation.PhaseFailed || msg.status.Phase == generation.PhaseExhausted {
			m.appendLog(lineStatus, generation.Describe(msg.status))
		}
		m.refreshPanels()
		cmds := []tea.Cmd{m.session.Listen()}
		if m.generating && !wasGenerating {
			m.progressTick = 0
			cmds = append(cmds, progressTick())
		}
		return m, tea.Batch(cmds...)

	case savedMsg:
		if msg.err != nil {
			m.appendLog(lineError, msg.err.Error())
		} else {
			m.appendLog(lineStatus, "stage saved to "+msg.path)
		}
		m.writeProseContent()
		return m, nil

	case progressTickMsg:
		if m.generating {
			m.progressTick++
			m.writeProseContent()
			return m, progressTick()
		}
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.proseViewport, vpCmd = m.proseViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	cmd := strings.ToLower(strings.TrimSpace(input))
	m.textarea.Reset()

	switch cmd {
	case "/help":
		m.appendLog(lineStatus, "tags: [BG: x] [SPRITE: name/mood] [SPLASH: x] [MUSIC: x|stop] [HIDE: name|all]")
		m.appendLog(lineStatus, "cues: [FX: x] [SFX: x] [CAMERA: action, target] [TAKE: x] [DROP: x] [ADD_OBJECT: x]")

	case "/assets":
		for _, cat := range catalog.Categories {
			m.appendLog(lineStatus, fmt.Sprintf("%s: %d", cat, len(m.session.catalog.Entries(cat))))
		}
		chars := m.session.catalog.Characters()
		names := make([]string, len(chars))
		for i, id := range chars {
			names[i] = string(id)
		}
		sort.Strings(names)
		m.appendLog(lineStatus, "characters: "+strings.Join(names, ", "))

	case "/state":
		data, err := json.MarshalIndent(m.state, "", "  ")
		if err != nil {
			m.appendLog(lineError, err.Error())
		} else {
			m.appendLog(lineProse, string(data))
		}

	case "/save":
		return m, m.session.Save()

	case "/reset":
		m.session.Reset()
		m.state = m.session.State()
		m.generation = ""
		m.generating = false
		m.appendLog(lineStatus, "stage cleared")
		m.refreshPanels()
		return m, nil

	default:
		m.appendLog(lineError, "unknown command "+cmd)
	}

	m.writeProseContent()
	return m, nil
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				return m, tea.Quit
			case "n", "N":
				m.showQuitModal = false
				m.textarea.Focus()
				return m, textarea.Blink
			}
		}
	}

	return m, nil
}

func (m ConsoleUI) renderQuitModal() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	var content strings.Builder
	content.WriteString(modalTitleStyle.Render("Quit?"))
	content.WriteString("\n\n")
	content.WriteString("Pending background generation will be cancelled.")
	content.WriteString("\n\n")
	content.WriteString(promptStyle.Render("Press Y to quit, N to continue, or Ctrl+C to force quit"))

	modal := modalStyle.Width(50).Render(content.String())

	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal, lipgloss.WithWhitespaceChars(" "))
}

func (m ConsoleUI) View() string {
	if m.showQuitModal {
		return m.renderQuitModal()
	}

	if !m.ready {
		return "\n  Initializing..."
	}

	proseWidth := int(float64(m.width)*0.7) - 4
	metaWidth := m.width - proseWidth - 6

	prosePanel := prosePanelStyle.Width(proseWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.proseViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", proseWidth-4)),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, prosePanel, metaPanel)
}

// renderProgressBar creates an animated progress bar while a background
// is being generated
func (m ConsoleUI) renderProgressBar() string {
	usable := m.proseViewport.Width - 6
	if usable <= 0 {
		usable = 30
	}
	if usable > 80 {
		usable = 80
	} else if usable < 10 {
		usable = 10
	}

	const totalFrames = 40
	frame := m.progressTick % totalFrames
	filled := (frame * usable) / totalFrames

	var bar strings.Builder
	for i := 0; i < usable; i++ {
		if i < filled {
			bar.WriteString("█")
		} else if i == filled && frame%4 < 2 {
			bar.WriteString("▓")
		} else {
			bar.WriteString("░")
		}
	}
	return separatorStyle.Render(bar.String())
}

func progressTick() tea.Cmd {
	return tea.Tick(time.Millisecond*200, func(time.Time) tea.Msg {
		return progressTickMsg{}
	})
}
