package main

import (
	"fmt"
	"slices"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"speecher/audio"
	"speecher/clipboard"
	"speecher/language"
	"speecher/log"
	"speecher/orchestrator"
)

// TUI message types
type SnapshotMsg struct{ Snap orchestrator.Snapshot }
type NoticeMsg struct {
	Text string
	Err  bool
}
type CopiedMsg struct{ Err error }
type tickMsg time.Time

// controller is the part of the orchestrator the TUI drives.
type controller interface {
	Toggle() error
	SetLanguage(code string) error
}

type tuiModel struct {
	ctl           controller
	snap          orchestrator.Snapshot
	now           time.Time
	width, height int
	deviceLine    string
	notice        string
	noticeErr     bool
	msgCount      int
	lastCycle     string
	copied        bool
	latencies     []time.Duration
}

func newTUIModel(ctl controller, snap orchestrator.Snapshot, deviceLine string) tuiModel {
	return tuiModel{ctl: ctl, snap: snap, deviceLine: deviceLine, now: time.Now()}
}

func NewTUIProgram(m tuiModel) *tea.Program {
	return tea.NewProgram(m, tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func toggleCmd(ctl controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.Toggle(); err != nil {
			return NoticeMsg{Text: err.Error(), Err: true}
		}
		return nil
	}
}

func languageCmd(ctl controller, code string) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.SetLanguage(code); err != nil {
			return NoticeMsg{Text: "could not change language: " + err.Error(), Err: true}
		}
		return nil
	}
}

func copyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		return CopiedMsg{Err: clipboard.Copy(text)}
	}
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case " ":
			m.notice = ""
			return m, toggleCmd(m.ctl)
		case "l":
			return m, languageCmd(m.ctl, language.Next(m.snap.Language))
		case "L":
			return m, languageCmd(m.ctl, language.Prev(m.snap.Language))
		case "c":
			if r := m.snap.Result; r != nil && !r.NoSpeech {
				return m, copyCmd(r.Text)
			}
		}

	case tickMsg:
		m.now = time.Time(msg)
		return m, tuiTick()

	case SnapshotMsg:
		m.snap = msg.Snap
		if r := m.snap.Result; r != nil && r.CycleID != m.lastCycle {
			m.lastCycle = r.CycleID
			m.msgCount++
			m.copied = false
			m.latencies = append(m.latencies, r.Elapsed)
		}

	case NoticeMsg:
		m.notice = msg.Text
		m.noticeErr = msg.Err
		if msg.Err {
			log.Warn(msg.Text)
		}

	case CopiedMsg:
		if msg.Err != nil {
			m.notice = "copy failed: " + msg.Err.Error()
			m.noticeErr = true
		} else {
			m.copied = true
		}
	}
	return m, nil
}

func (m tuiModel) statusLine() string {
	switch {
	case !m.snap.Ready:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).Render("✕ MODEL NOT LOADED")
	case m.snap.IsRecording():
		d := m.now.Sub(m.snap.RecordingStarted)
		if d < 0 {
			d = 0
		}
		return lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true).
			Render(fmt.Sprintf("● REC %.1fs", d.Seconds()))
	case m.snap.IsTranscribing():
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("◌ TRANSCRIBING")
	case m.snap.Starting:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Render("◌ OPENING MIC")
	default:
		return lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Render("○ STANDBY")
	}
}

func (m tuiModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Loading..."
	}

	const infoWidth = 40
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	infoLines := []string{m.statusLine(), ""}

	engine := m.snap.Engine
	if engine == "" {
		engine = "none"
	}
	infoLines = append(infoLines,
		lipgloss.NewStyle().Foreground(lipgloss.Color("245")).
			Render(fmt.Sprintf("lang: %s (%s)", language.Name(m.snap.Language), m.snap.Language)),
		dim.Render("engine: "+engine),
	)
	if m.deviceLine != "" {
		infoLines = append(infoLines, dim.Render(m.deviceLine))
	}
	if table := renderLatencyTable(m.latencies); table != "" {
		infoLines = append(infoLines, "")
		for _, line := range strings.Split(table, "\n") {
			infoLines = append(infoLines, dim.Render(line))
		}
	}

	if m.snap.Err != nil {
		infoLines = append(infoLines, "")
		errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
		for _, line := range wrapText("✕ "+m.snap.Err.Error(), infoWidth-2) {
			infoLines = append(infoLines, errStyle.Render(line))
		}
	}
	if m.notice != "" {
		color := lipgloss.Color("42")
		if m.noticeErr {
			color = lipgloss.Color("208")
		}
		infoLines = append(infoLines, "")
		for _, line := range wrapText(m.notice, infoWidth-2) {
			infoLines = append(infoLines, lipgloss.NewStyle().Foreground(color).Render(line))
		}
	}

	infoLines = append(infoLines, "")
	helpStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	boldStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	infoLines = append(infoLines,
		boldStyle.Render("Space")+helpStyle.Render(" or ")+boldStyle.Render("Ctrl+Shift+Space")+helpStyle.Render(" to record"),
		boldStyle.Render("l/L")+helpStyle.Render(" language  ")+boldStyle.Render("c")+helpStyle.Render(" copy  ")+boldStyle.Render("q")+helpStyle.Render(" quit"),
		helpStyle.Render("speecher "+version),
	)

	textWidth := m.width - infoWidth - 1
	if textWidth < 20 {
		textWidth = 20
	}
	wrapWidth := textWidth - 2
	if wrapWidth < 10 {
		wrapWidth = 10
	}

	var content strings.Builder
	if r := m.snap.Result; r != nil {
		title := lipgloss.NewStyle().
			Foreground(lipgloss.Color("246")).
			Render(fmt.Sprintf("Last transcription (#%d, %s)", m.msgCount, r.Language))
		content.WriteString(title + "\n\n")

		text := r.Text
		textStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
		if r.NoSpeech {
			text = "(no speech detected)"
			textStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
		}
		lines := wrapText(text, wrapWidth)
		for i, line := range lines {
			content.WriteString(textStyle.Render(line))
			if i == len(lines)-1 && m.copied {
				content.WriteString(" " + lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Render("[✓ copied]"))
			}
			content.WriteString("\n")
		}

		content.WriteString("\n")
		metricsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
		content.WriteString(metricsStyle.Render(fmt.Sprintf("audio %.1fs · engine %dms",
			r.AudioDuration.Seconds(), r.Elapsed.Milliseconds())) + "\n")
	} else {
		content.WriteString(dim.Render("No transcriptions yet"))
	}

	textPanel := lipgloss.NewStyle().
		Width(textWidth).
		Height(m.height).
		PaddingLeft(1).
		Render(content.String())

	infoPanel := lipgloss.NewStyle().
		Width(infoWidth - 1).
		Height(m.height).
		Render(strings.Join(infoLines, "\n"))

	return lipgloss.JoinHorizontal(lipgloss.Top, infoPanel, textPanel)
}

func deviceLineText(name string) string {
	if audio.IsBluetooth(name) {
		name += " (BT!)"
	}
	return "mic: " + name
}

// wrapText splits text on spaces so no line is wider than width runes.
func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	rs := []rune(text)
	var lines []string
	for len(rs) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if rs[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, string(rs[:splitAt]))
		rs = []rune(strings.TrimLeft(string(rs[splitAt:]), " "))
	}
	if len(rs) > 0 {
		lines = append(lines, string(rs))
	}
	return lines
}

// renderLatencyTable summarizes engine time over the session's results.
func renderLatencyTable(ds []time.Duration) string {
	if len(ds) == 0 {
		return ""
	}
	sorted := slices.Clone(ds)
	slices.Sort(sorted)
	pick := func(p float64) float64 {
		i := int(p * float64(len(sorted)-1))
		return float64(sorted[i].Milliseconds())
	}
	return fmt.Sprintf(
		"        %5s %5s %5s %5s\n"+
			"engine  %5.0f %5.0f %5.0f %5.0f",
		"min", "p50", "p90", "max",
		pick(0), pick(0.5), pick(0.9), pick(1),
	)
}
