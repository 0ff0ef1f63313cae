package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/seanblong/csvchat/internal/session"
	"github.com/seanblong/csvchat/internal/tabular"
	"github.com/seanblong/csvchat/pkg/models"
)

// ChatPort is the TUI-facing subset of the chat session.
type ChatPort interface {
	Submit(ctx context.Context, files []tabular.File) session.Notice
	Ask(ctx context.Context, question string) (models.Message, session.Notice)
	Clear()
	Messages() []models.Message
	State() session.State
}

// FileLoader resolves the paths given to /process.
type FileLoader interface {
	Discover(paths []string) ([]string, error)
	LoadFiles(paths []string) ([]tabular.File, error)
}

const (
	revealEvery = 15 * time.Millisecond
	revealStep  = 4 // runes per tick
)

type processedMsg struct{ notice session.Notice }

type answeredMsg struct {
	reply  models.Message
	notice session.Notice
}

type revealTickMsg struct{}

// Model is the Bubble Tea model for the chat.
type Model struct {
	ctx     context.Context
	chat    ChatPort
	loader  FileLoader
	title   string
	input   textinput.Model
	view    viewport.Model
	spin    spinner.Model
	notice  session.Notice
	busy    string
	pending string
	ready   bool

	// reveal of the latest answer, in runes
	revealText []rune
	revealed   int
}

// New creates a new TUI model instance.
func New(ctx context.Context, chat ChatPort, loader FileLoader, title string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question, /process <files or dirs>, /clear, /quit"
	ti.Focus()
	ti.CharLimit = 0

	sp := spinner.New()
	sp.Spinner = spinner.Dot

	return Model{
		ctx:    ctx,
		chat:   chat,
		loader: loader,
		title:  title,
		input:  ti,
		view:   viewport.New(0, 0),
		spin:   sp,
	}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and pipeline events.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		bw, bh := chatBoxStyle.GetFrameSize()
		iw, ih := inputBoxStyle.GetFrameSize()
		reserved := 1 + 1 + 1 + ih // header, input line, status, input frame
		m.view.Width = max(20, msg.Width-bw)
		m.view.Height = max(3, msg.Height-reserved-bh)
		m.input.Width = max(10, msg.Width-iw-len(m.input.Prompt)-1)
		m.refresh()
		return m, nil

	case processedMsg:
		m.busy = ""
		m.notice = msg.notice
		m.refresh()
		return m, nil

	case answeredMsg:
		m.busy = ""
		m.pending = ""
		m.notice = msg.notice
		m.revealText = []rune(msg.reply.Content)
		m.revealed = 0
		m.refresh()
		return m, revealTick()

	case revealTickMsg:
		if m.revealing() {
			m.revealed = min(m.revealed+revealStep, len(m.revealText))
			m.refresh()
			if m.revealing() {
				return m, revealTick()
			}
		}
		return m, nil

	case spinner.TickMsg:
		if m.busy == "" {
			return m, nil
		}
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			return m, tea.Quit
		}
		switch msg.String() {
		case "enter":
			return m.submit()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.view, cmd = m.view.Update(msg)
			return m, cmd
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) submit() (tea.Model, tea.Cmd) {
	line := strings.TrimSpace(m.input.Value())
	if line == "" || m.busy != "" {
		return m, nil
	}
	m.input.SetValue("")
	m.finishReveal()

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/exit":
		return m, tea.Quit
	case "/clear":
		m.chat.Clear()
		m.notice = session.Notice{}
		m.refresh()
		return m, nil
	case "/process":
		m.busy = "Processing..."
		m.notice = session.Notice{}
		m.refresh()
		return m, tea.Batch(m.spin.Tick, m.process(fields[1:]))
	}

	m.busy = "Thinking..."
	m.pending = line
	m.notice = session.Notice{}
	m.refresh()
	return m, tea.Batch(m.spin.Tick, m.ask(line))
}

func (m Model) process(paths []string) tea.Cmd {
	ctx, chat, loader := m.ctx, m.chat, m.loader
	return func() tea.Msg {
		if len(paths) == 0 {
			return processedMsg{chat.Submit(ctx, nil)}
		}
		found, err := loader.Discover(paths)
		if err != nil {
			return processedMsg{session.Notice{Level: session.LevelError, Text: err.Error()}}
		}
		files, err := loader.LoadFiles(found)
		if err != nil {
			return processedMsg{session.Notice{Level: session.LevelError, Text: err.Error()}}
		}
		return processedMsg{chat.Submit(ctx, files)}
	}
}

func (m Model) ask(question string) tea.Cmd {
	ctx, chat := m.ctx, m.chat
	return func() tea.Msg {
		reply, notice := chat.Ask(ctx, question)
		return answeredMsg{reply: reply, notice: notice}
	}
}

func revealTick() tea.Cmd {
	return tea.Tick(revealEvery, func(time.Time) tea.Msg { return revealTickMsg{} })
}

func (m Model) revealing() bool {
	return m.revealText != nil && m.revealed < len(m.revealText)
}

func (m *Model) finishReveal() {
	m.revealText = nil
	m.revealed = 0
}

func (m *Model) refresh() {
	m.view.SetContent(m.renderMessages())
	m.view.GotoBottom()
}

// View renders the TUI layout.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := titleStyle.Render(m.title)
	state := dimStyle.Render("state: " + m.chat.State().String())
	chat := chatBoxStyle.Render(m.view.View())
	input := inputBoxStyle.Render(m.input.View())
	return header + "  " + state + "\n" + chat + "\n" + input + "\n" + m.statusLine()
}

func (m Model) statusLine() string {
	if m.busy != "" {
		return m.spin.View() + " " + m.busy
	}
	switch m.notice.Level {
	case session.LevelSuccess:
		return successStyle.Render(m.notice.Text)
	case session.LevelWarning:
		return warningStyle.Render(m.notice.Text)
	case session.LevelError:
		return errorStyle.Render(m.notice.Text)
	}
	return dimStyle.Render("Enter to send, PgUp/PgDn to scroll, Ctrl+C to quit")
}

func (m Model) renderMessages() string {
	msgs := m.chat.Messages()
	width := max(10, m.view.Width-2)
	body := lipgloss.NewStyle().Width(width)

	var sb strings.Builder
	for i, msg := range msgs {
		content := msg.Content
		if i == len(msgs)-1 && msg.Role == models.RoleAssistant && m.revealing() {
			content = string(m.revealText[:m.revealed])
		}
		sb.WriteString(roleLabel(msg.Role))
		sb.WriteString("\n")
		sb.WriteString(body.Render(content))
		sb.WriteString("\n\n")
	}
	if m.pending != "" {
		sb.WriteString(roleLabel(models.RoleUser))
		sb.WriteString("\n")
		sb.WriteString(body.Render(m.pending))
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func roleLabel(r models.Role) string {
	switch r {
	case models.RoleUser:
		return userStyle.Render("You")
	case models.RoleAssistant:
		return assistantStyle.Render("Assistant")
	}
	return fmt.Sprint(r)
}

var (
	titleStyle     = lipgloss.NewStyle().Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	chatBoxStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	inputBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	userStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	assistantStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	successStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	warningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)
