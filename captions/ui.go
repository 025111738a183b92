package captions

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"node.town/babel/fanout"
)

var (
	translatedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFFFF"))
	untranslatedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	originalStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	interimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	speakerStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#25A065"))
)

var barStyle = lipgloss.NewStyle().
	Foreground(lipgloss.Color("#FFFDF5")).
	Background(lipgloss.Color("#25A065")).
	Padding(0, 1)

// closedMsg ends the feed; err is nil on a clean close.
type closedMsg struct{ err error }

type model struct {
	viewport   viewport.Model
	lang       string
	committed  []*fanout.Message
	interim    map[string]string
	speakers   []string
	logEntries []string
	ready      bool
	showLog    bool
	closed     bool
	err        error
	messages   <-chan *fanout.Message
	done       <-chan error
}

func initialModel(lang string, messages <-chan *fanout.Message, done <-chan error) model {
	return model{
		lang:     lang,
		interim:  make(map[string]string),
		messages: messages,
		done:     done,
	}
}

func (m model) Init() tea.Cmd {
	return waitForMessage(m.messages, m.done)
}

func waitForMessage(messages <-chan *fanout.Message, done <-chan error) tea.Cmd {
	return func() tea.Msg {
		msg, ok := <-messages
		if !ok {
			return closedMsg{err: <-done}
		}
		return msg
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q", "esc":
			return m, tea.Quit
		case "tab":
			m.showLog = !m.showLog
			m.viewport.SetContent(m.contentView())
		}

	case tea.WindowSizeMsg:
		headerHeight := lipgloss.Height(m.headerView())
		footerHeight := lipgloss.Height(m.footerView())
		verticalMarginHeight := headerHeight + footerHeight

		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-verticalMarginHeight)
			m.viewport.YPosition = headerHeight
			m.viewport.SetContent(m.contentView())
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - verticalMarginHeight
		}

	case *fanout.Message:
		m = m.apply(msg)
		m.viewport.SetContent(m.contentView())
		m.viewport.GotoBottom()
		cmds = append(cmds, waitForMessage(m.messages, m.done))

	case closedMsg:
		m.closed = true
		m.err = msg.err
		m.viewport.SetContent(m.contentView())
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m model) apply(msg *fanout.Message) model {
	speaker := msg.Participant
	if msg.Type == fanout.TypeCaption {
		if _, ok := m.interim[speaker]; !ok {
			m.speakers = append(m.speakers, speaker)
		}
		m.interim[speaker] = msg.Original
		m.logEntries = append(m.logEntries, fmt.Sprintf("TMP %s %q", speaker, msg.Original))
		return m
	}

	m.committed = append(m.committed, msg)
	if _, ok := m.interim[speaker]; ok {
		delete(m.interim, speaker)
		for i, s := range m.speakers {
			if s == speaker {
				m.speakers = append(m.speakers[:i], m.speakers[i+1:]...)
				break
			}
		}
	}
	m.logEntries = append(m.logEntries, fmt.Sprintf("FIN #%d %s %.2fs+%.2fs %q", msg.Seq, msg.Type, msg.Offset, msg.Duration, msg.Translated))
	return m
}

func (m model) View() string {
	if !m.ready {
		return "\n  Connecting..."
	}
	return fmt.Sprintf(
		"%s\n%s\n%s",
		m.headerView(),
		m.viewport.View(),
		m.footerView(),
	)
}

func (m model) headerView() string {
	title := barStyle.Render(fmt.Sprintf("Live captions (%s)", strings.ToUpper(m.lang)))
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(title)))
	return lipgloss.JoinHorizontal(lipgloss.Center, title, line)
}

func (m model) footerView() string {
	text := "Press q to quit, Tab to switch views"
	if m.closed {
		text = "Disconnected. Press q to quit"
	}
	info := barStyle.Render(text)
	line := strings.Repeat("─", max(0, m.viewport.Width-lipgloss.Width(info)))
	return lipgloss.JoinHorizontal(lipgloss.Center, line, info)
}

func (m model) contentView() string {
	if m.showLog {
		return m.logView()
	}
	return m.captionView()
}

// captionView shows committed lines in sequence order, then whatever
// each speaker is saying right now.
func (m model) captionView() string {
	var b strings.Builder
	for _, c := range m.committed {
		style := translatedStyle
		if c.Untranslated {
			style = untranslatedStyle
		}
		b.WriteString(speakerStyle.Render(c.Participant))
		b.WriteString(": ")
		b.WriteString(style.Render(c.Translated))
		if c.SynthesisFailed {
			b.WriteString(originalStyle.Render(" (text only)"))
		}
		b.WriteString("\n")
		if c.Original != "" && c.Original != c.Translated {
			b.WriteString(originalStyle.Render("  " + c.Original))
			b.WriteString("\n")
		}
	}
	for _, speaker := range m.speakers {
		b.WriteString(interimStyle.Render(speaker + ": " + m.interim[speaker] + "…"))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(untranslatedStyle.Render("connection lost: " + m.err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}

func (m model) logView() string {
	var content strings.Builder
	for _, entry := range m.logEntries {
		content.WriteString(entry)
		content.WriteString("\n")
	}
	return content.String()
}
