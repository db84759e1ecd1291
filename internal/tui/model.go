package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/koscakluka/ema-relay/core/transcript"
	"github.com/muesli/reflow/wordwrap"
)

const (
	inputHeight  = 1
	defaultWidth = 80
)

// TranscriptUpdated asks the view to re-render the transcript.
type TranscriptUpdated struct{}

// SessionEnded stops the program. Err is shown if set.
type SessionEnded struct {
	Err error
}

type textSent struct {
	err error
}

// Model renders the conversation held by an assembler above a text input.
type Model struct {
	assembler *transcript.Assembler
	send      func(text string) error

	viewport viewport.Model
	input    textinput.Model
	width    int
	err      error
}

func New(assembler *transcript.Assembler, send func(text string) error) Model {
	input := textinput.New()
	input.Placeholder = "Type a message or just talk"
	input.Prompt = "> "
	input.Focus()

	return Model{
		assembler: assembler,
		send:      send,
		viewport:  viewport.New(defaultWidth, 20),
		input:     input,
		width:     defaultWidth,
	}
}

func (m Model) Init() tea.Cmd {
	return textinput.Blink
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.viewport.Width = msg.Width
		m.viewport.Height = max(msg.Height-inputHeight-1, 1)
		m.input.Width = max(msg.Width-len(m.input.Prompt)-1, 1)
		m.refresh()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			return m, tea.Quit
		case tea.KeyEnter:
			text := strings.TrimSpace(m.input.Value())
			m.input.Reset()
			if text == "" || m.send == nil {
				return m, nil
			}
			// send reports back through the program, so it must not run
			// inside Update
			send := m.send
			return m, func() tea.Msg { return textSent{err: send(text)} }
		}

	case textSent:
		if msg.err != nil {
			m.err = msg.err
		}
		m.refresh()
		return m, nil

	case TranscriptUpdated:
		m.refresh()
		return m, nil

	case SessionEnded:
		m.err = msg.Err
		m.refresh()
		return m, tea.Quit
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	cmds = append(cmds, cmd)
	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)

	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	return m.viewport.View() + "\n" + m.input.View()
}

func (m *Model) refresh() {
	m.viewport.SetContent(Render(m.assembler.Snapshot(), m.width, m.err))
	m.viewport.GotoBottom()
}

// Render lays out messages for a terminal of the given width.
func Render(messages []transcript.Message, width int, err error) string {
	if width <= 0 {
		width = defaultWidth
	}

	var b strings.Builder
	for _, message := range messages {
		content := wordwrap.String(message.Content, width)
		switch {
		case message.Role == transcript.RoleStatus:
			content = statusStyle.Render(content)
		case message.Phase == transcript.PhasePending:
			content = pendingStyle.Render(content)
		}

		if l := label(message.Role); l != "" {
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString(content)
		b.WriteString("\n\n")
	}

	if err != nil {
		b.WriteString(errorStyle.Render(wordwrap.String("Error: "+err.Error(), width)))
		b.WriteString("\n")
	}

	return b.String()
}
