package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/muesli/reflow/wordwrap"

	orchestration "github.com/brightboard/tutor-core/core"
	"github.com/brightboard/tutor-core/core/audio/miniaudio"
	"github.com/brightboard/tutor-core/core/audio/portaudio"
	"github.com/brightboard/tutor-core/core/events"
	"github.com/brightboard/tutor-core/core/transport"
)

var (
	questionStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	answerStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	toolStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Italic(true)
	canvasStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	faintStyle    = lipgloss.NewStyle().Faint(true)
)

func runApp(ctx context.Context, serverURL, session, audioBackend string) error {
	if session == "" {
		session = uuid.NewString()
	}

	client, err := transport.Dial(ctx, serverURL)
	if err != nil {
		return err
	}
	defer client.Close()

	queue, closePlayer, err := buildPlayback(audioBackend)
	if err != nil {
		return err
	}
	if closePlayer != nil {
		defer closePlayer()
	}

	updates := make(chan tea.Msg, 64)
	go consumeTurns(ctx, client, queue, updates)

	model := newAppModel(client, queue, session, updates)
	_, err = tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen()).Run()
	return err
}

func buildPlayback(backend string) (*orchestration.PlaybackQueue, func() error, error) {
	switch backend {
	case "miniaudio":
		player, err := miniaudio.NewPlayer()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up miniaudio playback: %w", err)
		}
		return orchestration.NewPlaybackQueue(player), player.Close, nil
	case "portaudio":
		player, err := portaudio.NewPlayer(1024)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up portaudio playback: %w", err)
		}
		return orchestration.NewPlaybackQueue(player), player.Close, nil
	case "off", "":
		return nil, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown audio backend %q", backend)
}

// consumeTurns runs one stream consumer per turn for the lifetime of the
// connection, translating events into UI messages.
func consumeTurns(ctx context.Context, client *transport.StreamClient, queue *orchestration.PlaybackQueue, updates chan<- tea.Msg) {
	for {
		opts := []orchestration.ConsumerOption{
			orchestration.OnMetadata(func(e events.Metadata) { updates <- metadataMsg(e) }),
			orchestration.OnText(func(e events.TextChunk) { updates <- textMsg(e) }),
			orchestration.OnToolStart(func(e events.ToolStart) { updates <- toolStartMsg(e) }),
			orchestration.OnToolComplete(func(e events.ToolComplete) { updates <- toolCompleteMsg(e) }),
			orchestration.OnCanvasObject(func(e events.CanvasObject) { updates <- canvasMsg(e) }),
			orchestration.OnBrainSelected(func(e events.BrainSelected) { updates <- brainMsg(e) }),
		}
		if queue != nil {
			opts = append(opts, orchestration.WithPlaybackQueue(queue))
		}

		outcome, err := orchestration.NewConsumer(opts...).Run(ctx, client)
		updates <- turnDoneMsg{outcome: outcome, err: err}
		if err != nil {
			return
		}
	}
}

type (
	metadataMsg     events.Metadata
	textMsg         events.TextChunk
	toolStartMsg    events.ToolStart
	toolCompleteMsg events.ToolComplete
	canvasMsg       events.CanvasObject
	brainMsg        events.BrainSelected
	turnDoneMsg     struct {
		outcome *orchestration.TurnOutcome
		err     error
	}
)

// maxCarriedExchanges caps how much prior conversation each new question
// carries to the server.
const maxCarriedExchanges = 6

type appModel struct {
	client  *transport.StreamClient
	queue   *orchestration.PlaybackQueue
	session string
	updates <-chan tea.Msg

	input   textinput.Model
	spin    spinner.Model
	lines   []string
	busy    bool
	turnID  string
	width   int
	failure error

	asked     string
	exchanges []orchestration.Exchange
}

func newAppModel(client *transport.StreamClient, queue *orchestration.PlaybackQueue, session string, updates <-chan tea.Msg) appModel {
	input := textinput.New()
	input.Placeholder = "Ask a question..."
	input.Focus()

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	return appModel{
		client:  client,
		queue:   queue,
		session: session,
		updates: updates,
		input:   input,
		spin:    spin,
		width:   80,
	}
}

// ask submits the question, carrying the session's prior exchanges so the
// tutor builds on earlier answers.
func (m *appModel) ask(question string) error {
	m.asked = question
	if len(m.exchanges) == 0 {
		return m.client.Ask(m.session, question)
	}
	return m.client.AskWithContext(m.session, question, orchestration.ContextBundle{Exchanges: m.exchanges})
}

func (m appModel) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		return <-m.updates
	}
}

func (m appModel) Init() tea.Cmd {
	return tea.Batch(textinput.Blink, m.spin.Tick, m.waitForUpdate())
}

func (m appModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC:
			return m, tea.Quit
		case tea.KeyEsc:
			if m.busy && m.turnID != "" {
				m.client.Stop(m.turnID)
			}
			return m, nil
		case tea.KeyEnter:
			question := strings.TrimSpace(m.input.Value())
			if question == "" || m.busy {
				return m, nil
			}
			if err := m.ask(question); err != nil {
				m.failure = err
				return m, tea.Quit
			}
			m.lines = append(m.lines, questionStyle.Render("You: "+question))
			m.input.Reset()
			m.busy = true
			m.turnID = ""
			return m, nil
		}

	case metadataMsg:
		m.turnID = msg.TurnID
		return m, m.waitForUpdate()

	case textMsg:
		m.lines = append(m.lines, answerStyle.Render(msg.Text))
		return m, m.waitForUpdate()

	case brainMsg:
		m.lines = append(m.lines, faintStyle.Render(
			fmt.Sprintf("[%s answers, confidence %.2f]", msg.BrainName, msg.Confidence)))
		return m, m.waitForUpdate()

	case toolStartMsg:
		m.lines = append(m.lines, toolStyle.Render(
			fmt.Sprintf("⚙ %s (%s)...", msg.ToolName, msg.ServerID)))
		return m, m.waitForUpdate()

	case toolCompleteMsg:
		status := fmt.Sprintf("✓ %s finished in %.1fs", msg.ToolName, msg.Duration)
		if !msg.Success {
			status = fmt.Sprintf("✗ %s failed: %s", msg.ToolName, msg.Error)
		}
		m.lines = append(m.lines, toolStyle.Render(status))
		return m, m.waitForUpdate()

	case canvasMsg:
		m.lines = append(m.lines, canvasStyle.Render(
			fmt.Sprintf("▣ %s placed at (%.0f, %.0f)",
				msg.Object.Type, msg.Placement.Position.X, msg.Placement.Position.Y)))
		return m, m.waitForUpdate()

	case turnDoneMsg:
		m.busy = false
		if msg.outcome != nil {
			m.turnID = msg.outcome.TurnID
			m.lines = append(m.lines, faintStyle.Render("["+string(msg.outcome.Status)+"]"))
			if m.asked != "" && msg.outcome.Narration != "" {
				m.exchanges = append(m.exchanges, orchestration.Exchange{
					Question: m.asked,
					Answer:   msg.outcome.Narration,
				})
				if len(m.exchanges) > maxCarriedExchanges {
					m.exchanges = m.exchanges[len(m.exchanges)-maxCarriedExchanges:]
				}
			}
		}
		if msg.err != nil {
			m.failure = msg.err
			return m, tea.Quit
		}
		return m, m.waitForUpdate()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spin, cmd = m.spin.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m appModel) View() string {
	var b strings.Builder
	for _, line := range m.lines {
		b.WriteString(wordwrap.String(line, m.width))
		b.WriteString("\n")
	}
	if m.busy {
		b.WriteString(m.spin.View() + " thinking (esc to stop)\n")
	}
	b.WriteString("\n" + m.input.View() + "\n")
	if m.failure != nil {
		b.WriteString(errorStyle.Render(m.failure.Error()) + "\n")
	}
	return b.String()
}
