package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/textarea"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jwebster45206/conversation-engine/internal/dispatch"
	"github.com/jwebster45206/conversation-engine/internal/engine"
	"github.com/jwebster45206/conversation-engine/internal/services/chatlog"
	"github.com/jwebster45206/conversation-engine/internal/services/events"
	"github.com/jwebster45206/conversation-engine/pkg/scene"
)

const (
	PlaceHolderText = "Type /help for commands..."
	reconnectDelay  = 2 * time.Second
	refreshInterval = 2 * time.Second
)

// feedLine is one rendered entry of the scene feed. Speaker is empty for
// system notices.
type feedLine struct {
	Speaker string
	Text    string
	Source  string
	Earlier bool
	Notice  bool
	Error   bool
}

// ConsoleUI is the BubbleTea model that runs the UI.
// https://github.com/charmbracelet/bubbletea
type ConsoleUI struct {
	config       *ConsoleConfig
	client       *http.Client
	streamClient *http.Client
	feedViewport viewport.Model
	metaViewport viewport.Model
	textarea     textarea.Model
	ready        bool
	width        int
	height       int

	feed      []feedLine
	lastSpoke string
	status    *engine.Status
	stage     []dispatch.Presentation
	connected bool

	eventChan chan events.Event
	ctx       context.Context
	cancel    context.CancelFunc

	// Quit confirmation state
	showQuitModal bool
}

type eventMsg struct {
	event events.Event
}

type streamClosedMsg struct {
	err error
}

type reconnectMsg struct{}

type refreshTickMsg struct{}

type backlogMsg struct {
	entries []chatlog.Entry
	err     error
}

type statusMsg struct {
	status *engine.Status
	stage  []dispatch.Presentation
	err    error
}

// commandResultMsg carries the outcome of a slash command. lines are
// appended to the feed as notices.
type commandResultMsg struct {
	lines []string
	err   error
}

var (
	feedPanelStyle = lipgloss.NewStyle().
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

	speakerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("212")). // purple
			Bold(true)

	noticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("86")) // green

	earlierStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")).
			Italic(true)

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

func NewConsoleUI(cfg *ConsoleConfig, client, streamClient *http.Client) ConsoleUI {
	ta := textarea.New()
	ta.Placeholder = PlaceHolderText
	ta.Focus()
	ta.Prompt = promptStyle.Render(":: ")
	ta.CharLimit = 200
	ta.SetWidth(50)
	ta.SetHeight(1)
	ta.ShowLineNumbers = false

	feedVp := viewport.New(50, 20)
	feedVp.MouseWheelEnabled = true

	metaVp := viewport.New(20, 20)

	ctx, cancel := context.WithCancel(context.Background())

	return ConsoleUI{
		config:       cfg,
		client:       client,
		streamClient: streamClient,
		textarea:     ta,
		feedViewport: feedVp,
		metaViewport: metaVp,
		eventChan:    make(chan events.Event, 32),
		ctx:          ctx,
		cancel:       cancel,
	}
}

func (m ConsoleUI) Init() tea.Cmd {
	return tea.Batch(
		textarea.Blink,
		m.loadBacklog(),
		m.refreshStatus(),
		m.connect(),
		m.waitForEvent(),
		refreshTick(),
	)
}

// titleEvent turns "monitor.started" into "Monitor Started".
func titleEvent(t events.EventType) string {
	return cases.Title(language.English).String(strings.NewReplacer(".", " ", "_", " ").Replace(string(t)))
}

// describeEvent converts a scene event into a feed line.
func describeEvent(e events.Event) feedLine {
	if e.Type == events.EventTypeUtteranceDisplayed && e.Utterance != nil {
		name := e.Utterance.SpeakerName
		if name == "" {
			name = e.Utterance.SpeakerID
		}
		return feedLine{Speaker: name, Text: e.Utterance.Text, Source: e.Utterance.Source, Earlier: e.Replay}
	}

	text := titleEvent(e.Type)
	if paused, ok := e.Data["paused"].(bool); ok {
		if paused {
			text += ": dialogue paused"
		} else {
			text += ": dialogue resumed"
		}
	}
	return feedLine{Text: text, Notice: true}
}

func formatFeedLine(l feedLine, width int) string {
	if width < 10 {
		width = 10
	}
	switch {
	case l.Error:
		return errorStyle.Render(wordwrap.String("Error: "+l.Text, width))
	case l.Notice:
		return noticeStyle.Render(wordwrap.String("» "+l.Text, width))
	}

	prefix := l.Speaker + ": "
	body := wordwrap.String(prefix+l.Text, width)
	body = speakerStyle.Render(l.Speaker+":") + strings.TrimPrefix(body, l.Speaker+":")
	if l.Source != "" {
		body += " " + promptStyle.Render("["+l.Source+"]")
	}
	if l.Earlier {
		body = earlierStyle.Render("(earlier) ") + body
	}
	return body
}

// writeFeedContent rebuilds the feed for the current viewport width
func (m *ConsoleUI) writeFeedContent() {
	feedWidth := m.feedViewport.Width - 6 // Account for left(3) + right(3) padding

	var content strings.Builder
	content.WriteString(titleStyle.Render("CONVERSATION ENGINE") + "\n\n")
	content.WriteString("Watching scene dialogue. Lines appear as observers walk into range.\n\n")
	content.WriteString(separatorStyle.Render(strings.Repeat("─", max(feedWidth-6, 1))) + "\n\n")

	for _, l := range m.feed {
		content.WriteString(formatFeedLine(l, feedWidth) + "\n\n")
	}
	if !m.connected {
		content.WriteString(loadingStyle.Render("Connecting to event stream...") + "\n")
	}

	m.feedViewport.SetContent(content.String())
	m.feedViewport.GotoBottom()
}

func writeMetadata(status *engine.Status, stage []dispatch.Presentation, connected bool) string {
	var content strings.Builder
	content.WriteString(titleStyle.Render("MONITOR") + "\n\n")

	if status == nil {
		content.WriteString("Status:\nunknown\n\n")
	} else {
		state := "stopped"
		if status.Running {
			state = "running"
		}
		if status.Paused {
			state += " (paused)"
		}
		content.WriteString("Status:\n" + state + "\n\n")
		content.WriteString(fmt.Sprintf("Auras:\n%d\n\n", status.Auras))
		content.WriteString(fmt.Sprintf("Groups:\n%d\n\n", status.Groups))
		content.WriteString(fmt.Sprintf("Lines spoken:\n%d\n\n", status.Fires))
		content.WriteString(fmt.Sprintf("In flight:\n%d\n\n", status.InFlight))
	}

	stream := "disconnected"
	if connected {
		stream = "connected"
	}
	content.WriteString("Stream:\n" + stream + "\n\n")

	content.WriteString("On screen:\n")
	if len(stage) == 0 {
		content.WriteString("Nothing\n")
	}
	for _, p := range stage {
		name := p.SpeakerName
		if name == "" {
			name = p.SpeakerID
		}
		content.WriteString(fmt.Sprintf("• %s\n", name))
	}

	content.WriteString("\n")
	content.WriteString("Commands:\n")
	content.WriteString("• Ctrl+C: Quit\n")
	content.WriteString("• Ctrl+Y: Copy last line\n")
	content.WriteString("• /help: Help\n")

	return content.String()
}

func (m *ConsoleUI) layout() {
	feedWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - feedWidth - 6

	m.feedViewport.Width = feedWidth - 2
	m.feedViewport.Height = m.height - 6
	m.metaViewport.Width = metaWidth - 2
	m.metaViewport.Height = m.height - 4
	m.textarea.SetWidth(feedWidth - 4)
}

func (m *ConsoleUI) appendFeed(l feedLine) {
	m.feed = append(m.feed, l)
	if !l.Notice && !l.Error {
		m.lastSpoke = l.Speaker + ": " + l.Text
	}
	if m.ready {
		m.writeFeedContent()
	}
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
		m.feedViewport, vpCmd = m.feedViewport.Update(msg)
		m.metaViewport, mvCmd = m.metaViewport.Update(msg)
		return m, tea.Batch(vpCmd, mvCmd)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		m.ready = true
		m.writeFeedContent()
		m.metaViewport.SetContent(writeMetadata(m.status, m.stage, m.connected))

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			m.showQuitModal = true
			return m, nil
		case tea.KeyCtrlY:
			if m.lastSpoke == "" {
				return m, nil
			}
			if err := clipboard.WriteAll(m.lastSpoke); err != nil {
				m.appendFeed(feedLine{Text: "copy failed: " + err.Error(), Error: true})
			} else {
				m.appendFeed(feedLine{Text: "Copied last line to clipboard", Notice: true})
			}
			return m, nil
		case tea.KeyEnter:
			input := strings.TrimSpace(m.textarea.Value())
			m.textarea.Reset()
			if input == "" {
				return m, nil
			}
			return m.handleCommand(input)
		}

	case eventMsg:
		m.connected = true
		m.appendFeed(describeEvent(msg.event))
		return m, tea.Batch(m.waitForEvent(), m.refreshStatus())

	case streamClosedMsg:
		m.connected = false
		if msg.err != nil && m.ctx.Err() == nil {
			m.appendFeed(feedLine{Text: msg.err.Error(), Error: true})
		}
		m.metaViewport.SetContent(writeMetadata(m.status, m.stage, m.connected))
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		if m.ctx.Err() != nil {
			return m, nil
		}
		return m, m.connect()

	case backlogMsg:
		if msg.err != nil {
			m.appendFeed(feedLine{Text: "failed to load recent lines: " + msg.err.Error(), Error: true})
			return m, nil
		}
		backlog := make([]feedLine, 0, len(msg.entries))
		for _, e := range msg.entries {
			backlog = append(backlog, feedLine{Speaker: e.SpeakerName, Text: e.Text, Source: e.Source, Earlier: true})
		}
		m.feed = append(backlog, m.feed...)
		if m.ready {
			m.writeFeedContent()
		}

	case statusMsg:
		if msg.err == nil {
			m.status = msg.status
			m.stage = msg.stage
		}
		m.metaViewport.SetContent(writeMetadata(m.status, m.stage, m.connected))

	case refreshTickMsg:
		return m, tea.Batch(m.refreshStatus(), refreshTick())

	case commandResultMsg:
		if msg.err != nil {
			m.appendFeed(feedLine{Text: msg.err.Error(), Error: true})
		}
		for _, line := range msg.lines {
			m.appendFeed(feedLine{Text: line, Notice: true})
		}
		return m, m.refreshStatus()
	}

	m.textarea, tiCmd = m.textarea.Update(msg)
	m.feedViewport, vpCmd = m.feedViewport.Update(msg)
	m.metaViewport, mvCmd = m.metaViewport.Update(msg)

	return m, tea.Batch(tiCmd, vpCmd, mvCmd)
}

const helpText = `Commands:
• /start, /stop - Start or stop the dialogue monitor
• /pause, /resume - Toggle the global pause
• /reload - Rebuild auras from the scene
• /auras - List aura bindings
• /groups - List conversation groups
• /move <id> <x> <y> - Move an entity
• /clear - Clear the feed`

func (m ConsoleUI) handleCommand(input string) (tea.Model, tea.Cmd) {
	fields := strings.Fields(input)
	cmd := strings.ToLower(fields[0])

	switch cmd {
	case "/help":
		for _, line := range strings.Split(helpText, "\n") {
			m.appendFeed(feedLine{Text: line, Notice: true})
		}
		return m, nil
	case "/clear":
		m.feed = nil
		m.writeFeedContent()
		return m, nil
	case "/start", "/stop", "/pause", "/resume", "/reload":
		return m, m.runMonitor(strings.TrimPrefix(cmd, "/"))
	case "/auras":
		return m, m.describeAuras()
	case "/groups":
		return m, m.describeGroups()
	case "/move":
		if len(fields) != 4 {
			m.appendFeed(feedLine{Text: "usage: /move <id> <x> <y>", Error: true})
			return m, nil
		}
		x, errX := strconv.ParseFloat(fields[2], 64)
		y, errY := strconv.ParseFloat(fields[3], 64)
		if errX != nil || errY != nil {
			m.appendFeed(feedLine{Text: "coordinates must be numbers", Error: true})
			return m, nil
		}
		return m, m.move(fields[1], scene.Position{X: x, Y: y})
	}

	m.appendFeed(feedLine{Text: "unknown command " + cmd + ", try /help", Error: true})
	return m, nil
}

func (m ConsoleUI) connect() tea.Cmd {
	return func() tea.Msg {
		err := listenToSSE(m.ctx, m.streamClient, m.config.APIBaseURL, m.eventChan)
		return streamClosedMsg{err: err}
	}
}

func (m ConsoleUI) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case e := <-m.eventChan:
			return eventMsg{event: e}
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m ConsoleUI) loadBacklog() tea.Cmd {
	return func() tea.Msg {
		entries, err := getRecentLog(m.client, m.config.APIBaseURL, m.config.Backlog)
		return backlogMsg{entries: entries, err: err}
	}
}

func (m ConsoleUI) refreshStatus() tea.Cmd {
	return func() tea.Msg {
		status, err := getStatus(m.client, m.config.APIBaseURL)
		if err != nil {
			return statusMsg{err: err}
		}
		stage, err := getStage(m.client, m.config.APIBaseURL)
		return statusMsg{status: status, stage: stage, err: err}
	}
}

func (m ConsoleUI) runMonitor(action string) tea.Cmd {
	return func() tea.Msg {
		if err := postMonitor(m.client, m.config.APIBaseURL, action); err != nil {
			return commandResultMsg{err: err}
		}
		return commandResultMsg{lines: []string{"Monitor " + action + " done"}}
	}
}

func (m ConsoleUI) describeAuras() tea.Cmd {
	return func() tea.Msg {
		auras, err := listAuras(m.client, m.config.APIBaseURL)
		if err != nil {
			return commandResultMsg{err: err}
		}
		if len(auras) == 0 {
			return commandResultMsg{lines: []string{"No auras assigned"}}
		}
		lines := make([]string, 0, len(auras))
		for _, a := range auras {
			state := "on"
			if !a.Enabled {
				state = "off"
			}
			lines = append(lines, fmt.Sprintf("%s → %s, range %g, %s", a.EntityID, a.CorpusName, a.Range, state))
		}
		return commandResultMsg{lines: lines}
	}
}

func (m ConsoleUI) describeGroups() tea.Cmd {
	return func() tea.Msg {
		groups, err := listGroups(m.client, m.config.APIBaseURL)
		if err != nil {
			return commandResultMsg{err: err}
		}
		if len(groups) == 0 {
			return commandResultMsg{lines: []string{"No conversation groups"}}
		}
		lines := make([]string, 0, len(groups))
		for _, g := range groups {
			state := "on"
			if g.Enabled != nil && !*g.Enabled {
				state = "off"
			}
			lines = append(lines, fmt.Sprintf("%s (%s, %s): %s", g.Name, g.Mode, state, strings.Join(g.Members, ", ")))
		}
		return commandResultMsg{lines: lines}
	}
}

func (m ConsoleUI) move(entityID string, pos scene.Position) tea.Cmd {
	return func() tea.Msg {
		if err := moveEntity(m.client, m.config.APIBaseURL, entityID, pos); err != nil {
			return commandResultMsg{err: err}
		}
		return commandResultMsg{lines: []string{fmt.Sprintf("Moved %s to (%g, %g)", entityID, pos.X, pos.Y)}}
	}
}

func (m ConsoleUI) updateQuitModal(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc, tea.KeyEnter:
			m.cancel()
			return m, tea.Quit
		default:
			switch msg.String() {
			case "y", "Y":
				m.cancel()
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
	content.WriteString(modalTitleStyle.Render("Quit Console?"))
	content.WriteString("\n\n")
	content.WriteString("Dialogue keeps running on the host after you leave.")
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

	feedWidth := int(float64(m.width)*0.75) - 4
	metaWidth := m.width - feedWidth - 6

	feedPanel := feedPanelStyle.Width(feedWidth).Height(m.height - 3).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			m.feedViewport.View(),
			"",
			separatorStyle.Render(strings.Repeat("─", max(feedWidth-4, 1))),
			m.textarea.View(),
		),
	)

	metaPanel := metaPanelStyle.Width(metaWidth).Height(m.height - 2).Render(
		m.metaViewport.View(),
	)

	return lipgloss.JoinHorizontal(lipgloss.Top, feedPanel, metaPanel)
}

func refreshTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshTickMsg{}
	})
}
