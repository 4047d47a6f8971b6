package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/tomaslejdung/viewshare/pkg/app"
	"github.com/tomaslejdung/viewshare/pkg/protocol"
	"github.com/tomaslejdung/viewshare/pkg/settings"
	sig "github.com/tomaslejdung/viewshare/pkg/signal"
	"github.com/tomaslejdung/viewshare/pkg/viewport"
)

// moveStep is how far one arrow key press moves the image
const moveStep = 10.0

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12"))

	normalStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("7"))

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	statusStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	holderStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("10"))

	youStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("13"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	keyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("12")).
			Padding(0, 1)
)

// Messages
type tickMsg time.Time

type serverStoppedMsg struct {
	err error
}

// localUpdateMsg carries a message pushed to the dashboard's own peer
type localUpdateMsg struct {
	peer *sig.LocalPeer
	msg  protocol.Message
}

// Model
type model struct {
	app    *app.App
	ctx    context.Context
	status viewport.Status

	// Local viewer controlled from the keyboard, nil until joined
	local       *sig.LocalPeer
	localUpdate *viewport.Update

	lastError string
	width     int
	height    int
}

func initialModel(ctx context.Context, a *app.App) model {
	return model{
		app:    a,
		ctx:    ctx,
		status: a.Core.Status(),
	}
}

func (m model) Init() tea.Cmd {
	return tea.Batch(
		tickCmd(),
		tea.SetWindowTitle("viewshare"),
	)
}

func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// recvCmd waits for the next message to the local peer
func (m model) recvCmd(peer *sig.LocalPeer) tea.Cmd {
	return func() tea.Msg {
		msg, err := peer.Recv(m.ctx)
		if err != nil {
			return nil
		}
		return localUpdateMsg{peer: peer, msg: msg}
	}
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.status = m.app.Core.Status()
		return m, tickCmd()

	case localUpdateMsg:
		// Ignore stragglers from a peer that has since left.
		if m.local == nil || msg.peer != m.local {
			return m, nil
		}
		if update, ok := decodeUpdate(msg.msg); ok {
			m.localUpdate = &update
		}
		m.status = m.app.Core.Status()
		return m, m.recvCmd(m.local)

	case serverStoppedMsg:
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, tea.Quit
	}
	return m, nil
}

func (m model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		if m.local != nil {
			m.local.Close()
			m.local = nil
		}
		return m, tea.Quit

	case "j":
		if m.local != nil {
			return m, nil
		}
		peer, err := m.app.Transport.ConnectLocal()
		if err != nil {
			m.lastError = err.Error()
			return m, nil
		}
		m.local = peer
		m.lastError = ""
		m.status = m.app.Core.Status()
		return m, m.recvCmd(peer)

	case "l":
		if m.local != nil {
			m.local.Close()
			m.local = nil
			m.localUpdate = nil
			m.status = m.app.Core.Status()
		}
		return m, nil

	case "g":
		m.send(protocol.NewMessage(protocol.CmdGrab, m.status.Image.Position))
	case "u":
		m.send(protocol.NewMessage(protocol.CmdUngrab))
	case "r":
		m.send(protocol.NewMessage(protocol.CmdRequestUpdate))
	case "left", "h":
		m.send(protocol.NewMessage(protocol.CmdMove, protocol.Vector{X: -moveStep}))
	case "right":
		m.send(protocol.NewMessage(protocol.CmdMove, protocol.Vector{X: moveStep}))
	case "up", "k":
		m.send(protocol.NewMessage(protocol.CmdMove, protocol.Vector{Y: -moveStep}))
	case "down":
		m.send(protocol.NewMessage(protocol.CmdMove, protocol.Vector{Y: moveStep}))
	default:
		return m, nil
	}
	m.status = m.app.Core.Status()
	return m, nil
}

// send forwards a command from the local peer. Vectors go through the
// same generic map shape a wire peer would produce.
func (m *model) send(msg protocol.Message) {
	if m.local == nil {
		m.lastError = "press j to join as a viewer first"
		return
	}
	for i, arg := range msg.Args {
		if v, ok := arg.(protocol.Vector); ok {
			msg.Args[i] = map[string]any{"x": v.X, "y": v.Y}
		}
	}
	m.lastError = ""
	m.local.Send(msg)
}

func decodeUpdate(msg protocol.Message) (viewport.Update, bool) {
	if msg.Name != protocol.CmdUpdate {
		return viewport.Update{}, false
	}
	fields, ok := msg.Arg(0).(map[string]any)
	if !ok {
		return viewport.Update{}, false
	}
	num := func(key string) float64 {
		f, _ := fields[key].(float64)
		return f
	}
	digest, _ := fields["digest"].(string)
	grabbed, _ := fields["grabbed"].(bool)
	holder, _ := fields["holder"].(bool)
	return viewport.Update{
		Index:   int(num("index")),
		Version: uint64(num("version")),
		X:       num("x"),
		Y:       num("y"),
		Digest:  digest,
		Grabbed: grabbed,
		Holder:  holder,
	}, true
}

func (m model) View() string {
	var b strings.Builder
	s := m.status
	st := m.app.Settings()

	b.WriteString(titleStyle.Render("viewshare"))
	b.WriteString(dimStyle.Render("  listening on " + st.Listen))
	b.WriteString("\n\n")

	strategy := "lowest free"
	if s.Rotate {
		strategy = "round-robin"
	}
	b.WriteString(statusStyle.Render(fmt.Sprintf("Peers: %d   Slots: %d/%d (%s)   Waiting: %d",
		s.Peers, len(s.Slots), s.PoolSize, strategy, len(s.Waiting))))
	b.WriteString("\n\n")

	b.WriteString(boxStyle.Render(m.renderSlots()))
	b.WriteString("\n")
	b.WriteString(boxStyle.Render(m.renderImage()))
	b.WriteString("\n")

	if m.local != nil {
		line := "You: " + shortID(m.local.ID())
		if m.localUpdate != nil {
			line += fmt.Sprintf("  viewport %d  v%d", m.localUpdate.Index, m.localUpdate.Version)
			if m.localUpdate.Holder {
				line += "  (holding grab)"
			}
		} else {
			line += "  waiting for a viewport"
		}
		b.WriteString(youStyle.Render(line))
		b.WriteString("\n")
	}

	if m.lastError != "" {
		b.WriteString(errorStyle.Render("Error: " + m.lastError))
		b.WriteString("\n")
	}

	b.WriteString("\n")
	b.WriteString(renderHelp())
	return b.String()
}

func (m model) renderSlots() string {
	s := m.status
	owners := make(map[int]string, len(s.Slots))
	for _, a := range s.Slots {
		owners[a.Index] = a.PeerID
	}

	var lines []string
	lines = append(lines, titleStyle.Render("Viewports"))
	for i := 0; i < s.PoolSize; i++ {
		owner, taken := owners[i]
		if !taken {
			lines = append(lines, dimStyle.Render(fmt.Sprintf("  [%d] free", i)))
			continue
		}
		line := fmt.Sprintf("  [%d] %s", i, shortID(owner))
		switch {
		case owner == s.Holder:
			line = holderStyle.Render(line + "  ★ grab")
		case m.local != nil && owner == m.local.ID():
			line = youStyle.Render(line + "  (you)")
		default:
			line = normalStyle.Render(line)
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

func (m model) renderImage() string {
	img := m.status.Image
	digest := img.Digest
	if len(digest) > 16 {
		digest = digest[:16]
	}
	if digest == "" {
		digest = "none"
	}
	holder := "free"
	if m.status.Holder != "" {
		holder = shortID(m.status.Holder)
	}
	return strings.Join([]string{
		titleStyle.Render("Image"),
		normalStyle.Render(fmt.Sprintf("  version  %d", img.Version)),
		normalStyle.Render(fmt.Sprintf("  position (%.1f, %.1f)", img.Position.X, img.Position.Y)),
		normalStyle.Render(fmt.Sprintf("  content  %s (%d bytes)", digest, m.status.Bytes)),
		normalStyle.Render("  grab     " + holder),
	}, "\n")
}

func renderHelp() string {
	keys := []struct{ key, desc string }{
		{"j/l", "join/leave"},
		{"g/u", "grab/ungrab"},
		{"arrows", "move"},
		{"r", "resync"},
		{"q", "quit"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = keyStyle.Render(k.key) + helpStyle.Render(" "+k.desc)
	}
	return strings.Join(parts, helpStyle.Render(" • "))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// RunTUI serves peers with the dashboard in the foreground. Quitting the
// dashboard stops the server.
func RunTUI(ctx context.Context, s settings.Settings) error {
	// Write logs to file instead of corrupting TUI display
	var logger *slog.Logger
	logFile, err := os.Create("viewshare-debug.log")
	if err != nil {
		logger = discardLogger()
	} else {
		defer logFile.Close()
		logger = app.NewLogger(s.LogLevel, logFile)
		logger.Info("=== viewshare started ===", "at", time.Now().Format(time.RFC3339))
	}

	a, err := app.New(s, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(
		initialModel(ctx, a),
		tea.WithAltScreen(),
		tea.WithContext(ctx),
	)

	serverDone := make(chan error, 1)
	go func() {
		err := a.Run(ctx)
		serverDone <- err
		p.Send(serverStoppedMsg{err: err})
	}()

	_, runErr := p.Run()
	cancel()
	serverErr := <-serverDone
	if runErr != nil && runErr != tea.ErrProgramKilled {
		return runErr
	}
	return serverErr
}
