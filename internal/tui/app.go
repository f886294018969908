// Package tui provides the interactive terminal dashboard for presencesim.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fentz26/presencesim/internal/models"
)

const (
	refreshInterval = 5 * time.Second
	upcomingCount   = 12
	historyCount    = 12
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	warningColor = lipgloss.Color("#F59E0B")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")
	cyanColor    = lipgloss.Color("#06B6D4")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	sectionStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(cyanColor)

	onlineStyle = lipgloss.NewStyle().
			Foreground(successColor).
			Bold(true)

	offlineStyle = lipgloss.NewStyle().
			Foreground(errorColor)

	mutedStyle = lipgloss.NewStyle().Foreground(mutedColor)
	onStyle    = lipgloss.NewStyle().Foreground(warningColor)
)

// App is the dashboard model.
type App struct {
	client       *Client
	keys         keyMap
	viewport     viewport.Model
	width        int
	height       int
	snap         *snapshot
	daemonOnline bool
	message      string
	now          func() time.Time
}

// New creates a new dashboard bound to the daemon at apiAddr.
func New(apiAddr string) *App {
	return &App{
		client:   NewClient(apiAddr),
		keys:     defaultKeyMap(),
		viewport: viewport.New(80, 20),
		now:      time.Now,
	}
}

// Run starts the TUI application.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.refresh(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, a.keys.Quit):
			return a, tea.Quit
		case key.Matches(msg, a.keys.Start):
			return a, a.start()
		case key.Matches(msg, a.keys.Stop):
			return a, a.stop()
		case key.Matches(msg, a.keys.Step):
			return a, a.step()
		case key.Matches(msg, a.keys.Refresh):
			return a, a.refresh()
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.viewport.Width = msg.Width
		a.viewport.Height = max(msg.Height-6, 3)
		a.viewport.SetContent(a.renderBody())

	case snapshotMsg:
		snap := msg.snap
		a.snap = &snap
		a.daemonOnline = true
		a.viewport.SetContent(a.renderBody())

	case daemonStatusMsg:
		a.daemonOnline = msg.online

	case actionDoneMsg:
		a.message = msg.message
		return a, a.refresh()

	case tickMsg:
		// The next tick is scheduled here so refreshes never pile up.
		return a, tea.Batch(a.refresh(), a.tickCmd())

	case errMsg:
		a.message = "Error: " + msg.err.Error()
	}

	var cmd tea.Cmd
	a.viewport, cmd = a.viewport.Update(msg)
	return a, cmd
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	daemonStatus := onlineStyle.Render("● DAEMON")
	if !a.daemonOnline {
		daemonStatus = offlineStyle.Render("○ DAEMON")
	}
	header := titleStyle.Render("presencesim") + "  " + daemonStatus
	if a.snap != nil {
		header += "  " + a.runLabel()
	}
	b.WriteString(header + "\n")
	b.WriteString(strings.Repeat("─", max(a.width, 1)) + "\n")

	b.WriteString(a.viewport.View())

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if strings.HasPrefix(a.message, "Error") {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString("\n" + msgStyle.Render(a.message))
	} else {
		b.WriteString("\n")
	}
	b.WriteString("\n")

	b.WriteString(statusBarStyle.Width(a.width).Render(a.helpLine()))
	return b.String()
}

func (a *App) runLabel() string {
	if a.snap.status.Running {
		return onlineStyle.Render("▶ RUNNING")
	}
	return mutedStyle.Render("■ STOPPED")
}

func (a *App) helpLine() string {
	parts := make([]string, 0, len(a.keys.help()))
	for _, k := range a.keys.help() {
		h := k.Help()
		parts = append(parts, h.Key+":"+h.Desc)
	}
	return " " + strings.Join(parts, " | ")
}

func (a *App) renderBody() string {
	if a.snap == nil {
		return "\n  Loading...\n"
	}

	var b strings.Builder
	st := a.snap.status

	b.WriteString(sectionStyle.Render("Status") + "\n")
	if st.StartedAt != nil {
		b.WriteString(fmt.Sprintf("  Started:       %s\n", st.StartedAt.Local().Format("2006-01-02 15:04")))
	}
	b.WriteString(fmt.Sprintf("  Window:        %s\n", st.Window))
	b.WriteString(fmt.Sprintf("  Entities:      %s\n", entityList(st.Entities)))
	b.WriteString(fmt.Sprintf("  Queued:        %d (%d min ahead)\n", st.Queued, st.MinutesAhead))
	if st.LastStep != nil {
		ls := st.LastStep
		line := fmt.Sprintf("  Last step:     %s  executed %d, failed %d, skipped %d",
			ls.Time.Local().Format("15:04"), len(ls.Executed), ls.Failed, ls.Skipped)
		if !ls.Dark && ls.DarkReason != "" {
			line += mutedStyle.Render("  (" + ls.DarkReason + ")")
		}
		b.WriteString(line + "\n")
	}

	b.WriteString("\n" + sectionStyle.Render("Upcoming") + "\n")
	if len(a.snap.upcoming) == 0 {
		b.WriteString(mutedStyle.Render("  Nothing planned") + "\n")
	}
	for _, p := range a.snap.upcoming {
		b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			p.Time.Local().Format("Mon 15:04"),
			actionLabel(p.Action),
			p.Entity,
			mutedStyle.Render(relative(p.Time, a.now()))))
	}

	b.WriteString("\n" + sectionStyle.Render("Recent") + "\n")
	if len(a.snap.history) == 0 {
		b.WriteString(mutedStyle.Render("  No actions executed yet") + "\n")
	}
	for _, r := range a.snap.history {
		b.WriteString(fmt.Sprintf("  %s  %s  %s  %s\n",
			r.Time.Local().Format("Mon 15:04"),
			actionLabel(r.Action),
			r.Entity,
			mutedStyle.Render(string(r.Source))))
	}
	return b.String()
}

func actionLabel(a models.ActionKind) string {
	if a == models.ActionTurnOn {
		return onStyle.Render("ON ")
	}
	return mutedStyle.Render("OFF")
}

func entityList(entities []string) string {
	if len(entities) == 0 {
		return mutedStyle.Render("none configured")
	}
	return strings.Join(entities, ", ")
}

func relative(t, now time.Time) string {
	d := t.Sub(now).Round(time.Minute)
	if d <= 0 {
		return "due"
	}
	if d < time.Hour {
		return fmt.Sprintf("in %dm", int(d.Minutes()))
	}
	return fmt.Sprintf("in %dh%02dm", int(d.Hours()), int(d.Minutes())%60)
}

// --- Commands ---

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (a *App) refresh() tea.Cmd {
	return func() tea.Msg {
		status, err := a.client.Status()
		if err != nil {
			if !a.client.Health() {
				return daemonStatusMsg{online: false}
			}
			return errMsg{err}
		}
		upcoming, err := a.client.Preview(upcomingCount)
		if err != nil {
			return errMsg{err}
		}
		history, err := a.client.History(historyCount)
		if err != nil {
			return errMsg{err}
		}
		return snapshotMsg{snap: snapshot{status: status, upcoming: upcoming, history: history}}
	}
}

func (a *App) start() tea.Cmd {
	return func() tea.Msg {
		if _, err := a.client.Start(); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{message: "✓ Simulation started"}
	}
}

func (a *App) stop() tea.Cmd {
	return func() tea.Msg {
		if _, err := a.client.Stop(); err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{message: "✓ Simulation stopped"}
	}
}

func (a *App) step() tea.Cmd {
	return func() tea.Msg {
		report, err := a.client.Step()
		if err != nil {
			return errMsg{err}
		}
		return actionDoneMsg{message: fmt.Sprintf("✓ Step: added %d, executed %d", report.Plan.Added, len(report.Executed))}
	}
}
