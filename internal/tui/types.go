package tui

import (
	"github.com/charmbracelet/bubbles/key"

	"github.com/fentz26/presencesim/internal/controlplane"
	"github.com/fentz26/presencesim/internal/models"
)

// snapshot is everything one refresh fetches.
type snapshot struct {
	status   controlplane.StatusResponse
	upcoming []models.PlannedAction
	history  []models.ActionRecord
}

type snapshotMsg struct {
	snap snapshot
}

type daemonStatusMsg struct {
	online bool
}

type actionDoneMsg struct {
	message string
}

type tickMsg struct{}

type errMsg struct {
	err error
}

type keyMap struct {
	Start   key.Binding
	Stop    key.Binding
	Step    key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Quit    key.Binding
}

func defaultKeyMap() keyMap {
	return keyMap{
		Start:   key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start")),
		Stop:    key.NewBinding(key.WithKeys("x"), key.WithHelp("x", "stop")),
		Step:    key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "step")),
		Refresh: key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "scroll")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "scroll")),
		Quit:    key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

func (k keyMap) help() []key.Binding {
	return []key.Binding{k.Start, k.Stop, k.Step, k.Refresh, k.Up, k.Quit}
}
