package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/licrm/internal/events"
)

// Sender is the part of *tea.Program a Sink needs.
type Sender interface {
	Send(msg tea.Msg)
}

// Sink forwards events to a running program. Send blocks until the program
// takes the message, so put a progress.Reporter in front of it.
type Sink struct {
	Program Sender
}

func (s Sink) Emit(e events.Event) {
	s.Program.Send(EventMsg(e))
}
