package agent

import (
	"sync"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
)

// History is the agent's append-only action and error log. The session view
// is reset by Clear at the start of each state; the run view is never reset
// and backs the final Result.
type History struct {
	mu         sync.Mutex
	actions    []action.Record
	errors     []action.ErrorRecord
	runActions []action.Record
	runErrors  []action.ErrorRecord
}

func NewHistory() *History {
	return &History{}
}

func (h *History) AddAction(r action.Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = append(h.actions, r)
	h.runActions = append(h.runActions, r)
}

func (h *History) AddError(r action.ErrorRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errors = append(h.errors, r)
	h.runErrors = append(h.runErrors, r)
}

// Actions returns a copy of the session actions.
func (h *History) Actions() []action.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]action.Record(nil), h.actions...)
}

// Errors returns a copy of the session errors.
func (h *History) Errors() []action.ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]action.ErrorRecord(nil), h.errors...)
}

// RunActions returns a copy of every action recorded since construction.
func (h *History) RunActions() []action.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]action.Record(nil), h.runActions...)
}

func (h *History) RunErrors() []action.ErrorRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]action.ErrorRecord(nil), h.runErrors...)
}

// Clear starts a new session.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.actions = nil
	h.errors = nil
}
