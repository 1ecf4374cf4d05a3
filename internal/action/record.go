package action

import "time"

// Record is one executed action in the agent history.
type Record struct {
	ActionType Type      `json:"action_type"`
	Target     string    `json:"target"`
	Success    bool      `json:"success"`
	Timestamp  time.Time `json:"timestamp"`
}

// ErrorRecord is one failure in the agent history.
type ErrorRecord struct {
	Type      string    `json:"error_type"`
	Message   string    `json:"message"`
	Strategy  string    `json:"strategy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
