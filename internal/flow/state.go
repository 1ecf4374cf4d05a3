package flow

import (
	"fmt"
	"strings"
)

// State is one stage of the cancellation wizard.
type State string

const (
	Start             State = "START"
	LoginRequired     State = "LOGIN_REQUIRED"
	AccountActive     State = "ACCOUNT_ACTIVE"
	AccountCancelled  State = "ACCOUNT_CANCELLED"
	ThirdPartyBilling State = "THIRD_PARTY_BILLING"
	RetentionOffer    State = "RETENTION_OFFER"
	ExitSurvey        State = "EXIT_SURVEY"
	FinalConfirmation State = "FINAL_CONFIRMATION"
	Complete          State = "COMPLETE"
	Aborted           State = "ABORTED"
	Failed            State = "FAILED"
	Unknown           State = "UNKNOWN"
)

// All lists every state in declaration order.
var All = []State{
	Start, LoginRequired, AccountActive, AccountCancelled, ThirdPartyBilling,
	RetentionOffer, ExitSurvey, FinalConfirmation, Complete, Aborted, Failed, Unknown,
}

// forward is the canonical wizard order used by the progression rule.
var forward = []State{AccountActive, RetentionOffer, ExitSurvey, FinalConfirmation, Complete}

func (s State) String() string { return string(s) }

// Valid reports whether s is one of the declared states.
func (s State) Valid() bool {
	for _, v := range All {
		if s == v {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the run loop stops at s.
func (s State) IsTerminal() bool {
	return s == Complete || s == Failed || s == Aborted
}

// IsCheckpoint reports whether s needs a human before the agent proceeds.
func (s State) IsCheckpoint() bool {
	return s == LoginRequired || s == FinalConfirmation
}

// Parse converts a planner or config string into a State. Matching ignores
// case and surrounding whitespace.
func Parse(raw string) (State, error) {
	s := State(strings.ToUpper(strings.TrimSpace(raw)))
	if !s.Valid() {
		return Unknown, fmt.Errorf("unknown flow state %q", raw)
	}
	return s, nil
}

func forwardIndex(s State) int {
	for i, v := range forward {
		if v == s {
			return i
		}
	}
	return -1
}

// IsValidProgression decides whether observing actual counts as progress when
// expected was the target. Skipping forward is fine, going back is not.
func IsValidProgression(expected, actual State) bool {
	if actual == expected {
		return true
	}
	if expected == Unknown {
		// exploratory step: anything but a dead end counts
		return actual != Failed && actual != Unknown
	}
	if actual == Complete || actual == AccountCancelled {
		return true
	}
	ei, ai := forwardIndex(expected), forwardIndex(actual)
	if ei < 0 || ai < 0 {
		return false
	}
	return ai >= ei
}
