package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

var ErrUnknownService = errors.New("unknown service")

// Bundle names groups of candidate selectors, e.g. "cancel_button".
type Bundle map[string][]string

// Service describes one site the agent can cancel on.
type Service struct {
	Name      string
	EntryURL  string
	Selectors map[flow.State]Bundle
}

// Bundle returns the selectors known for state.
func (s Service) Bundle(state flow.State) Bundle {
	return s.Selectors[state]
}

// Hints renders the selector bundle for state as planner guidance. Empty when
// nothing is known.
func (s Service) Hints(state flow.State) string {
	b := s.Selectors[state]
	if len(b) == 0 {
		return ""
	}
	names := make([]string, 0, len(b))
	for name := range b {
		names = append(names, name)
	}
	sort.Strings(names)

	var sb strings.Builder
	fmt.Fprintf(&sb, "Known selectors on %s:", s.Name)
	for _, name := range names {
		fmt.Fprintf(&sb, "\n- %s: %s", name, strings.Join(b[name], ", "))
	}
	return sb.String()
}

var builtins = map[string]Service{
	"mock": {
		Name:     "mock",
		EntryURL: "http://localhost:8000/account",
		Selectors: map[flow.State]Bundle{
			flow.LoginRequired: {
				"email":    {"#email", "input[name='email']"},
				"password": {"#password", "input[type='password']"},
				"submit":   {"#login-button", "button[type='submit']"},
			},
			flow.AccountActive: {
				"cancel_button": {"#cancel-button", "[data-testid='cancel-membership']"},
			},
			flow.RetentionOffer: {
				"decline_offer": {"#decline-offer", "[data-testid='decline-offer']"},
			},
			flow.ExitSurvey: {
				"reason": {"input[name='reason']", "select#reason"},
				"submit": {"#survey-submit", "[data-testid='survey-continue']"},
			},
			flow.FinalConfirmation: {
				"confirm_button": {"#confirm-cancel", "[data-testid='finish-cancellation']"},
			},
		},
	},
	"netflix": {
		Name:     "netflix",
		EntryURL: "https://www.netflix.com/account",
		Selectors: map[flow.State]Bundle{
			flow.LoginRequired: {
				"email":    {"input[name='userLoginId']"},
				"password": {"input[name='password']"},
				"submit":   {"button[data-uia='login-submit-button']"},
			},
			flow.AccountActive: {
				"cancel_button": {"[data-uia='action-cancel-plan']", "a[href*='cancelplan']"},
			},
			flow.RetentionOffer: {
				"decline_offer": {"[data-uia='continue-cancel-btn']"},
			},
			flow.FinalConfirmation: {
				"confirm_button": {"[data-uia='action-finish-cancellation']"},
			},
		},
	},
}

// Names lists the built-in services.
func Names() []string {
	out := make([]string, 0, len(builtins))
	for n := range builtins {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Lookup returns the built-in service called name. A non-empty entryURL
// replaces the built-in entry point.
func Lookup(name, entryURL string) (Service, error) {
	svc, ok := builtins[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Service{}, fmt.Errorf("%w %q (known: %s)", ErrUnknownService, name, strings.Join(Names(), ", "))
	}
	if u := strings.TrimSpace(entryURL); u != "" {
		svc.EntryURL = u
	}
	return svc, nil
}
