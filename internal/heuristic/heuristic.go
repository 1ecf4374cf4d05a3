package heuristic

import (
	"fmt"
	"strings"

	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

const (
	urlWeight    = 0.45
	phraseWeight = 0.25
	maxScore     = 0.95
)

// Rule maps URL fragments and visible phrases to a flow state.
type Rule struct {
	State   flow.State
	URLs    []string
	Phrases []string
}

// Interpreter guesses the flow state from the URL and visible text without
// calling a model. Rules earlier in the list win ties, so the more final
// states come first.
type Interpreter struct {
	rules []Rule
}

var defaultRules = []Rule{
	{
		State: flow.Complete,
		URLs:  []string{"/cancelled", "/canceled", "/complete", "/goodbye"},
		Phrases: []string{
			"cancellation is complete", "cancellation complete", "cancellation confirmed",
			"has been cancelled", "has been canceled", "sorry to see you go",
		},
	},
	{
		State: flow.AccountCancelled,
		URLs:  []string{"/restart", "/rejoin"},
		Phrases: []string{
			"restart membership", "restart your membership", "rejoin", "reactivate",
			"membership was cancelled", "membership was canceled", "no active subscription",
		},
	},
	{
		State: flow.ThirdPartyBilling,
		URLs:  []string{"/billed-externally", "/partner-billing"},
		Phrases: []string{
			"billed through", "billed by", "itunes", "app store", "google play",
			"through your provider", "via your carrier", "contact your provider",
		},
	},
	{
		State:   flow.LoginRequired,
		URLs:    []string{"/login", "/signin", "/sign-in", "/auth"},
		Phrases: []string{"sign in", "log in", "password", "email or phone number", "forgot password"},
	},
	{
		State: flow.FinalConfirmation,
		URLs:  []string{"/confirm"},
		Phrases: []string{
			"finish cancellation", "confirm cancellation", "complete cancellation",
			"are you sure", "yes, cancel", "cancel anyway",
		},
	},
	{
		State: flow.ExitSurvey,
		URLs:  []string{"/survey", "/feedback"},
		Phrases: []string{
			"why are you leaving", "reason for cancelling", "reason for canceling",
			"tell us why", "help us improve", "select a reason",
		},
	},
	{
		State: flow.RetentionOffer,
		URLs:  []string{"/offer", "/retention", "/retain"},
		Phrases: []string{
			"special offer", "discount", "before you go", "% off", "stay with us",
			"pause your membership", "no thanks",
		},
	},
	{
		State: flow.AccountActive,
		URLs:  []string{"/account", "/membership", "/subscription"},
		Phrases: []string{
			"cancel membership", "cancel subscription", "membership details",
			"next billing date", "manage subscription", "your plan",
		},
	},
}

// New returns an Interpreter with the built-in rules followed by extra.
func New(extra ...Rule) *Interpreter {
	rules := make([]Rule, 0, len(defaultRules)+len(extra))
	rules = append(rules, defaultRules...)
	return &Interpreter{rules: append(rules, extra...)}
}

// Interpret returns the best matching state, a confidence in [0,1] and a
// short reason. Nothing matched yields (UNKNOWN, 0).
func (h *Interpreter) Interpret(url, text string) (flow.State, float64, string) {
	u := strings.ToLower(url)
	t := normalize(text)

	best, bestScore, bestReason := flow.Unknown, 0.0, "no heuristic matched"
	for _, r := range h.rules {
		score, reason := r.score(u, t)
		if score > bestScore {
			best, bestScore, bestReason = r.State, score, reason
		}
	}
	return best, bestScore, bestReason
}

func (r Rule) score(url, text string) (float64, string) {
	var hits []string
	score := 0.0
	for _, frag := range r.URLs {
		if strings.Contains(url, frag) {
			score += urlWeight
			hits = append(hits, "url "+frag)
			break
		}
	}
	for _, p := range r.Phrases {
		if strings.Contains(text, p) {
			score += phraseWeight
			hits = append(hits, fmt.Sprintf("text %q", p))
		}
	}
	if score == 0 {
		return 0, ""
	}
	return min(score, maxScore), fmt.Sprintf("%s: %s", r.State, strings.Join(hits, ", "))
}

func normalize(s string) string {
	s = strings.ToLower(s)
	s = strings.NewReplacer("\u2019", "'", "\u00a0", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}
