package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
	"github.com/polzovatel/cancel-flow-agent/internal/llm"
	"github.com/polzovatel/cancel-flow-agent/internal/snapshot"
)

// ErrMalformedResponse is returned when the model's answer cannot be turned
// into a valid plan or state.
var ErrMalformedResponse = errors.New("malformed planner response")

const planPrompt = `You drive a web browser through a subscription cancellation flow.
CRITICAL RULES:
1. Respond with a SINGLE JSON object and NOTHING else.
2. Choose exactly one action: click, fill, select, wait or none.
3. Give a primary_target and up to 3 fallback_targets, each using a DIFFERENT method where possible.
4. Target methods: {"method":"css","css_selector":"..."}, {"method":"aria","aria_role":"button","aria_name":"..."},
   {"method":"text","text_content":"..."}, {"method":"coordinates","x":0,"y":0}.
5. Prefer selectors and names that appear in page.elements or page.accessibility_tree. Never invent ids.
6. fill and select need a non-empty value.
7. Never accept retention offers, discounts or plan downgrades. Decline them and keep cancelling.
8. expected_state is the flow state you expect after the action: one of ` + "%s" + `.

OUTPUT FORMAT:
{"action_type":"click","primary_target":{...},"fallback_targets":[...],"value":"","reasoning":"...","confidence":0.0,"expected_state":"..."}`

const detectPrompt = `You classify the current page of a subscription cancellation flow.
Respond with a SINGLE JSON object and NOTHING else:
{"state":"...","confidence":0.0,"reasoning":"..."}
state is one of ` + "%s" + `.`

// LLM is the planner backed by a language model.
type LLM struct {
	client llm.Client
	log    zerolog.Logger
}

func New(client llm.Client, log zerolog.Logger) *LLM {
	return &LLM{client: client, log: log.With().Str("comp", "planner").Logger()}
}

// PlanAction asks the model for the next action toward goal. errorContext,
// when not empty, describes earlier failures the plan must avoid.
func (p *LLM) PlanAction(ctx context.Context, sum snapshot.Summary, goal, errorContext string) (action.Plan, error) {
	payload := map[string]any{
		"goal": goal,
		"page": sum.ToMap(),
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return action.Plan{}, err
	}
	var msg strings.Builder
	fmt.Fprintf(&msg, "STATE:\n%s\n", raw)
	if errorContext != "" {
		fmt.Fprintf(&msg, "\nPREVIOUS FAILURES:\n%s\n", errorContext)
	}
	msg.WriteString("\nOUTPUT: strict JSON only, no text outside.")

	resp, err := p.client.Generate(ctx, llm.Request{
		System:      fmt.Sprintf(planPrompt, stateNames()),
		Messages:    []llm.Message{{Role: "user", Content: msg.String()}},
		Images:      screenshot(sum),
		Temperature: 0.0,
		MaxTokens:   600,
	})
	if err != nil {
		return action.Plan{}, fmt.Errorf("plan action: %w", err)
	}
	plan, err := parsePlan(resp.Text)
	if err != nil {
		p.log.Warn().Err(err).Str("raw", resp.Text).Msg("unusable plan")
		return action.Plan{}, err
	}
	p.log.Debug().Stringer("plan", plan).Float64("confidence", plan.Confidence()).Msg("planned")
	return plan, nil
}

// DetectState asks the model which flow state the page shows.
func (p *LLM) DetectState(ctx context.Context, sum snapshot.Summary) (flow.State, float64, string, error) {
	raw, err := json.Marshal(map[string]any{
		"url":          sum.URL,
		"visible_text": sum.VisibleText,
		"elements":     sum.Elements,
	})
	if err != nil {
		return flow.Unknown, 0, "", err
	}
	resp, err := p.client.Generate(ctx, llm.Request{
		System:      fmt.Sprintf(detectPrompt, stateNames()),
		Messages:    []llm.Message{{Role: "user", Content: "PAGE:\n" + string(raw)}},
		Images:      screenshot(sum),
		Temperature: 0.0,
		MaxTokens:   200,
	})
	if err != nil {
		return flow.Unknown, 0, "", fmt.Errorf("detect state: %w", err)
	}
	return parseState(resp.Text)
}

func parsePlan(text string) (action.Plan, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return action.Plan{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	var spec action.PlanSpec
	if err := json.Unmarshal([]byte(jsonStr), &spec); err != nil {
		return action.Plan{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	typ := action.Type(strings.ToLower(strings.TrimSpace(spec.ActionType)))
	if (typ == action.Wait || typ == action.None) && spec.PrimaryTarget.Method == "" {
		spec.PrimaryTarget = action.StrategySpec{Method: string(action.MethodCSS), CSSSelector: "body"}
	}
	plan, err := action.NewPlan(spec)
	if err != nil {
		return action.Plan{}, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	return plan, nil
}

func parseState(text string) (flow.State, float64, string, error) {
	jsonStr, err := extractJSON(text)
	if err != nil {
		return flow.Unknown, 0, "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	var parsed struct {
		State      string  `json:"state"`
		Confidence float64 `json:"confidence"`
		Reasoning  string  `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(jsonStr), &parsed); err != nil {
		return flow.Unknown, 0, "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	state, err := flow.Parse(parsed.State)
	if err != nil {
		return flow.Unknown, 0, "", fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}
	conf := min(max(parsed.Confidence, 0), 1)
	return state, conf, strings.TrimSpace(parsed.Reasoning), nil
}

// extractJSON returns the first balanced JSON object in text.
func extractJSON(text string) (string, error) {
	depth := 0
	start := -1
	inStr := false
	esc := false
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if esc {
			esc = false
			continue
		}
		switch ch {
		case '\\':
			if inStr {
				esc = true
			}
		case '"':
			if depth > 0 {
				inStr = !inStr
			}
		case '{':
			if !inStr {
				if depth == 0 {
					start = i
				}
				depth++
			}
		case '}':
			if !inStr && depth > 0 {
				depth--
				if depth == 0 && start != -1 {
					return text[start : i+1], nil
				}
			}
		}
	}
	return "", errors.New("json not found")
}

func screenshot(sum snapshot.Summary) []llm.Image {
	if len(sum.Screenshot) == 0 {
		return nil
	}
	return []llm.Image{{MediaType: "image/png", Data: sum.Screenshot}}
}

func stateNames() string {
	names := make([]string, 0, len(flow.All))
	for _, s := range flow.All {
		names = append(names, s.String())
	}
	return strings.Join(names, ", ")
}
