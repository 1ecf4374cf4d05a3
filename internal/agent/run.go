package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/polzovatel/cancel-flow-agent/internal/action"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
)

const (
	confirmWord = "confirm"
	abortWord   = "abort"
)

// Result summarises one Run.
type Result struct {
	RunID    string
	State    flow.State
	Success  bool
	Message  string
	Steps    int
	Duration time.Duration
	Actions  []action.Record
	Errors   []action.ErrorRecord
}

// Run launches the browser, opens the service entry URL and advances the
// flow until a terminal state or MaxSteps. Every failure ends up in the
// Result as FAILED except a HumanInterventionError, which is also returned.
// The browser is closed on every path.
func (a *Agent) Run(ctx context.Context) (Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	log := a.log.With().Str("run", runID).Logger()

	defer func() {
		if err := a.browser.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn().Err(err).Msg("close browser")
		}
	}()

	a.state = flow.Start
	steps := 0
	message := ""
	result := func() Result {
		if message == "" && a.state == flow.Complete {
			message = "cancellation complete"
		}
		return Result{
			RunID:    runID,
			State:    a.state,
			Success:  a.state == flow.Complete,
			Message:  message,
			Steps:    steps,
			Duration: time.Since(start),
			Actions:  a.history.RunActions(),
			Errors:   a.history.RunErrors(),
		}
	}

	if err := a.open(ctx); err != nil {
		a.state, message = flow.Failed, err.Error()
		log.Error().Err(err).Msg("startup failed")
		return result(), nil
	}

	for !a.state.IsTerminal() {
		if err := ctx.Err(); err != nil {
			a.state, message = flow.Failed, err.Error()
			break
		}
		if steps >= a.cfg.MaxSteps {
			a.state, message = flow.Failed, "Max steps exceeded"
			break
		}

		log.Info().Int("step", steps+1).Str("state", string(a.state)).Msg("advancing")
		next, msg, err := a.safeAdvance(ctx, a.state, log)
		steps++

		var human *HumanInterventionError
		if errors.As(err, &human) {
			message = human.Error()
			log.Warn().Str("state", string(human.State)).Msg(human.Reason)
			return result(), err
		}
		if err != nil {
			a.state, message = flow.Failed, err.Error()
			log.Error().Err(err).Msg("step failed")
			break
		}
		if msg != "" {
			message = msg
		}
		if next != flow.Unknown && next != a.state {
			log.Info().Str("from", string(a.state)).Str("to", string(next)).Msg("transition")
			a.state = next
		}
	}

	res := result()
	log.Info().Str("state", string(res.State)).Int("steps", res.Steps).Dur("took", res.Duration).Msg(res.Message)
	return res, nil
}

func (a *Agent) open(ctx context.Context) error {
	if err := a.browser.Launch(ctx); err != nil {
		return fmt.Errorf("launch browser: %w", err)
	}
	if a.svc != nil && a.svc.EntryURL != "" {
		if err := a.browser.Navigate(ctx, a.svc.EntryURL); err != nil {
			return fmt.Errorf("open %s: %w", a.svc.EntryURL, err)
		}
	}
	return nil
}

// safeAdvance turns a panic inside one step into an error so the run fails
// cleanly instead of crashing.
func (a *Agent) safeAdvance(ctx context.Context, state flow.State, log zerolog.Logger) (next flow.State, msg string, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("recovered panic")
			next, msg, err = flow.Failed, "", fmt.Errorf("panic while handling %s: %v", state, r)
		}
	}()
	return a.advance(ctx, state)
}

func (a *Agent) advance(ctx context.Context, state flow.State) (flow.State, string, error) {
	switch state {
	case flow.LoginRequired:
		return a.login(ctx)
	case flow.FinalConfirmation:
		return a.confirm(ctx)
	case flow.AccountCancelled:
		return flow.Complete, "account already cancelled", nil
	case flow.ThirdPartyBilling:
		return flow.Aborted, "subscription is billed by a third party; cancel it with the billing provider", nil
	}

	if a.cfg.Mode == ModeStep {
		next, err := a.Step(ctx, state)
		return next, "", err
	}
	if state == flow.Start {
		if next, err := a.locate(ctx); err != nil || next != flow.Unknown {
			return next, "", err
		}
	}
	next, err := a.HandleState(ctx, state)
	return next, "", err
}

// locate classifies the current page without acting. UNKNOWN and START both
// mean the page is not recognised.
func (a *Agent) locate(ctx context.Context) (flow.State, error) {
	sum, err := a.Perceive(ctx)
	if err != nil {
		return flow.Unknown, err
	}
	state, _, _ := a.detectState(ctx, sum)
	if state == flow.Start {
		return flow.Unknown, nil
	}
	return state, nil
}

func (a *Agent) login(ctx context.Context) (flow.State, string, error) {
	if a.input == nil {
		return flow.LoginRequired, "", &HumanInterventionError{State: flow.LoginRequired, Reason: "login required and no input callback is configured"}
	}
	answer, err := a.input(ctx, "Log in to the service in the browser window, then press Enter (type 'abort' to stop).")
	if err != nil {
		return flow.Failed, "", fmt.Errorf("login checkpoint: %w", err)
	}
	if strings.EqualFold(strings.TrimSpace(answer), abortWord) {
		return flow.Aborted, "aborted by user at login", nil
	}
	next, err := a.locate(ctx)
	if err != nil {
		return flow.Unknown, "", err
	}
	if next == flow.Unknown {
		// unrecognised page after login: explore from scratch
		return flow.Start, "", nil
	}
	return next, "", nil
}

func (a *Agent) confirm(ctx context.Context) (flow.State, string, error) {
	if a.cfg.DryRun {
		return flow.Complete, "dry run: stopped before the final cancellation click", nil
	}
	if a.input == nil {
		return flow.FinalConfirmation, "", &HumanInterventionError{State: flow.FinalConfirmation, Reason: "final confirmation needs a human and no input callback is configured"}
	}
	answer, err := a.input(ctx, fmt.Sprintf("About to finish the cancellation. Type %q to proceed, anything else aborts.", confirmWord))
	if err != nil {
		return flow.Failed, "", fmt.Errorf("final confirmation checkpoint: %w", err)
	}
	if answer != confirmWord {
		return flow.Aborted, "cancellation not confirmed by user", nil
	}
	next, err := a.HandleState(ctx, flow.FinalConfirmation)
	if err != nil {
		return flow.Failed, "", err
	}
	if next == flow.Complete || next == flow.AccountCancelled {
		return flow.Complete, "", nil
	}
	return flow.Failed, "final confirmation did not complete the cancellation", nil
}
