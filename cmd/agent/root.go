package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/polzovatel/cancel-flow-agent/internal/agent"
	"github.com/polzovatel/cancel-flow-agent/internal/browser"
	"github.com/polzovatel/cancel-flow-agent/internal/config"
	"github.com/polzovatel/cancel-flow-agent/internal/flow"
	"github.com/polzovatel/cancel-flow-agent/internal/heuristic"
	"github.com/polzovatel/cancel-flow-agent/internal/llm"
	"github.com/polzovatel/cancel-flow-agent/internal/logging"
	"github.com/polzovatel/cancel-flow-agent/internal/planner"
	"github.com/polzovatel/cancel-flow-agent/internal/service"
)

const (
	exitOK = iota
	exitFailed
	exitNeedsHuman
)

// flagKeys maps CLI flags onto config keys.
var flagKeys = map[string]string{
	"service":       "service",
	"entry-url":     "entry_url",
	"mode":          "mode",
	"dry-run":       "dry_run",
	"max-steps":     "max_steps",
	"max-retries":   "max_retries",
	"headless":      "headless",
	"storage-state": "storage_state",
	"provider":      "provider",
	"log-level":     "log_level",
	"log-file":      "log_file",
}

func execute(args []string) int {
	code := exitOK
	root := newRootCmd(os.Stdin, os.Stdout, &code)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		if code == exitOK {
			code = exitFailed
		}
	}
	return code
}

func newRootCmd(in io.Reader, out io.Writer, code *int) *cobra.Command {
	v := viper.New()
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "cancel-agent",
		Short:         "Walks a subscription cancellation flow in a real browser",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			for flag, key := range flagKeys {
				if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
					return err
				}
			}
			cfg, err := config.Load(v, cfgFile)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, in, out, code)
		},
	}
	cmd.SetOut(out)

	f := cmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "config file (default ./agent.yaml)")
	f.String("service", "mock", "service to cancel ("+strings.Join(service.Names(), ", ")+")")
	f.String("entry-url", "", "override the service entry URL")
	f.String("mode", "adaptive", "adaptive or step")
	f.Bool("dry-run", false, "stop before the final cancellation click")
	f.Int("max-steps", 25, "maximum run steps")
	f.Int("max-retries", 3, "attempts per state in adaptive mode")
	f.Bool("headless", false, "run Chromium headless")
	f.String("storage-state", "", "Playwright storage state file to load and save")
	f.String("provider", "anthropic", "LLM provider: anthropic or openai")
	f.String("log-level", "info", "log level")
	f.String("log-file", "", "also write JSON logs to this rotating file")

	cmd.AddCommand(&cobra.Command{
		Use:   "services",
		Short: "List the built-in services",
		Run: func(cmd *cobra.Command, _ []string) {
			for _, name := range service.Names() {
				svc, _ := service.Lookup(name, "")
				fmt.Fprintf(cmd.OutOrStdout(), "%-10s %s\n", svc.Name, svc.EntryURL)
			}
		},
	})
	return cmd
}

func run(parent context.Context, cfg config.Config, in io.Reader, out io.Writer, code *int) error {
	logger, closeLog := logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer func() { _ = closeLog() }()

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := service.Lookup(cfg.Service, cfg.EntryURL)
	if err != nil {
		return err
	}
	client, err := llm.NewClient(cfg.Provider, logger)
	if err != nil {
		return fmt.Errorf("llm init: %w", err)
	}

	ctrl := browser.NewPlaywright(browser.Options{
		Headless:           cfg.Headless,
		StoragePath:        cfg.StorageState,
		ActionTimeout:      cfg.ActionTimeout,
		ScreenshotMaxWidth: cfg.ScreenshotMaxWidth,
	}, logger)

	a, err := agent.New(agent.Config{
		MaxSteps:           cfg.MaxSteps,
		MaxRetries:         cfg.MaxRetries,
		DryRun:             cfg.DryRun,
		Mode:               agent.Mode(cfg.Mode),
		HeuristicThreshold: cfg.HeuristicThreshold,
	}, ctrl,
		agent.WithPlanner(planner.New(client, logger)),
		agent.WithHeuristic(heuristic.New()),
		agent.WithService(svc),
		agent.WithInput(terminalPrompt(in, out)),
		agent.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	logger.Info().Str("service", svc.Name).Str("url", svc.EntryURL).Str("mode", cfg.Mode).Bool("dry_run", cfg.DryRun).Msg("starting")
	res, runErr := a.Run(ctx)
	printResult(out, res)
	*code = exitCode(res, runErr)
	return nil
}

func exitCode(res agent.Result, err error) int {
	var human *agent.HumanInterventionError
	switch {
	case errors.As(err, &human):
		return exitNeedsHuman
	case err != nil, res.State != flow.Complete:
		return exitFailed
	default:
		return exitOK
	}
}

func printResult(out io.Writer, res agent.Result) {
	fmt.Fprintf(out, "\n=== %s ===\n", res.State)
	if res.Message != "" {
		fmt.Fprintln(out, res.Message)
	}
	fmt.Fprintf(out, "run %s: %d steps in %s, %d actions, %d errors\n",
		res.RunID, res.Steps, res.Duration.Round(1e6), len(res.Actions), len(res.Errors))
}

type promptAnswer struct {
	text string
	err  error
}

// terminalPrompt reads checkpoint answers line by line from in. One reader
// goroutine owns in for the life of the prompt, so a prompt abandoned on
// cancellation leaves its line for the next one. The goroutine exits when in
// reports an error, EOF included.
func terminalPrompt(in io.Reader, out io.Writer) agent.InputFunc {
	var (
		once  sync.Once
		lines = make(chan promptAnswer)
	)
	read := func() {
		defer close(lines)
		reader := bufio.NewReader(in)
		for {
			text, err := reader.ReadString('\n')
			if errors.Is(err, io.EOF) && text != "" {
				lines <- promptAnswer{text: strings.TrimSpace(text)}
			}
			if err != nil {
				lines <- promptAnswer{err: err}
				return
			}
			lines <- promptAnswer{text: strings.TrimSpace(text)}
		}
	}
	return func(ctx context.Context, message string) (string, error) {
		fmt.Fprintf(out, "\n=== Input required ===\n%s\n> ", message)
		once.Do(func() { go read() })
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case a, ok := <-lines:
			if !ok {
				return "", io.EOF
			}
			return a.text, a.err
		}
	}
}
