package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/Dicklesworthstone/licrm/internal/config"
	"github.com/Dicklesworthstone/licrm/internal/drain"
	"github.com/Dicklesworthstone/licrm/internal/events"
	"github.com/Dicklesworthstone/licrm/internal/logging"
	"github.com/Dicklesworthstone/licrm/internal/output"
	"github.com/Dicklesworthstone/licrm/internal/progress"
	"github.com/Dicklesworthstone/licrm/internal/steam"
	"github.com/Dicklesworthstone/licrm/internal/tui"
	"github.com/Dicklesworthstone/licrm/internal/webhook"
)

// steamClient is what run and scan need from the Steam client.
type steamClient interface {
	drain.Transport
	pageFetcher
}

// Overridden in tests.
var (
	newSteamClient = func(c steam.Config) steamClient { return steam.NewClient(c) }
	sessionPrompt  = terminalPrompt
)

func newRunCmd() *cobra.Command {
	var (
		src         sourceFlags
		sessionID   string
		outputMode  string
		maxAttempts int
		cooldown    time.Duration
		retryDelay  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run [ids...]",
		Short: "Remove licenses until the queue is empty",
		Long: `Remove every given license, one request at a time.

Ids are taken from the arguments, --ids-file, a saved licenses page
(--page) and the live licenses page (--fetch), in that order. The last
id collected is removed first.

When Steam answers with its throttle code the run pauses for the
cooldown and then resumes. Failed requests are retried after the retry
delay; with --max-attempts a license is abandoned after that many
consecutive failures.`,
		Example: `  licrm run 123456 654321
  licrm run --page licenses.html --output tui
  LICRM_SESSION_ID=... licrm run --fetch --max-attempts 5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			policy := cfg.DrainPolicy()
			flags := cmd.Flags()
			if flags.Changed("max-attempts") {
				if maxAttempts < 0 {
					return fmt.Errorf("--max-attempts must not be negative")
				}
				policy.Retry.MaxAttempts = maxAttempts
			}
			if flags.Changed("cooldown") {
				if cooldown <= 0 {
					return fmt.Errorf("--cooldown must be positive")
				}
				policy.Cooldown = cooldown
			}
			if flags.Changed("retry-delay") {
				if retryDelay <= 0 {
					return fmt.Errorf("--retry-delay must be positive")
				}
				policy.Retry.Delay = retryDelay
				if policy.Retry.MaxDelay < retryDelay {
					policy.Retry.MaxDelay = retryDelay
				}
			}

			mode := cfg.Output.Format
			if flags.Changed("output") {
				mode = outputMode
			}
			if !slices.Contains(config.OutputFormats, mode) {
				return fmt.Errorf("--output must be one of %s, got %q", strings.Join(config.OutputFormats, ", "), mode)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cred, err := resolveSession(sessionID, cfg.Steam.SessionID, sessionPrompt(cmd.ErrOrStderr()))
			if err != nil {
				return err
			}

			client := newSteamClient(cfg.SteamClientConfig())
			ids, err := collectIDs(ctx, args, src, client, cred)
			if err != nil {
				return err
			}
			slog.Debug("collected license ids", "count", len(ids), "source", src.describe(args))

			return runDrain(ctx, cmd, ids, mode, drain.Options{
				Transport:  client,
				Credential: cred,
				Policy:     policy,
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&src.idsFile, "ids-file", "", "file with one license id per line")
	f.StringVar(&src.page, "page", "", "saved HTML of store.steampowered.com/account/licenses")
	f.BoolVar(&src.fetch, "fetch", false, "fetch the licenses page with the session cookies")
	f.StringVar(&sessionID, "session-id", "", "Steam sessionid cookie (default from config or LICRM_SESSION_ID)")
	f.StringVarP(&outputMode, "output", "o", "text", "progress output: "+strings.Join(config.OutputFormats, ", "))
	f.IntVar(&maxAttempts, "max-attempts", 0, "abandon a license after this many failed attempts (0 = never)")
	f.DurationVar(&cooldown, "cooldown", 0, "pause after a throttle response (default from config, 10m)")
	f.DurationVar(&retryDelay, "retry-delay", 0, "pause between attempts (default from config, 2s)")
	return cmd
}

// fanout owns one reporter per sink so a slow sink never delays another.
type fanout struct {
	size      int
	reporters []*progress.Reporter
}

func (f *fanout) add(s events.Sink) {
	f.reporters = append(f.reporters, progress.NewReporter(f.size, s))
}

func (f *fanout) sink() events.Sink {
	sinks := make([]events.Sink, len(f.reporters))
	for i, r := range f.reporters {
		sinks[i] = r
	}
	return events.Multi(sinks...)
}

func (f *fanout) close() {
	for _, r := range f.reporters {
		r.Close()
	}
}

// runDrain wires sinks around a loop over ids and reports the outcome.
func runDrain(ctx context.Context, cmd *cobra.Command, ids []string, mode string, opts drain.Options) error {
	out := cmd.OutOrStdout()
	fan := &fanout{size: cfg.Output.BufferSize}

	if cfg.Webhook.URL != "" {
		hook, err := webhook.New(webhook.Config{
			URL:     cfg.Webhook.URL,
			Format:  cfg.Webhook.Format,
			Kinds:   cfg.Webhook.Kinds,
			Timeout: cfg.Webhook.Timeout.Duration,
		})
		if err != nil {
			return err
		}
		fan.add(hook)
	}

	if mode == "tui" {
		return runTUI(ctx, cmd, ids, opts, fan)
	}

	switch mode {
	case "json":
		fan.add(progress.NewJSONSink(out))
	case "log":
		fan.add(progress.LogSink{Logger: slog.Default()})
	default:
		fan.add(progress.NewTextSink(out, colorEnabled(cfg.Output.Color, out)))
	}

	opts.Sink = fan.sink()
	loop, err := drain.New(ids, opts)
	if err != nil {
		fan.close()
		return err
	}

	summary, runErr := loop.Run(ctx)
	fan.close()

	format := output.FormatText
	if mode == "json" {
		format = output.FormatJSON
	}
	if err := formatter(cmd, format).Output(summaryResponse(loop, summary, runErr)); err != nil {
		return err
	}
	if runErr != nil {
		return fmt.Errorf("interrupted with %d licenses pending: %w", len(summary.Pending), runErr)
	}
	return nil
}

func runTUI(ctx context.Context, cmd *cobra.Command, ids []string, opts drain.Options, fan *fanout) error {
	// The view owns the terminal; keep logs to the file only.
	_ = closeLog()
	closer, err := logging.Setup(logConfig(cfg, true, io.Discard))
	if err != nil {
		return err
	}
	logCloser = closer

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := tui.New(len(ids), cancel)
	program := tea.NewProgram(model, tea.WithContext(ctx), tea.WithOutput(cmd.OutOrStdout()))
	fan.add(tui.Sink{Program: program})

	opts.Sink = fan.sink()
	loop, err := drain.New(ids, opts)
	if err != nil {
		fan.close()
		return err
	}

	type result struct {
		summary drain.Summary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := loop.Run(ctx)
		done <- result{s, err}
	}()

	_, progErr := program.Run()
	if !model.Done() {
		cancel()
	}
	res := <-done
	fan.close()

	if progErr != nil && !errors.Is(progErr, tea.ErrProgramKilled) {
		return fmt.Errorf("terminal ui: %w", progErr)
	}
	if err := formatter(cmd, output.FormatText).Output(summaryResponse(loop, res.summary, res.err)); err != nil {
		return err
	}
	if res.err != nil && !model.Canceled() {
		return fmt.Errorf("interrupted with %d licenses pending: %w", len(res.summary.Pending), res.err)
	}
	return nil
}

func summaryResponse(loop *drain.Loop, s drain.Summary, runErr error) output.RunSummaryResponse {
	outcome := "drained"
	if runErr != nil {
		outcome = "canceled"
	}
	elapsed := time.Duration(0)
	if !s.FinishedAt.IsZero() {
		elapsed = s.FinishedAt.Sub(s.StartedAt).Round(time.Second)
	}
	return output.RunSummaryResponse{
		TimestampedResponse: output.NewTimestamped(),
		Outcome:             outcome,
		Total:               s.Total,
		Removed:             s.Removed,
		Pending:             s.Pending,
		Abandoned:           s.Abandoned,
		Dispatches:          s.Dispatches,
		Throttles:           s.Throttles,
		Retries:             s.Retries,
		Elapsed:             elapsed.String(),
		OverallRate:         loop.Snapshot().OverallRate,
	}
}
