package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/urfave/cli/v2"

	"github.com/hpungsan/spr/internal/errors"
	"github.com/hpungsan/spr/internal/ops"
	"github.com/hpungsan/spr/internal/settings"
	"github.com/hpungsan/spr/internal/syncer"
	"github.com/hpungsan/spr/internal/web"
)

// newCLIApp creates the CLI application with all commands.
// rt may be nil when only help or version output is needed.
func newCLIApp(rt *runtime) *cli.App {
	app := &cli.App{
		Name:    "spr",
		Usage:   "Offline-first prompt journal and sync engine",
		Version: Version,
		Commands: []*cli.Command{
			captureCmd(rt),
			statusCmd(rt),
			recentCmd(rt),
			logsCmd(rt),
			settingsCmd(rt),
			syncCmd(rt),
			retryFailedCmd(rt),
			pollCmd(rt),
			runCmd(rt),
		},
	}
	// Disable default exit error handler to allow proper error return in tests
	app.ExitErrHandler = func(_ *cli.Context, _ error) {}
	return app
}

// captureCmd creates the capture command.
func captureCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "capture",
		Usage: "Capture a prompt (reads prompt text from stdin)",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "site", Aliases: []string{"s"}, Value: "cli", Usage: "Origin label"},
			&cli.StringFlag{Name: "url", Aliases: []string{"u"}, Usage: "Page URL"},
			&cli.StringFlag{Name: "conversation", Aliases: []string{"c"}, Usage: "Conversation id"},
			&cli.StringFlag{Name: "tags", Usage: "Comma-separated tags"},
		},
		Action: func(c *cli.Context) error {
			// Require stdin input
			if !stdinHasData() {
				return outputError(errors.NewInvalidRequest("prompt text must be piped via stdin"))
			}

			text, err := readStdin()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			output, err := rt.svc.SavePrompt(c.Context, ops.SavePromptInput{
				Site:           c.String("site"),
				PageURL:        c.String("url"),
				ConversationID: c.String("conversation"),
				PromptText:     text,
				Tags:           parseTags(c.String("tags")),
				Meta:           map[string]any{"submitMethod": "cli"},
			})
			if err != nil {
				return outputError(err)
			}

			return outputJSON(output)
		},
	}
}

// statusCmd creates the status command.
func statusCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show settings, queue counts and the last sync result",
		Action: func(c *cli.Context) error {
			output, err := rt.svc.GetStatus(c.Context)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// recentCmd creates the recent command.
func recentCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "recent",
		Usage: "List the most recently captured prompts, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Usage: "Max prompts (default from config)"},
			&cli.BoolFlag{Name: "summary", Usage: "Show previews instead of full text"},
		},
		Action: func(c *cli.Context) error {
			output, err := rt.svc.GetRecent(c.Context, ops.GetRecentInput{
				Limit:   c.Int("limit"),
				Summary: c.Bool("summary"),
			})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// logsCmd creates the logs command.
func logsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "logs",
		Usage: "Show the activity log, newest first",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "limit", Aliases: []string{"l"}, Value: 20, Usage: "Max entries"},
		},
		Action: func(c *cli.Context) error {
			output, err := rt.svc.GetLogs(c.Context, c.Int("limit"))
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// settingsCmd creates the settings command.
func settingsCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "settings",
		Usage: "Show settings, or change them with flags",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "server-url", Usage: "Server base URL including /api"},
			&cli.StringFlag{Name: "token", Usage: "Bearer token (empty clears it)"},
			&cli.BoolFlag{Name: "recording", Usage: "Capture prompts"},
			&cli.BoolFlag{Name: "auto-sync", Usage: "Queue and deliver captures automatically"},
		},
		Action: func(c *cli.Context) error {
			var u settings.Update
			if c.IsSet("server-url") {
				v := c.String("server-url")
				u.ServerURL = &v
			}
			if c.IsSet("token") {
				v := c.String("token")
				u.APIToken = &v
			}
			if c.IsSet("recording") {
				v := c.Bool("recording")
				u.Recording = &v
			}
			if c.IsSet("auto-sync") {
				v := c.Bool("auto-sync")
				u.AutoSync = &v
			}

			if u.Empty() {
				cur, err := rt.svc.GetStatus(c.Context)
				if err != nil {
					return outputError(err)
				}
				return outputJSON(map[string]any{
					"recording":   cur.Recording,
					"serverUrl":   cur.ServerURL,
					"apiTokenSet": cur.APITokenSet,
					"autoSync":    cur.AutoSync,
					"deviceId":    cur.DeviceID,
				})
			}

			output, err := rt.svc.SetSettings(c.Context, u)
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// syncCmd creates the sync command.
func syncCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Run a sync cycle now",
		Action: func(c *cli.Context) error {
			output, err := rt.svc.TriggerSync(c.Context, ops.TriggerSyncInput{Wait: true})
			if err != nil {
				return outputError(err)
			}
			return outputJSON(output)
		},
	}
}

// retryFailedCmd creates the retry-failed command.
func retryFailedCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "retry-failed",
		Usage: "Return failed and dead-lettered prompts to the queue",
		Action: func(c *cli.Context) error {
			output, err := rt.svc.RetryFailed(c.Context)
			if err != nil {
				return outputError(err)
			}
			// Run the retry in the foreground so the command reports delivery.
			if output.Triggered {
				rt.syncer.Wait()
			}
			return outputJSON(output)
		},
	}
}

// pollCmd creates the poll command.
func pollCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "poll",
		Usage: "Fetch and apply operator commands from the server",
		Action: func(c *cli.Context) error {
			output, err := rt.svc.PollCommands(c.Context)
			if err != nil {
				return outputError(err)
			}
			if output == nil {
				output = []syncer.CommandResult{}
			}
			rt.syncer.Wait()
			return outputJSON(output)
		},
	}
}

// runCmd creates the run command: the daemon with alarms and the local UI.
func runCmd(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run the sync daemon and the local dashboard",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bind", Value: "127.0.0.1", Usage: "UI bind address"},
			&cli.IntFlag{Name: "port", Aliases: []string{"p"}, Value: 8787, Usage: "UI port"},
			&cli.BoolFlag{Name: "no-ui", Usage: "Run alarms only"},
			&cli.StringSliceFlag{Name: "allow-origin", Usage: "Origin allowed to call the local RPC (repeatable; default browser extensions only)"},
		},
		Action: func(c *cli.Context) error {
			ctx := c.Context

			sched, err := rt.scheduler()
			if err != nil {
				return outputError(errors.NewInternal(err))
			}

			rt.logger.Info("SPR daemon started", "version", Version)
			rt.syncer.Trigger(syncer.ReasonStartup)

			var wg sync.WaitGroup
			errCh := make(chan error, 1)

			// Run returns only when ctx is done.
			wg.Add(1)
			go func() {
				defer wg.Done()
				_ = sched.Run(ctx)
			}()

			if !c.Bool("no-ui") {
				srv, err := web.NewServer(rt.svc, web.ServerOptions{
					Version:        Version,
					Bind:           c.String("bind"),
					Port:           c.Int("port"),
					Logger:         rt.logger,
					AllowedOrigins: c.StringSlice("allow-origin"),
				})
				if err != nil {
					return outputError(errors.NewInternal(err))
				}
				wg.Add(1)
				go func() {
					defer wg.Done()
					if err := web.Run(ctx, srv, rt.logger); err != nil {
						errCh <- fmt.Errorf("ui: %w", err)
					}
				}()
			}

			var runErr error
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}
			if runErr != nil {
				rt.logger.Error("daemon stopping", "err", runErr)
				return cli.Exit(runErr.Error(), 1)
			}
			wg.Wait()
			rt.logger.Info("SPR daemon stopped")
			return nil
		},
	}
}

// Helper functions

// outputJSON marshals result to stdout as JSON.
func outputJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputError formats error for CLI.
func outputError(err error) error {
	var sErr *errors.SPRError
	if stderrors.As(err, &sErr) {
		return cli.Exit(fmt.Sprintf("[%s] %s", sErr.Code, sErr.Message), 1)
	}
	return cli.Exit(err.Error(), 1)
}

// stdinHasData returns true if stdin has piped data (not a terminal).
func stdinHasData() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

// readStdin reads all content from stdin.
func readStdin() (string, error) {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// parseTags splits a comma-separated string into a slice of tags.
func parseTags(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
