package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/obsgrade/obsgrade/internal/governance"
	"github.com/obsgrade/obsgrade/pkg/captcha"
	"github.com/obsgrade/obsgrade/pkg/config"
	"github.com/obsgrade/obsgrade/pkg/domain"
	"github.com/obsgrade/obsgrade/pkg/prompt"
	"github.com/obsgrade/obsgrade/pkg/session"
)

func newLoginCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in to the portal",
		Long: `Sign in to the portal, retrying rejected or failed attempts with backoff.

Credentials come from --username/--password, then OBSGRADE_USERNAME and
OBSGRADE_PASSWORD, and are otherwise asked for interactively.`,
		Args: cobra.NoArgs,
		RunE: runLogin,
	}
	cmd.Flags().StringP("username", "u", "", "Portal username")
	cmd.Flags().StringP("password", "p", "", "Portal password")
	cmd.Flags().Int("attempts", 0, "Maximum login attempts (overrides session.retry.attempts)")
	cmd.Flags().Bool("no-open", false, "Do not open the challenge image in the system viewer")
	return cmd
}

func runLogin(cmd *cobra.Command, _ []string) error {
	a, err := newApp(cmd)
	if err != nil {
		return err
	}
	defer a.close(cmd.Context())

	if n, _ := cmd.Flags().GetInt("attempts"); n > 0 {
		a.cfg.Session.Retry.MaxAttempts = n
	}

	prompter := prompt.NewCliPrompter(cmd.InOrStdin(), cmd.ErrOrStderr())
	creds, err := readCredentials(cmd, prompter)
	if err != nil {
		return err
	}

	var viewer prompt.Viewer
	if noOpen, _ := cmd.Flags().GetBool("no-open"); !noOpen {
		viewer = newViewer()
	}
	indicator := prompt.NewSpinner(cmd.ErrOrStderr(), "Signing in")
	channel := prompt.NewHumanChannel(prompter, viewer, indicator, prompt.WithChannelLogger(a.logger))

	resolver := captcha.NewResolver(a.segmenter, a.classifier,
		captcha.WithLogger(a.logger),
		captcha.WithAutoSolvePause(a.cfg.Recognition.AutoSolvePause),
		captcha.WithObserver(a.metrics),
	)
	auth := session.NewAuthenticator(a.client, resolver,
		session.WithLogger(a.logger),
		session.WithTempDir(a.cfg.Session.TempDir),
		session.WithRecorder(a.metrics),
	)

	indicator.Start()
	res, err := loginLoop(cmd.Context(), a, auth, creds, channel)
	indicator.Stop()
	if captcha.IsFallbackFailure(err) {
		return fmt.Errorf("no captcha code was entered: %w", err)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s (captcha %s, %s)\n", creds.Username, res.Code.Code, res.Code.Source)
	return nil
}

// loginLoop retries rejected and failed attempts. A cancelled context or a
// failed fallback channel ends the loop at once.
func loginLoop(ctx context.Context, a *app, auth *session.Authenticator, creds domain.Credentials, fallback captcha.FallbackChannel) (session.Result, error) {
	policy := governance.NewRetryPolicy(a.cfg.Session.Retry)
	maxAttempts := policy.Config().MaxAttempts

	var last session.Result
	err := policy.Run(ctx,
		func(attempt int, wait time.Duration) {
			if attempt > 1 {
				a.metrics.RecordRetry()
			}
			a.events.LogAttempt(ctx, attempt, maxAttempts, wait)
		},
		func(ctx context.Context, _ int) (governance.Verdict, error) {
			res, err := auth.Login(ctx, creds, fallback)
			if err != nil {
				return governance.Abort, err
			}
			last = res
			switch {
			case res.OK():
				return governance.Done, nil
			case res.Outcome == domain.OutcomeRejected:
				return governance.Retry, domain.ErrRejected
			default:
				return governance.Retry, res.Cause
			}
		},
	)
	if err != nil {
		if ctx.Err() != nil {
			return session.Result{}, ctx.Err()
		}
		if errors.Is(err, governance.ErrMaxAttemptsExceeded) {
			return last, fmt.Errorf("login failed after %d attempts: %w", maxAttempts, err)
		}
		return session.Result{}, err
	}
	return last, nil
}

// readCredentials takes flags first, then the environment, then asks.
func readCredentials(cmd *cobra.Command, p *prompt.CliPrompter) (domain.Credentials, error) {
	username, _ := cmd.Flags().GetString("username")
	password, _ := cmd.Flags().GetString("password")
	if username == "" {
		username = os.Getenv(config.EnvPrefix + "USERNAME")
	}
	if password == "" {
		password = os.Getenv(config.EnvPrefix + "PASSWORD")
	}

	var err error
	if username == "" {
		if username, err = p.Ask(cmd.Context(), "Username"); err != nil {
			return domain.Credentials{}, err
		}
	}
	if password == "" {
		if password, err = p.AskSecret(cmd.Context(), "Password"); err != nil {
			return domain.Credentials{}, err
		}
	}

	creds := domain.Credentials{Username: username, Password: password}
	if !creds.Valid() {
		return domain.Credentials{}, domain.ErrInvalidCredentials
	}
	return creds, nil
}
