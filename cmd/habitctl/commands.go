package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jrsteele09/go-habit-client/internal/config"
	"github.com/jrsteele09/go-habit-client/internal/utils"
	"github.com/jrsteele09/go-habit-client/session"
	"github.com/jrsteele09/go-habit-client/social"
	"github.com/spf13/cobra"
)

const loginTimeout = 5 * time.Minute

func newRootCommand(cfg config.Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "habitctl",
		Short:         "Command line client for the habit tracker API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLoginCommand(cfg),
		newLogoutCommand(cfg),
		newMeCommand(cfg),
		newStatusCommand(cfg),
		newGetCommand(cfg),
	)
	return root
}

// withApp runs fn with a wired app and a context cancelled on SIGINT/SIGTERM.
func withApp(cfg config.Config, fn func(ctx context.Context, a *app) error) error {
	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx, a)
}

func newLoginCommand(cfg config.Config) *cobra.Command {
	var (
		accessToken string
		idToken     string
	)
	cmd := &cobra.Command{
		Use:   "login <provider>",
		Short: "Sign in with KAKAO, GOOGLE, APPLE or NAVER",
		Long: "Sign in with a social provider. Without --access-token or --id-token the\n" +
			"provider's authorization page is opened and the redirect is received locally.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := session.ParseProvider(args[0])
			if err != nil {
				return err
			}
			displayAppname(cfg.GetAppName())

			return withApp(cfg, func(ctx context.Context, a *app) error {
				cred := session.Credential{Provider: provider, AccessToken: accessToken, IDToken: idToken}
				if accessToken == "" && idToken == "" {
					c, err := browserCredential(ctx, cfg, provider, cmd.OutOrStdout())
					if err != nil {
						return err
					}
					cred = *c
				}

				profile, err := a.session.Login(ctx, cred)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Logged in as %s (#%d)\n", profile.Nickname, profile.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&accessToken, "access-token", "", "provider access token obtained elsewhere")
	cmd.Flags().StringVar(&idToken, "id-token", "", "provider id_token obtained elsewhere")
	return cmd
}

func browserCredential(ctx context.Context, cfg config.Config, provider session.Provider, out io.Writer) (*session.Credential, error) {
	flow, err := social.NewFlow(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, loginTimeout)
	defer cancel()

	return flow.Loopback(ctx, provider, cfg.GetOAuthCallbackAddr(), cfg.GetOAuthRedirectURL(), func(authURL string) error {
		_, err := fmt.Fprintf(out, "Open this URL to continue:\n\n  %s\n\n", authURL)
		return err
	})
}

func newLogoutCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and forget stored credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cfg, func(ctx context.Context, a *app) error {
				if err := a.session.Logout(ctx); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Logged out")
				return nil
			})
		},
	}
}

func newMeCommand(cfg config.Config) *cobra.Command {
	var (
		nickname string
		imageURL string
	)
	cmd := &cobra.Command{
		Use:   "me",
		Short: "Show or edit the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cfg, func(ctx context.Context, a *app) error {
				var (
					profile *session.Profile
					err     error
				)
				update := session.ProfileUpdate{}
				if cmd.Flags().Changed("nickname") {
					update.Nickname = utils.Ptr(nickname)
				}
				if cmd.Flags().Changed("image-url") {
					update.ProfileImageURL = utils.Ptr(imageURL)
				}

				if update.Nickname != nil || update.ProfileImageURL != nil {
					profile, err = a.session.UpdateProfile(ctx, update)
				} else {
					profile, err = a.session.ReloadMe(ctx)
				}
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), profile)
			})
		},
	}
	cmd.Flags().StringVar(&nickname, "nickname", "", "new nickname")
	cmd.Flags().StringVar(&imageURL, "image-url", "", "new profile image URL")
	return cmd
}

func newStatusCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show whether a session is active",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(cfg, func(ctx context.Context, a *app) error {
				if err := a.session.Restore(ctx); err != nil {
					return err
				}
				snap := a.session.Snapshot()
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Server:  %s\n", cfg.GetBaseURL())
				fmt.Fprintf(out, "Status:  %s\n", snap.Status)
				if snap.IsLoggedIn() {
					fmt.Fprintf(out, "Member:  %s (#%d, %s)\n", snap.Profile.Nickname, snap.Profile.ID, snap.Profile.Provider)
				}
				if !snap.TokenExpiresAt.IsZero() {
					fmt.Fprintf(out, "Expires: %s\n", snap.TokenExpiresAt.Local().Format(time.RFC1123))
				}
				return nil
			})
		},
	}
}

func newGetCommand(cfg config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET an API path with the current session, e.g. /api/routines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cfg, func(ctx context.Context, a *app) error {
				var body json.RawMessage
				if err := a.client.JSON(ctx, http.MethodGet, args[0], nil, &body); err != nil {
					return err
				}
				if len(body) == 0 {
					return nil
				}
				return printJSON(cmd.OutOrStdout(), body)
			})
		},
	}
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
