package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"text/tabwriter"
	"time"

	"juxction/core"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the session reconciler and the local API",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		return a.serve(cmd.Context(), nil)
	},
}

var loginTimeout time.Duration

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in through the browser",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		ctx, cancel := context.WithTimeout(cmd.Context(), loginTimeout)
		defer cancel()

		signedIn := make(chan *core.User, 1)
		ready := func(ctx context.Context) error {
			a.reconciler.Wait()
			if u := a.state.Current(); u != nil {
				signedIn <- u
				return nil
			}

			updates, stopWatch := a.state.Watch()
			url, err := a.reconciler.Login(ctx)
			if err != nil {
				if url == "" {
					stopWatch()
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Open this URL to sign in:\n  %s\n", url)
			}
			go func() {
				defer stopWatch()
				for {
					select {
					case u := <-updates:
						if u != nil {
							signedIn <- u
							return
						}
					case <-ctx.Done():
						return
					}
				}
			}()
			return nil
		}

		serveCtx, stopServe := context.WithCancel(ctx)
		defer stopServe()
		errCh := make(chan error, 1)
		go func() { errCh <- a.serve(serveCtx, ready) }()

		select {
		case u := <-signedIn:
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", u.DisplayName())
			stopServe()
			return <-errCh
		case err := <-errCh:
			if err == nil {
				err = ctx.Err()
			}
			return err
		}
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and forget the cached profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.start(cmd.Context()); err != nil {
			return err
		}
		if err := a.reconciler.Logout(cmd.Context()); err != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "Signed out locally; remote sign-out failed:", err)
			return nil
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the signed-in user",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.start(cmd.Context()); err != nil {
			return err
		}
		user := a.state.Current()
		if user == nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
			return nil
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(user)
	},
}

var libraryCmd = &cobra.Command{
	Use:   "library",
	Short: "List installed Steam games",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		games, err := a.library.Scan(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "APP ID\tNAME\tINSTALLED")
		for _, g := range games {
			fmt.Fprintf(w, "%s\t%s\t%t\n", g.AppID, g.Name, g.Installed)
		}
		return w.Flush()
	},
}

var launchCmd = &cobra.Command{
	Use:   "launch <app-id>",
	Short: "Launch a Steam game",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		return a.library.Launch(cmd.Context(), args[0])
	},
}

var linkSteamCmd = &cobra.Command{
	Use:   "link-steam <steam-id>",
	Short: "Link a Steam account to the signed-in user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.close()

		session, err := a.auth.GetSession(cmd.Context())
		if err != nil {
			return err
		}
		if session == nil {
			return core.ErrNoSession
		}
		if err := a.linked.LinkSteam(cmd.Context(), session, args[0]); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Steam account linked")
		return nil
	},
}

func init() {
	loginCmd.Flags().DurationVar(&loginTimeout, "timeout", 5*time.Minute, "how long to wait for the browser sign-in")
}

// serve runs the reconciler, the token refresh loop and the local API until
// ctx is done. ready, when set, runs once the listener is accepting.
func (a *app) serve(ctx context.Context, ready func(context.Context) error) error {
	if err := a.reconciler.Start(ctx); err != nil {
		return err
	}

	ln, err := net.Listen("tcp", a.cfg.Core.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.cfg.Core.Listen, err)
	}
	srv := &http.Server{
		Handler:           a.server().Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.auth.Run(gCtx)
	})

	g.Go(func() error {
		a.log.Info("local api listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if ready != nil {
		g.Go(func() error {
			return ready(gCtx)
		})
	}

	err = g.Wait()
	a.reconciler.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	a.log.Info("stopped")
	return nil
}
