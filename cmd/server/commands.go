package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/brandon/mailcore/internal/mcp"
	mailsync "github.com/brandon/mailcore/internal/sync"
	"github.com/brandon/mailcore/internal/tools"
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the tool server on stdin/stdout",
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Set up signal handling for graceful shutdown
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.WithField("accounts", a.config.AccountNames()).Info("Starting mailcore server")

			registry := tools.NewRegistry(a.config, a.orchestrator, a.store, a.logger)
			server := mcp.NewServer(a.config, registry, version, a.logger)

			// Run server in a goroutine; stdin reads do not observe ctx
			errChan := make(chan error, 1)
			go func() {
				errChan <- server.Run(ctx)
			}()

			select {
			case <-ctx.Done():
				a.logger.Info("Received shutdown signal")
			case err := <-errChan:
				if err != nil {
					a.logger.WithError(err).Error("Server error")
					return err
				}
			}

			a.logger.Info("Shutting down mailcore server")
			return nil
		},
	}
}

func newSyncCommand(configPath *string) *cobra.Command {
	var (
		account    string
		folder     string
		limit      int
		since      string
		unreadOnly bool
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Sync one folder into the local cache",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.account(account)
			if err != nil {
				return err
			}

			opts := mailsync.SyncOptions{Limit: limit, UnreadOnly: unreadOnly}
			if since != "" {
				if opts.Since, err = time.Parse("2006-01-02", since); err != nil {
					return fmt.Errorf("invalid --since: %w", err)
				}
			}

			res, err := a.orchestrator.SyncFolder(ctx, acct, folder, opts)
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Account name (default account if empty)")
	cmd.Flags().StringVarP(&folder, "folder", "f", "inbox", "Folder id or provider mailbox name")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum messages to fetch (config default if 0)")
	cmd.Flags().StringVar(&since, "since", "", "Only messages after this date (YYYY-MM-DD)")
	cmd.Flags().BoolVar(&unreadOnly, "unread", false, "Only unread messages")
	return cmd
}

func newFoldersCommand(configPath *string) *cobra.Command {
	var (
		account string
		refresh bool
	)

	cmd := &cobra.Command{
		Use:   "folders",
		Short: "List folders, optionally refreshing them from the server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			acct, err := a.account(account)
			if err != nil {
				return err
			}

			list := a.orchestrator.Folders
			if refresh {
				list = a.orchestrator.SyncFolders
			}
			records, err := list(ctx, acct)
			if err != nil {
				return err
			}
			return printJSON(records)
		},
	}

	cmd.Flags().StringVarP(&account, "account", "a", "", "Account name (default account if empty)")
	cmd.Flags().BoolVar(&refresh, "refresh", false, "Fetch the folder list from the server first")
	return cmd
}

func newAuthCommand(configPath *string) *cobra.Command {
	var account string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage OAuth2 credentials",
	}
	cmd.PersistentFlags().StringVarP(&account, "account", "a", "", "Account name (default account if empty)")

	withAccount := func(cmd *cobra.Command, fn func(ctx context.Context, a *app, acct mailsync.Account) error) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, *configPath)
		if err != nil {
			return err
		}
		defer a.Close()

		acct, err := a.account(account)
		if err != nil {
			return err
		}
		if !acct.OAuth {
			return fmt.Errorf("account %s does not use oauth2", acct.ID)
		}
		return fn(ctx, a, acct)
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "url",
			Short: "Print the provider consent URL",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withAccount(cmd, func(_ context.Context, a *app, acct mailsync.Account) error {
					url, state, err := a.credentials.AuthURL(acct.Provider, acct.Email)
					if err != nil {
						return err
					}
					return printJSON(map[string]string{"url": url, "state": state})
				})
			},
		},
		&cobra.Command{
			Use:   "code <code> [state]",
			Short: "Exchange an authorization code and store the credential",
			Args:  cobra.RangeArgs(1, 2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withAccount(cmd, func(ctx context.Context, a *app, acct mailsync.Account) error {
					if len(args) == 2 {
						if err := a.credentials.ValidateState(args[1], acct.Email); err != nil {
							return err
						}
					}
					cred, err := a.credentials.ExchangeCode(ctx, acct.ID, acct.Provider, args[0])
					if err != nil {
						return err
					}
					if err := a.credentials.Register(ctx, acct.ID, cred); err != nil {
						return err
					}
					a.logger.WithField("account", acct.ID).Info("Stored credential")
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "forget",
			Short: "Delete the stored credential and cached mail of an account",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withAccount(cmd, func(ctx context.Context, a *app, acct mailsync.Account) error {
					if err := a.credentials.Forget(ctx, acct.ID); err != nil {
						return err
					}
					a.orchestrator.Forget(acct.ID)
					return a.store.ForgetAccount(ctx, acct.ID)
				})
			},
		},
	)
	return cmd
}
