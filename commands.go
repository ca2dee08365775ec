package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/gluk-w/claworc/sftpsync/internal/app"
	"github.com/gluk-w/claworc/sftpsync/internal/credentials"
	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/sshkeys"
	"github.com/gluk-w/claworc/sftpsync/internal/transfer"
	"github.com/gluk-w/claworc/sftpsync/internal/transferlog"
)

// describe turns err into its user-facing message.
func describe(err error) error {
	if err == nil {
		return nil
	}
	return errors.New(transfer.Describe(err))
}

// withApp opens the app, runs fn and closes the app.
func withApp(fn func(a *app.App) error) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}

// withServer is withApp for commands whose first argument is a server name.
func withServer(name string, fn func(a *app.App, srv remote.Server) error) error {
	return withApp(func(a *app.App) error {
		srv, err := a.Server(name)
		if err != nil {
			return err
		}
		return fn(a, srv)
	})
}

func newPreconnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "preconnect",
		Short: "Connect to every configured server and report the outcome",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()

				out := cmd.OutOrStdout()
				failed := 0
				for _, res := range a.Manager.PreConnectAll(ctx, a.Servers) {
					if res.Success {
						fmt.Fprintf(out, "ok      %s\n", res.Server.Label())
						continue
					}
					failed++
					fmt.Fprintf(out, "failed  %s: %s\n", res.Server.Label(), transfer.Describe(res.Err))
				}
				if failed > 0 {
					return fmt.Errorf("%d of %d servers failed to connect", failed, len(a.Servers))
				}
				return nil
			})
		},
	}
}

func newHostsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hosts",
		Short: "List trusted host keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				entries := a.Trust.ListEntries()
				out := cmd.OutOrStdout()
				if len(entries) == 0 {
					fmt.Fprintln(out, "no trusted hosts")
					return nil
				}
				tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "HOST\tPORT\tFINGERPRINT\tSOURCE\tTRUSTED")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n", e.Host, e.Port, e.Fingerprint, e.Source, e.TrustedAt.Format(time.RFC3339))
				}
				return tw.Flush()
			})
		},
	}
}

func newTrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "trust <server>",
		Short: "Connect to a server and trust the host key it presents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(args[0], func(a *app.App, srv remote.Server) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				fp, err := a.Manager.TrustHostKeyNow(ctx, srv)
				if err != nil {
					return describe(err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "trusted %s %s\n", remote.HostPort(srv.Host, srv.EffectivePort()), fp)
				return nil
			})
		},
	}
}

func newUntrustCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "untrust <host> [port]",
		Short: "Forget the trusted host key of a host",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			port := remote.DefaultPort
			if len(args) == 2 {
				p, err := strconv.Atoi(args[1])
				if err != nil || p < 1 || p > 65535 {
					return fmt.Errorf("invalid port %q", args[1])
				}
				port = p
			}
			return withApp(func(a *app.App) error {
				removed, err := a.Trust.RemoveTrust(args[0], port)
				if err != nil {
					return err
				}
				if !removed {
					return fmt.Errorf("%s is not trusted", remote.HostPort(args[0], port))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", remote.HostPort(args[0], port))
				return nil
			})
		},
	}
}

func newMigrateCredentialsCmd() *cobra.Command {
	var overwrite bool
	cmd := &cobra.Command{
		Use:   "migrate-credentials",
		Short: "Move plaintext passwords and passphrases into encrypted storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				n, err := a.Credentials.MigrateAll(cmd.Context(), a.Servers, a.Settings.WorkspaceID,
					credentials.MigrateOptions{Overwrite: overwrite})
				fmt.Fprintf(cmd.OutOrStdout(), "migrated %d credential fields\n", n)
				return err
			})
		},
	}
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace values already in secret storage")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls <server> [path]",
		Short: "List a remote directory",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 2 {
				dir = args[1]
			}
			return withServer(args[0], func(a *app.App, srv remote.Server) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				listing := a.Transfers.List(ctx, srv, dir)
				if err := listing.Wait(ctx); err != nil {
					return describe(err)
				}
				return printEntries(cmd.OutOrStdout(), listing.Entries)
			})
		},
	}
}

func printEntries(w io.Writer, entries []transfer.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, e := range entries {
		size := units.HumanSize(float64(e.Size))
		name := e.Name
		if e.IsDir {
			size, name = "-", name+"/"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", e.Mode, size, e.ModTime.Format("2006-01-02 15:04"), name)
	}
	return tw.Flush()
}

// newTransferCmd builds a command that runs one queued operation per path.
func newTransferCmd(use, short, verb string, op func(a *app.App) func(cmd *cobra.Command, srv remote.Server, p string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServer(args[0], func(a *app.App, srv remote.Server) error {
				run := op(a)
				var errs []error
				for _, p := range args[1:] {
					if err := run(cmd, srv, p); err != nil {
						errs = append(errs, fmt.Errorf("%s: %w", p, describe(err)))
						continue
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, p)
				}
				return errors.Join(errs...)
			})
		},
	}
}

func newUploadCmd() *cobra.Command {
	return newTransferCmd("upload <server> <local-path>...", "Upload workspace files to a server", "uploaded",
		func(a *app.App) func(*cobra.Command, remote.Server, string) error {
			return func(cmd *cobra.Command, srv remote.Server, p string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				return a.Transfers.Upload(ctx, srv, p).Wait(ctx)
			}
		})
}

func newDownloadCmd() *cobra.Command {
	return newTransferCmd("download <server> <remote-path>...", "Download remote files into the workspace", "downloaded",
		func(a *app.App) func(*cobra.Command, remote.Server, string) error {
			return func(cmd *cobra.Command, srv remote.Server, p string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				return a.Transfers.Download(ctx, srv, p).Wait(ctx)
			}
		})
}

func newRemoveCmd() *cobra.Command {
	return newTransferCmd("rm <server> <remote-path>...", "Delete remote files or directories", "deleted",
		func(a *app.App) func(*cobra.Command, remote.Server, string) error {
			return func(cmd *cobra.Command, srv remote.Server, p string) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()
				return a.Transfers.Delete(ctx, srv, p).Wait(ctx)
			}
		})
}

func newTransfersCmd() *cobra.Command {
	var (
		server string
		op     string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "transfers",
		Short: "Show recorded transfers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(func(a *app.App) error {
				opts := transferlog.QueryOptions{Operation: op, Limit: limit}
				if server != "" {
					srv, err := a.Server(server)
					if err != nil {
						return err
					}
					opts.ServerKey = string(srv.Key())
				}
				res, err := a.Audit.Query(opts)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "TIME\tSERVER\tOPERATION\tREMOTE PATH\tSIZE\tRESULT")
				for _, r := range res.Entries {
					result := "ok"
					if r.Error != "" {
						result = r.Error
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.CreatedAt.Format(time.RFC3339), r.ServerKey, r.Operation, r.RemotePath, r.Size, result)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d of %d records\n", len(res.Entries), res.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "only transfers for this server")
	cmd.Flags().StringVar(&op, "operation", "", "only this operation (upload, download, delete, list)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records to show")
	return cmd
}

func newKeygenCmd() *cobra.Command {
	var comment, passphrase string
	cmd := &cobra.Command{
		Use:   "keygen <private-key-path>",
		Short: "Generate an ED25519 client key pair for privateKeyPath",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kp, err := sshkeys.GenerateKeyPair(comment, passphrase)
			if err != nil {
				return err
			}
			if err := sshkeys.WriteKeyPair(args[0], kp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "wrote %s and %s\n", args[0], sshkeys.PublicKeyPath(args[0]))
			fmt.Fprintf(out, "fingerprint %s\n", kp.Fingerprint)
			fmt.Fprint(out, string(kp.AuthorizedKey))
			return nil
		},
	}
	cmd.Flags().StringVar(&comment, "comment", "", "comment stored in the private key")
	cmd.Flags().StringVar(&passphrase, "passphrase", "", "encrypt the private key with this passphrase")
	return cmd
}
