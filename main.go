package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/gluk-w/claworc/sftpsync/internal/app"
	"github.com/gluk-w/claworc/sftpsync/internal/config"
)

var (
	serversFile string
	logLevel    string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "sftpsync",
		Short: "Synchronize workspace files with remote servers over SFTP",
		Long: `sftpsync keeps pooled SFTP connections to the servers listed in the
servers file, verifies their host keys, keeps their credentials in encrypted
storage and runs uploads, downloads and deletes through a bounded queue.

Settings are read from SFTPSYNC_* environment variables.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serversFile, "servers", "", "servers file (overrides SFTPSYNC_SERVERS_FILE)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides SFTPSYNC_LOG_LEVEL)")

	root.AddCommand(
		newServeCmd(),
		newPreconnectCmd(),
		newHostsCmd(),
		newTrustCmd(),
		newUntrustCmd(),
		newMigrateCredentialsCmd(),
		newListCmd(),
		newUploadCmd(),
		newDownloadCmd(),
		newRemoveCmd(),
		newTransfersCmd(),
		newKeygenCmd(),
	)
	return root
}

func loadSettings() (*config.Settings, error) {
	settings, err := config.Load()
	if err != nil {
		return nil, err
	}
	if serversFile != "" {
		settings.ServersFile = serversFile
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}
	return settings, nil
}

// openApp wires the application for one command. Console logs go to stderr
// so command output on stdout stays clean.
func openApp() (*app.App, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}
	return app.New(settings, app.Options{LogToStderr: true})
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newServeCmd() *cobra.Command {
	var preconnect bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := loadSettings()
			if err != nil {
				return err
			}
			a, err := app.New(settings, app.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.Serve(ctx, preconnect)
		},
	}
	cmd.Flags().BoolVar(&preconnect, "preconnect", true, "connect to every configured server at startup")
	return cmd
}
