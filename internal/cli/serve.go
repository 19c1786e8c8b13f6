package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/rpzload/internal/rpz"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the in-memory rpz items API as a load target",
		Long: `Serve POST /rpz/items and GET /rpz/items/{id} from memory.

  rpzload serve --addr :8443 --tls-cert cert.pem --tls-key key.pem`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr, _ := cmd.Flags().GetString("addr")
			certFile, _ := cmd.Flags().GetString("tls-cert")
			keyFile, _ := cmd.Flags().GetString("tls-key")
			rejectDuplicates, _ := cmd.Flags().GetBool("reject-duplicates")

			if (certFile == "") != (keyFile == "") {
				return withCode(ExitInvalidConfig, errors.New("--tls-cert and --tls-key must be set together"))
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			server := rpz.NewServer(rpz.ServerOptions{
				RejectDuplicates: rejectDuplicates,
				Logger:           a.logger,
			})
			return serve(ctx, server, addr, certFile, keyFile)
		},
	}

	cmd.Flags().String("addr", ":8443", "Listen address")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Bool("reject-duplicates", false, "Answer 409 when an item ID is created twice")
	return cmd
}

func serve(ctx context.Context, server *rpz.Server, addr, certFile, keyFile string) error {
	if err := server.ListenAndServe(ctx, addr, certFile, keyFile); err != nil {
		return withCode(ExitError, err)
	}
	return nil
}
