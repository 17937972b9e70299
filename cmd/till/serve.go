package main

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Veraticus/tillpoint/internal/api"
	"github.com/Veraticus/tillpoint/internal/certs"
	"github.com/Veraticus/tillpoint/internal/common"
	"github.com/Veraticus/tillpoint/internal/discovery"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the terminal API for the point-of-sale front end",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			if loaded.Logging.Level != "debug" {
				gin.SetMode(gin.ReleaseMode)
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer closeStorage(store)

			policy := loaded.Transport.RetryPolicy()
			localRange := discovery.LocalNetworkRange
			if configured := loaded.Discovery.Range; configured != "" {
				localRange = func() (string, bool) { return configured, true }
			}

			var tlsConfig *tls.Config
			if loaded.API.TLS {
				manager := certs.NewFileManager(loaded.API.CertDir, loaded.API.TLSHosts...)
				if tlsConfig, err = manager.TLSConfig(); err != nil {
					return fmt.Errorf("failed to prepare TLS certificate: %w", err)
				}
				slog.Info("Serving HTTPS with self-signed certificate", "cert", manager.CertFile())
			}

			server := api.NewServer(api.Config{
				Store:         store,
				Scanner:       newScanner(nil, ""),
				HTTPClient:    &http.Client{},
				Logger:        common.ComponentLogger("api"),
				RetryPolicy:   &policy,
				LocalRange:    localRange,
				TLS:           tlsConfig,
				Timeout:       loaded.Transport.Timeout,
				HealthTimeout: loaded.Discovery.ProbeTimeout,
				PollInterval:  loaded.Monitor.PollInterval,
			})

			return server.Run(ctx, loaded.API.Addr)
		},
	}

	cmd.Flags().String("addr", "", "listen address (default from api.addr)")
	cmd.Flags().Bool("tls", false, "serve HTTPS with a self-signed certificate")
	_ = viper.BindPFlag("api.addr", cmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("api.tls", cmd.Flags().Lookup("tls"))

	return cmd
}
