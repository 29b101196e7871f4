package main

import (
	"errors"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/shpitdev/geodatacheck/internal/logging"
	"github.com/shpitdev/geodatacheck/pkg/mockregistry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	addr := defaultString("MOCK_REGISTRY_ADDR", ":8080")
	fixture := defaultString("MOCK_REGISTRY_FIXTURE", "")
	var (
		delay     time.Duration
		throttle  int
		logLevel  string
		logFormat string
	)

	cmd := &cobra.Command{
		Use:          "mock-registry",
		Short:        "Serve a fixture CSV through a geo.admin.ch compatible find endpoint",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log, err := logging.New(logLevel, logFormat, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			srv, err := newServer(fixture, log)
			if err != nil {
				return err
			}
			srv.SetDelay(delay)
			srv.Throttle(throttle)

			log.Info().
				Str("addr", addr).
				Str("fixture", fixture).
				Int("buildings", srv.Len()).
				Msg("mock-registry listening")
			hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}
			return hs.ListenAndServe()
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&addr, "addr", addr, "listen address (env: MOCK_REGISTRY_ADDR)")
	fl.StringVar(&fixture, "fixture", fixture, "CSV with egid,gkode,gkodn,gdekt,ggdename,dplz4,dplzname,strname,deinr (env: MOCK_REGISTRY_FIXTURE)")
	fl.DurationVar(&delay, "delay", 0, "artificial latency per request")
	fl.IntVar(&throttle, "throttle", 0, "answer the first N requests with HTTP 429")
	fl.StringVar(&logLevel, "log-level", "info", "log level")
	fl.StringVar(&logFormat, "log-format", logging.FormatAuto, "log format: auto|console|json")
	return cmd
}

func newServer(fixture string, log zerolog.Logger) (*mockregistry.Server, error) {
	if strings.TrimSpace(fixture) == "" {
		return nil, errors.New("--fixture is required")
	}
	buildings, err := mockregistry.LoadFile(fixture)
	if err != nil {
		return nil, err
	}
	srv := mockregistry.New(log)
	srv.Add(buildings...)
	return srv, nil
}

func defaultString(envVar string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(envVar))
	if v == "" {
		return fallback
	}
	return v
}
