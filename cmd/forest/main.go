package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/m-mizutani/goerr/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-forest/internal/api"
	"github.com/joeblew999/plat-forest/internal/config"
	"github.com/joeblew999/plat-forest/internal/dataset"
	"github.com/joeblew999/plat-forest/internal/logging"
	"github.com/joeblew999/plat-forest/internal/risk"
	"github.com/joeblew999/plat-forest/internal/server"
	"github.com/joeblew999/plat-forest/internal/service"
)

// Options defines all CLI flags and env vars for the forest server.
// Flags: --host, --port, --data-dir, --web-dir, --profile, --log-level, --log-format, --watch, --no-db, --area-from-geometry
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_WEB_DIR, SERVICE_PROFILE, ...
type Options struct {
	Host      string `doc:"Host to bind to" default:"0.0.0.0"`
	Port      int    `doc:"Port to listen on" short:"p" default:"8086"`
	DataDir   string `doc:"Directory holding sources/ and duckdb/" default:".data"`
	WebDir    string `doc:"Path to web/ directory" default:"web"`
	Profile   string `doc:"YAML display profile (levels, colors, thresholds)" default:""`
	LogLevel  string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogFormat string `doc:"Log format: auto, console, json" default:"auto"`
	Watch     bool   `doc:"Push source file changes to dashboard streams" default:"true"`
	NoDB      bool   `doc:"Run without DuckDB (no snapshots)" default:"false"`

	AreaFromGeometry bool `doc:"Compute the geodesic area of features without an area property" default:"false"`
}

// loadProfile reads the profile and applies flag overrides.
func loadProfile(opts *Options) (*config.Profile, error) {
	profile, err := config.LoadProfile(opts.Profile)
	if err != nil {
		return nil, err
	}
	if opts.AreaFromGeometry {
		profile.Properties.AreaFromGeometry = true
	}
	return profile, nil
}

func newLogger(opts *Options, w io.Writer) (*slog.Logger, error) {
	format, err := logging.ParseFormat(opts.LogFormat)
	if err != nil {
		return nil, err
	}
	return logging.New(logging.ParseLevel(opts.LogLevel), w, format), nil
}

func newServer(opts *Options, logger *slog.Logger) (*server.Server, error) {
	profile, err := loadProfile(opts)
	if err != nil {
		return nil, err
	}
	logger.Debug("profile loaded", "profile", profile)

	return server.New(server.Config{
		Host:    opts.Host,
		Port:    fmt.Sprintf("%d", opts.Port),
		DataDir: opts.DataDir,
		WebDir:  opts.WebDir,
		Profile: profile,
		Watch:   opts.Watch,
		NoDB:    opts.NoDB,
	}, logger)
}

type runCloser interface {
	Run(ctx context.Context, addr string) error
	Close() error
}

// serve runs srv until ctx is done and always closes it before returning.
func serve(ctx context.Context, srv runCloser, addr string, logger *slog.Logger) error {
	runErr := srv.Run(ctx, addr)
	if err := srv.Close(); err != nil {
		logger.Warn("closing server resources", "error", err)
	}
	return runErr
}

func fail(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		ctx, cancel := context.WithCancel(context.Background())

		hooks.OnStart(func() {
			logger, err := newLogger(opts, os.Stderr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			slog.SetDefault(logger)

			srv, err := newServer(opts, logger)
			if err != nil {
				fail(logger, "server setup failed", err)
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			logger.Info("plat-forest API server starting",
				"server", baseURL,
				"data", opts.DataDir,
				"dashboard", baseURL+"/dashboard",
				"docs", baseURL+"/docs",
				"openapi", baseURL+"/openapi.json",
				"metrics", baseURL+"/metrics",
				"watch", opts.Watch,
			)

			if err := serve(ctx, srv, addr, logger); err != nil {
				fail(logger, "server error", err)
			}
		})

		hooks.OnStop(cancel)
	})

	cli.Root().Use = "forest"
	cli.Root().Short = "Forest fire risk aggregation service"
	cli.Root().Version = api.Version

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			opts.NoDB = true
			logger := logging.New(slog.LevelWarn, os.Stderr, logging.FormatAuto)
			srv, err := newServer(opts, logger)
			if err != nil {
				fail(logger, "server setup failed", err)
			}

			useYAML, _ := cmd.Flags().GetBool("yaml")
			output, err := marshal(srv.OpenAPI(), useYAML)
			if err != nil {
				fail(logger, "marshaling spec", err)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// aggregate subcommand: one-shot aggregation of a GeoJSON file
	aggregateCmd := &cobra.Command{
		Use:   "aggregate <file>",
		Short: "Aggregate a GeoJSON file and print the result",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			logger, err := newLogger(opts, os.Stderr)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}

			unranked, _ := cmd.Flags().GetString("unranked")
			useYAML, _ := cmd.Flags().GetBool("yaml")

			profile, err := loadProfile(opts)
			if err != nil {
				fail(logger, "loading profile", err)
			}
			body, err := aggregateFile(args[0], profile, unranked)
			if err != nil {
				fail(logger, "aggregation failed", err)
			}
			for _, issue := range body.Issues {
				logger.Warn("feature issue", "index", issue.Index, "kind", issue.Kind, "message", issue.Message)
			}

			output, err := marshal(body, useYAML)
			if err != nil {
				fail(logger, "marshaling result", err)
			}
			fmt.Println(string(output))
		}),
	}
	aggregateCmd.Flags().StringP("unranked", "u", "", "Unranked policy: include or exclude (defaults to the profile)")
	aggregateCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(aggregateCmd)

	cli.Run()
}

// aggregateFile decodes and aggregates one file outside the server.
func aggregateFile(path string, profile *config.Profile, unranked string) (*api.AggregateBody, error) {
	var err error
	policy := profile.Policy()
	if unranked != "" {
		if policy, err = risk.ParseUnrankedPolicy(unranked); err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "reading file", goerr.V("path", path))
	}
	ds, err := dataset.Decode(filepath.Base(path), data, profile.DecodeOptions())
	if err != nil {
		return nil, err
	}

	svc := service.NewDatasetService(filepath.Dir(path), profile)
	body := api.NewAggregateBody(svc.Summarize(ds.Name, risk.Aggregate(ds.Features, risk.WithUnrankedPolicy(policy))))
	return &body, nil
}

// marshal renders v as indented JSON, or as YAML with the same field names.
func marshal(v any, useYAML bool) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil || !useYAML {
		return data, err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return yaml.Marshal(generic)
}
