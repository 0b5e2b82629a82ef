package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-webgis/internal/extract"
	"github.com/joeblew999/plat-webgis/internal/logging"
	"github.com/joeblew999/plat-webgis/internal/server"
	"github.com/joeblew999/plat-webgis/internal/store"
)

// Options defines all CLI flags and env vars for the webgis server.
// Flags: --host, --port, --data-dir, --upload-dir, --store, ...
// Env vars: SERVICE_HOST, SERVICE_PORT, SERVICE_DATA_DIR, SERVICE_UPLOAD_DIR, SERVICE_STORE, ...
type Options struct {
	Host         string `doc:"Host to bind to" default:"0.0.0.0"`
	Port         int    `doc:"Port to listen on" short:"p" default:"5000"`
	DataDir      string `doc:"Directory for the DuckDB database" default:".data"`
	UploadDir    string `doc:"Directory for uploaded GeoJSON files (default: <data-dir>/uploads)"`
	Store        string `doc:"Layer store backend: duckdb or mongo" default:"duckdb"`
	MongoURI     string `doc:"MongoDB connection string" default:"mongodb://localhost:27017"`
	MongoDB      string `doc:"MongoDB database name" default:"webgis"`
	MaxUploadMiB int    `doc:"Upload size limit in MiB" default:"400"`
	AdminEmails  string `doc:"Comma separated admin email whitelist"`
	LogLevel     string `doc:"Log level: debug, info, warn, error" default:"info"`
	LogFormat    string `doc:"Log format: console or json" default:"console"`
	Metrics      bool   `doc:"Serve Prometheus metrics on /metrics" default:"true"`
}

func (o *Options) uploadDir() string {
	if o.UploadDir != "" {
		return o.UploadDir
	}
	return filepath.Join(o.DataDir, "uploads")
}

func (o *Options) adminEmails() []string {
	var out []string
	for _, e := range strings.Split(o.AdminEmails, ",") {
		if e = strings.TrimSpace(e); e != "" {
			out = append(out, e)
		}
	}
	return out
}

func newLogger(opts *Options) zerolog.Logger {
	log, err := logging.New(opts.LogLevel, opts.LogFormat, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return log
}

func newServer(ctx context.Context, opts *Options, log zerolog.Logger) (*server.Server, error) {
	st, err := store.Open(ctx, store.Config{
		Driver:   opts.Store,
		DataDir:  opts.DataDir,
		MongoURI: opts.MongoURI,
		MongoDB:  opts.MongoDB,
	})
	if err != nil {
		return nil, err
	}
	return server.New(server.Config{
		Host:           opts.Host,
		Port:           fmt.Sprintf("%d", opts.Port),
		StoreDriver:    opts.Store,
		UploadDir:      opts.uploadDir(),
		MaxUploadBytes: int64(opts.MaxUploadMiB) << 20,
		AdminEmails:    opts.adminEmails(),
		Metrics:        opts.Metrics,
	}, st, log), nil
}

func main() {
	// A missing .env file is fine; real env vars and flags still apply.
	_ = godotenv.Load()

	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		var (
			httpServer *http.Server
			srv        *server.Server
			cancel     context.CancelFunc
		)
		log := newLogger(opts)

		hooks.OnStart(func() {
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())

			var err error
			srv, err = newServer(ctx, opts, log)
			if err != nil {
				log.Fatal().Err(err).Str("store", opts.Store).Msg("open store")
			}

			addr := fmt.Sprintf("%s:%d", opts.Host, opts.Port)
			displayHost := opts.Host
			if displayHost == "0.0.0.0" {
				displayHost = "localhost"
			}
			baseURL := fmt.Sprintf("http://%s:%d", displayHost, opts.Port)

			fmt.Println()
			fmt.Printf("plat-webgis API server starting...\n")
			fmt.Printf("  Server:  %s\n", baseURL)
			fmt.Printf("  Store:   %s\n", opts.Store)
			fmt.Printf("  Uploads: %s\n", opts.uploadDir())
			fmt.Println()
			fmt.Printf("  Docs:    %s/docs\n", baseURL)
			fmt.Printf("  OpenAPI: %s/openapi.json\n", baseURL)
			if opts.Metrics {
				fmt.Printf("  Metrics: %s/metrics\n", baseURL)
			}
			fmt.Println()

			httpServer = &http.Server{Addr: addr, Handler: srv}
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Fatal().Err(err).Msg("server error")
			}
		})

		hooks.OnStop(func() {
			if httpServer != nil {
				ctx, done := context.WithTimeout(context.Background(), 10*time.Second)
				defer done()
				if err := httpServer.Shutdown(ctx); err != nil {
					log.Error().Err(err).Msg("shutdown")
				}
			}
			if cancel != nil {
				cancel()
			}
			if srv != nil {
				if err := srv.Close(); err != nil {
					log.Error().Err(err).Msg("close store")
				}
			}
		})
	})

	cli.Root().Use = "webgis"
	cli.Root().Short = "Web GIS for land office map layers"
	cli.Root().Version = "1.0.0"

	// spec subcommand: export OpenAPI spec
	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export OpenAPI spec (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			// The document does not depend on stored data.
			opts.Store = store.DriverDuckDB
			opts.DataDir = ""
			srv, err := newServer(cmd.Context(), opts, zerolog.Nop())
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			defer srv.Close()
			spec := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			if useYAML {
				output, err = yaml.Marshal(spec)
			} else {
				output, err = json.MarshalIndent(spec, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	// rename-layers subcommand: migrate legacy types and regenerate names
	cli.Root().AddCommand(&cobra.Command{
		Use:   "rename-layers",
		Short: "Map legacy layer types and regenerate every layer name",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			log := newLogger(opts)
			srv, err := newServer(cmd.Context(), opts, log)
			if err != nil {
				log.Fatal().Err(err).Msg("open store")
			}
			defer srv.Close()

			report, err := srv.Layers().RegenerateNames(cmd.Context())
			if err != nil {
				log.Fatal().Err(err).Msg("rename layers")
			}
			for _, id := range report.Skipped {
				log.Warn().Str("id", id).Msg("layer skipped")
			}
			fmt.Printf("Scanned %d layers: %d renamed, %d retyped, %d skipped\n",
				report.Scanned, report.Updated, report.Retyped, len(report.Skipped))
		}),
	})

	// extract subcommand: print the metadata an upload of a file would get
	cli.Root().AddCommand(&cobra.Command{
		Use:   "extract <file>",
		Short: "Print feature count and bounds of a GeoJSON file",
		Args:  cobra.ExactArgs(1),
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			data, err := os.ReadFile(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			meta, err := extract.ExtractBytes(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			out, _ := json.MarshalIndent(meta, "", "  ")
			fmt.Println(string(out))
		}),
	})

	cli.Run()
}
