// Developer tool for generating, inspecting, comparing, and moving revision trees between stores.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/geoforge/revtree/model"
	"github.com/geoforge/revtree/storage"
	"github.com/geoforge/revtree/util/cliutil"

	_ "github.com/joho/godotenv/autoload"
	_ "go.uber.org/automaxprocs"

	"github.com/carlmjohnson/versioninfo"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "revtool",
		Usage:   "revision tree developer tool",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "store",
			Usage:   "tree store url (mem://, blockmem://, pebble://path, sqlite://path, postgres://..., redis://host:port/db, flatfs://dir)",
			Value:   "pebble://data/revtree/pebble",
			EnvVars: []string{"REVTREE_STORE"},
		},
		&cli.IntFlag{
			Name:    "cache-size",
			Usage:   "number of trees to cache in memory in front of the store, 0 to disable",
			Value:   10_000,
			EnvVars: []string{"REVTREE_CACHE_SIZE"},
		},
		&cli.StringFlag{
			Name:    "cache-kind",
			Usage:   "in-memory cache policy: lru, 2q, arc, tinylfu",
			Value:   "lru",
			EnvVars: []string{"REVTREE_CACHE_KIND"},
		},
		&cli.IntFlag{
			Name:    "concurrency",
			Usage:   "goroutines used by builds and diffs",
			Value:   4,
			EnvVars: []string{"REVTREE_CONCURRENCY"},
		},
		&cli.IntFlag{
			Name:    "max-db-connections",
			Value:   20,
			EnvVars: []string{"REVTREE_MAX_DB_CONNECTIONS"},
		},
		&cli.BoolFlag{
			Name:    "sync",
			Usage:   "sync every pebble write to disk",
			EnvVars: []string{"REVTREE_SYNC"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"REVTREE_LOG_LEVEL", "LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "text or json",
			EnvVars: []string{"REVTREE_LOG_FMT"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "address to serve prometheus metrics on while a command runs, eg :2471",
			EnvVars: []string{"REVTREE_METRICS_LISTEN"},
		},
		&cli.BoolFlag{
			Name: "jaeger",
		},
		&cli.StringFlag{
			Name:    "otel-exporter-otlp-endpoint",
			EnvVars: []string{"OTEL_EXPORTER_OTLP_ENDPOINT"},
		},
		&cli.BoolFlag{
			Name:    "db-tracing",
			EnvVars: []string{"REVTREE_DB_TRACING"},
		},
		&cli.StringFlag{
			Name:    "env",
			Value:   "dev",
			EnvVars: []string{"ENVIRONMENT"},
			Usage:   "declared hosting environment (prod, qa, etc); used in traces",
		},
	}

	app.Before = func(cctx *cli.Context) error {
		if _, err := cliutil.SetupSlog(cliutil.LogOptions{
			LogLevel:  cctx.String("log-level"),
			LogFormat: cctx.String("log-format"),
		}); err != nil {
			return err
		}
		if addr := cctx.String("metrics-listen"); addr != "" {
			go func() {
				if err := http.ListenAndServe(addr, promhttp.Handler()); err != nil {
					slog.Error("metrics server failed", "addr", addr, "err", err)
				}
			}()
		}
		return setupOTEL(cctx)
	}
	app.After = shutdownOTEL

	app.Commands = []*cli.Command{
		cmdGen,
		cmdLsTree,
		cmdFind,
		cmdDiff,
		cmdStat,
		cmdInfo,
		cmdExport,
		cmdImport,
	}
	return app.Run(args)
}

// set when exporting over OTLP, flushed on exit
var otlpProvider *tracesdk.TracerProvider

func shutdownOTEL(cctx *cli.Context) error {
	if otlpProvider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return otlpProvider.Shutdown(ctx)
}

func setupOTEL(cctx *cli.Context) error {

	env := cctx.String("env")
	if env == "" {
		env = "dev"
	}
	res := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("revtool"),
		attribute.String("env", env),
		attribute.String("environment", env),
	)

	if cctx.Bool("jaeger") {
		jaegerUrl := "http://localhost:14268/api/traces"
		exp, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(jaegerUrl)))
		if err != nil {
			return err
		}
		otel.SetTracerProvider(tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exp),
			tracesdk.WithResource(res),
		))
	}

	// At a minimum, you need to set
	// OTEL_EXPORTER_OTLP_ENDPOINT=http://localhost:4318
	if ep := cctx.String("otel-exporter-otlp-endpoint"); ep != "" {
		slog.Info("setting up trace exporter", "endpoint", ep)
		exp, err := otlptracehttp.New(cctx.Context)
		if err != nil {
			return fmt.Errorf("creating trace exporter: %w", err)
		}
		tp := tracesdk.NewTracerProvider(
			tracesdk.WithBatcher(exp),
			tracesdk.WithResource(res),
		)
		otel.SetTracerProvider(tp)
		otlpProvider = tp
	}

	return nil
}

func openStore(cctx *cli.Context) (storage.ObjectStore, error) {
	return cliutil.OpenStore(cctx.Context, cliutil.StoreOptions{
		URL:            cctx.String("store"),
		CacheSize:      cctx.Int("cache-size"),
		CacheKind:      cctx.String("cache-kind"),
		MaxConnections: cctx.Int("max-db-connections"),
		Sync:           cctx.Bool("sync"),
		DBTracing:      cctx.Bool("db-tracing"),
	})
}

// parseTreeId accepts a full hex id, or "empty"
func parseTreeId(s string) (model.ObjectId, error) {
	if s == "empty" {
		return model.EmptyTreeId, nil
	}
	return model.ParseObjectId(s)
}

func loadTreeArg(cctx *cli.Context, store storage.ObjectStore, idx int) (*model.RevTree, error) {
	arg := cctx.Args().Get(idx)
	if arg == "" {
		return nil, fmt.Errorf("expected a tree id as argument %d", idx+1)
	}
	id, err := parseTreeId(arg)
	if err != nil {
		return nil, err
	}
	return storage.GetTree(cctx.Context, store, id)
}
