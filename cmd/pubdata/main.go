// Command pubdata builds and maintains the local cache of processed
// government statistical datasets. It reads PUBDATA_* settings from the
// environment (a .env file is honored when present) and exposes two
// subcommands:
//
//	pubdata build [datasets...]    build processed tables, all by default
//	pubdata cleanup [datasets...]  remove processed tables
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/gophersatwork/pubdata"
	"github.com/gophersatwork/pubdata/agcensus"
	"github.com/gophersatwork/pubdata/bds"
	"github.com/gophersatwork/pubdata/bea"
	"github.com/gophersatwork/pubdata/cbp"
	"github.com/gophersatwork/pubdata/ers"
	"github.com/gophersatwork/pubdata/geo"
	"github.com/gophersatwork/pubdata/naics"
	"github.com/gophersatwork/pubdata/qcew"
)

type dataset interface {
	BuildAll(ctx context.Context) error
	Cleanup(removeDownloaded bool) error
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "pubdata:", err)
		os.Exit(1)
	}
}

func run() error {
	// a missing .env is fine, real errors are not
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	root := flag.String("root", envDefault("PUBDATA_ROOT", "data"), "data cache root directory")
	level := flag.String("log-level", envDefault("PUBDATA_LOG_LEVEL", "info"), "log level (trace..error)")
	removeDownloaded := flag.Bool("downloads", false, "cleanup also removes raw downloads")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		return fmt.Errorf("missing subcommand")
	}

	lvl, err := zerolog.ParseLevel(*level)
	if err != nil {
		return fmt.Errorf("bad log level %q: %w", *level, err)
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.TimeOnly}).
		Level(lvl).With().Timestamp().Logger()

	env, err := pubdata.New(*root, pubdata.WithLogger(log))
	if err != nil {
		return err
	}

	datasets := map[string]dataset{
		"naics":    naics.NewClient(env),
		"cbp":      cbp.NewClient(env),
		"qcew":     qcew.NewClient(env),
		"agcensus": agcensus.NewClient(env),
		"bds":      bds.NewClient(env),
		"bea":      bea.NewClient(env),
		"geo":      geo.NewClient(env),
		"ers":      ers.NewClient(env),
	}

	names := flag.Args()[1:]
	if len(names) == 0 {
		for name := range datasets {
			names = append(names, name)
		}
		sort.Strings(names)
	}
	for _, name := range names {
		if _, ok := datasets[name]; !ok {
			return fmt.Errorf("unknown dataset %q (have %s)", name, strings.Join(datasetNames(datasets), ", "))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch cmd := flag.Arg(0); cmd {
	case "build":
		return buildDatasets(ctx, log, datasets, names)
	case "cleanup":
		for _, name := range names {
			log.Info().Str("dataset", name).Bool("downloads", *removeDownloaded).Msg("cleaning up")
			if err := datasets[name].Cleanup(*removeDownloaded); err != nil {
				return err
			}
		}
		return nil
	default:
		usage()
		return fmt.Errorf("unknown subcommand %q", cmd)
	}
}

func buildDatasets(ctx context.Context, log zerolog.Logger, datasets map[string]dataset, names []string) error {
	var failed []string
	for _, name := range names {
		log.Info().Str("dataset", name).Msg("building")
		start := time.Now()
		if err := datasets[name].BuildAll(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Error().Str("dataset", name).Err(err).Msg("build failed")
			failed = append(failed, name)
			continue
		}
		log.Info().Str("dataset", name).Dur("elapsed", time.Since(start)).Msg("built")
	}
	if len(failed) > 0 {
		return fmt.Errorf("build failed for %s", strings.Join(failed, ", "))
	}
	return nil
}

func datasetNames(datasets map[string]dataset) []string {
	names := make([]string, 0, len(datasets))
	for name := range datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func envDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: pubdata [flags] build|cleanup [datasets...]

Datasets: agcensus, bds, bea, cbp, ers, geo, naics, qcew (default all)

Flags:
`)
	flag.PrintDefaults()
}
