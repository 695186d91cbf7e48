// Copyright 2024-2026 Aiku AI

// Command mattermost-tweetbridge follows a set of Twitter accounts on the
// filter stream and relays their posts into the Mattermost channels
// subscribed to them. Deleted posts are removed from chat again.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	flag "maunium.net/go/mauflag"

	"github.com/aiku/mattermost-tweetbridge/pkg/archive"
	"github.com/aiku/mattermost-tweetbridge/pkg/connector"
	"github.com/aiku/mattermost-tweetbridge/pkg/store"
	"github.com/aiku/mattermost-tweetbridge/pkg/twitter"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath  = flag.MakeFull("c", "config", "The path to the config file.", "config.yaml").String()
	noSave      = flag.MakeFull("n", "no-update", "Don't save the upgraded config to disk.", "false").Bool()
	genExample  = flag.MakeFull("e", "generate-example-config", "Write the example config to the config path and exit.", "false").Bool()
	showVersion = flag.MakeFull("v", "version", "Print the version and exit.", "false").Bool()
	wantHelp, _ = flag.MakeHelpFlag()
)

func main() {
	flag.SetHelpTitles(
		"mattermost-tweetbridge - A Twitter stream to Mattermost bridge.",
		"mattermost-tweetbridge [-hvne] [-c <path>]",
	)
	if err := flag.Parse(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		flag.PrintHelp()
		os.Exit(1)
	} else if *wantHelp {
		flag.PrintHelp()
		os.Exit(0)
	} else if *showVersion {
		fmt.Printf("mattermost-tweetbridge %s (%s, built %s)\n", Tag, Commit, BuildTime)
		os.Exit(0)
	} else if *genExample {
		if err := os.WriteFile(*configPath, []byte(connector.ExampleConfig), 0o600); err != nil {
			_, _ = fmt.Fprintln(os.Stderr, "Failed to write example config:", err)
			os.Exit(12)
		}
		fmt.Println("Wrote example config to", *configPath)
		os.Exit(0)
	}

	cfg, err := connector.LoadConfig(*configPath, !*noSave)
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(10)
	}
	log, err := cfg.Logging.Compile()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "Failed to initialize logger:", err)
		os.Exit(11)
	}
	log.Info().Str("version", Tag).Str("commit", Commit).Msg("Starting mattermost-tweetbridge")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Str("path", cfg.Database).Msg("Failed to open database")
	}
	defer db.Close()

	arch, err := archive.New(cfg.Archive.Directory, cfg.Retention(), *log)
	if err != nil {
		log.Fatal().Err(err).Str("dir", cfg.Archive.Directory).Msg("Failed to open archive")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := connector.NewMetrics(reg)

	deliverer := connector.NewMattermostDeliverer(
		cfg.Mattermost.ServerURL, cfg.Mattermost.Token, db, cfg.Mattermost.PostsPerSecond, *log,
	)
	if _, err := deliverer.Verify(ctx); err != nil {
		log.Fatal().Err(err).Str("server_url", cfg.Mattermost.ServerURL).Msg("Mattermost token rejected")
	}

	transport := twitter.NewHTTPTransport(cfg.Credentials(), cfg.Twitter.StreamURL)
	transport.StallTimeout = cfg.StallTimeout()

	supervisor := connector.NewSupervisor(connector.SupervisorParams{
		Transport:   transport,
		Accounts:    db,
		Index:       db,
		Deliverer:   deliverer,
		Archive:     arch,
		Sweeper:     arch,
		Pruner:      db,
		Metrics:     metrics,
		Log:         *log,
		EscapeOpen:  cfg.Mattermost.EscapeOpen,
		EscapeClose: cfg.Mattermost.EscapeClose,
		Retention:   cfg.Retention(),
	})

	if cfg.AdminAPIAddr != "-" {
		api := connector.NewAdminAPI(supervisor, db, reg, *log)
		go func() {
			if err := api.Serve(ctx, cfg.AdminAPIAddr); err != nil {
				log.Error().Err(err).Msg("Bridge admin API error")
			}
		}()
	}

	if err := supervisor.Run(ctx); err != nil {
		if errors.Is(err, connector.ErrBadCredentials) {
			log.Fatal().Err(err).Msg("Stream credentials rejected, check the twitter section of the config")
		}
		log.Fatal().Err(err).Msg("Bridge stopped with error")
	}
	log.Info().Msg("Bridge stopped")
}
