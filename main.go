package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/treemana/goprobe/analyzer"
	"github.com/treemana/goprobe/checker"
	"github.com/treemana/goprobe/config"
	"github.com/treemana/goprobe/log"
	"github.com/treemana/goprobe/model"
	"github.com/treemana/goprobe/store"
	"github.com/treemana/goprobe/util"
	"github.com/treemana/goprobe/whois"
)

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "optional JSON config file")
	input := flag.String("input", "", "input JSON file with server IPs, overrides config")
	delay := flag.Float64("delay", -1, "seconds between servers, overrides config")
	mode := flag.String("mode", "analyze", "analyze | whois")
	batch := flag.Int("batch", 0, "whois enrichment batch size, overrides config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}
	if len(*input) > 0 {
		cfg.InputFile = *input
	}
	if *delay >= 0 {
		cfg.DelaySeconds = *delay
	}
	if *batch > 0 {
		cfg.WhoisBatchSize = *batch
	}

	// the DB_* variables are mandatory, absence halts before any probing
	dbCfg, err := config.DBFromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "environment error:", err)
		return 1
	}

	if err = initLog(cfg); err != nil {
		fmt.Fprintln(os.Stderr, "log init error:", err)
		return 1
	}
	defer func() { _ = log.Logger.Sync() }()

	log.Sugar.Infof("goprobe starting, mode=%s timeout=%s", *mode, cfg.Timeout())
	log.Sugar.Infof("test domains: recursion=%s latency=%s dnssec=%s malicious=%s",
		cfg.RecursionDomain, cfg.LatencyDomain, cfg.DNSSECDomain, cfg.MaliciousDomain)

	st, err := store.Open(dbCfg)
	if err != nil {
		log.Sugar.Errorf("database connection failed: %v", err)
		return 1
	}
	defer func() { _ = st.Close() }()

	if err = st.EnsureSchema(); err != nil {
		log.Sugar.Errorf("schema setup failed: %v", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch *mode {
	case "whois":
		if _, err = whois.New(cfg, st).Run(ctx); err != nil {
			log.Sugar.Errorf("whois enrichment failed: %v", err)
			return 1
		}

	case "analyze":
		loaded, err := analyzer.LoadServers(cfg.InputFile)
		if err != nil {
			log.Sugar.Errorf("input file %s: %v", cfg.InputFile, err)
			return 1
		}

		// local resolvers always get measured, as the baseline
		system := append(util.SystemResolvers(), util.DHCPServers()...)
		servers := analyzer.Merge(system, loaded)

		enricher := whois.New(cfg, st)
		hostLookup := func(ip string) (*model.WhoisCacheEntry, error) {
			return enricher.Lookup(ctx, ip)
		}

		a := analyzer.New(cfg, st, checker.New(cfg, st), system, hostLookup)
		a.RunCycle(ctx, servers, cfg.Delay())

	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q\n", *mode)
		return 2
	}

	return 0
}

func initLog(cfg config.Config) error {
	lc := log.Config{
		File:       cfg.Log.File,
		STDOUT:     cfg.Log.STDOUT,
		MaxAge:     2,
		MaxSize:    10,
		MaxBackups: 100,
	}

	if cfg.Log.Verbose {
		lc.Level = -1
	}

	return log.Init(lc)
}
