// licenseload drives borrow/hold/return cycles against a license server to
// validate its pool accounting under concurrent load.
//
// Vendor credentials for signed requests come from the environment:
// LICENSELOAD_VENDOR_ID and LICENSELOAD_VENDOR_SECRET.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"

	"github.com/mholetzko/permetix/internal/loadgen"
	"github.com/mholetzko/permetix/internal/obs"
	"github.com/mholetzko/permetix/internal/results"
	"github.com/mholetzko/permetix/pkg/licenseclient"
)

type envSettings struct {
	VendorID     string `envconfig:"VENDOR_ID"`
	VendorSecret string `envconfig:"VENDOR_SECRET"`
}

func main() {
	os.Exit(run())
}

func run() int {
	var (
		baseURL     = flag.String("url", "http://localhost:8000", "license server base URL")
		workers     = flag.Int("workers", 10, "number of concurrent workers")
		operations  = flag.Int("operations", 100, "operations per worker")
		tool        = flag.String("tool", loadgen.RandomTool, "tool name, or \"random\" for the built-in catalog")
		holdTime    = flag.Duration("hold", 1*time.Second, "how long to hold each license before returning")
		mode        = flag.String("mode", loadgen.ModeFullCycle, "full-cycle | checkout-only")
		rampUp      = flag.Duration("ramp-up", 0, "window over which worker starts are staggered")
		concurrency = flag.Int64("concurrency", 0, "cap on in-flight cycles across all workers (0 = workers)")
		statusIval  = flag.Duration("status-interval", 0, "poll server status at this interval during the run (0 = off)")
		security    = flag.Bool("security", false, "sign borrow requests (needs LICENSELOAD_VENDOR_ID/_SECRET)")
		resultsDB   = flag.String("results-db", "", "sqlite file to append the run summary to")
		metricsAddr = flag.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
		verbose     = flag.Bool("v", false, "debug logging")
		jsonLog     = flag.Bool("log-json", false, "JSON log output instead of console")
	)
	flag.Parse()

	log := obs.NewLogger(*verbose, *jsonLog)

	var env envSettings
	if err := envconfig.Process("licenseload", &env); err != nil {
		log.Error().Err(err).Msg("reading environment")
		return 1
	}
	if *security && (env.VendorID == "" || env.VendorSecret == "") {
		log.Error().Msg("-security requires LICENSELOAD_VENDOR_ID and LICENSELOAD_VENDOR_SECRET")
		return 1
	}

	client, err := licenseclient.New(licenseclient.Config{
		BaseURL:        *baseURL,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
		EnableSecurity: *security,
		VendorID:       env.VendorID,
		VendorSecret:   env.VendorSecret,
		Logger:         &log,
	})
	if err != nil {
		log.Error().Err(err).Msg("building client")
		return 1
	}

	ctx := context.Background()

	// Probe before generating any load; a dead server is a hard failure.
	statuses, err := client.GetAllStatuses(ctx)
	if err != nil {
		log.Error().Err(err).Str("url", *baseURL).Msg("server status probe failed")
		return 1
	}
	fmt.Println("server status:")
	loadgen.WriteStatuses(os.Stdout, statuses)
	fmt.Println()

	metrics := obs.NewMetrics()
	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				log.Warn().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	cfg := loadgen.Config{
		Workers:        *workers,
		Operations:     *operations,
		Tool:           *tool,
		HoldTime:       *holdTime,
		Mode:           *mode,
		RampUp:         *rampUp,
		Concurrency:    *concurrency,
		ThinkTime:      10 * time.Millisecond,
		StatusInterval: *statusIval,
		Logger:         &log,
		Metrics:        metrics,
	}

	harness, err := loadgen.New(cfg, client)
	if err != nil {
		log.Error().Err(err).Msg("building harness")
		return 1
	}

	log.Info().
		Int("workers", *workers).
		Int("operations", *operations).
		Str("tool", *tool).
		Str("mode", *mode).
		Dur("ramp_up", *rampUp).
		Msg("starting load test")

	res := harness.Run(ctx)

	fmt.Println()
	loadgen.WriteReport(os.Stdout, cfg, res)

	fmt.Println()
	fmt.Println("final server status:")
	if statuses, err := client.GetAllStatuses(ctx); err != nil {
		log.Warn().Err(err).Msg("final status fetch failed")
	} else {
		loadgen.WriteStatuses(os.Stdout, statuses)
	}

	if *resultsDB != "" {
		store, err := results.Open(ctx, results.Config{Path: *resultsDB})
		if err != nil {
			log.Warn().Err(err).Msg("opening results db")
		} else {
			defer store.Close()
			if id, err := store.RecordRun(ctx, *baseURL, cfg, res); err != nil {
				log.Warn().Err(err).Msg("recording run")
			} else {
				log.Info().Str("run_id", id).Str("db", *resultsDB).Msg("run recorded")
			}
		}
	}

	// Individual operation failures are reported above, not fatal.
	return 0
}
