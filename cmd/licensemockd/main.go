// licensemockd serves the in-memory mock license server, seeded with the
// same tool catalog the load harness draws from. Useful as a local target
// for licenseload when the real server is unavailable.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mholetzko/permetix/internal/mockserver"
	"github.com/mholetzko/permetix/internal/obs"
)

func main() {
	var (
		addr     = flag.String("addr", ":8000", "listen address")
		poolSize = flag.Int("pool-size", 20, "total licenses per seeded tool")
		leaseTTL = flag.Duration("lease-ttl", 0, "reclaim unreturned leases after this long (0 = never)")
		vendorID = flag.String("vendor-id", "", "require signed borrows from this vendor")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	log := obs.NewLogger(*verbose, false)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pools := map[string]mockserver.Pool{
		"ECU Development Suite":      {Total: *poolSize, Commit: *poolSize / 2, MaxOverage: *poolSize / 2, OveragePrice: 500},
		"GreenHills Multi IDE":       {Total: *poolSize, Commit: *poolSize / 2, MaxOverage: *poolSize / 2, OveragePrice: 800},
		"AUTOSAR Configuration Tool": {Total: *poolSize, Commit: *poolSize},
		"CAN Bus Analyzer Pro":       {Total: *poolSize, Commit: *poolSize},
		"Model-Based Design Studio":  {Total: *poolSize, Commit: *poolSize / 2, MaxOverage: *poolSize / 2, OveragePrice: 400},
	}

	srv := mockserver.New(pools)
	if *vendorID != "" {
		secret := os.Getenv("LICENSEMOCKD_VENDOR_SECRET")
		if secret == "" {
			log.Fatal().Msg("-vendor-id requires LICENSEMOCKD_VENDOR_SECRET")
		}
		srv.RequireSignatures(*vendorID, secret, 5*time.Minute)
	}

	httpSrv := &http.Server{
		Addr:              *addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup

	if *leaseTTL > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.RunReclaimer(ctx, *leaseTTL, 500*time.Millisecond)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info().Str("addr", *addr).Msg("licensemockd up")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("http server error")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown error")
	}
	wg.Wait()
	log.Info().Msg("licensemockd stopped")
}
