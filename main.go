package main

import (
	"context"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/massmux/zapper/internal"
	"github.com/massmux/zapper/internal/api"
	"github.com/massmux/zapper/internal/handoff"
	"github.com/massmux/zapper/internal/lnurl"
	"github.com/massmux/zapper/internal/network"
	"github.com/massmux/zapper/internal/nip05"
	"github.com/massmux/zapper/internal/profile"
	"github.com/massmux/zapper/internal/rate"
	"github.com/massmux/zapper/internal/relay"
	"github.com/massmux/zapper/internal/runtime"
	"github.com/massmux/zapper/internal/storage"
	"github.com/massmux/zapper/internal/zap"
	log "github.com/sirupsen/logrus"
)

// setLogger will initialize the log format
func setLogger() {
	level, err := log.ParseLevel(internal.Configuration.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	customFormatter := new(log.TextFormatter)
	customFormatter.TimestampFormat = "2006-01-02 15:04:05"
	customFormatter.FullTimestamp = true
	log.SetFormatter(customFormatter)
}

func main() {
	// set logger
	setLogger()

	defer withRecovery()
	db, err := storage.NewBunt(internal.Configuration.Database.BuntDbPath)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	defer db.Close()

	service := newService(db)
	server := startApiServer(service)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Infof("[main] shutting down")
	service.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Errorf("[main] %v", err)
	}
}

func newService(db *storage.DB) *api.Service {
	client, err := network.GetClient()
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	conf := internal.Configuration
	dialer := relay.NostrDialer{}

	z := zap.New(zap.Options{
		Profiles: profile.NewResolver(dialer, conf.Nostr.ProfileRelays, profile.NewMemoryCache(),
			profile.WithTimeout(conf.Nostr.QueryTimeout)),
		Endpoints: lnurl.NewDeriver(client),
		Builder: zap.NewBuilder(
			zap.WithSigner(zap.ProbeSigner(conf.Nostr.PrivateKey)),
			zap.WithValidation(conf.Zap.ValidateRequest)),
		Invoices:      lnurl.NewInvoiceFetcher(client, lnurl.WithAmountVerification(conf.Zap.VerifyInvoiceAmount)),
		NIP05:         nip05.New(client),
		Dialer:        dialer,
		ReceiptRelays: conf.Nostr.ReceiptRelays,
		FallbackRelay: conf.Nostr.FallbackRelay,
		PollInterval:  conf.Nostr.PollInterval,
	})

	limiter := rate.NewLimiter(conf.Api.RateLimit, conf.Api.RateBurst)
	runtime.NewIntervalTask(context.Background(), "rate-limiter-cleanup", runtime.WithInterval(time.Minute)).
		Do(limiter.Cleanup, nil)

	proxies, err := api.ParseTrustedProxies(conf.Api.TrustedProxies)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}

	return api.NewService(z, handoff.NewPreferences(db),
		api.WithLimiter(limiter),
		api.WithTrustedProxies(proxies),
		api.WithDefaultComment(conf.Zap.DefaultComment))
}

func startApiServer(service *api.Service) *api.Server {
	s := api.NewServer(internal.Configuration.Api.Host)
	s.Use(api.CORSMiddleware(internal.Configuration.Api.AllowedOrigin))
	service.Register(s)
	s.ListenAndServe()
	return s
}

func withRecovery() {
	if r := recover(); r != nil {
		log.Errorln("Recovered panic: ", r)
		debug.PrintStack()
	}
}
