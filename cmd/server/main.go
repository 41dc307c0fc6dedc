package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"chainbook/api/httpserver"
	"chainbook/api/ws"
	"chainbook/domain/book"
	"chainbook/domain/ledger"
	"chainbook/infra/kafka"
	"chainbook/infra/metrics"
	"chainbook/infra/outbox"
	"chainbook/infra/store"
	"chainbook/jobs/broadcaster"
	"chainbook/jobs/depthfeed"
	"chainbook/service"
)

func main() {
	var (
		listenAddr    = flag.String("listen", ":8080", "HTTP listen address")
		dataDir       = flag.String("data", "./data/book", "book store directory")
		outboxDir     = flag.String("outbox", "./data/outbox", "event outbox directory")
		brokers       = flag.String("brokers", "", "comma-separated Kafka brokers (empty disables Kafka)")
		eventTopic    = flag.String("event-topic", "chainbook.events", "Kafka topic for book events")
		depthTopic    = flag.String("depth-topic", "chainbook.depth", "Kafka topic for depth snapshots")
		depthInterval = flag.Duration("depth-interval", time.Second, "depth snapshot interval")
		logLevel      = flag.String("log-level", "info", "logrus level")
	)
	flag.Parse()

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(*logLevel); err == nil {
		log.SetLevel(lvl)
	}

	// ---------------- Store ----------------

	st, err := store.Open(*dataDir)
	if err != nil {
		log.WithError(err).Fatal("open store")
	}
	defer st.Close()

	// ---------------- Outbox ----------------

	ob, err := outbox.Open(*outboxDir)
	if err != nil {
		log.WithError(err).Fatal("open outbox")
	}
	defer ob.Close()

	// ---------------- Domain ----------------

	state := book.NewState()
	ldg := ledger.New()
	hub := ws.NewHub(log)
	defer hub.Close()

	reg := prometheus.NewRegistry()
	mets := metrics.New(reg)

	svc := service.New(service.Deps{
		State:   state,
		Ledger:  ldg,
		Store:   st,
		Outbox:  ob,
		Feed:    hub,
		Metrics: mets,
		Log:     log,
	})

	// ---------------- Boot replay ----------------

	if err := svc.Restore(); err != nil {
		log.WithError(err).Fatal("restore state")
	}

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *brokers != "" {
		brokerList := strings.Split(*brokers, ",")

		bc, err := broadcaster.New(ob, brokerList, *eventTopic, log)
		if err != nil {
			log.WithError(err).Fatal("start broadcaster")
		}
		defer bc.Close()
		bc.Start(ctx)

		depthProducer := kafka.NewProducer(brokerList, *depthTopic)
		defer depthProducer.Close()
		depthfeed.New(svc, depthProducer, hub, *depthInterval, log).Start(ctx)
	} else {
		// No brokers: snapshots still reach ws subscribers.
		depthfeed.New(svc, nil, hub, *depthInterval, log).Start(ctx)
	}

	// ---------------- HTTP ----------------

	api := httpserver.New(svc, log)
	root := http.NewServeMux()
	root.Handle("/", api.Router())
	root.Handle("/ws", hub.Handler())
	root.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	srv := &http.Server{
		Addr:         *listenAddr,
		Handler:      root,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.WithField("addr", *listenAddr).Info("chainbook engine listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("http server exited")
		}
	}()

	// ---------------- Shutdown ----------------

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
}
