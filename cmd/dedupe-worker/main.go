// Command dedupe-worker runs the card deduplication engine (spec.md
// §4.6-§4.8): it drains the ingestion queue, routes each card through
// the Processor, and exposes /health and /metrics for operators.
//
// Configuration is read from a config file (dedupe-worker.yaml, searched
// in /etc/dedupe-worker/, $HOME/.dedupe-worker/, and the working
// directory), environment variables prefixed DEDUPE_, and flags, in
// that ascending order of precedence (spec.md §6 tunables).
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/dreamware/carddedupe/internal/dedupe"
	"github.com/dreamware/carddedupe/internal/evidence"
	"github.com/dreamware/carddedupe/internal/kvstore"
	"github.com/dreamware/carddedupe/internal/processor"
	"github.com/dreamware/carddedupe/internal/queue"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dedupe-worker",
		Short: "Deduplication engine for near-duplicate text cards",
	}
	root.PersistentFlags().String("config", "", "path to a config file")
	root.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address backing the KV store")
	root.PersistentFlags().String("sqlite-path", "cards.db", "path to the evidence sqlite database")
	root.PersistentFlags().String("key-prefix", dedupe.Defaults().KeyPrefix, "prefix prepended to every KV key")
	root.PersistentFlags().Int("edge-tolerance", dedupe.Defaults().EdgeTolerance, "EDGE_TOLERANCE")
	root.PersistentFlags().Int("inside-tolerance", dedupe.Defaults().InsideTolerance, "INSIDE_TOLERANCE")
	root.PersistentFlags().Int("sentence-cutoff", dedupe.Defaults().SentenceCutoff, "SENTENCE_CUTOFF")
	root.PersistentFlags().Int("concurrent-dedup", dedupe.Defaults().ConcurrentDeduplication, "CONCURRENT_DEDUPLICATION")
	root.PersistentFlags().String("listen", ":9090", "listen address for /health and /metrics")

	v := viper.New()
	v.SetEnvPrefix("DEDUPE")
	v.AutomaticEnv()
	cobra.OnInitialize(func() {
		if cfg, _ := root.PersistentFlags().GetString("config"); cfg != "" {
			v.SetConfigFile(cfg)
		} else {
			v.SetConfigName("dedupe-worker")
			v.AddConfigPath("/etc/dedupe-worker/")
			v.AddConfigPath("$HOME/.dedupe-worker")
			v.AddConfigPath(".")
		}
		_ = v.ReadInConfig()
		_ = v.BindPFlags(root.PersistentFlags())
	})

	root.AddCommand(newServeCmd(v), newDumpCmd(v))
	return root
}

func configFromViper(v *viper.Viper) dedupe.Config {
	return dedupe.Config{
		KeyPrefix:               v.GetString("key-prefix"),
		EdgeTolerance:           v.GetInt("edge-tolerance"),
		InsideTolerance:         v.GetInt("inside-tolerance"),
		SentenceCutoff:          v.GetInt("sentence-cutoff"),
		SentenceShardBits:       dedupe.Defaults().SentenceShardBits,
		ConcurrentDeduplication: v.GetInt("concurrent-dedup"),
	}
}

func newLogger() *zap.SugaredLogger {
	logger, err := zap.NewProduction()
	if err != nil {
		logger = zap.NewNop()
	}
	return logger.Sugar()
}

// newServeCmd runs the worker loop: drain the queue, process each card,
// serve /health and /metrics until signaled.
func newServeCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Drain the ingestion queue and process cards until stopped",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger()
			defer log.Sync()

			cfg := configFromViper(v)
			rdb := redis.NewClient(&redis.Options{Addr: v.GetString("redis-addr")})
			store := kvstore.NewRedisStore(rdb)

			db, err := gorm.Open(sqlite.Open(v.GetString("sqlite-path")), &gorm.Config{})
			if err != nil {
				return fmt.Errorf("open evidence store: %w", err)
			}
			if err := db.AutoMigrate(&evidence.Card{}); err != nil {
				return fmt.Errorf("migrate evidence store: %w", err)
			}
			ev := evidence.NewStore(db)
			q := queue.New(cfg.ConcurrentDeduplication * 100)

			p := &processor.Processor{
				Store:    store,
				Prefix:   cfg.KeyPrefix,
				Evidence: ev,
				Queue:    q,
				Config:   cfg,
				Log:      log,
			}

			metrics := newMetrics()
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			health := &healthState{store: store, ready: true}
			srv := &http.Server{
				Addr:              v.GetString("listen"),
				Handler:           newMux(metrics.registry, health),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				log.Infow("serving health and metrics", "addr", srv.Addr)
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Errorw("http server stopped", "err", err)
				}
			}()

			workers := cfg.ConcurrentDeduplication
			if workers < 1 {
				workers = 1
			}
			for i := 0; i < workers; i++ {
				go runWorker(ctx, log, q, p, metrics)
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			cancel()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// runWorker pulls one card ID at a time from q and runs it through the
// Processor until ctx is canceled. A card that fails permanently is
// logged and dropped; spec.md §7 leaves permanent-failure disposition
// to the driver.
func runWorker(ctx context.Context, log *zap.SugaredLogger, q *queue.Queue, p *processor.Processor, m *workerMetrics) {
	for {
		id, err := q.Dequeue(ctx)
		if err != nil {
			return
		}
		start := time.Now()
		result, err := p.ProcessCard(ctx, id)
		m.cardsProcessed.Inc()
		m.processDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			m.cardsFailed.Inc()
			log.Errorw("card processing failed", "card", id, "err", err)
			continue
		}
		log.Debugw("card processed", "card", id, "updates", len(result.Updates), "deletes", len(result.Deletes))
	}
}

type workerMetrics struct {
	registry        *prometheus.Registry
	cardsProcessed  prometheus.Counter
	cardsFailed     prometheus.Counter
	processDuration prometheus.Histogram
}

func newMetrics() *workerMetrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &workerMetrics{
		registry: reg,
		cardsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_cards_processed_total",
			Help: "Cards that completed processing, successfully or not.",
		}),
		cardsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "dedupe_cards_failed_total",
			Help: "Cards whose processing returned a permanent error.",
		}),
		processDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dedupe_process_card_seconds",
			Help:    "Time spent in one ProcessCard call, including retries.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

type healthState struct {
	store kvstore.Store
	ready bool
}

func newMux(reg *prometheus.Registry, h *healthState) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		tx, err := h.store.Begin(ctx)
		if err != nil {
			http.Error(w, "kv store unreachable: "+err.Error(), http.StatusServiceUnavailable)
			return
		}
		_ = tx.Close(ctx)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}
