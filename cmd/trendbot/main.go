package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trendbotv1/config"
	"trendbotv1/internal/binance"
	"trendbotv1/internal/bus"
	"trendbotv1/internal/candlestore"
	"trendbotv1/internal/engine"
	"trendbotv1/internal/execution"
	"trendbotv1/internal/feed"
	"trendbotv1/internal/indicator"
	"trendbotv1/internal/logger"
	"trendbotv1/internal/metrics"
	"trendbotv1/internal/model"
	"trendbotv1/internal/notification"
	"trendbotv1/internal/portfolio"
	"trendbotv1/internal/registry"
	"trendbotv1/internal/scanner"
	redisstore "trendbotv1/internal/store/redis"
	sqlitestore "trendbotv1/internal/store/sqlite"
	"trendbotv1/internal/strategy"
)

func main() {
	cfg := config.Load()

	if cfg.LogJSON {
		logger.Init("trendbot", slog.LevelInfo)
	} else {
		log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	}
	log.Println("[trendbot] starting...")
	if cfg.PaperMode {
		log.Println("[trendbot] *** PAPER MODE: orders are simulated, no keys required ***")
	}

	indCfg := indicator.DefaultConfig()
	indCfg.RSIOverbought = cfg.RSIOverbought
	indCfg.RSIOversold = cfg.RSIOversold
	indCfg.ADXThreshold = cfg.ADXThreshold
	indCfg.VolumeSpikeMult = cfg.VolumeSpikeMult

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	health.SetPaperMode(cfg.PaperMode)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context for graceful shutdown ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Venue client (market data is public; signing only for orders) ----
	client := binance.New(binance.Config{
		BaseURL:   cfg.RestBaseURL,
		WSBaseURL: cfg.WSBaseURL,
		APIKey:    cfg.APIKey,
		APISecret: cfg.APISecret,
	})

	// ---- SQLite writer (off hot path) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[trendbot] sqlite init failed: %v", err)
	}
	defer sqlWriter.Close()
	sqlWriter.OnCommit = func(d time.Duration) { prom.SQLiteCommitDur.Observe(d.Seconds()) }
	health.CheckSQLite(ctx, sqlWriter.DB())
	log.Println("[trendbot] sqlite writer ready")

	// ---- Trade journal ----
	journal, err := execution.NewJournal(cfg.JournalPath)
	if err != nil {
		log.Fatalf("[trendbot] journal init failed: %v", err)
	}
	defer journal.Close()

	// ---- Redis mirror (optional, behind a circuit breaker) ----
	var redisWriter *redisstore.Writer
	var buffered *redisstore.BufferedWriter
	redisWriter, err = redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[trendbot] WARNING: redis init failed: %v (continuing without redis)", err)
		redisWriter = nil
	} else {
		cb := redisstore.NewCircuitBreaker(5, 30*time.Second)
		cb.OnStateChange = func(from, to redisstore.State) {
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
		buffered = redisstore.NewBufferedWriter(ctx, redisWriter, cb, 10000)
		buffered.OnBuffer = func() { prom.RedisBufferedWrites.Inc() }
		buffered.OnFlush = func(count int) {
			log.Printf("[trendbot] redis circuit closed, flushed %d buffered writes", count)
		}
		log.Println("[trendbot] redis writer ready")
	}

	// ---- Periodic liveness checks ----
	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// ---- Notifications ----
	backends := []notification.Notifier{notification.NewLogNotifier()}
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
		log.Println("[trendbot] telegram notifications enabled")
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
		log.Println("[trendbot] webhook notifications enabled")
	}
	notifier := notification.NewMulti(backends...)

	// ---- Execution venue: live client or paper simulation ----
	var venue execution.Venue = client
	var paper *execution.PaperVenue
	var accounts engine.AccountSource = client
	if cfg.PaperMode {
		rules, err := client.ExchangeSymbols(ctx)
		if err != nil {
			log.Fatalf("[trendbot] exchange info fetch failed: %v", err)
		}
		paper = execution.NewPaperVenue(rules)
		venue = paper
		accounts = nil
	}
	gateway := execution.NewGateway(venue, cfg.MaxSubmitRetry, journal)
	gateway.OnFill = func(res model.OrderResult) {
		log.Printf("[trendbot] fill %s %s qty=%.8f @ %.4f (%s)",
			res.Symbol, res.Side, res.Qty, res.AvgPrice, res.OrderID)
	}
	gateway.OnRetry = func(string) { prom.OrderRetriesTotal.Inc() }

	// ---- Portfolio & risk ----
	book := portfolio.NewBook()
	pnl := portfolio.NewPnLTracker()
	risk := portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), book, pnl)

	// ---- Market data: per-symbol window store + feeds ----
	store := candlestore.New(cfg.CandleLimit)
	feedMgr := feed.NewManager(client, store, cfg.Interval, cfg.CandleLimit)
	watch := registry.New(feedMgr, cfg.MaxWatch)
	scan := scanner.New(client, cfg.Interval, cfg.ScanSize, indCfg)

	// ---- Persistence fan-out for closed candles ----
	fanout := bus.New(5000)
	fanout.OnDrop = func(idx int) {
		prom.FanoutDropsTotal.WithLabelValues(subscriberName(idx)).Inc()
	}
	sqliteCh := fanout.Subscribe()
	var redisCh <-chan model.Candle
	if buffered != nil {
		redisCh = fanout.Subscribe()
	}
	mirrorCh := make(chan model.Candle, 5000)
	go fanout.Run(ctx, mirrorCh)

	go sqlWriter.Run(ctx, sqliteCh)
	if redisCh != nil {
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case c, ok := <-redisCh:
					if !ok {
						return
					}
					start := time.Now()
					buffered.WriteCandle(c)
					prom.RedisWriteDur.Observe(time.Since(start).Seconds())
				}
			}
		}()
	}

	// ---- Engine ----
	eng := engine.New(
		engine.Config{
			Policy: strategy.Policy{
				Cooldown:       cfg.Cooldown,
				TakeProfitUSD:  cfg.TakeProfitUSD,
				OrderBudgetUSD: cfg.OrderBudgetUSD,
			},
			Indicators:   indCfg,
			MaxWatch:     cfg.MaxWatch,
			RestartEvery: cfg.RestartMins,
		},
		engine.Deps{
			Store:    store,
			Registry: watch,
			Scanner:  scan,
			Gateway:  gateway,
			Accounts: accounts,
			Book:     book,
			PnL:      pnl,
			Risk:     risk,
			Notifier: notifier,
			Metrics:  prom,
			Health:   health,
			Mirror: func(c model.Candle) {
				select {
				case mirrorCh <- c:
				default:
				}
			},
			SnapshotSink: func(symbol string, snap model.IndicatorSnapshot) {
				if err := sqlWriter.SaveSnapshot(symbol, snap); err != nil {
					log.Printf("[trendbot] snapshot save failed for %s: %v", symbol, err)
				}
				if buffered != nil {
					buffered.WriteSnapshot(symbol, snap)
				}
			},
			ConnectedFeeds: func() int {
				n := 0
				for _, s := range feedMgr.Symbols() {
					if feedMgr.State(s) == feed.StateConnected {
						n++
					}
				}
				return n
			},
		},
	)

	feedMgr.OnClosed = eng.HandleClosedCandle
	feedMgr.OnPrice = func(u model.PriceUpdate) {
		if paper != nil {
			paper.SetPrice(u.Symbol, u.Price)
		}
		if redisWriter != nil {
			redisWriter.WritePrice(ctx, u)
		}
		eng.HandlePrice(u)
	}
	feedMgr.OnSeedFailure = eng.HandleSeedFailure
	feedMgr.OnReconnect = eng.HandleReconnect
	feedMgr.OnOverflow = func(string) { prom.RingBufOverflow.Inc() }

	engineDone := make(chan error, 1)
	go func() { engineDone <- eng.Run(ctx) }()

	log.Printf("[trendbot] pipeline ready: interval=%s window=%d watch<=%d restart=%dm paper=%v",
		cfg.Interval, cfg.CandleLimit, cfg.MaxWatch, cfg.RestartMins, cfg.PaperMode)

	// ---- Wait for shutdown signal ----
	select {
	case <-sigCh:
		log.Println("[trendbot] shutdown signal received, cleaning up...")
	case err := <-engineDone:
		log.Printf("[trendbot] engine stopped: %v", err)
	}
	cancel()

	feedMgr.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)

	if redisWriter != nil {
		redisWriter.Close()
	}

	log.Println("[trendbot] shutdown complete.")
}

// subscriberName maps fan-out subscriber order to a stable metric label.
func subscriberName(idx int) string {
	switch idx {
	case 0:
		return "sqlite"
	case 1:
		return "redis"
	default:
		return "extra"
	}
}
