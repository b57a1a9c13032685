package app

import (
	"fmt"
	"time"

	"dtms/internal/broker/bridge"
	dcfg "dtms/internal/config"
	"dtms/internal/detector"
	"dtms/internal/executor"
	"dtms/internal/executor/journal"
	"dtms/internal/logger"
	binancesrc "dtms/internal/market/binance"
	"dtms/internal/monitor"
	"dtms/internal/notifier"
	"dtms/internal/policy"
	"dtms/internal/store"
	httpapi "dtms/internal/transport/http"
)

func build(cfg *dcfg.Config) (*App, error) {
	brokerClient, err := bridge.NewClient(bridge.Config{
		APIURL:           cfg.Broker.APIURL,
		APIToken:         cfg.Broker.APIToken,
		TimeoutSeconds:   cfg.Broker.TimeoutSeconds,
		BreakerThreshold: cfg.Broker.BreakerThreshold,
		BreakerTimeout:   time.Duration(cfg.Broker.BreakerSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("building broker client: %w", err)
	}

	source, err := binancesrc.New(binancesrc.Config{
		RESTBaseURL: cfg.Market.RESTBaseURL,
		ProxyURL:    cfg.Market.ProxyURL,
		HTTPTimeout: time.Duration(cfg.Market.TimeoutSeconds) * time.Second,
		Intervals:   cfg.Market.Intervals,
		CandleLimit: cfg.Market.CandleLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("building market source: %w", err)
	}

	policies, err := policy.NewRegistry(cfg.Policy.Path)
	if err != nil {
		return nil, fmt.Errorf("loading policy: %w", err)
	}

	var history *store.Store
	if cfg.Storage.HistoryPath != "" {
		history, err = store.Open(cfg.Storage.HistoryPath)
		if err != nil {
			return nil, fmt.Errorf("opening history store: %w", err)
		}
	}

	var jnl *journal.Store
	if cfg.Storage.JournalPath != "" {
		jnl, err = journal.Open(cfg.Storage.JournalPath)
		if err != nil {
			return nil, fmt.Errorf("opening action journal: %w", err)
		}
	}

	exec := executor.New(brokerClient, jnl, executor.Config{
		MaxAttempts:    cfg.Executor.MaxAttempts,
		BackoffBase:    time.Duration(cfg.Executor.BackoffBaseMs) * time.Millisecond,
		AttemptTimeout: time.Duration(cfg.Executor.TimeoutSeconds) * time.Second,
		Cooldown:       time.Duration(cfg.Executor.CooldownSeconds) * time.Second,
	})

	var sink notifier.TextNotifier = notifier.Null{}
	if cfg.Notify.Telegram.Enabled {
		sink = notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		logger.Infof("telegram notifier enabled (chat=%s)", cfg.Notify.Telegram.ChatID)
	}
	events := notifier.NewPublisher(sink)

	mon := monitor.New(monitor.Config{
		FastInterval:  time.Duration(cfg.Monitor.FastIntervalSeconds) * time.Second,
		SlowEvery:     cfg.Monitor.SlowEvery,
		StaleAfter:    time.Duration(cfg.Monitor.StaleAfterSeconds) * time.Second,
		MaxConcurrent: cfg.Monitor.MaxConcurrent,
	}, brokerClient, source, detector.NewBank(detector.DefaultBudget), policies, exec, events, history)

	var historyProvider httpapi.HistoryProvider
	if history != nil {
		historyProvider = history
	}
	httpSrv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:    cfg.App.HTTPAddr,
		Status:  mon,
		History: historyProvider,
		Policy:  policies,
	})
	if err != nil {
		return nil, fmt.Errorf("building http server: %w", err)
	}

	logger.Infof("✓ wired broker=%s http=%s policy_version=%d", brokerClient.Name(), httpSrv.Addr(), policies.Version())
	return &App{
		cfg:     cfg,
		monitor: mon,
		exec:    exec,
		httpSrv: httpSrv,
		source:  source,
		history: history,
		journal: jnl,
	}, nil
}
