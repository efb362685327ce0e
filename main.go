package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"signal-trader/config"
	"signal-trader/controllers"
	"signal-trader/database"
	"signal-trader/interfaces"
	"signal-trader/models"
	"signal-trader/services"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.ParseLogLevel())

	storage, err := database.NewLocalStorage(cfg.DBPath)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open storage")
	}
	defer storage.Close()

	notifier := services.NewWebhookNotifier(cfg.NotifyWebhookURL)

	engine := services.NewTradingEngine(
		cfg.InitialBalance,
		models.DefaultRiskSettings(),
		cfg.SlippageTolerance,
		storage,
		storage,
		notifier,
	)
	parser := services.NewSignalParser()
	riskManager := services.NewRiskManager()

	var scorer interfaces.SignalScorer
	if cfg.ScorerURL != "" {
		scorer = services.NewAIScorer(cfg.ScorerURL, cfg.ScorerAPIKey)
	}

	var priceFeed interfaces.PriceFeed
	if cfg.AlpacaAPIKey != "" {
		priceFeed = services.NewAlpacaPriceFeed(cfg.AlpacaAPIKey, cfg.AlpacaSecretKey)
	}

	executor := services.NewAutoExecutor(
		engine,
		riskManager,
		scorer,
		priceFeed,
		notifier,
		models.DefaultAutoExecuteConfig(),
	)

	// The streaming feed drives stop and take-profit evaluation; without it
	// trades only move on manual closes.
	var stream interfaces.PriceStream
	if cfg.BinanceWSURL != "" {
		feed, err := services.NewBinanceStreamFeed(cfg.BinanceWSURL)
		if err != nil {
			logger.WithError(err).Warn("Price stream unavailable, continuing without live ticks")
		} else {
			stream = feed
			go func() {
				for update := range feed.Updates() {
					engine.OnPriceUpdate(update)
				}
			}()
		}
	}

	// Resolved audit rows older than 30 days are purged once a day.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if err := storage.CleanupOldData(time.Now().UTC().AddDate(0, 0, -30)); err != nil {
				logger.WithError(err).Warn("Audit cleanup failed")
			}
		}
	}()

	router := setupRouter(parser, engine, executor, riskManager, priceFeed, stream)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.WithField("port", cfg.Port).Info("Server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info("Shutting down")

	if stream != nil {
		if err := stream.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close price stream")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Forced shutdown")
	}
	logger.Info("Server stopped")
}

func setupRouter(
	parser *services.SignalParser,
	engine *services.TradingEngine,
	executor *services.AutoExecutor,
	riskManager *services.RiskManager,
	priceFeed interfaces.PriceFeed,
	stream interfaces.PriceStream,
) *gin.Engine {
	signalController := controllers.NewSignalController(parser, engine, executor, riskManager)
	tradeController := controllers.NewTradeController(engine, priceFeed)
	portfolioController := controllers.NewPortfolioController(engine)
	settingsController := controllers.NewSettingsController(engine, executor)
	streamController := controllers.NewStreamController(stream)

	router := gin.Default()

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/signals", signalController.HandleSubmitSignal)
		v1.GET("/signals", signalController.HandleListSignals)
		v1.GET("/signals/:id", signalController.HandleGetSignal)
		v1.POST("/signals/:id/execute", signalController.HandleExecuteSignal)
		v1.POST("/signals/:id/dismiss", signalController.HandleDismissSignal)

		v1.GET("/trades", tradeController.HandleListTrades)
		v1.GET("/trades/:id", tradeController.HandleGetTrade)
		v1.POST("/trades/:id/close", tradeController.HandleCloseTrade)

		v1.GET("/portfolio", portfolioController.HandleGetPortfolio)
		v1.GET("/portfolio/stats", portfolioController.HandleGetStats)

		v1.GET("/settings/risk", settingsController.HandleGetRiskSettings)
		v1.PUT("/settings/risk", settingsController.HandleUpdateRiskSettings)
		v1.GET("/settings/auto-execute", settingsController.HandleGetAutoExecuteConfig)
		v1.PUT("/settings/auto-execute", settingsController.HandleUpdateAutoExecuteConfig)
		v1.POST("/settings/auto-execute/reset-breaker", settingsController.HandleResetCircuitBreaker)

		v1.POST("/stream/subscribe", streamController.HandleSubscribe)
	}

	return router
}
