package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"andarbahar_service/internal/api"
	"andarbahar_service/internal/auth"
	"andarbahar_service/internal/broadcast"
	"andarbahar_service/internal/config"
	"andarbahar_service/internal/game"
	"andarbahar_service/internal/history"
	"andarbahar_service/internal/ledger"
	"andarbahar_service/internal/logger"
	"andarbahar_service/internal/payout"
	"andarbahar_service/internal/settlement"
	"andarbahar_service/internal/wallet"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalln(err)
	}

	logg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalln(err)
	}
	defer logg.Sync()

	if err := run(cfg, logg); err != nil {
		logg.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logg *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := gorm.Open(postgres.Open(cfg.DBConnStr), &gorm.Config{TranslateError: true})
	if err != nil {
		return err
	}
	err = db.AutoMigrate(
		&game.Game{}, &game.DealtCard{},
		&ledger.Bet{}, &ledger.Aggregate{},
		&settlement.Credit{}, &history.Entry{},
		&wallet.Wallet{}, &wallet.Transaction{},
	)
	if err != nil {
		return err
	}

	authn, err := auth.New(cfg.AdminTokenSecret)
	if err != nil {
		return err
	}
	calc, err := payout.NewCalculator(cfg.PayoutRules)
	if err != nil {
		return err
	}

	hub := broadcast.NewHub(logg.Named("broadcast"))
	defer hub.Close()

	bets := ledger.NewLedger(ledger.NewRepository(db), logg.Named("ledger"))
	games := game.NewRepository(db)
	hist := history.NewRepository(db)
	walletService := wallet.NewService(wallet.NewWalletRepositoryImpl(db), cfg.Currency, logg.Named("wallet"))

	settler := settlement.NewService(games, bets, calc, settlement.WalletLedger{Wallet: walletService},
		settlement.NewRepository(db), hist, cfg.Settlement, logg.Named("settlement"))

	mgr := game.NewManager(cfg.Game, games, bets, hub, settler, logg.Named("game"))
	defer mgr.Close()
	if err := mgr.Resume(ctx); err != nil {
		return err
	}

	go settlement.NewRetrier(settler, logg.Named("retrier")).Run(ctx)

	ws := broadcast.NewServer(hub, mgr, authn, cfg.CORSOrigins, logg.Named("ws"))

	gin.SetMode(gin.ReleaseMode)
	router := api.NewRouter(api.RouterConfig{
		Handler:      api.NewHandler(mgr, bets, settler, hist, walletService, logg.Named("api")),
		RequireAdmin: authn.RequireAdmin(),
		WebSocket:    ws.HandleWebSocket,
		CORSOrigins:  cfg.CORSOrigins,
		Log:          logg.Named("http"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logg.Info("server started", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
