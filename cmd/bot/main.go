package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/digkill/SmachnoBot/internal/config"
	"github.com/digkill/SmachnoBot/internal/database"
	"github.com/digkill/SmachnoBot/internal/guard"
	"github.com/digkill/SmachnoBot/internal/kie"
	"github.com/digkill/SmachnoBot/internal/metrics"
	"github.com/digkill/SmachnoBot/internal/openai"
	"github.com/digkill/SmachnoBot/internal/repository"
	"github.com/digkill/SmachnoBot/internal/server"
	"github.com/digkill/SmachnoBot/internal/service"
	"github.com/digkill/SmachnoBot/internal/storage"
	"github.com/digkill/SmachnoBot/internal/telegram"
	"github.com/digkill/SmachnoBot/internal/wayforpay"
	"github.com/digkill/SmachnoBot/pkg/logger"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "smachnobot: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "smachnobot",
		Short:         "Dessert creative Telegram bot with WayForPay payments",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
	cmd.AddCommand(newMigrateCommand())
	return cmd
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadStore()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			log := logger.New(cfg.LogLevel)
			ctx := cmd.Context()

			db, err := database.Connect(ctx, cfg)
			if err != nil {
				return fmt.Errorf("database connect: %w", err)
			}
			defer db.Close()
			if err := database.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
				return fmt.Errorf("database migrate: %w", err)
			}
			log.Info("schema applied", "driver", cfg.DatabaseDriver)
			return nil
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := logger.New(cfg.LogLevel)

	db, err := database.Connect(ctx, cfg)
	if err != nil {
		return fmt.Errorf("database connect: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db, cfg.DatabaseDriver); err != nil {
		return fmt.Errorf("database migrate: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	store := repository.NewStore(db)
	opts := []service.Option{
		service.WithMetrics(m),
		service.WithOperationLogger(service.SlogOperationLogger{Log: log}),
	}

	lock := guard.New(cfg.GenerationLockTTL, guard.WithLogger(log))

	users := service.NewUserService(store)
	ledger := service.NewLedgerService(store, log, opts...)
	entitlements := service.NewEntitlementService(store, log, cfg.FreeGenerations, cfg.CreditsPerPayment, opts...)

	gateway := wayforpay.NewClient(wayforpay.Config{
		MerchantAccount:    cfg.WayForPayMerchantAccount,
		MerchantDomainName: cfg.MerchantDomainName,
		SecretKey:          cfg.WayForPaySecretKey,
		MerchantPassword:   cfg.WayForPayMerchantPassword,
		ProductName:        cfg.WayForPayProductName,
		APIURL:             cfg.WayForPayAPIURL,
		AppURL:             cfg.AppURL,
		UseWidget:          cfg.WayForPayUseWidget,
	}, log)
	verifier := wayforpay.NewVerifier(cfg.WayForPaySecretKey, cfg.WayForPayMerchantPassword)
	payments := service.NewPaymentService(ledger, entitlements, gateway, verifier, cfg.PaymentAmountMinor, cfg.PaymentCurrency, log, opts...)

	var images service.ImageStore
	uploader, err := storage.NewUploader(storage.Config{
		Endpoint:      cfg.S3Endpoint,
		Region:        cfg.S3Region,
		AccessKey:     cfg.S3AccessKey,
		SecretKey:     cfg.S3SecretKey,
		Bucket:        cfg.S3Bucket,
		PublicBaseURL: cfg.S3PublicBaseURL,
		UsePathStyle:  cfg.S3UsePathStyle,
		Prefix:        cfg.S3Prefix,
	})
	if err != nil {
		log.Warn("object storage disabled, creatives keep their source urls", "err", err)
	} else {
		images = uploader
	}

	describer := openai.NewClient(openai.Config{APIKey: cfg.OpenAIAPIKey, Model: cfg.OpenAIModel})
	generator := kie.NewClient(cfg, log)
	generation := service.NewGenerationService(store, entitlements, lock, describer, generator, images, log, opts...)

	botAPI, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return fmt.Errorf("telegram bot: %w", err)
	}
	bot := telegram.NewBot(botAPI, log, users, entitlements, payments, generation, cfg.AdminUserIDs)
	payments.SetNotifier(bot)

	httpServer := server.New(server.Config{
		Addr:          cfg.HTTPListenAddr,
		AdminUsername: cfg.AdminUsername,
		AdminPassword: cfg.AdminPassword,
	}, log, payments, users, bot, registry)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		lock.Run(ctx, 0)
		return nil
	})
	g.Go(func() error {
		if err := httpServer.Run(ctx); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := bot.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("telegram bot: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete")
	return nil
}
