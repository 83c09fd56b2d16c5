package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dkalashnik/openwrite/pkg/bot"
	"github.com/dkalashnik/openwrite/pkg/bot/telegramadapter"
	"github.com/dkalashnik/openwrite/pkg/clock"
	"github.com/dkalashnik/openwrite/pkg/config"
	"github.com/dkalashnik/openwrite/pkg/dialog"
	"github.com/dkalashnik/openwrite/pkg/prompt"
	"github.com/dkalashnik/openwrite/pkg/records"
	"github.com/dkalashnik/openwrite/pkg/sink/httpsink"
	"github.com/dkalashnik/openwrite/pkg/state"
)

func main() {

	prompt.RegisterBuiltins()

	cfgPath := "openwrite.yaml"
	if v := os.Getenv("OPENWRITE_CONFIG"); v != "" {
		cfgPath = v
	}
	if err := config.LoadConfig(cfgPath); err != nil {
		log.Panicf("Failed to load configuration: %v", err)
	}
	log.Println("Configuration loaded successfully.")

	cfg := config.GetConfig()

	botToken, err := config.BotToken()
	if err != nil {
		log.Panic(err)
	}

	botClient, err := bot.NewClient(botToken)
	if err != nil {
		log.Panicf("Failed to initialize bot client: %v", err)
	}
	log.Printf("Authorized on account %s", botClient.Self.UserName)
	if err := botClient.SetCommands(dialog.Commands()); err != nil {
		log.Printf("Warning: failed to register bot commands: %v", err)
	}

	chatPort, err := telegramadapter.New(botClient, log.Default())
	if err != nil {
		log.Panicf("Failed to create telegram adapter: %v", err)
	}

	stores, err := records.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		log.Panicf("Failed to open record store: %v", err)
	}
	defer stores.Close()

	httpClient := &http.Client{Timeout: cfg.Sinks.Timeout}
	prompts, err := prompt.New(cfg.Prompts, prompt.Deps{Clock: clock.System{}, HTTP: httpClient})
	if err != nil {
		log.Panicf("Failed to build prompt source: %v", err)
	}

	sink := httpsink.New(httpsink.Endpoints{
		Submission:   cfg.Sinks.SubmissionURL,
		Notification: cfg.Sinks.NotificationURL,
		Subscribe:    cfg.Sinks.SubscribeURL,
	}, httpClient, log.Default())

	opts := dialog.Options{
		Chat:          chatPort,
		Chats:         state.NewStore(),
		Prompts:       prompts,
		Stores:        stores,
		Clock:         clock.System{},
		Duration:      cfg.Writing.Duration,
		RequireSignIn: cfg.Writing.RequireSignIn,
	}
	if cfg.Sinks.SubmissionURL != "" {
		opts.Submissions = sink
	}
	if cfg.Sinks.NotificationURL != "" {
		opts.Notifications = sink
	}
	if cfg.Sinks.SubscribeURL != "" {
		opts.Waitlist = sink
	}
	handler := dialog.New(opts)

	updates := botClient.GetUpdatesChan(60)
	log.Println("Starting update processing...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigs
		log.Println("Shutdown signal received...")
		cancel()
	}()

	ticker := time.NewTicker(cfg.Writing.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case update, ok := <-updates:
			if !ok {
				log.Println("Update channel closed.")
				shutdown(botClient, handler)
				return
			}
			if update.UpdateID == 0 {
				continue
			}
			handler.Dispatch(ctx, update)
		case <-ticker.C:
			handler.Devices().TickAll()
		case <-ctx.Done():
			log.Println("Stopping update processing loop...")
			shutdown(botClient, handler)
			return
		}
	}
}

func shutdown(botClient *bot.Client, handler *dialog.Handler) {
	botClient.StopReceivingUpdates()
	handler.Close()
	handler.Devices().Shutdown()
	log.Println("Pending submissions drained.")
}
