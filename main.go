package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlinhoWhat/SHousBackend/internal/auth"
	"github.com/AlinhoWhat/SHousBackend/internal/chat"
	"github.com/AlinhoWhat/SHousBackend/internal/config"
	"github.com/AlinhoWhat/SHousBackend/internal/crypt"
	"github.com/AlinhoWhat/SHousBackend/internal/handlers"
	"github.com/AlinhoWhat/SHousBackend/internal/middleware"
	"github.com/AlinhoWhat/SHousBackend/internal/store"
	"github.com/AlinhoWhat/SHousBackend/internal/store/badgerstore"
	"github.com/AlinhoWhat/SHousBackend/internal/store/sqlstore"
	"github.com/AlinhoWhat/SHousBackend/internal/ws"
	"github.com/gorilla/mux"
	"github.com/mama165/sdk-go/logs"
	"github.com/spf13/pflag"
)

const shutdownTimeout = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	envFile := pflag.String("env-file", ".env", "optional dotenv file loaded before the environment")
	addr := pflag.String("addr", "", "http service address, overrides ADDR")
	pflag.Parse()

	cfg, err := config.Load(*envFile)
	if err != nil {
		return err
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	log := logs.GetLoggerFromString(cfg.LogLevel)

	cipher, err := crypt.New(cfg.MsgSecretKey)
	if err != nil {
		return fmt.Errorf("message cipher: %w", err)
	}
	tokens, err := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("token verifier: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	views := chat.NewDecryptor(cipher, log)
	chats := chat.NewChats(st, views, log)
	messages := chat.NewMessages(st, cipher, log)
	sender := chat.NewSender(chats, messages, log)

	hub := ws.NewHub(ws.Options{
		Cipher:         cipher,
		Persister:      sender,
		Members:        chats,
		PersistTimeout: cfg.PersistTimeout,
		Log:            log,
	})
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go hub.Run(hubCtx)

	chatHandler := &handlers.ChatHandler{Chats: chats, Log: log}
	messageHandler := &handlers.MessageHandler{Sender: sender, Messages: messages, Views: views, Log: log}

	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(log))
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods("GET")

	api := r.NewRoute().Subrouter()
	api.Use(middleware.AuthMiddleware(tokens))
	api.HandleFunc("/chats", chatHandler.GetChats).Methods("GET")
	api.HandleFunc("/chats", chatHandler.CreateChat).Methods("POST")
	api.HandleFunc("/chats/read/{id}", chatHandler.ReadChat).Methods("PUT")
	api.HandleFunc("/chats/{id}", chatHandler.GetChat).Methods("GET")
	api.HandleFunc("/message/{chatId}", messageHandler.SendMessage).Methods("POST")
	api.HandleFunc("/message/{id}", messageHandler.UpdateMessage).Methods("PUT")
	api.HandleFunc("/message/{id}", messageHandler.DeleteMessage).Methods("DELETE")
	api.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		userID, _ := middleware.UserID(r.Context())
		hub.ServeWs(w, r, userID)
	}).Methods("GET")

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", "addr", cfg.Addr, "store", cfg.StoreBackend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Graceful shutdown failed", "error", err)
	}
	// Pending writes finish before the store closes.
	hub.Drain()
	return nil
}

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendBadger:
		st, err := badgerstore.Open(cfg.BadgerPath, log)
		if err != nil {
			return nil, fmt.Errorf("open badger store: %w", err)
		}
		return st, nil
	default:
		st, err := sqlstore.New(ctx, cfg.DBDriver, cfg.DBSource)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.DBDriver, err)
		}
		return st, nil
	}
}
