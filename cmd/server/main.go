package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"campus/chat/internal/chat"
	"campus/chat/internal/config"
	"campus/chat/internal/db"
	"campus/chat/internal/hub"
	internalhttp "campus/chat/internal/http"
	"campus/chat/internal/notify"
	"campus/chat/internal/ws"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		chatRepo  chat.ChatRepository
		msgRepo   chat.MessageRepository
		notifRepo chat.NotificationRepository
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db connection failed: %v", err)
		}
		defer pool.Close()

		store := db.NewStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			log.Fatalf("schema apply failed: %v", err)
		}
		chatRepo = db.NewChatRepo(store)
		msgRepo = db.NewMessageRepo(store)
		notifRepo = db.NewNotificationRepo(store)
	} else {
		// Dev mode: everything in memory, lost on restart.
		log.Printf("DATABASE_URL empty, using in-memory storage")
		mem := chat.NewMemoryStore()
		chatRepo = mem
		msgRepo = mem
		notifRepo = mem
	}

	var redisClient *redis.Client
	var lastSeenStore hub.LastSeenStore
	counter := notify.UnreadCounter(notify.NewMemoryCounter())
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf("redis ping failed: %v", err)
		}
		cancel()
		defer func() {
			if err := redisClient.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}()
		lastSeenStore = db.NewRedisLastSeen(redisClient)
		counter = notify.NewRedisCounter(redisClient)
	}

	bus := hub.New()
	presence := hub.NewRegistry(lastSeenStore, func(userID string, online bool, lastSeen time.Time) {
		payload := hub.UserStatusPayload{UserID: userID, IsOnline: online}
		if !online {
			ts := lastSeen
			payload.LastSeenAt = &ts
		}
		bus.Publish(hub.PresenceRoom, hub.Event{Name: hub.EventUserStatus, Payload: payload})
	})

	notifySvc := notify.New(notifRepo, bus, counter, cfg.NotifyQueueSize)
	notifySvc.Start(ctx)

	lifecycle := chat.NewLifecycle(chatRepo, notifySvc, bus)
	messages := chat.NewMessages(chatRepo, msgRepo, bus, notifySvc)
	pager := chat.NewPager(chatRepo, msgRepo, cfg.DefaultPageSize, cfg.MaxPageSize)

	gateway := ws.NewGateway(bus, presence, chatRepo, notifySvc, cfg.JWTSecret, cfg.JWTIssuer, cfg.AllowedOrigins)
	server := internalhttp.NewServer(cfg, lifecycle, messages, pager, chatRepo, msgRepo, presence, notifySvc, gateway)

	log.Printf("chat http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(ctx); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server error: %v", err)
	}

	notifySvc.Wait()
}
