package main

import (
	"context"
	"encoding/json"
	"expvar"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"clinicq/queue-service/internal/config"
	"clinicq/queue-service/internal/httpapi"
	"clinicq/queue-service/internal/hub"
	"clinicq/queue-service/internal/store"
	"clinicq/queue-service/internal/store/postgres"
	"clinicq/queue-service/internal/telemetry"

	"github.com/google/uuid"
	"github.com/igm/sockjs-go/sockjs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type eventEnvelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

const zeroUUID = "00000000-0000-0000-0000-000000000000"

func main() {
	cfg := config.Load()
	shutdownTelemetry := telemetry.Setup(context.Background(), "queue-service")
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctx)
	}()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer pool.Close()

	queueStore := postgres.NewStore(pool, postgres.Options{})
	handler := httpapi.NewHandler(queueStore, httpapi.Options{})
	limiter := httpapi.NewRateLimiter(httpapi.RateLimitConfig{
		IPPerMinute:      cfg.RateLimitPerMinute,
		IPBurst:          cfg.RateLimitBurst,
		SessionPerMinute: cfg.SessionRateLimitPerMinute,
		SessionBurst:     cfg.SessionRateLimitBurst,
	})
	h := hub.New()

	mux := http.NewServeMux()
	mux.Handle("/metrics", expvar.Handler())
	mux.Handle("/", httpapi.AuthMiddleware(queueStore, handler.Routes()))

	// The live board is unauthenticated: it carries queue codes only, never
	// patient identity.
	sockjsHandler := sockjs.NewHandler("/display/live", sockjs.DefaultOptions, func(session sockjs.Session) {
		client := &hub.Client{ID: uuid.NewString(), Send: make(chan []byte, 16)}
		h.Register(client)
		defer h.Unregister(client)

		go func() {
			for msg := range client.Send {
				_ = session.Send(string(msg))
			}
		}()

		for {
			msg, err := session.Recv()
			if err != nil {
				return
			}
			parsed, ok := hub.ParseSubscribe([]byte(msg))
			if !ok {
				continue
			}
			if parsed.Action == "unsubscribe" {
				h.UpdateSubscription(client, hub.Subscription{})
				continue
			}
			h.UpdateSubscription(client, hub.Subscription{QueueType: parsed.QueueType})
		}
	})
	mux.Handle("/display/live/", sockjsHandler)

	otelHandler := otelhttp.NewHandler(httpapi.LoggingMiddleware(limiter.Middleware(mux)), "queue-service")
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      otelHandler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("queue-service listening on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	go runNoShowSweeper(queueStore, cfg)
	go runEventPoller(queueStore, h, cfg)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func runNoShowSweeper(queueStore store.QueueStore, cfg config.Config) {
	if cfg.NoShowGrace <= 0 || cfg.NoShowInterval <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.NoShowInterval)
	defer ticker.Stop()
	for range ticker.C {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		count, err := queueStore.AutoNoShow(ctx, cfg.NoShowGrace, cfg.NoShowBatchSize)
		cancel()
		if err != nil {
			log.Printf("auto no-show error: %v", err)
			continue
		}
		if count > 0 {
			log.Printf("auto no-show processed %d entries", count)
		}
	}
}

// runEventPoller tails queue_events and fans them out to display clients.
// The CAS guard keeps a slow poll from overlapping the next tick.
func runEventPoller(queueStore store.QueueStore, h *hub.Hub, cfg config.Config) {
	interval := cfg.EventPollInterval
	if interval <= 0 {
		interval = time.Second
	}
	offset := store.EventOffset{
		LastEventTime: time.Unix(0, 0).UTC(),
		LastEventID:   zeroUUID,
	}

	var running int32
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if !atomic.CompareAndSwapInt32(&running, 0, 1) {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		events, err := queueStore.ListQueueEvents(ctx, offset, cfg.EventBatchSize)
		cancel()
		if err != nil {
			log.Printf("event poll error: %v", err)
			atomic.StoreInt32(&running, 0)
			continue
		}
		for _, event := range events {
			offset.LastEventTime = event.CreatedAt
			offset.LastEventID = event.EventID
			env := eventEnvelope{Type: event.Type, Payload: event.Payload, CreatedAt: event.CreatedAt}
			payload, _ := json.Marshal(env)
			h.Broadcast(payload, extractMeta(event.Payload))
		}
		atomic.StoreInt32(&running, 0)
	}
}

func extractMeta(payload []byte) hub.Subscription {
	var data map[string]interface{}
	if err := json.Unmarshal(payload, &data); err != nil {
		return hub.Subscription{}
	}
	queueType, _ := data["queue_type"].(string)
	return hub.Subscription{QueueType: queueType}
}
