package main

import (
	"context"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/paircast/chat-app/internal/abuse"
	"github.com/paircast/chat-app/internal/api"
	"github.com/paircast/chat-app/internal/bot"
	"github.com/paircast/chat-app/internal/events"
	"github.com/paircast/chat-app/internal/hub"
	"github.com/paircast/chat-app/internal/match"
	"github.com/paircast/chat-app/internal/protocol"
	"github.com/paircast/chat-app/internal/ratelimit"
	"github.com/paircast/chat-app/internal/registry"
	"github.com/paircast/chat-app/internal/session"
	"github.com/paircast/chat-app/internal/settings"
	"github.com/paircast/chat-app/internal/ws"
)

func main() {
	listenAddr := envOr("LISTEN_ADDR", ":8080")

	wsConfig := ws.DefaultConfig()
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			wsConfig.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			wsConfig.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			wsConfig.WriteTimeout = d
		}
	}

	creds := api.Credentials{
		Username: envOr("ADMIN_USERNAME", "admin"),
		Password: os.Getenv("ADMIN_PASSWORD"),
	}
	if creds.Password == "" {
		creds.Password = "changeme"
		log.Printf("WARNING: ADMIN_PASSWORD not set, using default credentials")
	}

	// --- Redis (optional: settings persistence + rate limiting) ---
	var redisClient *redis.Client
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		redisClient = redis.NewClient(&redis.Options{Addr: addr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Printf("WARNING: redis unreachable at %s: %v (continuing, limiter fails open)", addr, err)
		}
		cancel()
	} else {
		log.Printf("REDIS_ADDR not set: settings are memory-only, rate limits disabled")
	}

	// --- Postgres (optional: session/report archive) ---
	var archive *session.Archive
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		var err error
		archive, err = session.OpenArchive(dbURL)
		if err != nil {
			log.Fatalf("failed to open archive: %v", err)
		}
	} else {
		log.Printf("DATABASE_URL not set: session archive disabled")
	}

	// --- NATS (optional: lifecycle events) ---
	var publisher *events.Publisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		cfg := events.DefaultConfig()
		cfg.URL = natsURL
		var err error
		publisher, err = events.NewPublisher(cfg)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
	} else {
		log.Printf("NATS_URL not set: lifecycle events disabled")
	}

	siteSettings := settings.NewStore(redisClient)
	if redisClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := siteSettings.Load(ctx); err != nil {
			log.Printf("WARNING: failed to load persisted settings: %v", err)
		}
		cancel()
	}

	guard := abuse.NewGuard(nil) // no GeoIP resolver wired; country blocks are inert until one is
	sessions := session.NewStore(archive)
	limiter := ratelimit.NewLimiter(redisClient)
	bots := bot.NewRandomGenerator(rand.NewSource(time.Now().UnixNano()))

	server := ws.NewServer(wsConfig, ws.Handlers{})

	coordinator := hub.New(hub.Deps{
		Registry: registry.New(),
		Sessions: sessions,
		Guard:    guard,
		Settings: siteSettings,
		Limiter:  limiter,
		Events:   publisher,
		Archive:  archive,
		Bots:     bots,
		Sender:   server,
	})

	dispatcher := ws.NewMessageDispatcher()
	dispatcher.Register(protocol.TypeFindMatch, func(conn *ws.Connection, msg interface{}) {
		coordinator.FindMatch(conn.ID)
	})
	dispatcher.Register(protocol.TypeSetInterests, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.SetInterestsData); ok {
			coordinator.SetInterests(conn.ID, m.Interests)
		}
	})
	dispatcher.Register(protocol.TypeSetProfile, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.Profile); ok {
			coordinator.SetProfile(conn.ID, m)
		}
	})
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.MessageData); ok {
			coordinator.Message(conn.ID, m.Content)
		}
	})
	dispatcher.Register(protocol.TypeTyping, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.TypingData); ok {
			coordinator.Typing(conn.ID, m.IsTyping)
		}
	})
	dispatcher.Register(protocol.TypeEnd, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.EndData); ok {
			coordinator.End(conn.ID, m.Requeue)
		}
	})
	dispatcher.Register(protocol.TypeReportUser, func(conn *ws.Connection, msg interface{}) {
		if m, ok := msg.(protocol.ReportUserData); ok {
			coordinator.Report(conn.ID, m.ReportedUserID, m.Reason)
		}
	})
	for _, signalType := range []string{protocol.TypeOffer, protocol.TypeAnswer, protocol.TypeICECandidate} {
		signalType := signalType
		dispatcher.Register(signalType, func(conn *ws.Connection, msg interface{}) {
			if m, ok := msg.(protocol.SignalData); ok {
				coordinator.Signal(conn.ID, signalType, m.Raw)
			}
		})
	}

	server.SetHandlers(ws.Handlers{
		Admit:        coordinator.Admit,
		OnConnect:    func(c *ws.Connection) { coordinator.Connect(c.ID, c.IP) },
		OnMessage:    dispatcher.Dispatch,
		OnDisconnect: coordinator.Disconnect,
	})

	scheduler := match.NewScheduler(match.SweepInterval, coordinator.Sweep)

	apiServer := api.NewServer(coordinator, guard, siteSettings, server, creds)
	mux := http.NewServeMux()
	apiServer.Routes(mux)
	mux.HandleFunc("GET /ws", server.HandleUpgrade)

	httpServer := &http.Server{
		Addr:    listenAddr,
		Handler: mux,
	}

	log.Printf("paircast server starting")
	log.Printf("  listen_addr:     %s", listenAddr)
	log.Printf("  worker_pool:     %d", wsConfig.WorkerPoolSize)
	log.Printf("  max_connections: %d", wsConfig.MaxConnections)
	log.Printf("  read_timeout:    %s", wsConfig.ReadTimeout)
	log.Printf("  write_timeout:   %s", wsConfig.WriteTimeout)

	if err := server.Start(); err != nil {
		log.Fatalf("ws server error: %v", err)
	}
	scheduler.Start()

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		scheduler.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(ctx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("ws shutdown error: %v", err)
		}
		publisher.Close()
		if archive != nil {
			if err := archive.Close(); err != nil {
				log.Printf("archive close error: %v", err)
			}
		}
		if redisClient != nil {
			_ = redisClient.Close()
		}
		os.Exit(0)
	}()

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("http server error: %v", err)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
