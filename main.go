package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tomoboard-server/collab"
	"tomoboard-server/config"
	"tomoboard-server/core"
	"tomoboard-server/handlers/api/rooms"
	"tomoboard-server/handlers/api/users"
	"tomoboard-server/handlers/api/whiteboards"
	"tomoboard-server/handlers/auth"
	"tomoboard-server/handlers/websocket"
	"tomoboard-server/middleware"
	"tomoboard-server/stores"
	"tomoboard-server/telemetry"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"
	"github.com/sirupsen/logrus"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"golang.org/x/time/rate"
)

func setupRouter(store core.Store, hub *collab.Hub, verifier *auth.Verifier, recorder *users.Recorder, limiter *middleware.IPRateLimiter, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Tracing)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, map[string]any{
			"status":      "ok",
			"connections": hub.Presence().Count(),
		})
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthJWT(verifier))
		r.Use(recorder.Middleware)

		gate := hub.Gate()
		r.Get("/api/auth/me", auth.HandleMe)
		r.Get("/api/rooms", rooms.HandleList(hub.Rooms(), store, gate))

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/profile", users.HandleProfile(store))
			r.Get("/search", users.HandleSearch(store))
		})

		r.Route("/api/whiteboards", func(r chi.Router) {
			r.Get("/", whiteboards.HandleList(store))
			r.With(limiter.Middleware).Post("/", whiteboards.HandleCreate(store))

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", whiteboards.HandleGet(store, gate, cfg.ChatHistoryLimit))
				r.Get("/messages", whiteboards.HandleMessages(store, gate, cfg.ChatHistoryLimit))

				r.Group(func(r chi.Router) {
					r.Use(limiter.Middleware)
					r.Put("/", whiteboards.HandleUpdate(store, gate))
					r.Delete("/", whiteboards.HandleDelete(store, gate))
					r.Post("/collaborators", whiteboards.HandleAddCollaborator(store, gate))
					r.Delete("/collaborators/{userId}", whiteboards.HandleRemoveCollaborator(store, gate))
				})
			})
		})
	})

	return r
}

func waitForShutdown(server *http.Server, ioo *socketio.Server, hub *collab.Hub, cleanup func()) {
	signalC := make(chan os.Signal, 1)
	signal.Notify(signalC, os.Interrupt, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	s := <-signalC
	logrus.WithField("signal", s.String()).Info("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := hub.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to flush pending canvas saves")
	}
	ioo.Close(nil)
	if err := server.Shutdown(ctx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown")
	}
	cleanup()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logLevel := flag.String("loglevel", cfg.LogLevel, "Set the logging level: debug, info, warn, error, fatal, panic")
	listenAddr := flag.String("listen", cfg.ListenAddr, "Set the server listen address")
	flag.Parse()

	level, err := logrus.ParseLevel(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if cfg.UsesDefaultSecret() {
		logrus.Warn("JWT_SECRET is not set; using the default development secret")
	}

	shutdownTracer := func(context.Context) error { return nil }
	if cfg.JaegerEndpoint != "" {
		if shutdownTracer, err = telemetry.InitJaeger("tomoboard-server", cfg.JaegerEndpoint); err != nil {
			logrus.WithError(err).Fatal("Failed to initialize tracing")
		}
	}

	store, closeStore, err := stores.GetStore(context.Background(), cfg)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open storage")
	}

	opts := collab.DefaultOptions()
	opts.SaveDelay = cfg.CanvasSaveDelay
	opts.PersistTimeout = cfg.PersistTimeout
	opts.EphemeralRate = rate.Limit(cfg.EphemeralRate)
	opts.EphemeralBurst = cfg.EphemeralBurst
	hub := collab.NewHub(store, opts)

	verifier := auth.NewVerifier(cfg.JWTSecret)

	limiter := middleware.NewIPRateLimiter(rate.Limit(5), 20)
	stopCleanup := make(chan struct{})
	go limiter.RunCleanup(10*time.Minute, stopCleanup)

	recorder := users.NewRecorder(store)
	r := setupRouter(store, hub, verifier, recorder, limiter, cfg)
	ioo := websocket.SetupSocketIO(hub, verifier, recorder, cfg)
	r.Handle("/socket.io/", ioo.ServeHandler(nil))

	server := &http.Server{Addr: *listenAddr, Handler: r}
	logrus.WithField("addr", *listenAddr).Info("starting server")
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithField("event", "start server").Fatal(err)
		}
	}()

	logrus.Debug("Server is running in the background")
	waitForShutdown(server, ioo, hub, func() {
		close(stopCleanup)
		closeStore()
		if err := shutdownTracer(context.Background()); err != nil {
			logrus.WithError(err).Warn("Failed to flush traces")
		}
	})
}
