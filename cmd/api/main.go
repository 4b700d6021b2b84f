package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"

	"uniadmit.org/internal/admissions"
	"uniadmit.org/internal/auth"
	"uniadmit.org/internal/config"
	"uniadmit.org/internal/httpapi"
	"uniadmit.org/internal/obs"
	"uniadmit.org/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	// Подключение к БД (если задан DSN); без DSN сервис работает на
	// in-memory хранилищах — удобно для локальной разработки.
	var db *sql.DB
	if cfg.PostgresDSN != "" {
		db, err = sql.Open("pgx", cfg.PostgresDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	codec, err := auth.NewCodec(auth.CodecConfig{Secret: cfg.AuthSecret, Issuer: cfg.Issuer})
	if err != nil {
		log.Fatalf("auth codec: %v", err)
	}

	var (
		accounts auth.AccountDirectory
		tokens   auth.RefreshTokenStore
		records  admissions.Store
	)
	if db != nil {
		accounts = auth.NewPGDirectory(db)
		tokens = auth.NewPGTokenStore(db)
		records = admissions.NewPGStore(db)
	} else {
		log.Println("no UNIADMIT_PG_DSN set, using in-memory stores")
		accounts = auth.NewInMemoryDirectory()
		tokens = auth.NewInMemoryTokenStore()
		records = admissions.NewInMemoryStore()
	}

	sessions, err := auth.NewService(accounts, tokens, codec,
		auth.WithAccessTTL(cfg.AccessTTL),
		auth.WithRefreshTTL(cfg.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}
	adm, err := admissions.NewService(records, admissions.WithTeacherRoster(accounts))
	if err != nil {
		log.Fatalf("admissions service: %v", err)
	}

	activity := stream.New()
	api := httpapi.New(httpapi.ReadyProbe{DB: db}, version, sessions, adm, activity)

	handler := httpapi.RequestID(
		httpapi.LoggingJSON(
			httpapi.SecurityHeaders(
				httpapi.CORS(
					httpapi.RateLimit(
						httpapi.MaxBodyBytes(api.Handler(), 1<<20),
						cfg.RateLimitBurst, cfg.RateLimitPerSecond,
					),
				),
			),
		),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	grpcSrv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(grpcSrv, httpapi.NewGRPCHealthServer(httpapi.ReadyProbe{DB: db}))

	log.Printf("Starting uniadmit-api %s on %s (grpc %s)", version, cfg.HTTPAddr, cfg.GRPCAddr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()
	go func() {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		if err := grpcSrv.Serve(lis); err != nil {
			log.Fatalf("grpc serve: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	grpcSrv.GracefulStop()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
