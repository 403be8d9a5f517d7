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

	"aidcore.org/internal/audit"
	"aidcore.org/internal/auth"
	"aidcore.org/internal/config"
	"aidcore.org/internal/dube"
	"aidcore.org/internal/grpcapi"
	"aidcore.org/internal/httpapi"
	"aidcore.org/internal/obs"
	"aidcore.org/internal/store/pg"
	"aidcore.org/internal/stream"
	"aidcore.org/internal/wfp"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("SOURCE_COMMIT"))

	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// Postgres when a DSN is present; the in-memory stores otherwise,
	// which is enough for local development and the smoke binary.
	var (
		db     *sql.DB
		idents auth.IdentityStore
		creds  auth.CredentialStore
	)
	if cfg.PGDSN != "" {
		db, err = sql.Open("pgx", cfg.PGDSN)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
		idents = pg.NewIdentities(db)
		creds = pg.NewCredentials(db)
	} else {
		log.Println("AIDCORE_PG_DSN not set, using in-memory stores")
		idents = auth.NewInMemoryIdentities()
		creds = auth.NewInMemoryCredentials()
	}

	authSvc, err := auth.NewService(idents, creds, auth.TokenConfig{
		Issuer:        cfg.Issuer,
		AccessSecret:  cfg.Secrets.Access,
		RefreshSecret: cfg.Secrets.Refresh,
		ResetSecret:   cfg.Secrets.Reset,
		VerifySecret:  cfg.Secrets.Verify,
		AccessTTL:     cfg.AccessTTL,
		RefreshTTL:    cfg.RefreshTTL,
		ResetTTL:      cfg.ResetTTL,
		VerifyTTL:     cfg.VerifyTTL,
	})
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	janitorCtx, janitorCancel := context.WithCancel(context.Background())
	defer janitorCancel()
	if db != nil {
		// Expired credential rows are dead weight; verification never
		// reads them.
		go func() {
			pgCreds := creds.(*pg.Credentials)
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for {
				select {
				case <-janitorCtx.Done():
					return
				case <-ticker.C:
					if n, err := pgCreds.DeleteExpired(janitorCtx, time.Now().UTC()); err != nil {
						log.Printf("credential cleanup: %v", err)
					} else if n > 0 {
						log.Printf("credential cleanup: removed %d expired rows", n)
					}
				}
			}
		}()
	}

	feed := stream.New()
	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(httpapi.Options{
		Ready:   probe,
		Version: version,
		Auth:    authSvc,
		WFP:     wfp.NewInMemory(),
		Dube:    dube.NewInMemory(),
		Stream:  feed,
		Audit:   audit.NewRecorder(feed),
	})

	handler := httpapi.RequestID(api.Handler())
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RateLimit(handler, cfg.RateBurst, cfg.RatePerSecond)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.CORS(handler)
	handler = httpapi.MaxBodyBytes(handler, cfg.MaxBodyBytes)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting aidcore-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		grpcapi.New(probe).Register(grpcSrv)
		log.Printf("Starting gRPC health on %s", cfg.GRPCAddr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	obs.SetReady(true)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	obs.SetReady(false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
