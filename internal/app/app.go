// Package app boots the hub: configuration, database, component wiring,
// and the HTTP server lifecycle.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/authhub/authhub/internal/audit"
	"github.com/authhub/authhub/internal/config"
	"github.com/authhub/authhub/internal/db"
	"github.com/authhub/authhub/internal/gateway"
	"github.com/authhub/authhub/internal/http/api"
	"github.com/authhub/authhub/internal/nostr"
	"github.com/authhub/authhub/internal/obs"
	"github.com/authhub/authhub/internal/ratelimit"
	"github.com/authhub/authhub/internal/rbac"
	"github.com/authhub/authhub/internal/token"
	"github.com/authhub/authhub/internal/vault"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Migrate opens the database and runs migrations.
func Migrate(ctx context.Context, cfg config.AppConfig) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)
	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	return db.Migrate(conn)
}

// RunServer boots the hub server and blocks until ctx is canceled or the
// listener fails.
func RunServer(ctx context.Context, cfg config.AppConfig, port int) error {
	configPath := config.ResolveConfigPath(cfg.ConfigPath)

	dsn, err := config.LoadDatabaseDSN(configPath)
	if err != nil {
		return err
	}
	jwtCfg, err := config.LoadJWTConfig(configPath)
	if err != nil {
		return err
	}
	masterKey, err := config.LoadMasterKey(configPath)
	if err != nil {
		return err
	}

	conn, err := db.Open(dsn)
	if err != nil {
		return err
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}

	secretVault, errVault := vault.New(masterKey)
	if errVault != nil {
		return errVault
	}

	recorder := audit.NewRecorder(conn)
	resolver := rbac.NewResolver(conn, recorder)
	issuer := token.NewIssuer(conn, secretVault, recorder, jwtCfg.Secret)
	verifier := token.NewVerifier(issuer)
	challenges := nostr.NewChallengeStore()
	gw := gateway.New(conn, resolver, issuer, challenges, recorder)

	obs.Init()

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	api.RegisterRoutes(engine, api.Deps{
		DB:          conn,
		Gateway:     gw,
		Store:       rbac.NewStore(conn),
		Binding:     rbac.NewBinding(conn),
		Assignments: rbac.NewAssignments(conn),
		Verifier:    verifier,
		Vault:       secretVault,
		Recorder:    recorder,
		Limiter:     ratelimit.NewMemoryLimiter(),
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{
		Addr:    addr,
		Handler: engine,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
			log.Errorf("server shutdown error: %v", errShutdown)
		}
	}()

	log.Infof("starting authhub server on %s", addr)
	if errListen := srv.ListenAndServe(); errListen != nil && errListen != http.ErrServerClosed {
		return errListen
	}
	return nil
}
