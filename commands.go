package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/princinho/racebackend/auth"
	"github.com/princinho/racebackend/config"
	"github.com/princinho/racebackend/controllers"
	"github.com/princinho/racebackend/courses"
	"github.com/princinho/racebackend/database"
	"github.com/princinho/racebackend/database/memory"
	"github.com/princinho/racebackend/events"
	"github.com/princinho/racebackend/imaging"
	"github.com/princinho/racebackend/locker"
	"github.com/princinho/racebackend/logger"
	"github.com/princinho/racebackend/proof"
	"github.com/princinho/racebackend/results"
	"github.com/princinho/racebackend/storage"
	"github.com/princinho/racebackend/users"
	"github.com/princinho/racebackend/utils"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

const lockTTL = 30 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Configure(cfg.LogLevel, cfg.LogFormat)
	return cfg, nil
}

// openStore returns the store and a cleanup func.
func openStore(ctx context.Context, cfg *config.Config) (*database.Store, *mongo.Database, func(), error) {
	if cfg.StoreDriver == "memory" {
		logger.Default().Warn("using in-memory store, data is lost on exit")
		return memory.New(), nil, func() {}, nil
	}
	client, err := database.Connect(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, nil, err
	}
	db := client.Database(cfg.DatabaseName)
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return database.NewMongoStore(db), db, cleanup, nil
}

func newAuthority(cfg *config.Config, store *database.Store) *auth.Authority {
	return auth.NewAuthority(store.Users, store.Sessions, auth.BcryptHasher{}, auth.TokenConfig{
		AccessSecret:  cfg.JWTAccessSecret,
		RefreshSecret: cfg.JWTRefreshSecret,
		AccessTTL:     cfg.AccessTokenTTL,
		RefreshTTL:    cfg.RefreshTokenTTL,
	})
}

func seedOrganizer(ctx context.Context, cfg *config.Config, authority *auth.Authority) error {
	if cfg.AdminEmail == "" {
		return nil
	}
	return authority.SeedOrganizer(ctx, cfg.AdminEmail, cfg.AdminName, cfg.AdminPassword)
}

func openArchive(ctx context.Context, cfg *config.Config) (storage.Archive, func(), error) {
	switch cfg.ArchiveDriver {
	case "gcs":
		a, err := storage.NewGCSArchive(ctx, cfg.GCSBucket, cfg.GCSCredentialsFile)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil
	case "r2":
		a, err := storage.NewR2Archive(ctx, storage.R2Config{
			Bucket:          cfg.R2Bucket,
			AccessKeyID:     cfg.R2AccessKeyID,
			SecretAccessKey: cfg.R2SecretAccessKey,
			Endpoint:        cfg.R2Endpoint,
			PublicDomain:    cfg.R2PublicDomain,
		})
		if err != nil {
			return nil, nil, err
		}
		return a, func() {}, nil
	default:
		return storage.Nop{}, func() {}, nil
	}
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := logger.Default()

	store, db, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	if db != nil {
		if err := database.EnsureIndexes(ctx, db); err != nil {
			return err
		}
	}

	authority := newAuthority(cfg, store)
	if err := seedOrganizer(ctx, cfg, authority); err != nil {
		return err
	}

	var pub events.Publisher = events.Nop{}
	if cfg.NATSURL != "" {
		p, err := events.NewNATSPublisher(cfg.NATSURL)
		if err != nil {
			return err
		}
		pub = p
	}
	defer pub.Close()

	var locks locker.Locker = locker.NewKeyedMutex()
	if cfg.RedisURL != "" {
		client, err := locker.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		locks = locker.NewRedisLocker(client, lockTTL)
	}

	archive, closeArchive, err := openArchive(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeArchive()

	courseSvc := courses.NewService(store, pub)
	validator := proof.NewValidator(store, imaging.ZXingDecoder{}, imaging.ExifReader{},
		proof.WithLocker(locks),
		proof.WithArchive(archive),
		proof.WithEvents(pub),
		proof.WithMaxDistance(cfg.ProofMaxDistanceMeters),
	)

	gin.SetMode(gin.ReleaseMode)
	router := controllers.NewRouter(controllers.Deps{
		Store:              store,
		Authority:          authority,
		Users:              users.NewService(store, authority, courseSvc, pub),
		Courses:            courseSvc,
		Results:            results.NewService(store, courseSvc, pub),
		Proofs:             validator,
		Files:              utils.NewImageValidator(cfg.MaxUploadBytes()),
		AllowedOrigins:     cfg.AllowedOrigins,
		LoginRatePerMinute: cfg.LoginRatePerMinute,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create indexes and seed the organizer account",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			store, db, closeStore, err := openStore(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeStore()
			if db != nil {
				if err := database.EnsureIndexes(ctx, db); err != nil {
					return err
				}
			}
			if err := seedOrganizer(ctx, cfg, newAuthority(cfg, store)); err != nil {
				return err
			}
			logger.Default().Info("migration complete")
			return nil
		},
	}
}
