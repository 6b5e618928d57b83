package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/m3rciful/appealbot/core/cache"
	coreconfig "github.com/m3rciful/appealbot/core/config"
	coredatabase "github.com/m3rciful/appealbot/core/database"
	"github.com/m3rciful/appealbot/core/logger"
)

// Options control the generic bootstrap pipeline shared between bots.
type Options struct {
	Config   *coreconfig.Config
	Database coredatabase.Config
	// Redis is optional; an empty address skips the connection.
	Redis   cache.Config
	Seeders []Seeder

	LoggerInit   func(*coreconfig.Config) error
	Connect      func(coredatabase.Config) (*sqlx.DB, error)
	Migrate      func(coredatabase.Config) error
	ConnectRedis func(cache.Config) (*redis.Client, error)
}

// Result exposes infrastructure initialized by the bootstrap pipeline.
type Result struct {
	DB    *sqlx.DB
	Redis *redis.Client
}

// Close releases the connections held by the result.
func (r *Result) Close() error {
	var err error
	if r.Redis != nil {
		err = r.Redis.Close()
	}
	if r.DB != nil {
		if dbErr := r.DB.Close(); dbErr != nil && err == nil {
			err = dbErr
		}
	}
	return err
}

// Run initializes the logger, connects to the database, applies migrations,
// runs seeders and connects to Redis when configured.
func Run(opts Options) (*Result, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("bootstrap: nil config provided")
	}

	loggerInit := opts.LoggerInit
	if loggerInit == nil {
		loggerInit = logger.InitLogger
	}
	if err := loggerInit(opts.Config); err != nil {
		return nil, fmt.Errorf("bootstrap: logger init failed: %w", err)
	}

	connect := opts.Connect
	if connect == nil {
		connect = coredatabase.Connect
	}
	db, err := connect(opts.Database)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: database initialization failed: %w", err)
	}

	migrate := opts.Migrate
	if migrate == nil {
		migrate = coredatabase.RunMigrations
	}
	if err := migrate(opts.Database); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: migrations failed: %w", err)
	}

	if err := runSeeders(db, opts.Seeders); err != nil {
		_ = db.Close()
		return nil, err
	}

	res := &Result{DB: db}
	if !opts.Redis.Enabled() {
		return res, nil
	}
	connectRedis := opts.ConnectRedis
	if connectRedis == nil {
		connectRedis = cache.Connect
	}
	client, err := connectRedis(opts.Redis)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("bootstrap: redis initialization failed: %w", err)
	}
	res.Redis = client
	return res, nil
}

func runSeeders(db *sqlx.DB, seeders []Seeder) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	for i, s := range seeders {
		if s == nil {
			continue
		}
		start := time.Now()
		if err := s.Seed(ctx, db); err != nil {
			logger.SEED.Error("seed failed",
				slog.String("event", "seed.run"),
				slog.Int("seeder", i),
				slog.String("err", err.Error()),
			)
			return fmt.Errorf("bootstrap: seeding failed: %w", err)
		}
		logger.SEED.Info("seed applied",
			slog.String("event", "seed.run"),
			slog.Int("seeder", i),
			slog.Duration("duration", logger.RoundMS(time.Since(start))),
		)
	}
	return nil
}
