package bootstrap

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/m3rciful/appealbot/core/cache"
	coreconfig "github.com/m3rciful/appealbot/core/config"
	coredatabase "github.com/m3rciful/appealbot/core/database"
)

func baseOptions(t *testing.T) (Options, sqlmock.Sqlmock) {
	t.Helper()
	raw, mock, err := sqlmock.New()
	require.NoError(t, err)
	db := sqlx.NewDb(raw, "postgres")
	return Options{
		Config:     &coreconfig.Config{},
		LoggerInit: func(*coreconfig.Config) error { return nil },
		Connect:    func(coredatabase.Config) (*sqlx.DB, error) { return db, nil },
		Migrate:    func(coredatabase.Config) error { return nil },
	}, mock
}

func TestRunAppliesSeedersInOrder(t *testing.T) {
	opts, _ := baseOptions(t)
	var order []int
	opts.Seeders = []Seeder{
		SeederFunc(func(context.Context, *sqlx.DB) error { order = append(order, 1); return nil }),
		nil,
		SeederFunc(func(context.Context, *sqlx.DB) error { order = append(order, 2); return nil }),
	}

	res, err := Run(opts)
	require.NoError(t, err)
	assert.NotNil(t, res.DB)
	assert.Nil(t, res.Redis, "redis is skipped without an address")
	assert.Equal(t, []int{1, 2}, order)
}

func TestRunClosesDatabaseOnSeedFailure(t *testing.T) {
	opts, mock := baseOptions(t)
	mock.ExpectClose()
	opts.Seeders = []Seeder{SeederFunc(func(context.Context, *sqlx.DB) error { return errors.New("bad catalog") })}

	_, err := Run(opts)
	require.ErrorContains(t, err, "seeding failed")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunConnectsRedisWhenConfigured(t *testing.T) {
	opts, _ := baseOptions(t)
	opts.Redis = cache.Config{Addr: "localhost:6379"}
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	t.Cleanup(func() { _ = client.Close() })
	var got cache.Config
	opts.ConnectRedis = func(cfg cache.Config) (*redis.Client, error) {
		got = cfg
		return client, nil
	}

	res, err := Run(opts)
	require.NoError(t, err)
	assert.Same(t, client, res.Redis)
	assert.Equal(t, "localhost:6379", got.Addr)
}

func TestRunRequiresConfig(t *testing.T) {
	_, err := Run(Options{})
	assert.Error(t, err)
}
