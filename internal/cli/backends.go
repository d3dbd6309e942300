package cli

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/catalog"
	"quiz-reward-service/internal/config"
	"quiz-reward-service/internal/infra/memory"
	"quiz-reward-service/internal/infra/postgres"
	redisstore "quiz-reward-service/internal/infra/redis"
)

// backends is the storage wiring chosen from config: Postgres for campaign
// content and grants when configured, Redis for sessions and the campaign
// cache when configured, memory otherwise.
type backends struct {
	campaigns app.CampaignRepository
	sessions  app.SessionStore
	rewards   app.RewardStore
	closers   []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func openBackends(ctx context.Context, cfg config.Config, log zerolog.Logger, seed bool) (*backends, error) {
	cat, err := catalog.Load(cfg.Campaigns.CatalogPath)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	b := &backends{}
	// Postgres is the system of record and is only written with --seed; the
	// other tier stores are refilled on every boot since PutTier keeps issued counts.
	seedTiers := seed
	campaignTTL := config.TTLDuration(cfg.Campaigns.TTL, 10*time.Minute)

	var (
		loader  redisstore.CampaignLoader = memory.NewStaticCampaignLoader(cat.CampaignMap())
		rewards interface {
			app.RewardStore
			catalog.TierWriter
		}
	)

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log); err != nil {
			b.Close()
			return nil, err
		}

		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		b.closers = append(b.closers, pool.Close)
		pgLoader := postgres.NewCampaignLoader(pool)
		loader = pgLoader

		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.Postgres.URL)))
		db := bun.NewDB(sqldb, pgdialect.New())
		b.closers = append(b.closers, func() { _ = db.Close() })
		rewards = postgres.NewRewardStore(db)

		if seed {
			if err := cat.SeedCampaigns(ctx, pgLoader); err != nil {
				b.Close()
				return nil, err
			}
		}
		log.Info().Msg("postgres backends enabled")
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		b.closers = append(b.closers, func() { _ = client.Close() })
		if err := client.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		retention := config.TTLDuration(cfg.Redis.TTL, 24*time.Hour)
		b.sessions = redisstore.NewSessionStore(client, retention)
		b.campaigns = redisstore.NewCampaignRepository(client, loader, campaignTTL)
		if rewards == nil {
			rewards = redisstore.NewRewardStore(client)
			seedTiers = true
		}
		log.Info().Str("addr", cfg.Redis.Addr).Msg("redis backends enabled")
	} else {
		b.sessions = memory.NewSessionStore()
		b.campaigns = memory.NewCampaignRepository(loader, campaignTTL)
	}

	if rewards == nil {
		rewards = memory.NewRewardStore()
		seedTiers = true
	}
	b.rewards = rewards

	if seedTiers {
		if err := cat.SeedTiers(ctx, rewards); err != nil {
			b.Close()
			return nil, err
		}
		log.Info().Int("campaigns", len(cat.Campaigns)).Int("tiers", len(cat.Tiers)).Msg("catalog seeded")
	}
	return b, nil
}
