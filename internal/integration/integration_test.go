package integration

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/migrate"

	"quiz-reward-service/internal/app"
	"quiz-reward-service/internal/domain"
	"quiz-reward-service/internal/infra/postgres"
	pgmigrations "quiz-reward-service/internal/infra/postgres/migrations"
	infraredis "quiz-reward-service/internal/infra/redis"
)

// Postgres holds campaigns and grants, Redis holds sessions and the campaign cache.
func TestAttemptEndToEnd(t *testing.T) {
	ctx := context.Background()
	requireDocker(t)

	pgURL, pgCleanup := startPostgres(t, ctx)
	defer pgCleanup()
	redisURL, redisCleanup := startRedis(t, ctx)
	defer redisCleanup()

	db := migrateDB(t, ctx, pgURL)
	defer db.Close()

	pool, err := pgxpool.Connect(ctx, pgURL)
	require.NoError(t, err)
	defer pool.Close()

	loader := postgres.NewCampaignLoader(pool)
	require.NoError(t, loader.UpsertCampaign(ctx, sampleCampaign()))

	rewards := postgres.NewRewardStore(db)
	require.NoError(t, rewards.PutTier(ctx, domain.RewardTier{
		ID:            "perfect",
		CampaignID:    "camp-int",
		Name:          "Perfect score",
		MinScore:      3,
		MaxScore:      3,
		MaxPercentage: 100,
		MaxQuantity:   1,
		Active:        true,
	}))

	redisClient, err := redisClientFromURL(redisURL)
	require.NoError(t, err)
	defer redisClient.Close()

	log := zerolog.Nop()
	campaigns := infraredis.NewCampaignRepository(redisClient, loader, 5*time.Minute)
	sessions := infraredis.NewSessionStore(redisClient, 5*time.Minute)
	questionPool := app.NewQuestionPool(campaigns, rand.NewSource(1), app.DefaultUniformPoolFactor)
	ledger := app.NewRewardLedger(rewards, app.RandomCodes(app.DefaultCodeLength), app.DefaultCodeAttempts, log)
	service := app.NewSessionService(campaigns, questionPool, sessions, ledger, log)

	play := func(participant string) app.FinishResult {
		started, err := service.Start(ctx, participant, "camp-int")
		require.NoError(t, err)
		require.Len(t, started.Questions, 3)
		for _, q := range started.Questions {
			_, err := service.SubmitAnswer(ctx, started.SessionToken, q.ID, []string{q.ID + "-b"}, 1)
			require.NoError(t, err)
		}
		res, err := service.Finish(ctx, started.SessionToken)
		require.NoError(t, err)

		again, err := service.Finish(ctx, started.SessionToken)
		require.NoError(t, err)
		assertSameJSON(t, res, again)
		return res
	}

	first := play("alice")
	assert.Equal(t, 3, first.Score)
	assert.Equal(t, domain.RewardGranted, first.RewardStatus)
	require.NotNil(t, first.Reward)
	assert.Equal(t, "perfect", first.Reward.TierID)

	second := play("bob")
	assert.Equal(t, 3, second.Score)
	assert.Equal(t, domain.RewardExhausted, second.RewardStatus)
	assert.Nil(t, second.Reward)

	tiers, err := rewards.ListTiers(ctx, "camp-int")
	require.NoError(t, err)
	require.Len(t, tiers, 1)
	assert.Equal(t, 1, tiers[0].IssuedCount)
}

func assertSameJSON(t *testing.T, want, got any) {
	t.Helper()
	a, err := json.Marshal(want)
	require.NoError(t, err)
	b, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
}

func sampleCampaign() domain.Campaign {
	c := domain.Campaign{
		ID:                  "camp-int",
		Name:                "Integration",
		QuestionsPerAttempt: 3,
		PassThreshold:       2,
		TimeLimit:           5 * time.Minute,
		Active:              true,
	}
	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("iq%d", i)
		c.Questions = append(c.Questions, domain.Question{
			ID:         id,
			CampaignID: c.ID,
			Text:       "question " + id,
			Type:       domain.QuestionSingleSelect,
			Difficulty: domain.DifficultyMedium,
			Points:     1,
			Active:     true,
			Options: []domain.Option{
				{ID: id + "-a", Text: "no"},
				{ID: id + "-b", Text: "yes", Correct: true},
			},
		})
	}
	return c
}

func migrateDB(t *testing.T, ctx context.Context, dsn string) *bun.DB {
	t.Helper()
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqldb, pgdialect.New())

	migrator := migrate.NewMigrator(db, pgmigrations.Migrations)
	require.NoError(t, migrator.Init(ctx))
	_, err := migrator.Migrate(ctx)
	require.NoError(t, err)
	return db
}

func startPostgres(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "postgres:15-alpine",
		Env:          map[string]string{"POSTGRES_USER": "quiz", "POSTGRES_PASSWORD": "quizpass", "POSTGRES_DB": "quizdb"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor:   wait.ForLog("database system is ready to accept connections").WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start postgres: %v", err)
	}
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://quiz:quizpass@%s:%s/quizdb?sslmode=disable", host, port.Port())
	return dsn, func() {
		_ = container.Terminate(ctx)
	}
}

func startRedis(t *testing.T, ctx context.Context) (string, func()) {
	t.Helper()
	req := tc.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
	}
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		if strings.Contains(err.Error(), "Cannot connect to the Docker daemon") {
			t.Skipf("docker not available: %v", err)
		}
		t.Fatalf("start redis: %v", err)
	}
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("redis://%s:%s", host, port.Port()), func() {
		_ = container.Terminate(ctx)
	}
}

func redisClientFromURL(url string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return goredis.NewClient(opts), nil
}

func requireDocker(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if _, err := tc.NewDockerProvider(); err != nil {
		t.Skipf("docker not available: %v", err)
	}
}
