package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-reward-service/internal/domain"
)

// CampaignLoader loads campaign settings and their question pool from Postgres.
type CampaignLoader struct {
	pool *pgxpool.Pool
}

func NewCampaignLoader(pool *pgxpool.Pool) *CampaignLoader {
	return &CampaignLoader{pool: pool}
}

func (l *CampaignLoader) LoadCampaign(ctx context.Context, campaignID string) (domain.Campaign, error) {
	var (
		c                domain.Campaign
		startsAt, endsAt *time.Time
		limitSeconds     int
	)
	err := l.pool.QueryRow(ctx, `
		SELECT id, name, starts_at, ends_at, questions_per_attempt, time_limit_seconds, pass_threshold, active
		FROM campaigns WHERE id=$1`, campaignID).
		Scan(&c.ID, &c.Name, &startsAt, &endsAt, &c.QuestionsPerAttempt, &limitSeconds, &c.PassThreshold, &c.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Campaign{}, domain.ErrCampaignNotFound
	}
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("load campaign: %w", err)
	}
	if startsAt != nil {
		c.StartsAt = *startsAt
	}
	if endsAt != nil {
		c.EndsAt = *endsAt
	}
	c.TimeLimit = time.Duration(limitSeconds) * time.Second

	rows, err := l.pool.Query(ctx, `
		SELECT q.id, q.text, q.type, q.difficulty, q.category, q.points, q.active,
		       o.id, o.text, o.correct
		FROM questions q
		JOIN question_options o ON o.question_id = q.id
		WHERE q.campaign_id=$1
		ORDER BY q.id, o.position, o.id`, campaignID)
	if err != nil {
		return domain.Campaign{}, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			q   domain.Question
			opt domain.Option
		)
		if err := rows.Scan(&q.ID, &q.Text, &q.Type, &q.Difficulty, &q.Category, &q.Points, &q.Active,
			&opt.ID, &opt.Text, &opt.Correct); err != nil {
			return domain.Campaign{}, fmt.Errorf("scan question: %w", err)
		}
		if n := len(c.Questions); n == 0 || c.Questions[n-1].ID != q.ID {
			q.CampaignID = campaignID
			c.Questions = append(c.Questions, q)
		}
		last := &c.Questions[len(c.Questions)-1]
		last.Options = append(last.Options, opt)
	}
	if err := rows.Err(); err != nil {
		return domain.Campaign{}, fmt.Errorf("load questions: %w", err)
	}
	return c, nil
}

// UpsertCampaign writes a campaign and replaces its question pool in one transaction.
func (l *CampaignLoader) UpsertCampaign(ctx context.Context, c domain.Campaign) error {
	return l.pool.BeginFunc(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO campaigns (id, name, starts_at, ends_at, questions_per_attempt, time_limit_seconds, pass_threshold, active)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				starts_at = EXCLUDED.starts_at,
				ends_at = EXCLUDED.ends_at,
				questions_per_attempt = EXCLUDED.questions_per_attempt,
				time_limit_seconds = EXCLUDED.time_limit_seconds,
				pass_threshold = EXCLUDED.pass_threshold,
				active = EXCLUDED.active`,
			c.ID, c.Name, nullableTime(c.StartsAt), nullableTime(c.EndsAt),
			c.QuestionsPerAttempt, int(c.TimeLimit/time.Second), c.PassThreshold, c.Active)
		if err != nil {
			return fmt.Errorf("upsert campaign: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM questions WHERE campaign_id=$1`, c.ID); err != nil {
			return fmt.Errorf("clear questions: %w", err)
		}

		batch := &pgx.Batch{}
		for _, q := range c.Questions {
			batch.Queue(`INSERT INTO questions (id, campaign_id, text, type, difficulty, category, points, active)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
				q.ID, c.ID, q.Text, string(q.Type), string(q.Difficulty), q.Category, q.PointValue(), q.Active)
			for i, o := range q.Options {
				batch.Queue(`INSERT INTO question_options (question_id, id, text, correct, position)
					VALUES ($1, $2, $3, $4, $5)`, q.ID, o.ID, o.Text, o.Correct, i)
			}
		}
		if batch.Len() == 0 {
			return nil
		}
		results := tx.SendBatch(ctx, batch)
		for i := 0; i < batch.Len(); i++ {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert questions: %w", err)
			}
		}
		return results.Close()
	})
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
