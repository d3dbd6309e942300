package app

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"quiz-reward-service/internal/domain"
)

// DefaultUniformPoolFactor is the pool-to-attempt ratio from which sampling turns uniform.
const DefaultUniformPoolFactor = 3

// QuestionPool samples the fixed question set of an attempt.
//
// Small pools (fewer than count*uniformFactor active questions) are visited
// easiest first, shuffling within each difficulty and spreading picks across
// categories. Larger pools are sampled uniformly.
type QuestionPool struct {
	campaigns     CampaignRepository
	uniformFactor int

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewQuestionPool builds a sampler. The source is pluggable so tests can pin a seed.
func NewQuestionPool(campaigns CampaignRepository, src rand.Source, uniformFactor int) *QuestionPool {
	if uniformFactor <= 0 {
		uniformFactor = DefaultUniformPoolFactor
	}
	return &QuestionPool{
		campaigns:     campaigns,
		uniformFactor: uniformFactor,
		rnd:           rand.New(src),
	}
}

// Sample returns exactly count active question IDs of the campaign.
func (p *QuestionPool) Sample(ctx context.Context, campaignID string, count int) ([]string, error) {
	campaign, err := p.campaigns.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	questions, err := p.Draw(campaign, count)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(questions))
	for i, q := range questions {
		ids[i] = q.ID
	}
	return ids, nil
}

// Draw picks count active questions from an already loaded campaign.
func (p *QuestionPool) Draw(campaign domain.Campaign, count int) ([]domain.Question, error) {
	active := campaign.ActiveQuestions()
	if count <= 0 || len(active) < count {
		return nil, fmt.Errorf("%w: campaign %s has %d active, needs %d", domain.ErrInsufficientQuestions, campaign.ID, len(active), count)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if len(active) >= count*p.uniformFactor {
		return p.uniformLocked(active, count), nil
	}
	return p.easyFirstLocked(active, count), nil
}

// ShuffleOptions returns the question's options in a fresh random order.
func (p *QuestionPool) ShuffleOptions(q domain.Question) []domain.Option {
	opts := append([]domain.Option(nil), q.Options...)
	p.mu.Lock()
	p.rnd.Shuffle(len(opts), func(i, j int) { opts[i], opts[j] = opts[j], opts[i] })
	p.mu.Unlock()
	return opts
}

// uniformLocked is a partial Fisher-Yates over a copy of the pool.
func (p *QuestionPool) uniformLocked(active []domain.Question, count int) []domain.Question {
	pool := append([]domain.Question(nil), active...)
	for i := 0; i < count; i++ {
		j := i + p.rnd.Intn(len(pool)-i)
		pool[i], pool[j] = pool[j], pool[i]
	}
	return pool[:count]
}

func (p *QuestionPool) easyFirstLocked(active []domain.Question, count int) []domain.Question {
	byRank := make(map[int][]domain.Question)
	for _, q := range active {
		rank := q.Difficulty.Rank()
		byRank[rank] = append(byRank[rank], q)
	}
	ranks := make([]int, 0, len(byRank))
	for rank := range byRank {
		ranks = append(ranks, rank)
	}
	sort.Ints(ranks)

	out := make([]domain.Question, 0, count)
	for _, rank := range ranks {
		for _, q := range p.spreadCategoriesLocked(byRank[rank]) {
			if len(out) == count {
				return out
			}
			out = append(out, q)
		}
	}
	return out
}

// spreadCategoriesLocked shuffles a difficulty bucket and interleaves its categories round-robin.
func (p *QuestionPool) spreadCategoriesLocked(bucket []domain.Question) []domain.Question {
	byCategory := make(map[string][]domain.Question)
	var categories []string
	for _, q := range bucket {
		if _, ok := byCategory[q.Category]; !ok {
			categories = append(categories, q.Category)
		}
		byCategory[q.Category] = append(byCategory[q.Category], q)
	}
	sort.Strings(categories)
	p.rnd.Shuffle(len(categories), func(i, j int) { categories[i], categories[j] = categories[j], categories[i] })
	for _, c := range categories {
		qs := byCategory[c]
		p.rnd.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })
	}

	out := make([]domain.Question, 0, len(bucket))
	for len(out) < len(bucket) {
		for _, c := range categories {
			qs := byCategory[c]
			if len(qs) == 0 {
				continue
			}
			out = append(out, qs[0])
			byCategory[c] = qs[1:]
		}
	}
	return out
}
