// Package catalog reads campaign content and reward tiers from YAML.
package catalog

import (
	"context"
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"quiz-reward-service/internal/domain"
)

//go:embed sample.yaml
var sampleYAML []byte

// Catalog is the seed content of a deployment.
type Catalog struct {
	Campaigns []domain.Campaign   `yaml:"campaigns"`
	Tiers     []domain.RewardTier `yaml:"tiers"`
}

// TierWriter receives tier definitions when seeding a reward store.
type TierWriter interface {
	PutTier(ctx context.Context, tier domain.RewardTier) error
}

// CampaignWriter receives campaign content when seeding a database.
type CampaignWriter interface {
	UpsertCampaign(ctx context.Context, campaign domain.Campaign) error
}

// Load reads and validates a catalog file. An empty path yields the built-in sample.
func Load(path string) (Catalog, error) {
	if path == "" {
		return Parse(sampleYAML)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Catalog{}, err
	}
	return Parse(data)
}

// Sample returns the built-in demo catalog.
func Sample() Catalog {
	c, err := Parse(sampleYAML)
	if err != nil {
		panic(fmt.Sprintf("built-in catalog: %v", err))
	}
	return c
}

// Parse decodes and validates YAML catalog content.
func Parse(data []byte) (Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return Catalog{}, fmt.Errorf("%w: %v", domain.ErrInvalidCatalog, err)
	}
	for i := range c.Tiers {
		c.Tiers[i] = c.Tiers[i].WithDefaultRanges()
	}
	for i := range c.Campaigns {
		for j := range c.Campaigns[i].Questions {
			c.Campaigns[i].Questions[j].CampaignID = c.Campaigns[i].ID
		}
	}
	if err := c.Validate(); err != nil {
		return Catalog{}, err
	}
	return c, nil
}

// Validate checks every campaign and that tiers reference known campaigns
// with sane ranges.
func (c Catalog) Validate() error {
	campaigns := make(map[string]struct{}, len(c.Campaigns))
	questions := make(map[string]string)
	for _, campaign := range c.Campaigns {
		if _, dup := campaigns[campaign.ID]; dup {
			return fmt.Errorf("%w: duplicate campaign %s", domain.ErrInvalidCatalog, campaign.ID)
		}
		campaigns[campaign.ID] = struct{}{}
		if err := campaign.Validate(); err != nil {
			return err
		}
		for _, q := range campaign.Questions {
			if owner, dup := questions[q.ID]; dup {
				return fmt.Errorf("%w: question %s appears in %s and %s", domain.ErrInvalidCatalog, q.ID, owner, campaign.ID)
			}
			questions[q.ID] = campaign.ID
		}
	}

	tiers := make(map[string]struct{}, len(c.Tiers))
	for _, t := range c.Tiers {
		if t.ID == "" {
			return fmt.Errorf("%w: tier without id", domain.ErrInvalidCatalog)
		}
		if _, dup := tiers[t.ID]; dup {
			return fmt.Errorf("%w: duplicate tier %s", domain.ErrInvalidCatalog, t.ID)
		}
		tiers[t.ID] = struct{}{}
		if _, ok := campaigns[t.CampaignID]; !ok {
			return fmt.Errorf("%w: tier %s references unknown campaign %q", domain.ErrInvalidCatalog, t.ID, t.CampaignID)
		}
		if t.MinScore > t.MaxScore || t.MinPercentage > t.MaxPercentage {
			return fmt.Errorf("%w: tier %s has an empty range", domain.ErrInvalidCatalog, t.ID)
		}
		if t.MaxQuantity < 0 {
			return fmt.Errorf("%w: tier %s has a negative quantity", domain.ErrInvalidCatalog, t.ID)
		}
	}
	return nil
}

// CampaignMap indexes campaigns by ID.
func (c Catalog) CampaignMap() map[string]domain.Campaign {
	out := make(map[string]domain.Campaign, len(c.Campaigns))
	for _, campaign := range c.Campaigns {
		out[campaign.ID] = campaign
	}
	return out
}

// SeedTiers writes every tier to w.
func (c Catalog) SeedTiers(ctx context.Context, w TierWriter) error {
	for _, t := range c.Tiers {
		if err := w.PutTier(ctx, t); err != nil {
			return fmt.Errorf("seed tier %s: %w", t.ID, err)
		}
	}
	return nil
}

// SeedCampaigns writes every campaign to w.
func (c Catalog) SeedCampaigns(ctx context.Context, w CampaignWriter) error {
	for _, campaign := range c.Campaigns {
		if err := w.UpsertCampaign(ctx, campaign); err != nil {
			return fmt.Errorf("seed campaign %s: %w", campaign.ID, err)
		}
	}
	return nil
}
