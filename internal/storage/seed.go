package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/jmoiron/sqlx"
	"gopkg.in/yaml.v3"

	"github.com/m3rciful/appealbot/core/logger"
	"github.com/m3rciful/appealbot/internal/appeal"
)

// Catalog is the reference data file loaded at startup.
type Catalog struct {
	OrganizationTypes []struct {
		Tag   string       `yaml:"tag"`
		Names appeal.Names `yaml:"names"`
	} `yaml:"organization_types"`
	Regions []struct {
		ID        int64        `yaml:"id"`
		Names     appeal.Names `yaml:"names"`
		Districts []struct {
			ID            int64        `yaml:"id"`
			Names         appeal.Names `yaml:"names"`
			Neighborhoods []struct {
				ID    int64        `yaml:"id"`
				Names appeal.Names `yaml:"names"`
			} `yaml:"neighborhoods"`
		} `yaml:"districts"`
	} `yaml:"regions"`
	Organizations []struct {
		ID    int64        `yaml:"id"`
		Type  string       `yaml:"type"`
		Names appeal.Names `yaml:"names"`
	} `yaml:"organizations"`
	Destinations []struct {
		RegionID       int64  `yaml:"region_id"`
		DistrictID     *int64 `yaml:"district_id"`
		NeighborhoodID *int64 `yaml:"neighborhood_id"`
		OrganizationID int64  `yaml:"organization_id"`
		ChatID         int64  `yaml:"chat_id"`
		Title          string `yaml:"title"`
		Active         *bool  `yaml:"active"`
		Subscription   string `yaml:"subscription"`
	} `yaml:"destinations"`
}

// LoadCatalog parses a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read catalog: %w", err)
	}
	var c Catalog
	if err := yaml.Unmarshal(raw, &c); err != nil {
		return nil, fmt.Errorf("storage: parse catalog %s: %w", path, err)
	}
	return &c, nil
}

// Seeder returns a bootstrap seeder that upserts the catalog at path. An empty
// path disables seeding.
func Seeder(path string) func(ctx context.Context, db *sqlx.DB) error {
	return func(ctx context.Context, db *sqlx.DB) error {
		if path == "" {
			return nil
		}
		c, err := LoadCatalog(path)
		if err != nil {
			return err
		}
		return New(db).Seed(ctx, c)
	}
}

// Seed upserts c in one transaction. Existing rows are updated in place so
// destinations can be re-pointed without touching committed appeals.
func (s *Store) Seed(ctx context.Context, c *Catalog) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(what, query string, args ...any) error {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("storage: seed %s: %w", what, err)
		}
		return nil
	}

	for i, t := range c.OrganizationTypes {
		if err := exec("organization type "+t.Tag, `INSERT INTO organization_types (tag, name_uz, name_ru, name_en, sort_order)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (tag) DO UPDATE SET name_uz = EXCLUDED.name_uz, name_ru = EXCLUDED.name_ru, name_en = EXCLUDED.name_en, sort_order = EXCLUDED.sort_order`,
			t.Tag, t.Names.Uz, t.Names.Ru, t.Names.En, i); err != nil {
			return err
		}
	}

	var districts, hoods int
	for _, r := range c.Regions {
		if err := exec("region", `INSERT INTO regions (id, name_uz, name_ru, name_en) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET name_uz = EXCLUDED.name_uz, name_ru = EXCLUDED.name_ru, name_en = EXCLUDED.name_en`,
			r.ID, r.Names.Uz, r.Names.Ru, r.Names.En); err != nil {
			return err
		}
		for _, d := range r.Districts {
			districts++
			if err := exec("district", `INSERT INTO districts (id, region_id, name_uz, name_ru, name_en) VALUES ($1, $2, $3, $4, $5)
				ON CONFLICT (id) DO UPDATE SET region_id = EXCLUDED.region_id, name_uz = EXCLUDED.name_uz, name_ru = EXCLUDED.name_ru, name_en = EXCLUDED.name_en`,
				d.ID, r.ID, d.Names.Uz, d.Names.Ru, d.Names.En); err != nil {
				return err
			}
			for _, n := range d.Neighborhoods {
				hoods++
				if err := exec("neighborhood", `INSERT INTO neighborhoods (id, district_id, name_uz, name_ru, name_en) VALUES ($1, $2, $3, $4, $5)
					ON CONFLICT (id) DO UPDATE SET district_id = EXCLUDED.district_id, name_uz = EXCLUDED.name_uz, name_ru = EXCLUDED.name_ru, name_en = EXCLUDED.name_en`,
					n.ID, d.ID, n.Names.Uz, n.Names.Ru, n.Names.En); err != nil {
					return err
				}
			}
		}
	}

	for _, o := range c.Organizations {
		if err := exec("organization", `INSERT INTO organizations (id, type_tag, name_uz, name_ru, name_en) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET type_tag = EXCLUDED.type_tag, name_uz = EXCLUDED.name_uz, name_ru = EXCLUDED.name_ru, name_en = EXCLUDED.name_en`,
			o.ID, o.Type, o.Names.Uz, o.Names.Ru, o.Names.En); err != nil {
			return err
		}
	}

	for _, d := range c.Destinations {
		active := d.Active == nil || *d.Active
		sub := d.Subscription
		if sub == "" {
			sub = string(appeal.SubscriptionActive)
		}
		if err := exec("destination", `INSERT INTO destinations (region_id, district_id, neighborhood_id, organization_id, chat_id, title, is_active, subscription_status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (region_id, district_id, neighborhood_id, organization_id)
			DO UPDATE SET chat_id = EXCLUDED.chat_id, title = EXCLUDED.title, is_active = EXCLUDED.is_active, subscription_status = EXCLUDED.subscription_status`,
			d.RegionID, d.DistrictID, d.NeighborhoodID, d.OrganizationID, d.ChatID, d.Title, active, sub); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit seed: %w", err)
	}
	logger.Info(ctx, "storage", "seed.applied",
		slog.Int("organization_types", len(c.OrganizationTypes)),
		slog.Int("regions", len(c.Regions)),
		slog.Int("districts", districts),
		slog.Int("neighborhoods", hoods),
		slog.Int("organizations", len(c.Organizations)),
		slog.Int("destinations", len(c.Destinations)),
	)
	return nil
}
