// Package storage is the Postgres record store for reference data, destination
// channels and committed appeals.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/m3rciful/appealbot/internal/appeal"
)

// Store implements the record store on top of sqlx.
type Store struct {
	db *sqlx.DB
}

// New wraps db.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

const namesCols = "name_uz, name_ru, name_en"

// OrganizationTypes lists organization types in display order.
func (s *Store) OrganizationTypes(ctx context.Context) ([]appeal.OrganizationType, error) {
	var out []appeal.OrganizationType
	err := s.db.SelectContext(ctx, &out,
		"SELECT tag, "+namesCols+" FROM organization_types ORDER BY sort_order, tag")
	if err != nil {
		return nil, fmt.Errorf("storage: organization types: %w", err)
	}
	return out, nil
}

// Regions lists all regions.
func (s *Store) Regions(ctx context.Context) ([]appeal.Region, error) {
	var out []appeal.Region
	if err := s.db.SelectContext(ctx, &out, "SELECT id, "+namesCols+" FROM regions ORDER BY id"); err != nil {
		return nil, fmt.Errorf("storage: regions: %w", err)
	}
	return out, nil
}

// Districts lists the districts of a region.
func (s *Store) Districts(ctx context.Context, regionID int64) ([]appeal.District, error) {
	var out []appeal.District
	err := s.db.SelectContext(ctx, &out,
		"SELECT id, region_id, "+namesCols+" FROM districts WHERE region_id = $1 ORDER BY id", regionID)
	if err != nil {
		return nil, fmt.Errorf("storage: districts: %w", err)
	}
	return out, nil
}

// Neighborhoods lists the neighborhoods of a district.
func (s *Store) Neighborhoods(ctx context.Context, districtID int64) ([]appeal.Neighborhood, error) {
	var out []appeal.Neighborhood
	err := s.db.SelectContext(ctx, &out,
		"SELECT id, district_id, "+namesCols+" FROM neighborhoods WHERE district_id = $1 ORDER BY id", districtID)
	if err != nil {
		return nil, fmt.Errorf("storage: neighborhoods: %w", err)
	}
	return out, nil
}

// Organizations lists active organizations of a type.
func (s *Store) Organizations(ctx context.Context, typeTag string) ([]appeal.Organization, error) {
	var out []appeal.Organization
	err := s.db.SelectContext(ctx, &out,
		"SELECT id, type_tag, "+namesCols+" FROM organizations WHERE type_tag = $1 AND is_active ORDER BY id", typeTag)
	if err != nil {
		return nil, fmt.Errorf("storage: organizations: %w", err)
	}
	return out, nil
}

const destinationCols = "id, region_id, district_id, neighborhood_id, organization_id, chat_id, title, is_active, subscription_status"

// FindDestination returns the destination registered at exactly t. Nil
// district or neighborhood ids match only NULL columns.
func (s *Store) FindDestination(ctx context.Context, t appeal.Target) (*appeal.Destination, error) {
	args := []any{t.RegionID, t.OrganizationID}
	where := []string{"region_id = $1", "organization_id = $2"}
	for _, col := range []struct {
		name string
		val  *int64
	}{{"district_id", t.DistrictID}, {"neighborhood_id", t.NeighborhoodID}} {
		if col.val == nil {
			where = append(where, col.name+" IS NULL")
			continue
		}
		args = append(args, *col.val)
		where = append(where, col.name+" = $"+strconv.Itoa(len(args)))
	}

	var d appeal.Destination
	query := "SELECT " + destinationCols + " FROM destinations WHERE " + strings.Join(where, " AND ")
	if err := s.db.GetContext(ctx, &d, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appeal.ErrNotFound
		}
		return nil, fmt.Errorf("storage: find destination %s: %w", t, err)
	}
	return &d, nil
}

const appealCols = "id, user_id, chat_id, language, region_id, district_id, neighborhood_id, organization_id, destination_id, full_name, phone, body, status, created_at, updated_at"

// CreateAppeal inserts a and its attachments in one transaction, assigning
// a.ID and timestamps. Attachments are written only after the parent row.
func (s *Store) CreateAppeal(ctx context.Context, a *appeal.Appeal, files []appeal.Attachment) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if a.Status == "" {
		a.Status = appeal.StatusPending
	}
	err = tx.QueryRowxContext(ctx, `INSERT INTO appeals
		(user_id, chat_id, language, region_id, district_id, neighborhood_id, organization_id, destination_id, full_name, phone, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at, updated_at`,
		a.UserID, a.ChatID, a.Language, a.RegionID, a.DistrictID, a.NeighborhoodID, a.OrganizationID,
		a.DestinationID, a.FullName, a.Phone, a.Body, a.Status,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("storage: insert appeal: %w", err)
	}
	for _, f := range files {
		if err := addAttachment(ctx, tx, a.ID, f); err != nil {
			return err
		}
	}
	if err := addHistory(ctx, tx, a.ID, a.Status, a.UserID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit appeal: %w", err)
	}
	return nil
}

// AddAttachment stores a file reference for an existing appeal.
func (s *Store) AddAttachment(ctx context.Context, appealID int64, f appeal.Attachment) error {
	return addAttachment(ctx, s.db, appealID, f)
}

func addAttachment(ctx context.Context, ex sqlx.ExecerContext, appealID int64, f appeal.Attachment) error {
	_, err := ex.ExecContext(ctx,
		"INSERT INTO appeal_attachments (appeal_id, file_id, file_type, file_name) VALUES ($1, $2, $3, $4)",
		appealID, f.FileID, f.FileType, f.FileName)
	if err != nil {
		return fmt.Errorf("storage: insert attachment: %w", err)
	}
	return nil
}

func addHistory(ctx context.Context, ex sqlx.ExecerContext, appealID int64, status appeal.Status, actor int64) error {
	_, err := ex.ExecContext(ctx,
		"INSERT INTO appeal_status_history (appeal_id, status, actor_id) VALUES ($1, $2, $3)",
		appealID, status, actor)
	if err != nil {
		return fmt.Errorf("storage: insert status history: %w", err)
	}
	return nil
}

// Attachments lists the files of an appeal.
func (s *Store) Attachments(ctx context.Context, appealID int64) ([]appeal.Attachment, error) {
	var out []appeal.Attachment
	err := s.db.SelectContext(ctx, &out,
		"SELECT file_id, file_type, file_name FROM appeal_attachments WHERE appeal_id = $1 ORDER BY id", appealID)
	if err != nil {
		return nil, fmt.Errorf("storage: attachments: %w", err)
	}
	return out, nil
}

// UpdateStatus sets the status of an appeal and records who changed it.
func (s *Store) UpdateStatus(ctx context.Context, id int64, status appeal.Status, actor int64) (*appeal.Appeal, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("storage: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var a appeal.Appeal
	err = tx.GetContext(ctx, &a,
		"UPDATE appeals SET status = $1, updated_at = now() WHERE id = $2 RETURNING "+appealCols, status, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appeal.ErrNotFound
		}
		return nil, fmt.Errorf("storage: update status: %w", err)
	}
	if err := addHistory(ctx, tx, id, status, actor); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("storage: commit status: %w", err)
	}
	return &a, nil
}

// AppealByID loads one appeal.
func (s *Store) AppealByID(ctx context.Context, id int64) (*appeal.Appeal, error) {
	var a appeal.Appeal
	if err := s.db.GetContext(ctx, &a, "SELECT "+appealCols+" FROM appeals WHERE id = $1", id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appeal.ErrNotFound
		}
		return nil, fmt.Errorf("storage: appeal %d: %w", id, err)
	}
	return &a, nil
}

// AppealsByUser lists a user's most recent appeals.
func (s *Store) AppealsByUser(ctx context.Context, userID int64, limit int) ([]appeal.Appeal, error) {
	if limit <= 0 {
		limit = 10
	}
	var out []appeal.Appeal
	err := s.db.SelectContext(ctx, &out,
		"SELECT "+appealCols+" FROM appeals WHERE user_id = $1 ORDER BY id DESC LIMIT $2", userID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: appeals of user: %w", err)
	}
	return out, nil
}

// StatusCounts holds appeal totals per status.
type StatusCounts struct {
	Pending   int
	Completed int
	Rejected  int
}

// Total sums all statuses.
func (c StatusCounts) Total() int { return c.Pending + c.Completed + c.Rejected }

// CountByStatus aggregates appeals per status.
func (s *Store) CountByStatus(ctx context.Context) (StatusCounts, error) {
	var rows []struct {
		Status appeal.Status `db:"status"`
		N      int           `db:"n"`
	}
	if err := s.db.SelectContext(ctx, &rows, "SELECT status, count(*) AS n FROM appeals GROUP BY status"); err != nil {
		return StatusCounts{}, fmt.Errorf("storage: count by status: %w", err)
	}
	var c StatusCounts
	for _, r := range rows {
		switch r.Status {
		case appeal.StatusPending:
			c.Pending = r.N
		case appeal.StatusCompleted:
			c.Completed = r.N
		case appeal.StatusRejected:
			c.Rejected = r.N
		}
	}
	return c, nil
}
