// Package appeal holds the domain entities shared by the intake flow, the
// admission and moderation gates, routing and the record store.
package appeal

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a committed appeal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
)

// ParseStatus maps a raw value to a known Status.
func ParseStatus(raw string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, true
	case StatusCompleted:
		return StatusCompleted, true
	case StatusRejected:
		return StatusRejected, true
	}
	return "", false
}

// SubscriptionStatus gates destination eligibility independent of hierarchy matching.
type SubscriptionStatus string

const (
	SubscriptionInactive  SubscriptionStatus = "inactive"
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionSuspended SubscriptionStatus = "suspended"
	SubscriptionExpired   SubscriptionStatus = "expired"
)

// FileType distinguishes attachment payloads passed through from the transport.
type FileType string

const (
	FilePhoto    FileType = "photo"
	FileDocument FileType = "document"
	FileVideo    FileType = "video"
)

// Attachment is an opaque file reference owned by the messaging channel.
type Attachment struct {
	FileID   string   `json:"file_id" db:"file_id"`
	FileType FileType `json:"file_type" db:"file_type"`
	FileName string   `json:"file_name,omitempty" db:"file_name"`
}

// Names carries the localized display names of reference entities.
type Names struct {
	Uz string `yaml:"uz" db:"name_uz"`
	Ru string `yaml:"ru" db:"name_ru"`
	En string `yaml:"en" db:"name_en"`
}

// For returns the name in lang, falling back to Uzbek and then any non-empty value.
func (n Names) For(lang string) string {
	var v string
	switch lang {
	case "ru":
		v = n.Ru
	case "en":
		v = n.En
	default:
		v = n.Uz
	}
	if v != "" {
		return v
	}
	for _, alt := range []string{n.Uz, n.Ru, n.En} {
		if alt != "" {
			return alt
		}
	}
	return ""
}

// Region is the top level of the location hierarchy.
type Region struct {
	ID int64 `db:"id"`
	Names
}

// District belongs to a Region.
type District struct {
	ID       int64 `db:"id"`
	RegionID int64 `db:"region_id"`
	Names
}

// Neighborhood belongs to a District.
type Neighborhood struct {
	ID         int64 `db:"id"`
	DistrictID int64 `db:"district_id"`
	Names
}

// OrganizationType is a tag such as "edu.school"; the part before the first
// dot names the family that decides which location steps the flow asks for.
type OrganizationType struct {
	Tag string `db:"tag"`
	Names
}

// Organization is an addressee of appeals, grouped by type.
type Organization struct {
	ID   int64  `db:"id"`
	Type string `db:"type_tag"`
	Names
}

// Target is the resolved location and organization of a finalized appeal.
type Target struct {
	RegionID       int64
	DistrictID     *int64
	NeighborhoodID *int64
	OrganizationID int64
}

func (t Target) String() string {
	return fmt.Sprintf("%d/%s/%s/%d", t.RegionID, optional(t.DistrictID), optional(t.NeighborhoodID), t.OrganizationID)
}

func optional(v *int64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprint(*v)
}

// Destination is a routable channel keyed by (region, district?, neighborhood?, organization).
type Destination struct {
	ID                 int64              `db:"id"`
	RegionID           int64              `db:"region_id"`
	DistrictID         *int64             `db:"district_id"`
	NeighborhoodID     *int64             `db:"neighborhood_id"`
	OrganizationID     int64              `db:"organization_id"`
	ChatID             int64              `db:"chat_id"`
	Title              string             `db:"title"`
	IsActive           bool               `db:"is_active"`
	SubscriptionStatus SubscriptionStatus `db:"subscription_status"`
}

// Eligible reports whether the destination may receive appeals.
func (d *Destination) Eligible() bool {
	return d != nil && d.IsActive && d.SubscriptionStatus == SubscriptionActive
}

// Draft is everything the citizen entered, ready to be committed.
type Draft struct {
	UserID      int64
	ChatID      int64
	Language    string
	Target      Target
	FullName    string
	Phone       string
	Body        string
	Attachments []Attachment
}

// Appeal is the committed record.
type Appeal struct {
	ID             int64     `db:"id"`
	UserID         int64     `db:"user_id"`
	ChatID         int64     `db:"chat_id"`
	Language       string    `db:"language"`
	RegionID       int64     `db:"region_id"`
	DistrictID     *int64    `db:"district_id"`
	NeighborhoodID *int64    `db:"neighborhood_id"`
	OrganizationID int64     `db:"organization_id"`
	DestinationID  int64     `db:"destination_id"`
	FullName       string    `db:"full_name"`
	Phone          string    `db:"phone"`
	Body           string    `db:"body"`
	Status         Status    `db:"status"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

// Number renders the human-readable sequential identifier.
func (a *Appeal) Number() string {
	return FormatNumber(a.ID)
}

// FormatNumber renders an appeal id the way citizens and channels see it.
func FormatNumber(id int64) string {
	return fmt.Sprintf("#%06d", id)
}
