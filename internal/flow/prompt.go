package flow

import (
	"context"

	"github.com/m3rciful/appealbot/internal/appeal"
)

// Option is one offered choice: Token is stable, Label is what the user sees.
type Option struct {
	Token string
	Label string
}

// Prompt is an outbound message with an optional reply keyboard.
type Prompt struct {
	// Language renders transport-owned labels such as the main menu.
	Language string
	Text     string
	Options  []Option
	// Nav holds the back and cancel labels shown under the options.
	Nav []string
	// RequestContact, when set, is the label of a share-phone button.
	RequestContact string
	// Menu replaces the flow keyboard with the main menu.
	Menu bool
}

// ChannelPost is an appeal announcement for a destination channel.
type ChannelPost struct {
	ChatID      int64
	AppealID    int64
	Language    string
	Text        string
	Attachments []appeal.Attachment
}

// Messenger delivers outbound messages. Delivery failures are reported to the
// caller, which logs them; retries belong to the transport.
type Messenger interface {
	Send(ctx context.Context, chatID int64, p Prompt) error
	Post(ctx context.Context, post ChannelPost) error
}

// Localizer renders message keys in an explicit language.
type Localizer interface {
	T(lang, key string, args ...any) string
	Match(code string) string
	Fallback() string
}

// Reference is the read-only location and organization catalog.
type Reference interface {
	OrganizationTypes(ctx context.Context) ([]appeal.OrganizationType, error)
	Regions(ctx context.Context) ([]appeal.Region, error)
	Districts(ctx context.Context, regionID int64) ([]appeal.District, error)
	Neighborhoods(ctx context.Context, districtID int64) ([]appeal.Neighborhood, error)
	Organizations(ctx context.Context, typeTag string) ([]appeal.Organization, error)
}
