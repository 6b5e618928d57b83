package flow

import "github.com/m3rciful/appealbot/internal/appeal"

// Kind tags the variant carried by an Event.
type Kind uint8

const (
	KindBegin Kind = iota + 1
	KindText
	KindFile
	KindContact
	KindSelection
)

func (k Kind) String() string {
	switch k {
	case KindBegin:
		return "begin"
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindContact:
		return "contact"
	case KindSelection:
		return "selection"
	}
	return "unknown"
}

// Event is one inbound user action, classified once at the transport boundary.
// Only the field matching Kind is meaningful.
type Event struct {
	Kind  Kind
	Text  string
	File  appeal.Attachment
	Phone string
	Token string
}

// Begin starts a new appeal, discarding any session in progress.
func Begin() Event { return Event{Kind: KindBegin} }

// Text is a free-text message, including reply keyboard labels.
func Text(s string) Event { return Event{Kind: KindText, Text: s} }

// File is an attached photo, document or video.
func File(a appeal.Attachment) Event { return Event{Kind: KindFile, File: a} }

// Contact is a shared phone number.
func Contact(phone string) Event { return Event{Kind: KindContact, Phone: phone} }

// Selection is an option chosen by token rather than by label.
func Selection(token string) Event { return Event{Kind: KindSelection, Token: token} }

// Tokens understood at every step.
const (
	TokenCancel = "cancel"
	TokenBack   = "back"
)

// User identifies who sent an event and where replies go.
type User struct {
	ID       int64
	ChatID   int64
	Language string
}

// Input is an event after validation against the current step: selections are
// resolved to their option, free text is trimmed.
type Input struct {
	Text  string
	Token string
	Label string
	File  *appeal.Attachment
}
