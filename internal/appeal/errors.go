package appeal

import (
	"errors"
	"time"
)

// ErrRoutingUnresolved means no eligible destination channel is configured for a target.
var ErrRoutingUnresolved = errors.New("appeal: no destination configured")

// ErrNotFound is returned by stores when a record does not exist.
var ErrNotFound = errors.New("appeal: not found")

// ValidationError reports step input of the wrong kind, too short, or unmatched.
// Key names the localized message shown when re-prompting; Args fill its verbs.
type ValidationError struct {
	Step string
	Key  string
	Args []any
}

func (e *ValidationError) Error() string {
	return "invalid input at step " + e.Step + ": " + e.Key
}

// Code implements the router's error code convention.
func (e *ValidationError) Code() string { return "VALIDATION" }

// DenyReason names why admission refused a submission.
type DenyReason string

const (
	DenyBlocked     DenyReason = "blocked"
	DenyRateLimited DenyReason = "rate_limited"
	DenyDuplicate   DenyReason = "duplicate"
)

// AdmissionDenied is terminal for one submission attempt. Until carries the
// unblock or window reset time where one applies.
type AdmissionDenied struct {
	Reason DenyReason
	Until  time.Time
}

func (e *AdmissionDenied) Error() string {
	return "admission denied: " + string(e.Reason)
}

// Code implements the router's error code convention.
func (e *AdmissionDenied) Code() string { return "ADMISSION_" + string(e.Reason) }

// ModerationRejected carries the classifier's verdict for the citizen.
type ModerationRejected struct {
	Reason     string
	Suggestion string
	Violations []string
	Score      int
}

func (e *ModerationRejected) Error() string {
	return "moderation rejected: " + e.Reason
}

// Code implements the router's error code convention.
func (e *ModerationRejected) Code() string { return "MODERATION_REJECTED" }
