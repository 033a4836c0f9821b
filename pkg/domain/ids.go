// Package domain holds shared domain primitives: typed identifiers and the
// value types (severity, effect, scope) that the policy layers agree on.
// Keeping them here lets feature packages exchange values without importing
// each other.
package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// Typed IDs prevent accidentally passing a ruleset ID where an overlay ID is
// expected. All are UUID-backed.
type (
	RulesetID   uuid.UUID
	OverlayID   uuid.UUID
	ExceptionID uuid.UUID
	AuditID     uuid.UUID
	EventID     uuid.UUID
)

// TenantID identifies the bank owning overlays and exceptions. Tenants are
// provisioned externally, so this is an opaque string rather than a UUID.
type TenantID string

func NewRulesetID() RulesetID     { return RulesetID(uuid.New()) }
func NewOverlayID() OverlayID     { return OverlayID(uuid.New()) }
func NewExceptionID() ExceptionID { return ExceptionID(uuid.New()) }
func NewAuditID() AuditID         { return AuditID(uuid.New()) }
func NewEventID() EventID         { return EventID(uuid.New()) }

func (id RulesetID) String() string   { return uuid.UUID(id).String() }
func (id OverlayID) String() string   { return uuid.UUID(id).String() }
func (id ExceptionID) String() string { return uuid.UUID(id).String() }
func (id AuditID) String() string     { return uuid.UUID(id).String() }
func (id EventID) String() string     { return uuid.UUID(id).String() }

func (id RulesetID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id OverlayID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id ExceptionID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id AuditID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EventID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }

func (t TenantID) String() string { return string(t) }
func (t TenantID) IsNil() bool    { return t == "" }

// ParseRulesetID validates and converts a string into a RulesetID.
func ParseRulesetID(s string) (RulesetID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return RulesetID{}, fmt.Errorf("invalid ruleset id %q: %w", s, err)
	}
	return RulesetID(u), nil
}

// ParseOverlayID validates and converts a string into an OverlayID.
func ParseOverlayID(s string) (OverlayID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return OverlayID{}, fmt.Errorf("invalid overlay id %q: %w", s, err)
	}
	return OverlayID(u), nil
}

// ParseExceptionID validates and converts a string into an ExceptionID.
func ParseExceptionID(s string) (ExceptionID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return ExceptionID{}, fmt.Errorf("invalid exception id %q: %w", s, err)
	}
	return ExceptionID(u), nil
}

// MarshalText implementations keep JSON payloads as plain UUID strings.
func (id RulesetID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id OverlayID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id ExceptionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id AuditID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id EventID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }

func (id *RulesetID) UnmarshalText(b []byte) error {
	parsed, err := ParseRulesetID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *OverlayID) UnmarshalText(b []byte) error {
	parsed, err := ParseOverlayID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *ExceptionID) UnmarshalText(b []byte) error {
	parsed, err := ParseExceptionID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *AuditID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("invalid audit id: %w", err)
	}
	*id = AuditID(u)
	return nil
}

func (id *EventID) UnmarshalText(b []byte) error {
	u, err := uuid.Parse(string(b))
	if err != nil {
		return fmt.Errorf("invalid event id: %w", err)
	}
	*id = EventID(u)
	return nil
}
