// Package export gates export actions on the user's entitlement and keeps a
// ticket for every authorized export.
//
// A ticket is issued once RecordExport has consumed the quota; the engine
// that renders the file reports back through Complete. Quota is not
// refunded when rendering fails.
package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/fincash/svc/plans"
)

var (
	ErrUpgradeRequired = errors.New("export: upgrade required")
	ErrInvalidKind     = errors.New("export: invalid export kind")
	ErrTicketNotFound  = errors.New("export: ticket not found")
	ErrTicketClosed    = errors.New("export: ticket already completed")
)

// Kind is the export format.
type Kind string

const (
	KindPDF      Kind = "pdf"
	KindExcel    Kind = "excel"
	KindComplete Kind = "complete"
)

// ParseKind validates s.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case KindPDF, KindExcel, KindComplete:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
	}
}

type TicketStatus string

const (
	TicketAuthorized TicketStatus = "authorized"
	TicketCompleted  TicketStatus = "completed"
	TicketFailed     TicketStatus = "failed"
)

func (s TicketStatus) Terminal() bool {
	return s == TicketCompleted || s == TicketFailed
}

// Ticket records one authorized export.
type Ticket struct {
	ID              uuid.UUID    `json:"id"`
	UserID          uuid.UUID    `json:"user_id"`
	Kind            Kind         `json:"kind"`
	Resource        string       `json:"resource,omitempty"`
	Status          TicketStatus `json:"status"`
	Plan            plans.ID     `json:"plan"`
	FreeExportsUsed int          `json:"free_exports_used"`
	Error           string       `json:"error,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// Status is the export view of a user's entitlement.
type Status struct {
	AccountType          plans.ID `json:"account_type"`
	CanExport            bool     `json:"can_export"`
	UpgradeRequired      bool     `json:"upgrade_required"`
	FreeExportsUsed      int      `json:"free_exports_used"`
	FreeExportsRemaining *int     `json:"free_exports_remaining"`
}

// TicketFilter selects tickets for List. Zero fields match everything.
type TicketFilter struct {
	UserID uuid.UUID
	Status TicketStatus
	Offset int
	Limit  int
}
