// Package plans defines the FinCash plan catalog: the demo plan every user
// starts on and the paid plans sold through the payment flow.
//
// The catalog is built once at startup, either from Default or from a YAML
// file, and never changes while the process runs.
package plans

import (
	"errors"
	"time"
)

var (
	ErrPlanNotFound   = errors.New("plans: plan not found")
	ErrInvalidCatalog = errors.New("plans: invalid catalog")
)

// ID identifies a plan.
type ID string

const (
	Demo    ID = "demo"
	Monthly ID = "monthly"
	Annual  ID = "annual"
)

func (id ID) String() string { return string(id) }

// Period is the billing period of a plan.
type Period string

const (
	PeriodPermanent Period = "permanent"
	PeriodMonth     Period = "month"
	PeriodYear      Period = "year"
)

// Advance returns the end of a subscription window starting at t.
// Permanent periods do not end and return t unchanged.
func (p Period) Advance(t time.Time) time.Time {
	switch p {
	case PeriodMonth:
		return t.AddDate(0, 1, 0)
	case PeriodYear:
		return t.AddDate(1, 0, 0)
	default:
		return t
	}
}

// Unlimited marks an export quota without a cap.
const Unlimited = -1

// Plan is an offer of the catalog. Price is a whole amount in Currency
// (FCFA has no minor unit).
type Plan struct {
	ID          ID       `json:"id" yaml:"id" validate:"required"`
	Name        string   `json:"name" yaml:"name" validate:"required"`
	Price       int64    `json:"price" yaml:"price" validate:"gte=0"`
	Currency    string   `json:"currency" yaml:"currency" validate:"required"`
	Period      Period   `json:"period" yaml:"period" validate:"oneof=permanent month year"`
	Duration    string   `json:"duration" yaml:"duration"`
	Features    []string `json:"features" yaml:"features"`
	Limitations []string `json:"limitations" yaml:"limitations"`
	Popular     bool     `json:"popular" yaml:"popular"`
	Savings     int64    `json:"savings,omitempty" yaml:"savings" validate:"gte=0"`
	ExportQuota int      `json:"export_quota" yaml:"export_quota" validate:"gte=-1"`
}

// IsPaid reports whether the plan is sold through the payment flow.
func (p Plan) IsPaid() bool { return p.ID != Demo }

// UnlimitedExports reports whether the plan caps exports.
func (p Plan) UnlimitedExports() bool { return p.ExportQuota == Unlimited }

func (p Plan) clone() Plan {
	p.Features = append([]string{}, p.Features...)
	p.Limitations = append([]string{}, p.Limitations...)
	return p
}

// Default returns the built-in FinCash catalog.
func Default() []Plan {
	return []Plan{
		{
			ID:       Demo,
			Name:     "Essai Gratuit",
			Price:    0,
			Currency: "FCFA",
			Period:   PeriodPermanent,
			Duration: "Permanent",
			Features: []string{
				"3 exports gratuits",
				"Tous les modèles financiers",
				"Analyses IA basiques",
				"Support par email",
			},
			Limitations: []string{
				"Limité à 3 exports",
				"Pas d'historique étendu",
				"Support standard",
			},
			ExportQuota: 3,
		},
		{
			ID:       Monthly,
			Name:     "Abonnement Mensuel",
			Price:    30000,
			Currency: "FCFA",
			Period:   PeriodMonth,
			Duration: "Par mois",
			Features: []string{
				"Exports illimités",
				"Tous les modèles financiers",
				"Analyses IA avancées",
				"Génération d'états financiers",
				"Support prioritaire",
				"Historique complet",
				"Multi-devises",
			},
			Limitations: []string{},
			Popular:     true,
			ExportQuota: Unlimited,
		},
		{
			ID:       Annual,
			Name:     "Abonnement Annuel",
			Price:    200000,
			Currency: "FCFA",
			Period:   PeriodYear,
			Duration: "Par an",
			Savings:  160000,
			Features: []string{
				"Exports illimités",
				"Tous les modèles financiers",
				"Analyses IA avancées",
				"Génération d'états financiers",
				"Support prioritaire VIP",
				"Historique complet",
				"Multi-devises",
				"Formation personnalisée",
				"API access",
			},
			Limitations: []string{},
			ExportQuota: Unlimited,
		},
	}
}
