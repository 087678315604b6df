package plans

import (
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Catalog is the read-only set of offered plans.
type Catalog struct {
	ordered []Plan
	byID    map[ID]Plan
}

// NewCatalog validates plans and freezes them in the given order.
// The catalog must hold exactly one demo plan priced 0 with a finite
// export quota. Every other plan must cost more than 0, renew monthly or
// yearly and export without a cap. Ids must be unique.
func NewCatalog(plans ...Plan) (*Catalog, error) {
	if len(plans) == 0 {
		return nil, fmt.Errorf("%w: no plans", ErrInvalidCatalog)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	c := &Catalog{
		ordered: make([]Plan, 0, len(plans)),
		byID:    make(map[ID]Plan, len(plans)),
	}

	var errs []error
	demos := 0
	for _, p := range plans {
		if err := validate.Struct(p); err != nil {
			errs = append(errs, fmt.Errorf("plan %q: %w", p.ID, err))
			continue
		}
		if _, dup := c.byID[p.ID]; dup {
			errs = append(errs, fmt.Errorf("plan %q: duplicate id", p.ID))
			continue
		}
		if p.ID == Demo {
			demos++
			if p.Price != 0 {
				errs = append(errs, fmt.Errorf("plan %q: demo price must be 0", p.ID))
			}
			if p.UnlimitedExports() {
				errs = append(errs, fmt.Errorf("plan %q: demo export quota must be finite", p.ID))
			}
		} else {
			if p.Price <= 0 {
				errs = append(errs, fmt.Errorf("plan %q: paid plan price must be > 0", p.ID))
			}
			if p.Period == PeriodPermanent {
				errs = append(errs, fmt.Errorf("plan %q: paid plan needs a month or year period", p.ID))
			}
			if !p.UnlimitedExports() {
				errs = append(errs, fmt.Errorf("plan %q: paid plan export quota must be %d", p.ID, Unlimited))
			}
		}
		p = p.clone()
		c.ordered = append(c.ordered, p)
		c.byID[p.ID] = p
	}
	if demos != 1 {
		errs = append(errs, fmt.Errorf("exactly one %q plan is required, got %d", Demo, demos))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{ErrInvalidCatalog}, errs...)...)
	}
	return c, nil
}

// MustNewCatalog is NewCatalog that panics on invalid input.
func MustNewCatalog(plans ...Plan) *Catalog {
	c, err := NewCatalog(plans...)
	if err != nil {
		panic(err)
	}
	return c
}

// List returns copies of all plans in catalog order.
func (c *Catalog) List() []Plan {
	out := make([]Plan, len(c.ordered))
	for i, p := range c.ordered {
		out[i] = p.clone()
	}
	return out
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id ID) (Plan, error) {
	p, ok := c.byID[id]
	if !ok {
		return Plan{}, fmt.Errorf("%w: %q", ErrPlanNotFound, id)
	}
	return p.clone(), nil
}

// Demo returns the free plan.
func (c *Catalog) Demo() Plan {
	return c.byID[Demo].clone()
}

// Paid returns the plans sold through the payment flow, in catalog order.
func (c *Catalog) Paid() []Plan {
	out := make([]Plan, 0, len(c.ordered)-1)
	for _, p := range c.ordered {
		if p.IsPaid() {
			out = append(out, p.clone())
		}
	}
	return out
}

type catalogFile struct {
	Plans []yaml.Node `yaml:"plans"`
}

// LoadFile reads a YAML catalog of the form
//
//	plans:
//	  - id: demo
//	    name: Essai Gratuit
//	    price: 0
//	    ...
//
// A paid plan without export_quota gets Unlimited. The result still has to
// pass NewCatalog.
func LoadFile(path string) ([]Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("plans: read %s: %w", path, err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("parse %s: %w", path, err))
	}

	out := make([]Plan, 0, len(f.Plans))
	for i := range f.Plans {
		node := &f.Plans[i]
		var p Plan
		if err := node.Decode(&p); err != nil {
			return nil, errors.Join(ErrInvalidCatalog, fmt.Errorf("parse %s: %w", path, err))
		}
		if p.IsPaid() && !hasKey(node, "export_quota") {
			p.ExportQuota = Unlimited
		}
		out = append(out, p)
	}
	return out, nil
}

func hasKey(node *yaml.Node, key string) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return true
		}
	}
	return false
}
