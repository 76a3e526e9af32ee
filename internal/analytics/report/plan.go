package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	yaml "gopkg.in/yaml.v3"

	"github.com/cuihairu/abmetrics/internal/analytics/abtest"
	"github.com/cuihairu/abmetrics/internal/analytics/orders"
)

// Kind selects the engine operation a report runs.
type Kind string

const (
	KindRevenue                Kind = "revenue"
	KindPriceRange             Kind = "price_range"
	KindDeliveryTime           Kind = "delivery_time"
	KindEngagement             Kind = "engagement"
	KindEngagementPriceRange   Kind = "engagement_price_range"
	KindEngagementDeliveryTime Kind = "engagement_delivery_time"
)

func (k Kind) engagement() bool {
	return k == KindEngagement || k == KindEngagementPriceRange || k == KindEngagementDeliveryTime
}

// DefaultCities is the analytics city list applied by reports that ask for
// the default filter.
var DefaultCities = []string{
	"Sao Paulo", "Rio De Janeiro", "Belo Horizonte", "Curitiba",
	"Recife", "Salvador", "Brasilia", "Fortaleza", "Porto Alegre",
}

// Spec describes one report of a plan.
type Spec struct {
	Name             string   `yaml:"name" json:"name"`
	Kind             Kind     `yaml:"kind" json:"kind"`
	GroupBy          []string `yaml:"group_by,omitempty" json:"group_by,omitempty"`
	Cities           []string `yaml:"cities,omitempty" json:"cities,omitempty"`
	UseDefaultCities bool     `yaml:"use_default_cities,omitempty" json:"use_default_cities,omitempty"`
	Threshold        string   `yaml:"threshold,omitempty" json:"threshold,omitempty"`
}

// Plan is an ordered list of reports plus the default city list.
type Plan struct {
	Cities  []string `yaml:"cities,omitempty" json:"cities,omitempty"`
	Reports []Spec   `yaml:"reports" json:"reports"`
}

// CitySet resolves the city filter of s: its own cities first, then the
// plan defaults when UseDefaultCities is set, otherwise no filter.
func (p *Plan) CitySet(s Spec) abtest.CitySet {
	switch {
	case len(s.Cities) > 0:
		return abtest.NewCitySet(s.Cities...)
	case s.UseDefaultCities && len(p.Cities) > 0:
		return abtest.NewCitySet(p.Cities...)
	case s.UseDefaultCities:
		return abtest.NewCitySet(DefaultCities...)
	}
	return nil
}

const planSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["reports"],
  "additionalProperties": false,
  "properties": {
    "cities": {"type": "array", "items": {"type": "string", "minLength": 1}},
    "reports": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "kind"],
        "additionalProperties": false,
        "properties": {
          "name": {"type": "string", "pattern": "^[A-Za-z0-9_.-]+$"},
          "kind": {"enum": ["revenue", "price_range", "delivery_time", "engagement", "engagement_price_range", "engagement_delivery_time"]},
          "group_by": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "cities": {"type": "array", "items": {"type": "string", "minLength": 1}},
          "use_default_cities": {"type": "boolean"},
          "threshold": {"type": "string"}
        }
      }
    }
  }
}`

var planSchemaLoader = gojsonschema.NewStringLoader(planSchema)

// LoadPlan reads and validates a YAML plan file.
func LoadPlan(path string) (*Plan, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := ParsePlan(b)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ParsePlan decodes YAML (or JSON) plan text, validates it against the plan
// schema and checks the cross-field rules the schema cannot express.
func ParsePlan(b []byte) (*Plan, error) {
	var doc any
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	// round trip through JSON so the validator sees plain JSON types
	js, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	res, err := gojsonschema.Validate(planSchemaLoader, gojsonschema.NewBytesLoader(js))
	if err != nil {
		return nil, fmt.Errorf("validate plan: %w", err)
	}
	if !res.Valid() {
		msgs := make([]string, 0, len(res.Errors()))
		for _, e := range res.Errors() {
			msgs = append(msgs, e.String())
		}
		return nil, fmt.Errorf("invalid plan: %s", strings.Join(msgs, "; "))
	}
	var p Plan
	if err := yaml.Unmarshal(b, &p); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if err := p.Check(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Check enforces unique names and kind specific fields.
func (p *Plan) Check() error {
	if len(p.Reports) == 0 {
		return errors.New("plan has no reports")
	}
	seen := map[string]struct{}{}
	for _, s := range p.Reports {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("report %q: duplicate name", s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Kind.engagement() {
			if _, err := abtest.ParseThreshold(s.Threshold); err != nil {
				return fmt.Errorf("report %q: %w", s.Name, err)
			}
		} else if s.Threshold != "" {
			return fmt.Errorf("report %q: threshold only applies to engagement kinds", s.Name)
		}
		if len(s.GroupBy) > 0 && s.Kind != KindRevenue && s.Kind != KindEngagement {
			return fmt.Errorf("report %q: group_by only applies to revenue and engagement", s.Name)
		}
	}
	return nil
}

// DefaultPlan is the standard evaluation: overall and monthly revenue, the
// price-range and delivery-time breakdowns, and the repeat purchase counts.
func DefaultPlan() *Plan {
	p := &Plan{Cities: append([]string(nil), DefaultCities...)}
	add := func(name string, kind Kind, th string, groupBy ...string) {
		p.Reports = append(p.Reports, Spec{Name: name, Kind: kind, GroupBy: groupBy, Threshold: th, UseDefaultCities: true})
	}
	add("revenue", KindRevenue, "")
	add("revenue_by_month", KindRevenue, "", orders.ColOrderMonth)
	add("revenue_by_price_range", KindPriceRange, "")
	add("revenue_by_delivery_time", KindDeliveryTime, "")
	for _, th := range []string{"exactly_2", "exactly_3", "more_than_3"} {
		add("customers_"+th, KindEngagement, th)
		add("customers_"+th+"_by_month", KindEngagement, th, orders.ColOrderMonth)
		add("customers_"+th+"_by_price_range", KindEngagementPriceRange, th)
		add("customers_"+th+"_by_delivery_time", KindEngagementDeliveryTime, th)
	}
	return p
}
