// Package validate checks policy rows before they reach the estimator.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/ppiankov/rolcurve/internal/model"
)

// Rule names reported per field
const (
	RuleNonNullable = "non_nullable"
	RuleMinValue    = "min_value"
	RuleISO2        = "iso2"
	RuleDuplicates  = "duplicates"
)

// Hard rules fail a batch on any error; soft rules only at the error tolerance
var hardRules = map[string]bool{RuleNonNullable: true}

// tagRules maps validator tags to rule names
var tagRules = map[string]string{
	"required": RuleNonNullable,
	"gt":       RuleMinValue,
	"gte":      RuleMinValue,
	"iso2":     RuleISO2,
}

// policyRow carries the validation rules for one policy
type policyRow struct {
	ID         string  `json:"id" validate:"required"`
	Client     string  `json:"client" validate:"required"`
	LOB        string  `json:"lob" validate:"required"`
	Country    string  `json:"country" validate:"omitempty,iso2"`
	Attachment float64 `json:"attachment" validate:"gte=0"`
	Limit      float64 `json:"limit" validate:"gt=0"`
	Size       float64 `json:"size" validate:"gt=0"`
	Premium    float64 `json:"premium" validate:"gt=0"`
	Exposure   float64 `json:"exposure" validate:"gt=0"`
}

// RuleResult summarizes one (field, rule) check over a batch
type RuleResult struct {
	Field     string   `json:"field"`
	Rule      string   `json:"rule"`
	Hard      bool     `json:"hard"`
	Failures  int      `json:"failures"`
	ErrorRate float64  `json:"error_rate"`
	Pass      bool     `json:"pass"` // Within tolerance; hard rules never pass with failures
	Values    []string `json:"values,omitempty"` // Distinct failing values, first few
}

// Report is the outcome of validating a batch
type Report struct {
	Total      int               `json:"total"`
	Passed     bool              `json:"passed"`
	PassedHard bool              `json:"passed_hard"`
	PassedSoft bool              `json:"passed_soft"`
	Rules      []RuleResult      `json:"rules"`
	Clean      []model.Policy    `json:"-"`        // Rows without any error, countries normalized
	Messages   map[string]string `json:"messages"` // Policy ID -> comma separated field_rule errors
}

// ErrorRate returns the share of rows with at least one error
func (r *Report) ErrorRate() float64 {
	if r.Total == 0 {
		return 0
	}
	return float64(r.Total-len(r.Clean)) / float64(r.Total)
}

const maxReportedValues = 5

// Validator applies the row rules
type Validator struct {
	v              *validator.Validate
	countries      *CountryNormalizer
	tolerance      float64
	requireCountry bool
}

// NewStructValidator returns a validator/v10 instance that reports JSON field
// names and knows the iso2 tag
func NewStructValidator() *validator.Validate {
	v := validator.New()
	countries := NewCountryNormalizer()
	_ = v.RegisterValidation("iso2", func(fl validator.FieldLevel) bool {
		_, ok := countries.Normalize(fl.Field().String())
		return ok
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// NewValidator creates a validator from config
func NewValidator(cfg model.ValidationConfig) *Validator {
	tol := cfg.ErrorTolerance
	if tol <= 0 {
		tol = 0.05
	}
	return &Validator{
		v:              NewStructValidator(),
		countries:      NewCountryNormalizer(),
		tolerance:      tol,
		requireCountry: cfg.RequireCountry,
	}
}

type ruleKey struct{ field, rule string }

type ruleAcc struct {
	failures int
	values   []string
	seen     map[string]bool
}

// Validate checks every policy and returns the per-rule summary and the clean subset
func (v *Validator) Validate(policies []model.Policy) (*Report, error) {
	report := &Report{Total: len(policies), Messages: make(map[string]string)}
	acc := make(map[ruleKey]*ruleAcc)
	fail := func(field, rule, value string, errs *[]string) {
		k := ruleKey{field, rule}
		a, ok := acc[k]
		if !ok {
			a = &ruleAcc{seen: make(map[string]bool)}
			acc[k] = a
		}
		a.failures++
		if !a.seen[value] && len(a.values) < maxReportedValues {
			a.seen[value] = true
			a.values = append(a.values, value)
		}
		*errs = append(*errs, field+"_"+rule)
	}

	ids := make(map[string]bool, len(policies))
	for _, p := range policies {
		var errs []string

		row := policyRow{
			ID: p.ID, Client: p.Client, LOB: p.LOB, Country: p.Country,
			Attachment: p.Attachment, Limit: p.Limit, Size: p.Size,
			Premium: p.Premium, Exposure: p.Exposure,
		}
		if err := v.v.Struct(row); err != nil {
			var fieldErrs validator.ValidationErrors
			if !errors.As(err, &fieldErrs) {
				return nil, fmt.Errorf("validate policy %s: %w", p.ID, err)
			}
			for _, fe := range fieldErrs {
				rule, ok := tagRules[fe.Tag()]
				if !ok {
					rule = fe.Tag()
				}
				fail(fe.Field(), rule, fmt.Sprint(fe.Value()), &errs)
			}
		}

		if v.requireCountry && strings.TrimSpace(p.Country) == "" {
			fail("country", RuleNonNullable, "", &errs)
		}
		if p.ID != "" {
			if ids[p.ID] {
				fail("id", RuleDuplicates, p.ID, &errs)
			}
			ids[p.ID] = true
		}

		if len(errs) > 0 {
			report.Messages[p.ID] = strings.Join(errs, ",")
			continue
		}
		if p.Country != "" {
			p.Country, _ = v.countries.Normalize(p.Country)
		}
		report.Clean = append(report.Clean, p)
	}

	report.PassedHard, report.PassedSoft = true, true
	for k, a := range acc {
		r := RuleResult{
			Field:    k.field,
			Rule:     k.rule,
			Hard:     hardRules[k.rule],
			Failures: a.failures,
			Values:   a.values,
		}
		if report.Total > 0 {
			r.ErrorRate = float64(a.failures) / float64(report.Total)
		}
		r.Pass = !r.Hard && r.ErrorRate < v.tolerance
		switch {
		case r.Hard:
			report.PassedHard = false
		case !r.Pass:
			report.PassedSoft = false
		}
		report.Rules = append(report.Rules, r)
	}
	sort.Slice(report.Rules, func(i, j int) bool {
		if report.Rules[i].Field != report.Rules[j].Field {
			return report.Rules[i].Field < report.Rules[j].Field
		}
		return report.Rules[i].Rule < report.Rules[j].Rule
	})
	report.Passed = report.PassedHard && report.PassedSoft
	return report, nil
}
