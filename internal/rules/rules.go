// Package rules loads alert rules written in CUE.
//
// A rules file lists alerts:
//
//	alerts: [
//		{name: "kirkgate-open", carpark: "Kirkgate Centre", min_empty: 1},
//	]
//
// The file is unified with an embedded schema, so unknown fields, blank car
// park names and thresholds below 1 are rejected with a source position.
package rules

import (
	_ "embed"
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/parkflow/internal/carpark"
)

//go:embed schema.cue
var schema []byte

// Rule is one alert condition: name = Carpark AND empty_places >= MinEmpty.
type Rule struct {
	Name     string `json:"name"`
	Carpark  string `json:"carpark"`
	MinEmpty int    `json:"min_empty"`
	Status   string `json:"status,omitempty"`
}

// Predicate compiles the rule into an event predicate.
func (r Rule) Predicate() carpark.Predicate {
	preds := []carpark.Predicate{
		carpark.NameEquals(carpark.NormalizeKey(r.Carpark)),
		carpark.EmptyPlacesAtLeast(r.MinEmpty),
	}
	if r.Status != "" {
		preds = append(preds, carpark.StatusEquals(r.Status))
	}
	return carpark.And(preds...)
}

// Load reads and compiles the rules file at path.
func Load(path string) ([]Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules: %w", err)
	}
	return Compile(path, src)
}

// Compile validates src against the rule schema and decodes the alerts.
func Compile(filename string, src []byte) ([]Rule, error) {
	ctx := cuecontext.New()

	s := ctx.CompileBytes(schema, cue.Filename("schema.cue"))
	if err := s.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v := ctx.CompileBytes(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	v = s.Unify(v)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	alerts := v.LookupPath(cue.ParsePath("alerts"))
	if !alerts.Exists() {
		return nil, nil
	}

	var out []Rule
	if err := alerts.Decode(&out); err != nil {
		return nil, formatCUEError(err)
	}

	seen := make(map[string]bool, len(out))
	for _, r := range out {
		if seen[r.Name] {
			return nil, &RuleError{Field: "name", Message: fmt.Sprintf("duplicate rule %q", r.Name)}
		}
		seen[r.Name] = true
	}
	return out, nil
}

// RuleError is a rules file error with its source position.
type RuleError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *RuleError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	positions := errors.Positions(first)
	if len(positions) > 0 {
		return &RuleError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
