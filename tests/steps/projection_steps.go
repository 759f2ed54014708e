// Package steps holds godog step definitions shared by the feature
// suites under tests/features.
package steps

import (
	"context"
	"fmt"
	"strings"

	"github.com/cucumber/godog"

	"github.com/glassflow/graphsync/internal/core/event"
	"github.com/glassflow/graphsync/internal/core/planner"
	"github.com/glassflow/graphsync/internal/core/schema"
)

// ProjectionTestSuite drives the decode -> lookup -> plan pipeline
// directly, without a bus or graph database, with one struct per
// feature area holding scenario state.
type ProjectionTestSuite struct {
	registry *schema.Registry
	planner  *planner.Planner

	rawPayload []byte
	payloadSet bool

	decoded    event.Event
	skipReason event.SkipReason
	decodeErr  error

	mutations []planner.Mutation
	planErr   error
}

// NewProjectionTestSuite returns a fresh suite; it is built once per
// test run, and RegisterSteps' Before hook resets its scenario state.
func NewProjectionTestSuite() *ProjectionTestSuite {
	return &ProjectionTestSuite{
		registry: schema.NewRegistry(),
		planner:  planner.New(),
	}
}

// SetupResources is a no-op: projection scenarios only exercise the
// decode/lookup/plan pipeline in memory, with no bus or database to
// provision. Present to satisfy the suite interface runSingleSuite in
// tests/main_test.go requires.
func (s *ProjectionTestSuite) SetupResources() error { return nil }

// CleanupResources is a no-op for the same reason as SetupResources.
func (s *ProjectionTestSuite) CleanupResources() error { return nil }

// RegisterSteps wires this suite's methods into godog's scenario context.
func (s *ProjectionTestSuite) RegisterSteps(sc *godog.ScenarioContext) {
	sc.Before(func(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
		s.rawPayload = nil
		s.payloadSet = false
		s.decoded = event.Event{}
		s.skipReason = ""
		s.decodeErr = nil
		s.mutations = nil
		s.planErr = nil
		return ctx, nil
	})

	sc.Step(`^the CDC payload$`, s.theCDCPayload)
	sc.Step(`^the CDC payload is empty$`, s.theCDCPayloadIsEmpty)
	sc.Step(`^the event is decoded$`, s.theEventIsDecoded)
	sc.Step(`^the event is planned$`, s.theEventIsPlanned)
	sc.Step(`^exactly (\d+) mutations? (?:is|are) produced$`, s.exactlyNMutationsAreProduced)
	sc.Step(`^mutation (\d+) has template "([^"]*)"$`, s.mutationHasTemplate)
	sc.Step(`^mutation (\d+) param "([^"]*)" equals "?([^"]*?)"?$`, s.mutationParamEquals)
	sc.Step(`^the event is skipped with reason "([^"]*)"$`, s.theEventIsSkippedWithReason)
}

func (s *ProjectionTestSuite) theCDCPayload(doc *godog.DocString) error {
	s.rawPayload = []byte(doc.Content)
	s.payloadSet = true
	return nil
}

func (s *ProjectionTestSuite) theCDCPayloadIsEmpty() error {
	s.rawPayload = nil
	s.payloadSet = true
	return nil
}

func (s *ProjectionTestSuite) theEventIsDecoded() error {
	if !s.payloadSet {
		return fmt.Errorf("no payload was set")
	}
	ev, skip, err := event.Decode(s.rawPayload, "cdc.public.test")
	s.decoded, s.skipReason, s.decodeErr = ev, skip, err
	return nil
}

func (s *ProjectionTestSuite) theEventIsPlanned() error {
	if err := s.theEventIsDecoded(); err != nil {
		return err
	}
	if s.decodeErr != nil {
		return fmt.Errorf("decode failed: %w", s.decodeErr)
	}
	if s.skipReason != "" {
		s.mutations = nil
		return nil
	}

	rule, ok := s.registry.Lookup(s.decoded.Table)
	if !ok {
		return fmt.Errorf("table %q has no projection rule", s.decoded.Table)
	}

	muts, err := s.planner.Plan(s.decoded, rule)
	s.mutations, s.planErr = muts, err
	return nil
}

func (s *ProjectionTestSuite) exactlyNMutationsAreProduced(n int) error {
	if s.planErr != nil {
		return fmt.Errorf("planning failed: %w", s.planErr)
	}
	if len(s.mutations) != n {
		return fmt.Errorf("expected %d mutations, got %d: %+v", n, len(s.mutations), s.mutations)
	}
	return nil
}

func (s *ProjectionTestSuite) mutationHasTemplate(idx int, want string) error {
	mut, err := s.mutationAt(idx)
	if err != nil {
		return err
	}
	if mut.Template != want {
		return fmt.Errorf("expected template %q, got %q", want, mut.Template)
	}
	return nil
}

func (s *ProjectionTestSuite) mutationParamEquals(idx int, path, want string) error {
	mut, err := s.mutationAt(idx)
	if err != nil {
		return err
	}

	got, err := lookupParam(mut.Params, path)
	if err != nil {
		return err
	}

	gotStr := fmt.Sprintf("%v", got)
	if gotStr != want {
		return fmt.Errorf("param %q: expected %q, got %q", path, want, gotStr)
	}
	return nil
}

func (s *ProjectionTestSuite) theEventIsSkippedWithReason(reason string) error {
	if s.decodeErr != nil {
		return fmt.Errorf("decode failed: %w", s.decodeErr)
	}
	if string(s.skipReason) != reason {
		return fmt.Errorf("expected skip reason %q, got %q", reason, s.skipReason)
	}
	return nil
}

func (s *ProjectionTestSuite) mutationAt(idx int) (planner.Mutation, error) {
	if idx < 1 || idx > len(s.mutations) {
		return planner.Mutation{}, fmt.Errorf("mutation index %d out of range (have %d)", idx, len(s.mutations))
	}
	return s.mutations[idx-1], nil
}

// lookupParam resolves dotted paths like "props.first_name" against a
// mutation's Params map, one level deep (nested props maps only).
func lookupParam(params map[string]any, path string) (any, error) {
	parts := strings.SplitN(path, ".", 2)
	v, ok := params[parts[0]]
	if !ok {
		return nil, fmt.Errorf("no param %q", parts[0])
	}
	if len(parts) == 1 {
		return v, nil
	}
	nested, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("param %q is not a nested map", parts[0])
	}
	return lookupParam(nested, parts[1])
}
