// Package pipeline turns a canonical request into a fully
// provider-addressed wire request through an ordered list of pure
// stages. State is threaded by value: no stage mutates shared data, each
// returns a new state built from its input.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hivegate/hivegate/internal/domain"
)

// State is the value threaded through the pipeline. Provider and Headers
// start nil and are populated by the resolution and header stages.
type State struct {
	Messages []domain.Message
	Options  domain.Options
	Service  *domain.ServiceDefinition
	Provider *domain.ResolvedProviderConfig
	Headers  map[string]string
}

// Stage transforms one state into the next. Stages must treat the input
// as immutable: modified slices and maps are rebuilt, never written
// in place.
type Stage struct {
	Name  string
	Apply func(ctx context.Context, s State) (State, error)
}

// Pipeline is a left-to-right composition of stages. The global order is
// a contract: later stages may rely on state produced by earlier ones
// (sanitization relies on the resolved provider, headers on the resolved
// config).
type Pipeline struct {
	stages []Stage
}

func New(stages ...Stage) Pipeline {
	return Pipeline{stages: stages}
}

// Run applies every stage in order.
func (p Pipeline) Run(ctx context.Context, s State) (State, error) {
	for _, stage := range p.stages {
		next, err := stage.Apply(ctx, s)
		if err != nil {
			return State{}, fmt.Errorf("transform %s: %w", stage.Name, err)
		}
		slog.Debug("applied transform",
			"stage", stage.Name,
			"provider_resolved", next.Provider != nil,
		)
		s = next
	}
	return s, nil
}

// PreTransformStage runs the model-specific rewrite attached to the
// service definition, if any. It runs first so it can still influence
// provider selection.
func PreTransformStage() Stage {
	return Stage{
		Name: "pre-transform",
		Apply: func(ctx context.Context, s State) (State, error) {
			if s.Service == nil || s.Service.Transform == nil {
				return s, nil
			}
			messages, opts := s.Service.Transform(s.Messages, s.Options)
			s.Messages = messages
			s.Options = opts
			return s, nil
		},
	}
}
