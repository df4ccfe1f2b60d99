package orchestrate

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/romforge/go-romkitchen/internal/builders"
	"github.com/romforge/go-romkitchen/internal/estimate"
	"github.com/romforge/go-romkitchen/internal/format"
	"github.com/romforge/go-romkitchen/internal/kitchen"
	"github.com/romforge/go-romkitchen/internal/registry"
	"github.com/romforge/go-romkitchen/internal/superimg"
	"github.com/romforge/go-romkitchen/internal/tooling"
	"github.com/romforge/go-romkitchen/internal/transfer"
	"github.com/romforge/go-romkitchen/internal/workspace"
)

// Classifier is the format-classification collaborator: a pure function from
// path to format tag, called repeatedly and never trusted with side effects.
type Classifier func(path string) format.Tag

// Engine is the explicit context object threaded through every orchestration
// call. It owns per-project state that older kitchens kept in globals; one
// engine serves one project, and operations on it run sequentially.
type Engine struct {
	project   *workspace.Project
	runner    *tooling.Runner
	pipeline  *transfer.Pipeline
	builders  *builders.Set
	synth     *superimg.Synthesizer
	estimator *estimate.Estimator
	classify  Classifier
	log       zerolog.Logger
}

func NewEngine(project *workspace.Project, runner *tooling.Runner, log zerolog.Logger) (*Engine, error) {
	if project == nil {
		return nil, kitchen.ErrProjectNotFound
	}
	estimator := estimate.NewEstimator()
	pipeline := transfer.NewPipeline(runner, log)
	return &Engine{
		project:   project,
		runner:    runner,
		pipeline:  pipeline,
		builders:  builders.NewSet(runner, estimator, pipeline, log),
		synth:     superimg.NewSynthesizer(runner, log),
		estimator: estimator,
		classify:  format.Classify,
		log:       log,
	}, nil
}

// Project exposes the engine's workspace for the command layer.
func (e *Engine) Project() *workspace.Project { return e.project }

// Estimator exposes the size estimator for the estimate command.
func (e *Engine) Estimator() *estimate.Estimator { return e.estimator }

// Pipeline exposes the transfer pipeline for the convert command.
func (e *Engine) Pipeline() *transfer.Pipeline { return e.pipeline }

// loadRegistry reads the project's parts_info whole; saveRegistry writes it
// back whole. Partial merges are deliberately impossible.
func (e *Engine) loadRegistry() (*registry.Document, error) {
	doc, err := registry.Load(e.project.ConfigDir())
	if err != nil {
		return nil, fmt.Errorf("failed to load partition registry: %w", err)
	}
	return doc, nil
}

func (e *Engine) saveRegistry(doc *registry.Document) error {
	if err := registry.Save(e.project.ConfigDir(), doc); err != nil {
		return fmt.Errorf("failed to save partition registry: %w", err)
	}
	return nil
}

// Report collects per-partition outcomes of a batch. Failures never abort
// sibling partitions; they land here instead.
type Report struct {
	Processed []string
	Failed    map[string]error
	Skipped   map[string]string
}

func newReport() *Report {
	return &Report{Failed: make(map[string]error), Skipped: make(map[string]string)}
}

func (r *Report) ok(name string) {
	r.Processed = append(r.Processed, name)
}

func (r *Report) fail(name string, err error) {
	r.Failed[name] = err
}

func (r *Report) skip(name, reason string) {
	r.Skipped[name] = reason
}

// OK reports whether every selected partition processed cleanly.
func (r *Report) OK() bool { return len(r.Failed) == 0 }
