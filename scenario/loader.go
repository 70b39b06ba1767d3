// Package scenario loads household money-flow graphs from YAML files.
//
// A scenario file lists nodes, allocation rules and a projection horizon.
// Files may include other scenario files; the loader either keeps the
// include list as written or recursively resolves and merges it.
//
// Example usage:
//
//	// Load a single file without following includes
//	ldr := scenario.New()
//	s, err := ldr.Load(ctx, "household.yaml")
//
//	// Load with recursive include resolution and a fixed horizon
//	ldr := scenario.New(scenario.WithFollowIncludes(), scenario.WithHorizon(30))
//	s, err := ldr.Load(ctx, "household.yaml")
//
//	nodes, rules := s.Snapshot()
//	result := simulation.Simulate(nodes, rules, s.Settings())
package scenario

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/robinvdvleuten/flowcast/telemetry"
)

// Loader reads scenario files.
//
// Configure the loader using functional options passed to New:
//
//	ldr := New(WithFollowIncludes())
type Loader struct {
	// FollowIncludes determines whether included files are loaded and merged.
	// When false, Scenario.Include is left as written.
	FollowIncludes bool

	// Horizon overrides the horizon of the loaded file when positive.
	Horizon float64
}

// Option configures how files are loaded.
type Option func(*Loader)

// WithFollowIncludes configures the loader to recursively load and merge all
// included files. Relative paths are resolved from the directory of the
// including file and a file included more than once is only read once.
// Nodes and rules of included files follow those of the including file.
func WithFollowIncludes() Option {
	return func(l *Loader) {
		l.FollowIncludes = true
	}
}

// WithHorizon overrides the horizon of every loaded scenario.
func WithHorizon(years float64) Option {
	return func(l *Loader) {
		l.Horizon = years
	}
}

// New creates a new Loader with the given options.
func New(opts ...Option) *Loader {
	l := &Loader{}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// Load reads and decodes a scenario file.
func (l *Loader) Load(ctx context.Context, filename string) (*Scenario, error) {
	absPath, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for %s: %w", filename, err)
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", filename, err)
	}

	return l.load(ctx, filename, absPath, data)
}

// LoadBytes decodes scenario data that was read elsewhere, e.g. from stdin
// or an HTTP request. Includes are resolved relative to filename.
func (l *Loader) LoadBytes(ctx context.Context, filename string, data []byte) (*Scenario, error) {
	absPath := filename
	if filename != "" && filename != "<stdin>" {
		if p, err := filepath.Abs(filename); err == nil {
			absPath = p
		}
	}

	return l.load(ctx, filename, absPath, data)
}

func (l *Loader) load(ctx context.Context, filename, absPath string, data []byte) (*Scenario, error) {
	timer := telemetry.StartTimer(ctx, fmt.Sprintf("scenario.load %s", filepath.Base(filename)))
	defer timer.End()

	s, err := decode(filename, data)
	if err != nil {
		return nil, err
	}
	s.Root = absPath
	s.Files = []string{absPath}

	if l.FollowIncludes && len(s.Include) > 0 {
		if filename == "<stdin>" {
			return nil, fmt.Errorf("include directives are not supported when reading from stdin")
		}
		state := &loaderState{visited: map[string]bool{absPath: true}}
		if err := state.resolveIncludes(ctx, filename, absPath, s); err != nil {
			return nil, err
		}
		s.Include = nil
	}

	if l.Horizon > 0 {
		s.HorizonYears = l.Horizon
	}
	if s.HorizonYears == 0 {
		s.HorizonYears = DefaultHorizonYears
	}

	return s, nil
}

// loaderState tracks state during recursive loading.
type loaderState struct {
	visited map[string]bool // Absolute paths of files already loaded
}

// resolveIncludes loads the includes of s depth-first and appends their nodes
// and rules to s.
func (st *loaderState) resolveIncludes(ctx context.Context, filename, absPath string, s *Scenario) error {
	baseDir := filepath.Dir(absPath)

	for _, inc := range s.Include {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		includePath := inc
		if !filepath.IsAbs(includePath) {
			includePath = filepath.Join(baseDir, includePath)
		}
		includeAbs, err := filepath.Abs(includePath)
		if err != nil {
			return fmt.Errorf("failed to resolve absolute path for %s: %w", includePath, err)
		}

		if st.visited[includeAbs] {
			continue
		}
		st.visited[includeAbs] = true

		data, err := os.ReadFile(includePath)
		if err != nil {
			return fmt.Errorf("in file %s: failed to read %s: %w", filename, inc, err)
		}

		included, err := decode(includePath, data)
		if err != nil {
			return fmt.Errorf("in file %s: %w", filename, err)
		}

		included.Files = []string{includeAbs}
		if err := st.resolveIncludes(ctx, includePath, includeAbs, included); err != nil {
			return err
		}

		s.Files = append(s.Files, included.Files...)
		s.Nodes = append(s.Nodes, included.Nodes...)
		s.Rules = append(s.Rules, included.Rules...)
	}

	return nil
}

// decode parses one file strictly: unknown keys are errors.
func decode(filename string, data []byte) (*Scenario, error) {
	var s Scenario

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, newParseError(filename, err)
	}

	for i, n := range s.Nodes {
		if n.ID == "" {
			return nil, &ParseError{Filename: filename, Message: fmt.Sprintf("node #%d has no id", i+1)}
		}
	}
	for i, r := range s.Rules {
		if r.Source == "" {
			return nil, &ParseError{Filename: filename, Message: fmt.Sprintf("rule #%d has no source", i+1)}
		}
	}

	return &s, nil
}
