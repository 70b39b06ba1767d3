// Package web provides an HTTP server for the flowcast graph editor.
//
// The server exposes a REST API for reading and writing scenario files,
// projecting the loaded scenario and recomputing ad-hoc snapshots posted by
// the editor while the user changes the graph. Connected editors are told
// to reload through Server-Sent Events when the file changes on disk.
//
// SECURITY WARNING: This server has no authentication and should only be
// bound to localhost (127.0.0.1). Do not expose it to untrusted networks.
// File access is restricted to the root file and its includes.
package web

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/robinvdvleuten/flowcast/errors"
	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/scenario"
	"github.com/robinvdvleuten/flowcast/simulation"
	"github.com/robinvdvleuten/flowcast/telemetry"
)

type Server struct {
	Port         int
	Host         string
	Version      string
	CommitSHA    string
	ReadOnly     bool
	WatchEnabled bool

	logger    *slog.Logger
	simulator *simulation.Simulator

	mu           sync.RWMutex
	scenario     *scenario.Scenario
	issues       []error  // Validation issues of the loaded scenario
	rootFile     string   // Absolute path of the root scenario file
	includeFiles []string // Absolute paths of included files

	// inputFile is the file path passed to New(), used only for initial loading.
	// After loading, rootFile contains the resolved absolute path.
	inputFile string

	// SSE clients for broadcasting reload events
	sseClients map[chan string]struct{}
	sseMu      sync.Mutex
}

// Option configures a Server.
type Option func(*Server)

// WithVersion sets the build information reported by /api/version.
func WithVersion(version, commitSHA string) Option {
	return func(s *Server) {
		s.Version = version
		s.CommitSHA = commitSHA
	}
}

// WithReadOnly rejects every request that would write to disk.
func WithReadOnly(readOnly bool) Option {
	return func(s *Server) {
		s.ReadOnly = readOnly
	}
}

// WithWatch reloads the scenario when the root file or an include changes.
func WithWatch(watch bool) Option {
	return func(s *Server) {
		s.WatchEnabled = watch
	}
}

// WithLogger sets the logger for watcher and reload diagnostics. The same
// logger receives the simulator's allocation diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server for a scenario file.
func New(port int, scenarioFile string, opts ...Option) *Server {
	s := &Server{
		Port:       port,
		Host:       "127.0.0.1",
		inputFile:  scenarioFile,
		logger:     slog.Default(),
		sseClients: make(map[chan string]struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	s.simulator = simulation.New(simulation.WithLogger(s.logger))

	return s
}

func (s *Server) Start(ctx context.Context) error {
	timer := telemetry.StartTimer(ctx, fmt.Sprintf("web.start %s:%d", s.Host, s.Port))

	// Require scenario file
	if s.inputFile == "" {
		timer.End()
		return fmt.Errorf("scenario file is required")
	}

	loadTimer := timer.Child(fmt.Sprintf("web.load_scenario %s", filepath.Base(s.inputFile)))
	if err := s.reloadScenario(ctx); err != nil {
		loadTimer.End()
		timer.End()
		return fmt.Errorf("failed to load scenario: %w", err)
	}
	loadTimer.End()

	// Start file watcher if enabled
	if s.WatchEnabled {
		if err := s.startWatcher(ctx); err != nil {
			timer.End()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
	}

	setupTimer := timer.Child("web.setup_router")
	mux := s.setupRouter()
	setupTimer.End()
	timer.End()

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", s.Host, s.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) setupRouter() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/version", s.handleGetVersion)
	mux.HandleFunc("GET /api/scenario", s.handleGetScenario)
	mux.HandleFunc("GET /api/source", s.handleGetSource)
	mux.HandleFunc("PUT /api/source", s.requireWritable(s.handlePutSource))
	mux.HandleFunc("GET /api/graph", s.handleGetGraph)
	mux.HandleFunc("GET /api/projection", s.handleGetProjection)
	mux.HandleFunc("POST /api/simulate", s.handleSimulate)
	mux.HandleFunc("POST /api/validate", s.handleValidate)
	mux.HandleFunc("GET /api/events", s.handleSSE)

	return mux
}

// requireWritable is middleware that rejects write requests in read-only mode.
func (s *Server) requireWritable(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.ReadOnly {
			http.Error(w, "Server is in read-only mode", http.StatusForbidden)
			return
		}
		next(w, r)
	}
}

// reloadScenario loads or reloads the scenario from disk.
// Caller must NOT hold the mutex - this method acquires it internally.
func (s *Server) reloadScenario(ctx context.Context) error {
	ldr := scenario.New(scenario.WithFollowIncludes())

	sc, err := ldr.Load(ctx, s.inputFile)
	if err != nil {
		return err // I/O or parse error
	}

	nodes, rules := sc.Snapshot()
	issues := validationIssues(graph.Validate(nodes, rules))

	s.mu.Lock()
	s.scenario = sc
	s.issues = issues
	s.rootFile = sc.Root
	s.includeFiles = sc.Files[1:]
	s.mu.Unlock()

	if len(issues) > 0 {
		s.logger.Warn("scenario has validation issues",
			"file", sc.Root,
			"count", len(issues),
			"issues", errors.NewTextFormatter().FormatAll(issues))
	}

	return nil
}

// validationIssues flattens the result of graph.Validate.
func validationIssues(err error) []error {
	if err == nil {
		return []error{}
	}
	var verr *graph.ValidationErrors
	if stderrors.As(err, &verr) {
		return verr.Errors
	}
	return []error{err}
}

// startWatcher starts a file watcher for the root file and all includes.
// It reloads the scenario and broadcasts SSE events when files change.
func (s *Server) startWatcher(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}

	s.mu.RLock()
	filesToWatch := append([]string{s.rootFile}, s.includeFiles...)
	s.mu.RUnlock()

	for _, file := range filesToWatch {
		if err := watcher.Add(file); err != nil {
			s.logger.Warn("failed to watch file", "file", file, "error", err)
		}
	}

	go s.runWatcher(ctx, watcher)

	return nil
}

// runWatcher processes file system events with debouncing.
func (s *Server) runWatcher(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		_ = watcher.Close()
	}()

	// Editors often write files in multiple steps
	const debounceDelay = 100 * time.Millisecond

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}

			// Remove/Rename are common in atomic saves
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}

			debounceTimer = time.AfterFunc(debounceDelay, func() {
				s.handleFileChange(ctx, watcher)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("file watcher error", "error", err)
		}
	}
}

// handleFileChange reloads the scenario and updates the watch list.
func (s *Server) handleFileChange(ctx context.Context, watcher *fsnotify.Watcher) {
	s.mu.RLock()
	oldIncludes := make(map[string]bool)
	for _, f := range s.includeFiles {
		oldIncludes[f] = true
	}
	s.mu.RUnlock()

	if err := s.reloadScenario(ctx); err != nil {
		s.logger.Error("failed to reload scenario", "file", s.inputFile, "error", err)
		return
	}

	// Includes may have changed
	s.mu.RLock()
	newIncludes := make(map[string]bool)
	for _, f := range s.includeFiles {
		newIncludes[f] = true
	}
	newRoot := s.rootFile
	s.mu.RUnlock()

	for file := range oldIncludes {
		if !newIncludes[file] {
			_ = watcher.Remove(file)
		}
	}

	// Re-add to catch re-created files
	for file := range newIncludes {
		if err := watcher.Add(file); err != nil {
			s.logger.Warn("failed to watch file", "file", file, "error", err)
		}
	}
	if err := watcher.Add(newRoot); err != nil {
		s.logger.Warn("failed to watch root file", "file", newRoot, "error", err)
	}

	s.logger.Info("scenario reloaded", "file", newRoot)
	s.broadcast("reload")
}

// handleSSE handles Server-Sent Events connections for real-time updates.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	clientChan := make(chan string, 10)

	s.sseMu.Lock()
	s.sseClients[clientChan] = struct{}{}
	s.sseMu.Unlock()

	defer func() {
		s.sseMu.Lock()
		delete(s.sseClients, clientChan)
		s.sseMu.Unlock()
	}()

	_, _ = fmt.Fprintf(w, "data: connected\n\n")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-clientChan:
			_, _ = fmt.Fprintf(w, "data: %s\n\n", event)
			flusher.Flush()
		}
	}
}

// broadcast sends an event to all connected SSE clients.
func (s *Server) broadcast(event string) {
	s.sseMu.Lock()
	defer s.sseMu.Unlock()

	for clientChan := range s.sseClients {
		select {
		case clientChan <- event:
		default:
			// Client buffer full, skip
		}
	}
}

// clientCount returns the number of connected SSE clients.
func (s *Server) clientCount() int {
	s.sseMu.Lock()
	defer s.sseMu.Unlock()
	return len(s.sseClients)
}
