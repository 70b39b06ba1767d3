package web

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/robinvdvleuten/flowcast/errors"
	"github.com/robinvdvleuten/flowcast/graph"
	"github.com/robinvdvleuten/flowcast/simulation"
)

// MaxHorizonYears bounds projections requested over HTTP.
const MaxHorizonYears = 200

type ScenarioResponse struct {
	Name     string              `json:"name"`
	Files    FilesResponse       `json:"files"`
	Nodes    []simulation.Node   `json:"nodes"`
	Rules    []simulation.Rule   `json:"rules"`
	Settings simulation.Settings `json:"settings"`
	Issues   []errors.ErrorJSON  `json:"issues"`
}

type GraphResponse struct {
	Stats       graph.Stats  `json:"stats"`
	Edges       []graph.Edge `json:"edges"`
	Cycles      [][]string   `json:"cycles"`
	Unreachable []string     `json:"unreachable"`
}

// SimulateRequest is a snapshot posted by the editor.
type SimulateRequest struct {
	Nodes    []simulation.Node   `json:"nodes"`
	Rules    []simulation.Rule   `json:"rules"`
	Settings simulation.Settings `json:"settings"`
}

type ValidateResponse struct {
	Valid  bool               `json:"valid"`
	Issues []errors.ErrorJSON `json:"issues"`
}

func (s *Server) handleGetVersion(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, map[string]string{
		"version":   s.Version,
		"commitSHA": s.CommitSHA,
	})
}

// handleGetScenario returns the loaded scenario as engine input together
// with its validation issues.
func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sc := s.scenario
	includes := make([]string, len(s.includeFiles))
	copy(includes, s.includeFiles)
	issues := s.issues
	root := s.rootFile
	s.mu.RUnlock()

	if sc == nil {
		http.Error(w, "No scenario loaded", http.StatusServiceUnavailable)
		return
	}

	nodes, rules := sc.Snapshot()
	writeJSONResponse(w, &ScenarioResponse{
		Name:     sc.Name,
		Files:    FilesResponse{Root: root, Includes: includes},
		Nodes:    nodes,
		Rules:    rules,
		Settings: sc.Settings(),
		Issues:   errors.NewJSONFormatter().FormatAllToSlice(issues),
	})
}

// handleGetGraph returns the allocation edges the engine will follow, the
// loops among them and the nodes no income can reach.
func (s *Server) handleGetGraph(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sc := s.scenario
	s.mu.RUnlock()

	if sc == nil {
		http.Error(w, "No scenario loaded", http.StatusServiceUnavailable)
		return
	}

	g := graph.New(sc.Snapshot())

	edges := []graph.Edge{}
	for _, n := range g.Nodes() {
		for _, e := range g.GetOutgoingEdges(n.ID) {
			edges = append(edges, *e)
		}
	}

	reachable := make(map[string]bool)
	for _, id := range g.Reachable(g.Sources()...) {
		reachable[id] = true
	}
	unreachable := []string{}
	for _, n := range g.Nodes() {
		if !reachable[n.ID] && n.Kind != simulation.KindIncome {
			unreachable = append(unreachable, n.ID)
		}
	}

	cycles := g.Cycles()
	if cycles == nil {
		cycles = [][]string{}
	}

	writeJSONResponse(w, &GraphResponse{
		Stats:       g.GetStats(),
		Edges:       edges,
		Cycles:      cycles,
		Unreachable: unreachable,
	})
}

// handleGetProjection simulates the loaded scenario. The years query
// parameter overrides the scenario's horizon.
func (s *Server) handleGetProjection(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	sc := s.scenario
	s.mu.RUnlock()

	if sc == nil {
		http.Error(w, "No scenario loaded", http.StatusServiceUnavailable)
		return
	}

	settings := sc.Settings()
	if q := r.URL.Query().Get("years"); q != "" {
		years, err := strconv.ParseFloat(q, 64)
		if err != nil || !validHorizon(years) {
			http.Error(w, "Invalid years parameter", http.StatusBadRequest)
			return
		}
		settings.HorizonYears = years
	}

	nodes, rules := sc.Snapshot()
	writeJSONResponse(w, s.simulator.Run(r.Context(), nodes, rules, settings))
}

// handleSimulate runs an ad-hoc projection of a posted snapshot. Nothing is
// validated beyond the horizon; malformed graphs are simulated the same way
// the engine always treats them.
func (s *Server) handleSimulate(w http.ResponseWriter, r *http.Request) {
	var request SimulateRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if request.Settings.HorizonYears > MaxHorizonYears {
		http.Error(w, "Horizon too long", http.StatusBadRequest)
		return
	}

	writeJSONResponse(w, s.simulator.Run(r.Context(), request.Nodes, request.Rules, request.Settings))
}

// handleValidate reports the issues of a posted snapshot.
func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	var request SimulateRequest

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	issues := validationIssues(graph.Validate(request.Nodes, request.Rules))

	valid := true
	for _, err := range issues {
		if issue, ok := err.(graph.Issue); !ok || issue.Severity() == graph.SeverityError {
			valid = false
		}
	}

	writeJSONResponse(w, &ValidateResponse{
		Valid:  valid,
		Issues: errors.NewJSONFormatter().FormatAllToSlice(issues),
	})
}

func validHorizon(years float64) bool {
	return !math.IsNaN(years) && !math.IsInf(years, 0) && years > 0 && years <= MaxHorizonYears
}
