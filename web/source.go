package web

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/robinvdvleuten/flowcast/errors"
	"github.com/robinvdvleuten/flowcast/scenario"
)

// maxBodyBytes caps request bodies for source writes and posted snapshots.
const maxBodyBytes = 10 << 20

// writeJSONResponse writes a JSON response to the http.ResponseWriter.
// If encoding fails, it writes an error response.
func writeJSONResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}

// writeJSONStatus writes a JSON response with a non-200 status code.
func writeJSONStatus(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type FilesResponse struct {
	Root     string   `json:"root"`
	Includes []string `json:"includes"`
}

type SourceResponse struct {
	Filepath string             `json:"filepath"`
	Source   string             `json:"source"`
	Files    FilesResponse      `json:"files"`
	Issues   []errors.ErrorJSON `json:"issues"`
}

// resolveFilepathFromString resolves a filepath string to an absolute path.
// If the path is empty, returns the server's root scenario file.
// Only the root file and its includes are accessible.
func (s *Server) resolveFilepathFromString(path string) (string, error) {
	s.mu.RLock()
	root := s.rootFile
	s.mu.RUnlock()

	if path == "" {
		if root == "" {
			return "", fmt.Errorf("no filepath provided and no scenario loaded")
		}
		return root, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("invalid filepath: %w", err)
	}

	if err := s.validateFilepath(absPath); err != nil {
		return "", err
	}

	return absPath, nil
}

// validateFilepath ensures the path is one of the loaded scenario files.
// Symlinks are resolved on both sides so a link to an allowed file is
// accepted and a link out of the allowlist is not.
func (s *Server) validateFilepath(path string) error {
	resolvedPath := canonicalPath(path)

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, allowed := range append([]string{s.rootFile}, s.includeFiles...) {
		if allowed != "" && canonicalPath(allowed) == resolvedPath {
			return nil
		}
	}

	return fmt.Errorf("access denied: %s is not part of the loaded scenario", filepath.Base(path))
}

// canonicalPath resolves symlinks, falling back to the cleaned path for
// files that do not exist.
func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}

// buildResponse creates a SourceResponse from the current scenario state.
// Must be called with s.mu held for reading.
func (s *Server) buildResponse(filename string, source []byte) *SourceResponse {
	includes := make([]string, len(s.includeFiles))
	copy(includes, s.includeFiles)

	return &SourceResponse{
		Filepath: filename,
		Source:   string(source),
		Files: FilesResponse{
			Root:     s.rootFile,
			Includes: includes,
		},
		Issues: errors.NewJSONFormatter().FormatAllToSlice(s.issues),
	}
}

// handleGetSource handles GET requests to /api/source.
// Returns the file content and validation issues as JSON.
func (s *Server) handleGetSource(w http.ResponseWriter, r *http.Request) {
	filename, err := s.resolveFilepath(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	content, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "File not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	s.mu.RLock()
	response := s.buildResponse(filename, content)
	s.mu.RUnlock()

	writeJSONResponse(w, response)
}

// resolveFilepath extracts the filepath from the request query parameters.
func (s *Server) resolveFilepath(r *http.Request) (string, error) {
	return s.resolveFilepathFromString(r.URL.Query().Get("filepath"))
}

// handlePutSource handles PUT requests to /api/source.
// The content must parse before it is written; a file that does not parse
// is rejected with 422 and the parse error, leaving the file untouched.
func (s *Server) handlePutSource(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Filepath string `json:"filepath"`
		Source   string `json:"source"`
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	filename, err := s.resolveFilepathFromString(request.Filepath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if _, err := scenario.New().LoadBytes(r.Context(), filename, []byte(request.Source)); err != nil {
		var parseErr *scenario.ParseError
		if !stderrors.As(err, &parseErr) {
			http.Error(w, "Failed to parse source", http.StatusInternalServerError)
			return
		}
		writeJSONStatus(w, http.StatusUnprocessableEntity, map[string]any{
			"filepath": filename,
			"errors":   errors.NewJSONFormatter().FormatAllToSlice([]error{err}),
		})
		return
	}

	// Write file first (outside lock)
	if err := os.WriteFile(filename, []byte(request.Source), 0600); err != nil {
		http.Error(w, "Failed to write file", http.StatusInternalServerError)
		return
	}

	if err := s.reloadScenario(r.Context()); err != nil {
		s.logger.Error("failed to reload scenario", "file", filename, "error", err)
		http.Error(w, "Failed to reload scenario", http.StatusInternalServerError)
		return
	}

	s.mu.RLock()
	response := s.buildResponse(filename, []byte(request.Source))
	s.mu.RUnlock()

	writeJSONResponse(w, response)
}
