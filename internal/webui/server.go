// Package webui serves a minimal read-only browser over completed
// profiler runs: it lists the runs found under a data directory,
// renders each run's locality graph (nodes and weighted edges) as JSON,
// and serves its contexts.txt listing as plain text, for quick
// inspection without going through the CLI.
package webui

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/affinityprof/haloprof/pkg/model"
	"github.com/affinityprof/haloprof/pkg/reportwriter"
	"github.com/affinityprof/haloprof/pkg/utils"
)

// Server serves run summaries and locality graphs out of a directory
// where each subdirectory is named after a run's UUID and holds that
// run's emitted TGF graph and contexts.txt.
type Server struct {
	dataDir string
	port    int
	logger  utils.Logger
	server  *http.Server
}

// NewServer creates a new web UI server.
func NewServer(dataDir string, port int, logger utils.Logger) *Server {
	return &Server{
		dataDir: dataDir,
		port:    port,
		logger:  logger,
	}
}

// Start starts the web server.
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/runs", s.handleListRuns)
	mux.HandleFunc("/api/graph", s.handleGraph)
	mux.HandleFunc("/api/contexts", s.handleContexts)
	mux.HandleFunc("/", s.handleIndex)

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.logger.Info("Starting web server at http://localhost:%d", s.port)
	s.logger.Info("Serving data from: %s", s.dataDir)
	s.logger.Info("Press Ctrl+C to stop")

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// runInfo describes one run directory found under dataDir.
type runInfo struct {
	UUID      string `json:"uuid"`
	CreatedAt string `json:"created_at"`
	HasGraph  bool   `json:"has_graph"`
}

// handleIndex serves a plain HTML page listing known runs and links to
// their graph/contexts JSON. There is no templates/static directory
// shipped with this service, so the page is rendered inline rather than
// through html/template and an embedded asset tree.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	runs := s.listRuns()

	var b strings.Builder
	b.WriteString("<!doctype html><html><head><title>haloprof runs</title></head><body>")
	b.WriteString("<h1>profiler runs</h1><ul>")
	for _, run := range runs {
		fmt.Fprintf(&b, "<li><a href=\"/api/graph?run=%s\">%s</a> (%s)", run.UUID, run.UUID, run.CreatedAt)
		if run.HasGraph {
			fmt.Fprintf(&b, " &middot; <a href=\"/api/contexts?run=%s\">contexts</a>", run.UUID)
		}
		b.WriteString("</li>")
	}
	b.WriteString("</ul></body></html>")

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, b.String())
}

// handleListRuns lists all run directories under dataDir.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs := s.listRuns()

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(runs)
}

// listRuns reads dataDir and returns one runInfo per subdirectory,
// newest first.
func (s *Server) listRuns() []runInfo {
	entries, err := os.ReadDir(s.dataDir)
	if err != nil {
		return nil
	}

	var runs []runInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		info, _ := entry.Info()
		createdAt := ""
		if info != nil {
			createdAt = info.ModTime().Format(time.RFC3339)
		}

		_, graphErr := s.findGraphFile(entry.Name())
		runs = append(runs, runInfo{
			UUID:      entry.Name(),
			CreatedAt: createdAt,
			HasGraph:  graphErr == nil,
		})
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].CreatedAt > runs[j].CreatedAt
	})

	return runs
}

// getDefaultRun returns the most recently modified run directory.
func (s *Server) getDefaultRun() string {
	runs := s.listRuns()
	if len(runs) == 0 {
		return ""
	}
	return runs[0].UUID
}

// findGraphFile locates a run's emitted TGF file: a file named
// graph.tgf, or failing that the first *.tgf file in the run directory.
func (s *Server) findGraphFile(runUUID string) (string, error) {
	runDir := filepath.Join(s.dataDir, runUUID)

	preferred := filepath.Join(runDir, "graph.tgf")
	if _, err := os.Stat(preferred); err == nil {
		return preferred, nil
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		return "", fmt.Errorf("webui: run directory %s not found: %w", runUUID, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".tgf") {
			return filepath.Join(runDir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("webui: no .tgf file found for run %s", runUUID)
}

// findContextsFile locates a run's contexts.txt listing.
func (s *Server) findContextsFile(runUUID string) (string, error) {
	runDir := filepath.Join(s.dataDir, runUUID)

	preferred := filepath.Join(runDir, "contexts.txt")
	if _, err := os.Stat(preferred); err == nil {
		return preferred, nil
	}

	entries, err := os.ReadDir(runDir)
	if err != nil {
		return "", fmt.Errorf("webui: run directory %s not found: %w", runUUID, err)
	}
	for _, entry := range entries {
		if !entry.IsDir() && strings.Contains(entry.Name(), "contexts") {
			return filepath.Join(runDir, entry.Name()), nil
		}
	}

	return "", fmt.Errorf("webui: no contexts file found for run %s", runUUID)
}

// graphResponse is the JSON shape handleGraph renders a run's locality
// graph as.
type graphResponse struct {
	RunUUID string           `json:"run_uuid"`
	Nodes   []model.TGFNode  `json:"nodes"`
	Edges   []model.TGFEdge  `json:"edges"`
}

// handleGraph parses a run's TGF locality graph and returns it as JSON.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	runUUID := r.URL.Query().Get("run")
	if runUUID == "" {
		runUUID = s.getDefaultRun()
	}
	if runUUID == "" {
		http.Error(w, "no runs available", http.StatusNotFound)
		return
	}

	graphFile, err := s.findGraphFile(runUUID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	file, err := os.Open(graphFile)
	if err != nil {
		http.Error(w, "failed to open graph file", http.StatusInternalServerError)
		return
	}
	defer file.Close()

	nodes, edges, err := reportwriter.ParseTGF(file)
	if err != nil {
		s.logger.Error("Failed to parse TGF for run %s: %v", runUUID, err)
		http.Error(w, "failed to parse graph file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	json.NewEncoder(w).Encode(graphResponse{RunUUID: runUUID, Nodes: nodes, Edges: edges})
}

// handleContexts serves a run's contexts.txt call-stack listing verbatim.
func (s *Server) handleContexts(w http.ResponseWriter, r *http.Request) {
	runUUID := r.URL.Query().Get("run")
	if runUUID == "" {
		runUUID = s.getDefaultRun()
	}
	if runUUID == "" {
		http.Error(w, "no runs available", http.StatusNotFound)
		return
	}

	contextsFile, err := s.findContextsFile(runUUID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	data, err := os.ReadFile(contextsFile)
	if err != nil {
		http.Error(w, "failed to read contexts file", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Write(data)
}
