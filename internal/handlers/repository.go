package handlers

import (
	"encoding/json"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/clients"
	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/workspace"
)

// RepositoryHandler exposes the repository scan endpoint: clone or update a
// repository and list the files eligible for transformation. When the
// analyzer integration is configured, its candidate ranking reorders the
// listing.
type RepositoryHandler struct {
	workspace workspace.Manager
	analyzer  *clients.AnalyzerClient
	logger    zerolog.Logger
}

func NewRepositoryHandler(ws workspace.Manager, analyzer *clients.AnalyzerClient, logger zerolog.Logger) *RepositoryHandler {
	return &RepositoryHandler{
		workspace: ws,
		analyzer:  analyzer,
		logger:    logger.With().Str("component", "repository_handler").Logger(),
	}
}

type scanRequest struct {
	RepoID        string   `json:"repo_id"`
	RepoURL       string   `json:"repo_url"`
	Branch        string   `json:"branch"`
	Languages     []string `json:"languages"`
	MaxFileSizeKB int      `json:"max_file_size_kb"`
}

func (h *RepositoryHandler) Scan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.RepoID) == "" || strings.TrimSpace(req.RepoURL) == "" {
		http.Error(w, "repo_id and repo_url are required", http.StatusBadRequest)
		return
	}
	if req.Branch == "" {
		req.Branch = models.DefaultBranch
	}
	if req.MaxFileSizeKB <= 0 {
		req.MaxFileSizeKB = models.DefaultMaxFileSizeKB
	}

	clonePath, err := h.workspace.CloneOrUpdate(r.Context(), req.RepoURL, req.RepoID, req.Branch)
	if err != nil {
		h.logger.Error().Err(err).Str("repo_id", req.RepoID).Msg("Failed to prepare repository")
		http.Error(w, "Failed to prepare repository: "+err.Error(), http.StatusBadGateway)
		return
	}

	files, err := h.workspace.ListFiles(clonePath, workspace.ListOptions{
		Languages: req.Languages,
		MaxKB:     req.MaxFileSizeKB,
	})
	if err != nil {
		h.logger.Error().Err(err).Str("repo_id", req.RepoID).Msg("Failed to list repository files")
		http.Error(w, "Failed to list repository files", http.StatusInternalServerError)
		return
	}

	files = h.rankCandidates(r, req.RepoID, files)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"repo_id": req.RepoID,
		"branch":  req.Branch,
		"files":   files,
		"count":   len(files),
	})
}

// rankCandidates moves analyzer-ranked files to the front, best first. The
// scan degrades to plain listing when the analyzer is absent or failing.
func (h *RepositoryHandler) rankCandidates(r *http.Request, repoID string, files []workspace.FileInfo) []workspace.FileInfo {
	if h.analyzer == nil || len(files) == 0 {
		return files
	}
	candidates, err := h.analyzer.TransformationCandidates(r.Context(), repoID, len(files))
	if err != nil {
		h.logger.Warn().Err(err).Str("repo_id", repoID).Msg("Analyzer ranking unavailable; returning unranked files")
		return files
	}

	rank := make(map[string]int, len(candidates))
	for i, c := range candidates {
		rank[c.Path] = i
	}
	ranked := make([]workspace.FileInfo, 0, len(files))
	rest := make([]workspace.FileInfo, 0, len(files))
	for _, f := range files {
		if _, ok := rank[f.Path]; ok {
			ranked = append(ranked, f)
		} else {
			rest = append(rest, f)
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		return rank[ranked[i].Path] < rank[ranked[j].Path]
	})
	return append(ranked, rest...)
}
