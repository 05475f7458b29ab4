package handlers

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/codealloy/alloy-api/internal/models"
	"github.com/codealloy/alloy-api/internal/workspace"
)

const maxWebhookBody = 1 << 20 // 1 MB

// WebhookHandler turns GitHub push and pull_request events into REFACTOR
// jobs with default verification and safe mode. Authentication is the
// webhook's own HMAC signature, not the API's bearer token.
type WebhookHandler struct {
	secret    []byte
	creator   *TransformationHandler
	workspace workspace.Manager
	logger    zerolog.Logger
}

func NewWebhookHandler(secret string, creator *TransformationHandler, ws workspace.Manager, logger zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{
		secret:    []byte(secret),
		creator:   creator,
		workspace: ws,
		logger:    logger.With().Str("component", "webhook").Logger(),
	}
}

type webhookRepository struct {
	FullName string `json:"full_name"`
	CloneURL string `json:"clone_url"`
}

type pushPayload struct {
	Ref        string            `json:"ref"`
	Repository webhookRepository `json:"repository"`
	Commits    []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
	} `json:"commits"`
}

type pullRequestPayload struct {
	Action     string            `json:"action"`
	Repository webhookRepository `json:"repository"`
	PullRequest struct {
		Head struct {
			Ref string `json:"ref"`
		} `json:"head"`
	} `json:"pull_request"`
}

func (h *WebhookHandler) GitHub(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Failed to read payload", http.StatusBadRequest)
		return
	}
	if !h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")) {
		h.logger.Warn().Msg("Webhook signature verification failed")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	event := r.Header.Get("X-GitHub-Event")
	switch event {
	case "ping":
		writeMessage(w, http.StatusOK, "pong")
	case "push":
		h.handlePush(w, r, body)
	case "pull_request":
		h.handlePullRequest(w, r, body)
	default:
		writeMessage(w, http.StatusOK, "Ignoring event: "+event)
	}
}

func (h *WebhookHandler) verifySignature(body []byte, header string) bool {
	if len(h.secret) == 0 || header == "" {
		return false
	}
	parts := strings.SplitN(header, "=", 2)
	if len(parts) != 2 || parts[0] != "sha256" {
		return false
	}
	mac := hmac.New(sha256.New, h.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(parts[1]))
}

func (h *WebhookHandler) handlePush(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload pushPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	branch := strings.TrimPrefix(payload.Ref, "refs/heads/")
	if payload.Repository.CloneURL == "" || branch == "" {
		http.Error(w, "Missing repository URL or branch", http.StatusBadRequest)
		return
	}

	seen := make(map[string]bool)
	var files []string
	for _, commit := range payload.Commits {
		for _, path := range append(commit.Added, commit.Modified...) {
			if seen[path] || workspace.DetectLanguage(path) == "" {
				continue
			}
			seen[path] = true
			files = append(files, path)
		}
	}
	if len(files) == 0 {
		writeMessage(w, http.StatusOK, "No supported files changed")
		return
	}

	h.createFromWebhook(w, r, payload.Repository, branch, files)
}

// handlePullRequest reacts to opened and synchronized pull requests. The
// payload carries no file list, so the head branch is scanned for supported
// files the way the manual scan endpoint does.
func (h *WebhookHandler) handlePullRequest(w http.ResponseWriter, r *http.Request, body []byte) {
	var payload pullRequestPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "Invalid payload", http.StatusBadRequest)
		return
	}
	if payload.Action != "opened" && payload.Action != "synchronize" {
		writeMessage(w, http.StatusOK, "Ignoring pull request action: "+payload.Action)
		return
	}
	branch := payload.PullRequest.Head.Ref
	if payload.Repository.CloneURL == "" || branch == "" {
		http.Error(w, "Missing repository URL or branch", http.StatusBadRequest)
		return
	}

	repoID := repoIDFromFullName(payload.Repository.FullName)
	clonePath, err := h.workspace.CloneOrUpdate(r.Context(), payload.Repository.CloneURL, repoID, branch)
	if err != nil {
		h.logger.Error().Err(err).Str("repo_id", repoID).Msg("Failed to prepare repository for pull request scan")
		http.Error(w, "Failed to prepare repository", http.StatusBadGateway)
		return
	}
	candidates, err := h.workspace.ListFiles(clonePath, workspace.ListOptions{MaxKB: models.DefaultMaxFileSizeKB})
	if err != nil {
		h.logger.Error().Err(err).Str("repo_id", repoID).Msg("Failed to scan repository for pull request")
		http.Error(w, "Failed to scan repository", http.StatusInternalServerError)
		return
	}
	if len(candidates) == 0 {
		writeMessage(w, http.StatusOK, "No supported files found")
		return
	}
	files := make([]string, 0, len(candidates))
	for _, c := range candidates {
		files = append(files, c.Path)
	}

	h.createFromWebhook(w, r, payload.Repository, branch, files)
}

func (h *WebhookHandler) createFromWebhook(w http.ResponseWriter, r *http.Request, repo webhookRepository, branch string, files []string) {
	req := models.TransformationRequest{
		RepoID:    repoIDFromFullName(repo.FullName),
		RepoURL:   repo.CloneURL,
		Branch:    branch,
		Type:      string(models.TransformRefactor),
		FilePaths: files,
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.creator.createJob(r.Context(), req)
	if err != nil {
		h.logger.Error().Err(err).Str("repo_id", req.RepoID).Msg("Failed to create job from webhook")
		http.Error(w, "Failed to create transformation job", http.StatusInternalServerError)
		return
	}
	h.logger.Info().Str("job_id", job.ID).Str("repo_id", req.RepoID).Int("files", len(files)).Msg("Webhook created transformation job")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func repoIDFromFullName(fullName string) string {
	return strings.ReplaceAll(fullName, "/", "-")
}

func writeMessage(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}
