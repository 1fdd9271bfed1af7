// Package api is drydock's HTTP front end: GitHub webhook ingress, the
// control endpoints for manually creating/canceling/rolling back
// deployments, and the C7 SSE mounts. Grounded on
// apps/ReleaseParty/backend/internal/api/server.go's Server-struct-plus-
// chi.Router shape and its handleGitHubWebhook dispatch-by-event-type
// pattern.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v66/github"

	"drydock/internal/deploy"
	"drydock/internal/deployerr"
	"drydock/internal/githubapp"
	"drydock/internal/sse"
	"drydock/internal/store"
)

type Server struct {
	GitHub *githubapp.App
	Store  *store.Store
	Deploy *deploy.Deploy
	SSE    *sse.Handler
	Log    *log.Logger
}

func New(app *githubapp.App, st *store.Store, d *deploy.Deploy, sseHandler *sse.Handler, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(log.Writer(), "drydock-api ", log.LstdFlags|log.LUTC)
	}
	return &Server{GitHub: app, Store: st, Deploy: d, SSE: sseHandler, Log: logger}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/install/url", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"url": s.GitHub.InstallURL()})
		})
		r.Post("/github/webhooks", s.handleGitHubWebhook)

		r.Route("/projects/{projectID}", func(r chi.Router) {
			r.Post("/deployments", s.handleCreateDeployment)
			r.Post("/environments/{environmentID}/rollback", s.handleRollback)
			r.Get("/events", s.handleProjectEvents)
			r.Get("/deployments/{deploymentID}/events", s.handleDeploymentEvents)
		})
		r.Post("/deployments/{deploymentID}/cancel", s.handleCancelDeployment)
	})

	return r
}

func (s *Server) handleGitHubWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := s.GitHub.VerifyWebhook(r)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}
	eventType := r.Header.Get("X-GitHub-Event")
	delivery := r.Header.Get("X-GitHub-Delivery")
	if delivery != "" {
		s.Log.Printf("webhook delivery=%s event=%s", delivery, eventType)
	}

	event, err := github.ParseWebHook(eventType, body)
	if err != nil {
		http.Error(w, "bad payload", http.StatusBadRequest)
		return
	}

	switch e := event.(type) {
	case *github.PushEvent:
		s.handlePushEvent(r, e)
	case *github.InstallationEvent:
		s.handleInstallationEvent(r, e)
	default:
		// installation_repositories and everything else: no action; webhook
		// events never create projects.
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handlePushEvent(r *http.Request, e *github.PushEvent) {
	repo := e.GetRepo()
	if repo == nil {
		return
	}
	project, err := s.Store.GetProjectByRepoRef(r.Context(), repo.GetFullName())
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.Log.Printf("push event: load project for %s: %v", repo.GetFullName(), err)
		}
		return
	}

	branch := strings.TrimPrefix(e.GetRef(), "refs/heads/")
	headCommit := e.GetHeadCommit()
	if headCommit == nil {
		return
	}
	commit := githubapp.Commit{
		SHA:     headCommit.GetID(),
		Message: headCommit.GetMessage(),
		Date:    headCommit.GetTimestamp().Time,
	}
	if author := headCommit.GetAuthor(); author != nil {
		commit.Author = author.GetLogin()
		if commit.Author == "" {
			commit.Author = author.GetName()
		}
	}

	if _, err := s.Deploy.Create(r.Context(), project, store.TriggerWebhook, branch, commit); err != nil {
		if !deployerr.Is(err, deployerr.ClassValidationFailed) {
			s.Log.Printf("push event: create deployment for %s@%s: %v", project.Slug, branch, err)
		}
	}
}

func (s *Server) handleInstallationEvent(r *http.Request, e *github.InstallationEvent) {
	action := strings.ToLower(e.GetAction())
	if action != "deleted" {
		return
	}
	// Installation revoked: nothing destructive happens automatically.
	// Projects tied to the installation keep their rows and their status;
	// their deploys fail at the clone step until the app is reinstalled.
	s.Log.Printf("installation %d deleted", e.GetInstallation().GetID())
}

type createDeploymentRequest struct {
	Branch string `json:"branch"`
	SHA    string `json:"sha"`
}

func (s *Server) handleCreateDeployment(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	project, err := s.Store.GetProject(r.Context(), projectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	var req createDeploymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Branch) == "" {
		http.Error(w, "branch is required", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.SHA) == "" {
		http.Error(w, "sha is required", http.StatusBadRequest)
		return
	}

	owner, repo := ownerName(project.RepoRef)
	commit, err := s.GitHub.RepositoryCommit(r.Context(), project.InstallationID, owner, repo, req.SHA)
	if err != nil {
		writeErr(w, err)
		return
	}

	dep, err := s.Deploy.Create(r.Context(), project, store.TriggerAPI, req.Branch, commit)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dep)
}

func ownerName(repoRef string) (owner, repo string) {
	parts := strings.SplitN(repoRef, "/", 2)
	if len(parts) != 2 {
		return "", repoRef
	}
	return parts[0], parts[1]
}

func (s *Server) handleCancelDeployment(w http.ResponseWriter, r *http.Request) {
	deploymentID := chi.URLParam(r, "deploymentID")
	if err := s.Deploy.Cancel(r.Context(), deploymentID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	environmentID := chi.URLParam(r, "environmentID")
	project, err := s.Store.GetProject(r.Context(), projectID)
	if err != nil {
		writeErr(w, err)
		return
	}
	if err := s.Deploy.Rollback(r.Context(), project, environmentID); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	s.SSE.ProjectEvents(w, r, projectID)
}

func (s *Server) handleDeploymentEvents(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "projectID")
	deploymentID := chi.URLParam(r, "deploymentID")
	startTimestamp := r.URL.Query().Get("start_timestamp")
	s.SSE.DeploymentEvents(w, r, projectID, deploymentID, startTimestamp)
}

// writeErr maps a deployerr.Error to its HTTP status hint, store.ErrNotFound
// to 404, and anything else to 500.
func writeErr(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	var de *deployerr.Error
	if errors.As(err, &de) {
		http.Error(w, err.Error(), de.HTTPStatus())
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
