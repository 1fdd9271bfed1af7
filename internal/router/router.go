// Package router writes the declarative per-project Traefik-style routing
// document the edge router consumes (C3). Grounded on tools/si's and
// agents/manager's shared use of gopkg.in/yaml.v3, and the
// write-then-atomic-rename idiom in agents/manager/cmd/manager/main.go's
// persistLocked.
package router

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"drydock/internal/store"
)

type Router struct {
	Rule        string       `yaml:"rule"`
	Service     string       `yaml:"service"`
	EntryPoints []string     `yaml:"entryPoints"`
	TLS         *RouterTLS   `yaml:"tls,omitempty"`
}

type RouterTLS struct {
	CertResolver string `yaml:"certResolver"`
}

type RedirectRegex struct {
	Regex       string `yaml:"regex"`
	Replacement string `yaml:"replacement"`
	Permanent   bool   `yaml:"permanent"`
}

type Middleware struct {
	RedirectRegex *RedirectRegex `yaml:"redirectRegex,omitempty"`
}

type HTTPConfig struct {
	Routers     map[string]Router     `yaml:"routers"`
	Services    map[string]struct{}   `yaml:"services"`
	Middlewares map[string]Middleware `yaml:"middlewares"`
}

type Document struct {
	HTTP HTTPConfig `yaml:"http"`
}

// Writer serializes writes per project behind a mutex (spec §5: "The
// router config file per project is serialized by per-project file lock").
type Writer struct {
	dir         string
	deployDomain string

	mu       sync.Mutex
	projectLocks map[string]*sync.Mutex
}

func NewWriter(dir, deployDomain string) *Writer {
	return &Writer{dir: dir, deployDomain: deployDomain, projectLocks: make(map[string]*sync.Mutex)}
}

func (w *Writer) lockFor(projectID string) *sync.Mutex {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.projectLocks[projectID]
	if !ok {
		l = &sync.Mutex{}
		w.projectLocks[projectID] = l
	}
	return l
}

func (w *Writer) path(projectID string) string {
	return filepath.Join(w.dir, fmt.Sprintf("project_%s.yml", projectID))
}

// Scheme decides the entrypoint/TLS shape for a router. https uses
// {web, websecure} plus an automatic cert resolver; http uses {web} alone.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"
)

func entryPointsAndTLS(scheme Scheme) ([]string, *RouterTLS) {
	if scheme == SchemeHTTPS {
		return []string{"web", "websecure"}, &RouterTLS{CertResolver: "default"}
	}
	return []string{"web"}, nil
}

// Write regenerates the routing document for a project from its current
// aliases and domains. If there is nothing to route, the file is removed
// (spec §4.3: "If the project has no aliases and no domains, the file is
// removed").
func (w *Writer) Write(project store.Project, aliases []store.Alias, domains []store.Domain, scheme Scheme) error {
	lock := w.lockFor(project.ID)
	lock.Lock()
	defer lock.Unlock()

	if len(aliases) == 0 && len(domains) == 0 {
		err := os.Remove(w.path(project.ID))
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove empty router config: %w", err)
		}
		return nil
	}

	doc := Document{HTTP: HTTPConfig{
		Routers:     make(map[string]Router),
		Services:    make(map[string]struct{}),
		Middlewares: make(map[string]Middleware),
	}}

	entryPoints, tls := entryPointsAndTLS(scheme)

	// environment-alias lookup, used by proxy-domain and redirect-domain
	// routers which resolve through the environment's current deployment.
	envAliasBySubdomain := make(map[string]store.Alias)
	for _, a := range aliases {
		if a.Type == store.AliasEnvironment {
			envAliasBySubdomain[a.EnvironmentID] = a
		}
	}

	for _, a := range aliases {
		doc.HTTP.Routers["router-alias-"+a.ID] = Router{
			Rule:        fmt.Sprintf("Host(`%s.%s`)", a.Subdomain, w.deployDomain),
			Service:     "deployment-" + a.DeploymentID,
			EntryPoints: entryPoints,
			TLS:         tls,
		}
	}

	for _, d := range domains {
		if d.Status != store.DomainActive {
			continue
		}
		switch d.Type {
		case store.DomainProxy:
			envAlias, ok := envAliasBySubdomain[d.EnvironmentID]
			if !ok {
				continue
			}
			doc.HTTP.Routers["router-domain-"+d.ID] = Router{
				Rule:        fmt.Sprintf("Host(`%s`)", d.Hostname),
				Service:     "deployment-" + envAlias.DeploymentID,
				EntryPoints: entryPoints,
				TLS:         tls,
			}
		case store.Domain301, store.Domain302, store.Domain307, store.Domain308:
			targetAlias, ok := envAliasBySubdomain[d.EnvironmentID]
			if !ok {
				continue
			}
			permanent := d.Type == store.Domain301 || d.Type == store.Domain308
			middlewareID := "redirect-" + d.ID
			doc.HTTP.Middlewares[middlewareID] = Middleware{RedirectRegex: &RedirectRegex{
				Regex:       fmt.Sprintf(`^https?://%s/(.*)`, d.Hostname),
				Replacement: fmt.Sprintf("https://%s.%s/$1", targetAlias.Subdomain, w.deployDomain),
				Permanent:   permanent,
			}}
			doc.HTTP.Routers["router-domain-"+d.ID] = Router{
				Rule:        fmt.Sprintf("Host(`%s`)", d.Hostname),
				Service:     "deployment-" + targetAlias.DeploymentID,
				EntryPoints: entryPoints,
				TLS:         tls,
			}
		}
	}

	out, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal router config: %w", err)
	}

	tmp := w.path(project.ID) + ".tmp"
	if err := os.WriteFile(tmp, out, 0o644); err != nil {
		return fmt.Errorf("write router config: %w", err)
	}
	if err := os.Rename(tmp, w.path(project.ID)); err != nil {
		return fmt.Errorf("replace router config: %w", err)
	}
	return nil
}
