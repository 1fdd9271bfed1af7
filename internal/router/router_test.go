package router

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"drydock/internal/store"
)

func TestWriteEmitsRouterPerAlias(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "apps.example.com")

	project := store.Project{ID: "proj1"}
	aliases := []store.Alias{
		{ID: "a1", Subdomain: "blog", DeploymentID: "d1", Type: store.AliasEnvironment, EnvironmentID: "prod"},
	}

	if err := w.Write(project, aliases, nil, SchemeHTTPS); err != nil {
		t.Fatalf("Write: %v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "project_proj1.yml"))
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal config: %v", err)
	}
	r, ok := doc.HTTP.Routers["router-alias-a1"]
	if !ok {
		t.Fatalf("expected router-alias-a1, got %+v", doc.HTTP.Routers)
	}
	if r.Rule != "Host(`blog.apps.example.com`)" {
		t.Fatalf("unexpected rule: %q", r.Rule)
	}
	if r.Service != "deployment-d1" {
		t.Fatalf("unexpected service: %q", r.Service)
	}
	if r.TLS == nil {
		t.Fatalf("expected TLS block for https scheme")
	}
}

func TestWriteRemovesFileWhenNothingToRoute(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "apps.example.com")
	project := store.Project{ID: "proj2"}

	if err := w.Write(project, []store.Alias{{ID: "a1", Subdomain: "x", DeploymentID: "d1"}}, nil, SchemeHTTP); err != nil {
		t.Fatalf("Write: %v", err)
	}
	path := filepath.Join(dir, "project_proj2.yml")
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected config to exist: %v", err)
	}

	if err := w.Write(project, nil, nil, SchemeHTTP); err != nil {
		t.Fatalf("Write (empty): %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected config file to be removed, stat err = %v", err)
	}
}

func TestWriteRedirectDomain(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, "apps.example.com")
	project := store.Project{ID: "proj3"}
	aliases := []store.Alias{
		{ID: "a1", Subdomain: "blog", DeploymentID: "d1", Type: store.AliasEnvironment, EnvironmentID: "prod"},
	}
	domains := []store.Domain{
		{ID: "dom1", Hostname: "blog.com", Type: store.Domain301, EnvironmentID: "prod", Status: store.DomainActive},
	}
	if err := w.Write(project, aliases, domains, SchemeHTTPS); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, _ := os.ReadFile(filepath.Join(dir, "project_proj3.yml"))
	var doc Document
	if err := yaml.Unmarshal(b, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	mw, ok := doc.HTTP.Middlewares["redirect-dom1"]
	if !ok || mw.RedirectRegex == nil {
		t.Fatalf("expected redirect middleware, got %+v", doc.HTTP.Middlewares)
	}
	if !mw.RedirectRegex.Permanent {
		t.Fatalf("expected 301 to be permanent")
	}
	if mw.RedirectRegex.Replacement != "https://blog.apps.example.com/$1" {
		t.Fatalf("unexpected replacement: %q", mw.RedirectRegex.Replacement)
	}
}
