package server

import (
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
	"libraryhub/pkg/domain"
)

const openAPIPath = "../../api/openapi.yaml"

type docOperation struct {
	OperationID string `yaml:"operationId"`
	Admin       bool   `yaml:"x-admin"`
}

type docPath struct {
	Get    *docOperation `yaml:"get"`
	Post   *docOperation `yaml:"post"`
	Put    *docOperation `yaml:"put"`
	Delete *docOperation `yaml:"delete"`
}

// documentedRoutes maps "METHOD /path" to its operation.
func documentedRoutes(t *testing.T) map[string]docOperation {
	t.Helper()
	raw, err := os.ReadFile(openAPIPath)
	if err != nil {
		t.Fatalf("read openapi: %v", err)
	}
	var doc struct {
		Paths map[string]docPath `yaml:"paths"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("parse openapi: %v", err)
	}
	out := map[string]docOperation{}
	for path, item := range doc.Paths {
		for method, op := range map[string]*docOperation{
			http.MethodGet: item.Get, http.MethodPost: item.Post, http.MethodPut: item.Put, http.MethodDelete: item.Delete,
		} {
			if op != nil {
				out[method+" "+path] = *op
			}
		}
	}
	return out
}

func registeredRoutes(t *testing.T, s *Server) map[string]bool {
	t.Helper()
	out := map[string]bool{}
	err := chi.Walk(s.router, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.ReplaceAll(route, "/*/", "/")
		if len(route) > 1 {
			route = strings.TrimSuffix(route, "/")
		}
		out[method+" "+route] = true
		return nil
	})
	if err != nil {
		t.Fatalf("walk routes: %v", err)
	}
	return out
}

func TestRoutesMatchOpenAPI(t *testing.T) {
	env := newTestEnv(t, nil)
	documented := documentedRoutes(t)
	registered := registeredRoutes(t, env.server)

	var undocumented, unrouted []string
	for route := range registered {
		if _, ok := documented[route]; !ok {
			undocumented = append(undocumented, route)
		}
	}
	for route := range documented {
		if !registered[route] {
			unrouted = append(unrouted, route)
		}
	}
	sort.Strings(undocumented)
	sort.Strings(unrouted)
	if len(undocumented) > 0 || len(unrouted) > 0 {
		t.Fatalf("openapi drift\nregistered but undocumented: %v\ndocumented but not registered: %v", undocumented, unrouted)
	}
}

var pathParam = regexp.MustCompile(`\{[^}]+\}`)

func TestAdminOperationsRejectMembers(t *testing.T) {
	env := newTestEnv(t, nil)
	_, token := env.login(t, "member@example.com", domain.RoleStudent)

	checked := 0
	for route, op := range documentedRoutes(t) {
		if !op.Admin {
			continue
		}
		method, path, _ := strings.Cut(route, " ")
		resp, body := env.do(t, method, pathParam.ReplaceAllString(path, "1"), token, "")
		if resp.StatusCode != http.StatusForbidden || body["code"] != "forbidden" {
			t.Fatalf("%s (%s) as member = %d %v, want 403", route, op.OperationID, resp.StatusCode, body)
		}
		checked++
	}
	if checked == 0 {
		t.Fatalf("no admin operations documented")
	}
}
