package main

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	Paths      map[string]pathItem `yaml:"paths"`
	Components struct {
		Schemas    map[string]schema    `yaml:"schemas"`
		Parameters map[string]parameter `yaml:"parameters"`
		Responses  map[string]response  `yaml:"responses"`
	} `yaml:"components"`
}

type pathItem struct {
	Parameters []parameter `yaml:"parameters"`
	Get        *operation  `yaml:"get"`
	Post       *operation  `yaml:"post"`
	Put        *operation  `yaml:"put"`
	Delete     *operation  `yaml:"delete"`
}

func (p pathItem) operations() map[string]*operation {
	out := map[string]*operation{}
	for method, op := range map[string]*operation{"GET": p.Get, "POST": p.Post, "PUT": p.Put, "DELETE": p.Delete} {
		if op != nil {
			out[method] = op
		}
	}
	return out
}

type operation struct {
	OperationID string              `yaml:"operationId"`
	Parameters  []parameter         `yaml:"parameters"`
	Responses   map[string]response `yaml:"responses"`
	Admin       bool                `yaml:"x-admin"`
}

type parameter struct {
	Ref  string `yaml:"$ref"`
	Name string `yaml:"name"`
	In   string `yaml:"in"`
}

type response struct {
	Ref         string `yaml:"$ref"`
	Description string `yaml:"description"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

const errorResponseRef = "#/components/responses/Error"

var pathParamPattern = regexp.MustCompile(`\{([^}]+)\}`)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}

	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if errs := checkDoc(doc); len(errs) > 0 {
		exitErr(errors.Join(errs...))
	}
	fmt.Println("OpenAPI consistency check passed.")
}

func loadDoc(path string) (openAPIDoc, error) {
	var doc openAPIDoc
	raw, err := os.ReadFile(path)
	if err != nil {
		return doc, fmt.Errorf("read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return doc, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// checkDoc returns every violation found, in path order.
func checkDoc(doc openAPIDoc) []error {
	var errs []error
	if s, err := getSchema(doc, "ErrorResponse"); err != nil {
		errs = append(errs, err)
	} else if err := validateErrorResponse(s); err != nil {
		errs = append(errs, err)
	}
	if s, err := getSchema(doc, "ListResponse"); err != nil {
		errs = append(errs, err)
	} else if err := validateListResponse(s); err != nil {
		errs = append(errs, err)
	}
	if _, ok := doc.Components.Responses["Error"]; !ok {
		errs = append(errs, errors.New("components.responses.Error missing"))
	}

	if len(doc.Paths) == 0 {
		return append(errs, errors.New("paths missing"))
	}
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	seenIDs := map[string]string{}
	for _, path := range paths {
		item := doc.Paths[path]
		if !strings.HasPrefix(path, "/api/") {
			errs = append(errs, fmt.Errorf("%s: paths must live under /api/", path))
		}
		ops := item.operations()
		if len(ops) == 0 {
			errs = append(errs, fmt.Errorf("%s: no operations", path))
		}
		for method, op := range ops {
			where := method + " " + path
			if op.OperationID == "" {
				errs = append(errs, fmt.Errorf("%s: operationId missing", where))
			} else if prev, dup := seenIDs[op.OperationID]; dup {
				errs = append(errs, fmt.Errorf("%s: operationId %q already used by %s", where, op.OperationID, prev))
			} else {
				seenIDs[op.OperationID] = where
			}
			if err := validatePathParams(doc, path, item.Parameters, op.Parameters); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
			if err := validateResponses(op); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", where, err))
			}
		}
	}
	return errs
}

func getSchema(doc openAPIDoc, name string) (schema, error) {
	if doc.Components.Schemas == nil {
		return schema{}, errors.New("components.schemas missing")
	}
	s, ok := doc.Components.Schemas[name]
	if !ok {
		return schema{}, fmt.Errorf("schema %q missing", name)
	}
	return s, nil
}

// validateErrorResponse pins the error body shape written by the server.
func validateErrorResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ErrorResponse must be object")
	}
	required := makeSet(s.Required)
	for _, field := range []string{"error", "code"} {
		if !required[field] {
			return fmt.Errorf("ErrorResponse.required must include %q", field)
		}
	}
	for _, field := range []string{"error", "code", "requestId"} {
		prop, ok := s.Properties[field]
		if !ok || prop.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	if len(s.Properties) != 3 {
		return fmt.Errorf("ErrorResponse must have exactly error, code and requestId, got %d properties", len(s.Properties))
	}
	return nil
}

func validateListResponse(s schema) error {
	if s.Type != "object" {
		return errors.New("ListResponse must be object")
	}
	items, ok := s.Properties["items"]
	if !ok || items.Type != "array" || items.Items == nil {
		return errors.New("ListResponse.items must be array")
	}
	count, ok := s.Properties["count"]
	if !ok || count.Type != "integer" {
		return errors.New("ListResponse.count must be integer")
	}
	return nil
}

// validatePathParams checks that every {param} in the template is declared
// as a path parameter on the path item or the operation.
func validatePathParams(doc openAPIDoc, path string, shared, own []parameter) error {
	declared := map[string]bool{}
	for _, p := range append(append([]parameter(nil), shared...), own...) {
		resolved, err := resolveParameter(doc, p)
		if err != nil {
			return err
		}
		if resolved.In == "path" {
			declared[resolved.Name] = true
		}
	}
	var missing []string
	for _, m := range pathParamPattern.FindAllStringSubmatch(path, -1) {
		if !declared[m[1]] {
			missing = append(missing, m[1])
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("undeclared path parameters %v", missing)
	}
	return nil
}

func resolveParameter(doc openAPIDoc, p parameter) (parameter, error) {
	if p.Ref == "" {
		return p, nil
	}
	name := strings.TrimPrefix(p.Ref, "#/components/parameters/")
	resolved, ok := doc.Components.Parameters[name]
	if !ok || name == p.Ref {
		return parameter{}, fmt.Errorf("unresolved parameter %q", p.Ref)
	}
	return resolved, nil
}

// validateResponses requires at least one success response and an error
// fallback, except for health which has no error body.
func validateResponses(op *operation) error {
	if len(op.Responses) == 0 {
		return errors.New("responses missing")
	}
	hasSuccess := false
	for code := range op.Responses {
		if strings.HasPrefix(code, "2") || strings.HasPrefix(code, "3") {
			hasSuccess = true
		}
	}
	if !hasSuccess {
		return errors.New("no 2xx or 3xx response")
	}
	if op.OperationID == "health" {
		return nil
	}
	def, ok := op.Responses["default"]
	if !ok || def.Ref != errorResponseRef {
		return fmt.Errorf("default response must reference %s", errorResponseRef)
	}
	return nil
}

func makeSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out[item] = true
	}
	return out
}

func exitErr(err error) {
	fmt.Fprintln(os.Stderr, err.Error())
	os.Exit(1)
}
