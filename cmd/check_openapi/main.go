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

const (
	errorResponseRef = "#/components/responses/Error"
	errorSchemaRef   = "#/components/schemas/ErrorResponse"
	errorCodeRef     = "#/components/schemas/ErrorCode"
)

var errorCodePattern = regexp.MustCompile(`^[A-Z][A-Z0-9]*(_[A-Z0-9]+)*$`)

var httpMethods = []string{"get", "put", "post", "delete", "patch", "head", "options"}

type openAPIDoc struct {
	Paths      map[string]map[string]operation `yaml:"paths"`
	Components struct {
		Schemas   map[string]schema   `yaml:"schemas"`
		Responses map[string]response `yaml:"responses"`
	} `yaml:"components"`
}

type operation struct {
	OperationID string              `yaml:"operationId"`
	Responses   map[string]response `yaml:"responses"`
}

type response struct {
	Ref     string `yaml:"$ref"`
	Content map[string]struct {
		Schema schema `yaml:"schema"`
	} `yaml:"content"`
}

type schema struct {
	Type       string            `yaml:"type"`
	Ref        string            `yaml:"$ref"`
	Enum       []string          `yaml:"enum"`
	Properties map[string]schema `yaml:"properties"`
	Required   []string          `yaml:"required"`
	Items      *schema           `yaml:"items"`
}

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintf(os.Stderr, "usage: %s <api-openapi.yaml>\n", os.Args[0])
		os.Exit(2)
	}
	doc, err := loadDoc(os.Args[1])
	if err != nil {
		exitErr(err)
	}
	if err := checkDoc(doc); err != nil {
		exitErr(err)
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

func checkDoc(doc openAPIDoc) error {
	errResp, err := getSchema(doc, "ErrorResponse")
	if err != nil {
		return err
	}
	if err := validateErrorResponse(errResp); err != nil {
		return err
	}
	codes, err := getSchema(doc, "ErrorCode")
	if err != nil {
		return err
	}
	if err := validateErrorCodes(codes); err != nil {
		return err
	}
	if err := validateSharedErrorResponse(doc); err != nil {
		return err
	}
	return validateOperations(doc)
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
	if p, ok := s.Properties["error"]; !ok || p.Type != "string" {
		return errors.New("ErrorResponse.error must be string")
	}
	if p, ok := s.Properties["code"]; !ok || strings.TrimSpace(p.Ref) != errorCodeRef {
		return fmt.Errorf("ErrorResponse.code must reference %s", errorCodeRef)
	}
	for _, field := range []string{"requestId", "profileId"} {
		if p, ok := s.Properties[field]; !ok || p.Type != "string" {
			return fmt.Errorf("ErrorResponse.%s must be string", field)
		}
	}
	return nil
}

func validateErrorCodes(s schema) error {
	if s.Type != "string" || len(s.Enum) == 0 {
		return errors.New("ErrorCode must be a string enum")
	}
	seen := make(map[string]bool, len(s.Enum))
	for _, code := range s.Enum {
		if !errorCodePattern.MatchString(code) {
			return fmt.Errorf("ErrorCode %q must be upper snake case", code)
		}
		if seen[code] {
			return fmt.Errorf("ErrorCode %q listed twice", code)
		}
		seen[code] = true
	}
	return nil
}

func validateSharedErrorResponse(doc openAPIDoc) error {
	resp, ok := doc.Components.Responses["Error"]
	if !ok {
		return errors.New("components.responses.Error missing")
	}
	body, ok := resp.Content["application/json"]
	if !ok || strings.TrimSpace(body.Schema.Ref) != errorSchemaRef {
		return fmt.Errorf("components.responses.Error must use %s", errorSchemaRef)
	}
	return nil
}

func validateOperations(doc openAPIDoc) error {
	if len(doc.Paths) == 0 {
		return errors.New("paths missing")
	}
	ids := make(map[string]string)
	paths := make([]string, 0, len(doc.Paths))
	for p := range doc.Paths {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, path := range paths {
		for _, method := range httpMethods {
			op, ok := doc.Paths[path][method]
			if !ok {
				continue
			}
			where := strings.ToUpper(method) + " " + path
			if strings.TrimSpace(op.OperationID) == "" {
				return fmt.Errorf("%s: operationId missing", where)
			}
			if prev, dup := ids[op.OperationID]; dup {
				return fmt.Errorf("%s: operationId %q already used by %s", where, op.OperationID, prev)
			}
			ids[op.OperationID] = where
			if len(op.Responses) == 0 {
				return fmt.Errorf("%s: responses missing", where)
			}
			for status, resp := range op.Responses {
				if !strings.HasPrefix(status, "4") && !strings.HasPrefix(status, "5") {
					continue
				}
				if strings.TrimSpace(resp.Ref) != errorResponseRef {
					return fmt.Errorf("%s %s: error responses must reference %s", where, status, errorResponseRef)
				}
			}
		}
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
