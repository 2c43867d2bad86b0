package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"finsight/internal/domain"
)

type echoTool struct {
	name   string
	schema json.RawMessage
}

func (e *echoTool) Name() string        { return e.name }
func (e *echoTool) Description() string { return "echoes params" }

func (e *echoTool) Schema() domain.ToolSchema {
	return domain.ToolSchema{Name: e.name, Description: e.Description(), Parameters: e.schema}
}

func (e *echoTool) Execute(_ context.Context, params json.RawMessage) (*domain.ToolResult, error) {
	return &domain.ToolResult{Content: string(params)}, nil
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry(testLogger())
	if err := r.Register(&echoTool{name: "echo"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(&echoTool{name: "echo"}); err == nil {
		t.Fatal("duplicate Register should fail")
	}

	if _, err := r.Get("echo"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	_, err := r.Get("missing")
	if !errors.Is(err, domain.ErrToolNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrToolNotFound", err)
	}
}

func TestRegistryOrderIsRegistrationOrder(t *testing.T) {
	r := NewRegistry(testLogger())
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := r.Register(&echoTool{name: name}); err != nil {
			t.Fatalf("Register(%s): %v", name, err)
		}
	}

	names := r.Names()
	want := []string{"zeta", "alpha", "mid"}
	for i, n := range want {
		if names[i] != n {
			t.Fatalf("Names() = %v, want %v", names, want)
		}
	}

	schemas := r.Schemas()
	for i, n := range want {
		if schemas[i].Name != n {
			t.Fatalf("Schemas()[%d] = %s, want %s", i, schemas[i].Name, n)
		}
	}
}

func TestRegistrySchemaValidationRejectsBadParams(t *testing.T) {
	r := NewRegistry(testLogger())
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"symbol": {"type": "string"}},
		"required": ["symbol"]
	}`)
	if err := r.Register(&echoTool{name: "typed", schema: schema}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	tool, err := r.Get("typed")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	res, err := tool.Execute(context.Background(), json.RawMessage(`{"symbol": 42}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected schema validation failure for numeric symbol")
	}

	res, err = tool.Execute(context.Background(), json.RawMessage(`{"symbol": "AAPL"}`))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.IsError {
		t.Fatalf("valid params rejected: %s", res.Content)
	}
}
