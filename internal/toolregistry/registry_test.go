package toolregistry

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/osa-systems/osa/pkg/osa"
)

func echoTool() osa.ToolDefinition {
	return osa.ToolDefinition{
		Name:        "echo",
		Description: "echoes its input",
		Parameters: json.RawMessage(`{
			"type": "object",
			"properties": {"text": {"type": "string"}},
			"required": ["text"]
		}`),
		Handler: func(ctx context.Context, args json.RawMessage) (string, error) {
			var in struct{ Text string `json:"text"` }
			if err := json.Unmarshal(args, &in); err != nil {
				return "", err
			}
			return in.Text, nil
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	if err := r.Register(echoTool()); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	def, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected echo tool to be registered")
	}
	if def.Name != "echo" {
		t.Errorf("Name = %q, want echo", def.Name)
	}
}

func TestRegisterIsIdempotentReplace(t *testing.T) {
	r := New()
	_ = r.Register(echoTool())
	replaced := echoTool()
	replaced.Description = "updated"
	if err := r.Register(replaced); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	def, _ := r.Get("echo")
	if def.Description != "updated" {
		t.Errorf("Description = %q, want updated", def.Description)
	}
}

func TestUnregisterRemovesTool(t *testing.T) {
	r := New()
	_ = r.Register(echoTool())
	r.Unregister("echo")
	if _, ok := r.Get("echo"); ok {
		t.Fatal("expected echo tool to be removed")
	}
}

func TestRegisterRejectsInvalidSchema(t *testing.T) {
	r := New()
	def := echoTool()
	def.Parameters = json.RawMessage(`{not valid json`)
	if err := r.Register(def); err == nil {
		t.Fatal("expected error registering tool with invalid schema")
	}
}

func TestListReturnsAllTools(t *testing.T) {
	r := New()
	_ = r.Register(echoTool())
	other := echoTool()
	other.Name = "other"
	_ = r.Register(other)
	if len(r.List()) != 2 {
		t.Fatalf("List() returned %d tools, want 2", len(r.List()))
	}
}
