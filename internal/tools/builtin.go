// Package tools provides the builtin toolset over the state kernel. The
// full registry and discovery mechanism is an external collaborator; this
// package only covers the tools the fabric itself needs to be useful from
// the CLI: explicit notifications, named memory, and recall.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/if001/trikernel/internal/domain/artifact"
	"github.com/if001/trikernel/internal/domain/task"
	"github.com/if001/trikernel/internal/runner"
	"github.com/if001/trikernel/internal/state"
)

// Tool is one invokable tool.
type Tool struct {
	Spec runner.ToolSpec
	Call func(ctx context.Context, args map[string]any) (string, error)
}

// Registry is a minimal in-process tool registry implementing
// runner.ToolAPI.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: map[string]Tool{}}
}

// Register adds or replaces a tool.
func (r *Registry) Register(tool Tool) {
	r.mu.Lock()
	r.tools[tool.Spec.Name] = tool
	r.mu.Unlock()
}

// List implements runner.ToolAPI.
func (r *Registry) List(_ context.Context) []runner.ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]runner.ToolSpec, 0, len(r.tools))
	for _, tool := range r.tools {
		specs = append(specs, tool.Spec)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })
	return specs
}

// Invoke implements runner.ToolAPI.
func (r *Registry) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	r.mu.RLock()
	tool, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("unknown tool %q", name)
	}
	return tool.Call(ctx, args)
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// RegisterBuiltin wires the state-kernel tools into the registry.
func RegisterBuiltin(registry *Registry, kernel *state.Kernel) {
	registry.Register(Tool{
		Spec: runner.ToolSpec{
			Name:        "notify",
			Description: "Send a notification message to the user.",
			Schema: objectSchema(map[string]any{
				"message": map[string]any{"type": "string", "description": "notification text"},
			}, "message"),
		},
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			message := cast.ToString(args["message"])
			if message == "" {
				return "", fmt.Errorf("notify: message is required")
			}
			created, err := kernel.Tasks.Create(ctx, task.TypeNotification, task.Payload{
				task.KeyMessage:  message,
				task.KeySeverity: "info",
			})
			if err != nil {
				return "", fmt.Errorf("notify: %w", err)
			}
			return fmt.Sprintf("notification %s queued", created.TaskID), nil
		},
	})

	registry.Register(Tool{
		Spec: runner.ToolSpec{
			Name:        "remember",
			Description: "Store a note under a name for later recall. Overwrites any previous note with the same name.",
			Schema: objectSchema(map[string]any{
				"name": map[string]any{"type": "string", "description": "stable note name"},
				"body": map[string]any{"type": "string", "description": "note content"},
			}, "name", "body"),
		},
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			name := cast.ToString(args["name"])
			body := cast.ToString(args["body"])
			if name == "" || body == "" {
				return "", fmt.Errorf("remember: name and body are required")
			}
			record, err := kernel.Artifacts.WriteNamed(ctx, name, "text/plain", body, map[string]any{
				"kind":     "note",
				"saved_at": time.Now().UTC().Format(time.RFC3339),
			})
			if err != nil {
				return "", fmt.Errorf("remember: %w", err)
			}
			return fmt.Sprintf("stored note %s", record.ArtifactID), nil
		},
	})

	registry.Register(Tool{
		Spec: runner.ToolSpec{
			Name:        "recall",
			Description: "Search stored notes and artifacts by content.",
			Schema: objectSchema(map[string]any{
				"query": map[string]any{"type": "string", "description": "search text"},
				"limit": map[string]any{"type": "integer", "description": "max results, default 5"},
			}, "query"),
		},
		Call: func(ctx context.Context, args map[string]any) (string, error) {
			query := cast.ToString(args["query"])
			if query == "" {
				return "", fmt.Errorf("recall: query is required")
			}
			results, err := kernel.Artifacts.Search(ctx, artifact.Query{
				Text:  query,
				Limit: cast.ToInt(args["limit"]),
			})
			if err != nil {
				return "", fmt.Errorf("recall: %w", err)
			}
			if len(results) == 0 {
				return "no matching artifacts", nil
			}
			type hit struct {
				ID   string `json:"artifact_id"`
				Body string `json:"body"`
			}
			hits := make([]hit, len(results))
			for i, record := range results {
				hits[i] = hit{ID: record.ArtifactID, Body: record.Body}
			}
			rendered, err := json.Marshal(hits)
			if err != nil {
				return "", fmt.Errorf("recall: %w", err)
			}
			return string(rendered), nil
		},
	})
}
