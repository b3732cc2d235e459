package kit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Tool registers fn as an MCP tool. Arguments are decoded into a T and the
// result is returned as JSON text. Decode and endpoint failures become
// tool errors so the client sees them as results, not protocol faults.
// mw, when set, builds the middleware wrapping fn from the tool name.
func Tool[T any](srv *mcp.Server, mw func(name string) Middleware, tool *mcp.Tool, fn func(context.Context, T) (any, error)) {
	ep := Endpoint(func(ctx context.Context, req any) (any, error) {
		return fn(ctx, req.(T))
	})
	if mw != nil {
		ep = mw(tool.Name)(ep)
	}

	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithCall(ctx, Call{Transport: "mcp"})

		var args T
		if raw := req.Params.Arguments; len(raw) > 0 {
			if err := json.Unmarshal(raw, &args); err != nil {
				return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
			}
		}
		out, err := ep(ctx, args)
		if err != nil {
			return toolError(err), nil
		}
		text, err := json.Marshal(out)
		if err != nil {
			return toolError(fmt.Errorf("encode result: %w", err)), nil
		}
		return &mcp.CallToolResult{Content: []mcp.Content{&mcp.TextContent{Text: string(text)}}}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	res := &mcp.CallToolResult{}
	res.SetError(err)
	return res
}

// Object builds a JSON object schema from its properties.
func Object(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
