package service

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/keyguard/internal/kit"
	"github.com/hazyhaar/keyguard/internal/rules"
)

// RegisterMCP registers the keyguard tools on an MCP server.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerRuleTools(srv)
	s.registerBrowserTools(srv)
	s.registerLintTool(srv)
}

func (s *Service) logged(name string) kit.Middleware {
	return kit.Chain(kit.Logging(s.logger(), name), kit.Recovery(s.logger()))
}

var (
	commandProp = map[string]any{"type": "string", "description": "Shortcut as <Modifier>+<Key>, e.g. Ctrl+S"}
	urlsProp    = map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "URL patterns, e.g. https://*.example.com"}
	kindProp    = map[string]any{"type": "string", "enum": []string{KindDoNothing, KindCustom}}
)

type ruleRef struct {
	Kind    string `json:"kind"`
	Command string `json:"command"`
	Active  *bool  `json:"isActive,omitempty"`
}

func (s *Service) registerRuleTools(srv *mcp.Server) {
	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_list_rules",
		Description: "List Do-Nothing rules, Custom rules and the delay-enter setting.",
		InputSchema: kit.Object(map[string]any{}),
	}, func(context.Context, struct{}) (any, error) {
		return s.ListRules(), nil
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_set_do_nothing",
		Description: "Create or replace a rule that swallows a shortcut on the given URL patterns.",
		InputSchema: kit.Object(map[string]any{
			"command":  commandProp,
			"urls":     urlsProp,
			"isActive": map[string]any{"type": "boolean"},
		}, "command", "urls"),
	}, func(ctx context.Context, req DoNothingRequest) (any, error) {
		return s.SetDoNothing(ctx, req)
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name: "keyguard_set_custom",
		Description: "Create or replace a rule that runs a script in the page when a shortcut is pressed. " +
			"The script runs with full page privileges; acknowledgeRisks must be true.",
		InputSchema: kit.Object(map[string]any{
			"command":           commandProp,
			"urls":              urlsProp,
			"isActive":          map[string]any{"type": "boolean"},
			"script":            map[string]any{"type": "string", "description": "JavaScript evaluated in the active tab"},
			"scriptDescription": map[string]any{"type": "string"},
			"acknowledgeRisks":  map[string]any{"type": "boolean"},
		}, "command", "urls", "script", "acknowledgeRisks"),
	}, func(ctx context.Context, req CustomRequest) (any, error) {
		return s.SetCustom(ctx, req)
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_set_rule_active",
		Description: "Enable or disable an existing rule.",
		InputSchema: kit.Object(map[string]any{
			"kind":     kindProp,
			"command":  commandProp,
			"isActive": map[string]any{"type": "boolean"},
		}, "kind", "command", "isActive"),
	}, func(ctx context.Context, r ruleRef) (any, error) {
		active := r.Active != nil && *r.Active
		if err := s.SetActive(ctx, r.Kind, r.Command, active); err != nil {
			return nil, err
		}
		return map[string]any{"command": r.Command, "isActive": active}, nil
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_delete_rule",
		Description: "Delete a Do-Nothing or Custom rule.",
		InputSchema: kit.Object(map[string]any{
			"kind":    kindProp,
			"command": commandProp,
		}, "kind", "command"),
	}, func(ctx context.Context, r ruleRef) (any, error) {
		if err := s.DeleteRule(ctx, r.Kind, r.Command); err != nil {
			return nil, err
		}
		return map[string]any{"deleted": r.Command}, nil
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_set_delay_enter",
		Description: "Configure the Enter debounce: an Enter pressed sooner than delayTime ms after the previous key is swallowed.",
		InputSchema: kit.Object(map[string]any{
			"isActiveDelayEnter": map[string]any{"type": "boolean"},
			"delayTime":          map[string]any{"type": "number", "minimum": 0, "description": "Milliseconds, may be fractional, default 500"},
		}, "isActiveDelayEnter"),
	}, func(ctx context.Context, req rules.ExtensionRule) (any, error) {
		return s.SetDelayEnter(ctx, req)
	})
}

type runReq struct {
	Code string `json:"code"`
}

type openReq struct {
	URL string `json:"url"`
}

func (s *Service) registerBrowserTools(srv *mcp.Server) {
	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_press",
		Description: "Press a key in the active tab through the shortcut rules. Give a chord like \"Ctrl+S\" or raw code and modifier flags.",
		InputSchema: kit.Object(map[string]any{
			"chord": map[string]any{"type": "string"},
			"code":  map[string]any{"type": "string", "description": "Physical key code, e.g. KeyS"},
			"key":   map[string]any{"type": "string"},
			"meta":  map[string]any{"type": "boolean"},
			"ctrl":  map[string]any{"type": "boolean"},
			"alt":   map[string]any{"type": "boolean"},
			"shift": map[string]any{"type": "boolean"},
		}),
	}, func(ctx context.Context, req PressRequest) (any, error) {
		return s.Press(ctx, req)
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_run_script",
		Description: "Evaluate JavaScript in the active tab and return the bridge response (status 200, 400 or 500).",
		InputSchema: kit.Object(map[string]any{
			"code": map[string]any{"type": "string"},
		}, "code"),
	}, func(ctx context.Context, req runReq) (any, error) {
		return s.RunScript(ctx, req.Code)
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_list_tabs",
		Description: "List the open browser tabs.",
		InputSchema: kit.Object(map[string]any{}),
	}, func(ctx context.Context, _ struct{}) (any, error) {
		tabs, err := s.ListTabs(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"tabs": tabs}, nil
	})

	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_open_tab",
		Description: "Open a URL in a new tab and make it active.",
		InputSchema: kit.Object(map[string]any{
			"url": map[string]any{"type": "string"},
		}, "url"),
	}, func(ctx context.Context, req openReq) (any, error) {
		return s.OpenTab(ctx, req.URL)
	})
}

func (s *Service) registerLintTool(srv *mcp.Server) {
	kit.Tool(srv, s.logged, &mcp.Tool{
		Name:        "keyguard_lint",
		Description: "Syntax-check a script without running it.",
		InputSchema: kit.Object(map[string]any{
			"code": map[string]any{"type": "string"},
		}, "code"),
	}, func(_ context.Context, req runReq) (any, error) {
		return s.Lint(req.Code), nil
	})
}
