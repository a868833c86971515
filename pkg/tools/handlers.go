package tools

import (
	"context"
	"fmt"

	"github.com/caster-net/caster/pkg/llm"
	"github.com/caster-net/caster/pkg/models"
	"github.com/caster-net/caster/pkg/search"
)

// Invoker validates and runs one tool call against its upstream.
type Invoker interface {
	Invoke(ctx context.Context, tool string, args []any, kwargs map[string]any) (*Output, error)
}

// Output carries the provider payload plus whatever the dispatcher needs
// for billing: citation entries for per-result pricing, token usage for
// LLM calls, and receipt metadata.
type Output struct {
	Payload any
	Entries []search.Entry
	Tokens  models.LLMCallUsage
	Model   string
	Meta    map[string]string
}

// Handlers routes tool calls to the configured upstream clients. Any client
// may be nil, in which case its tools report ErrToolNotConfigured.
type Handlers struct {
	search  *search.Client
	repo    *search.RepoClient
	feed    *search.FeedClient
	chat    *llm.Client
	version string
}

var _ Invoker = (*Handlers)(nil)

func NewHandlers(searchClient *search.Client, repoClient *search.RepoClient, feedClient *search.FeedClient, chatClient *llm.Client, version string) *Handlers {
	return &Handlers{
		search:  searchClient,
		repo:    repoClient,
		feed:    feedClient,
		chat:    chatClient,
		version: version,
	}
}

// Invoke validates the call and executes it. Validation failures return a
// *ValidationError before any upstream request is made.
func (h *Handlers) Invoke(ctx context.Context, tool string, args []any, kwargs map[string]any) (*Output, error) {
	switch tool {
	case ToolTest:
		msg, err := validateTestTool(args, kwargs)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: map[string]any{"ok": true, "message": msg}}, nil

	case ToolInfo:
		if err := validateToolingInfo(args, kwargs); err != nil {
			return nil, err
		}
		return &Output{Payload: h.toolingInfo()}, nil

	case ToolSearchWeb:
		params, err := validateSearchWeb(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.search == nil {
			return nil, notConfigured(tool)
		}
		resp, err := h.search.Web(ctx, params)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: resp.Payload, Entries: resp.Entries}, nil

	case ToolSearchX:
		params, err := validateSearchX(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.search == nil {
			return nil, notConfigured(tool)
		}
		resp, err := h.search.X(ctx, params)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: resp.Payload, Entries: resp.Entries}, nil

	case ToolSearchAI:
		params, err := validateSearchAI(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.search == nil {
			return nil, notConfigured(tool)
		}
		resp, err := h.search.AI(ctx, params)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: resp.Payload, Entries: resp.Entries}, nil

	case ToolLLMChat:
		req, meta, err := validateLLMChat(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.chat == nil {
			return nil, notConfigured(tool)
		}
		result, err := h.chat.Chat(ctx, req)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: result.Payload, Tokens: result.Usage, Model: req.Model, Meta: meta}, nil

	case ToolSearchRepo:
		params, err := validateSearchRepo(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.repo == nil {
			return nil, notConfigured(tool)
		}
		resp, err := h.repo.Search(ctx, params)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: resp.Payload, Entries: resp.Entries}, nil

	case ToolGetRepoFile:
		params, err := validateGetRepoFile(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.repo == nil {
			return nil, notConfigured(tool)
		}
		resp, err := h.repo.File(ctx, params)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: resp.Payload, Entries: resp.Entries}, nil

	case ToolSearchItems:
		params, err := validateSearchItems(args, kwargs)
		if err != nil {
			return nil, err
		}
		if h.feed == nil {
			return nil, notConfigured(tool)
		}
		resp, err := h.feed.SearchItems(ctx, params)
		if err != nil {
			return nil, err
		}
		return &Output{Payload: resp.Payload, Entries: resp.Entries}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownTool, tool)
}

// toolingInfo describes the catalog and runtime so agents can discover
// what is callable without spending budget.
func (h *Handlers) toolingInfo() map[string]any {
	defs := make([]map[string]any, 0, len(catalog))
	for _, name := range Names() {
		def, _ := Lookup(name)
		defs = append(defs, map[string]any{
			"name":          def.Name,
			"result_policy": string(def.Policy),
		})
	}
	return map[string]any{
		"tools":      defs,
		"llm_models": llm.AllowedModels,
		"runtime":    h.version,
	}
}

func notConfigured(tool string) error {
	return fmt.Errorf("%w: %s", ErrToolNotConfigured, tool)
}
