package tools

import (
	"sort"

	"github.com/caster-net/caster/pkg/models"
)

// Tool names. The catalog is closed: agents cannot reach anything else.
const (
	ToolTest        = "test_tool"
	ToolInfo        = "tooling_info"
	ToolSearchWeb   = "search_web"
	ToolSearchX     = "search_x"
	ToolSearchAI    = "search_ai"
	ToolLLMChat     = "llm_chat"
	ToolSearchRepo  = "search_repo"
	ToolGetRepoFile = "get_repo_file"
	ToolSearchItems = "search_items"
)

// Definition is the catalog entry for one tool.
type Definition struct {
	Name string
	// Provider is the cost bucket charged for the tool. LLM calls override
	// it with the model's provider at charge time.
	Provider string
	Policy   models.ResultPolicy
	// CitationSource marks tools whose results agents may cite.
	CitationSource bool
}

var catalog = map[string]Definition{
	ToolTest:        {Name: ToolTest, Provider: "host", Policy: models.PolicyLogOnly},
	ToolInfo:        {Name: ToolInfo, Provider: "host", Policy: models.PolicyLogOnly},
	ToolSearchWeb:   {Name: ToolSearchWeb, Provider: "search", Policy: models.PolicyReferenceable, CitationSource: true},
	ToolSearchX:     {Name: ToolSearchX, Provider: "search", Policy: models.PolicyReferenceable, CitationSource: true},
	ToolSearchAI:    {Name: ToolSearchAI, Provider: "search", Policy: models.PolicyReferenceable, CitationSource: true},
	ToolLLMChat:     {Name: ToolLLMChat, Provider: "llm", Policy: models.PolicyLogOnly},
	ToolSearchRepo:  {Name: ToolSearchRepo, Provider: "repo", Policy: models.PolicyReferenceable, CitationSource: true},
	ToolGetRepoFile: {Name: ToolGetRepoFile, Provider: "repo", Policy: models.PolicyReferenceable, CitationSource: true},
	ToolSearchItems: {Name: ToolSearchItems, Provider: "platform", Policy: models.PolicyReferenceable, CitationSource: true},
}

// Lookup returns the catalog entry for a tool name.
func Lookup(name string) (Definition, bool) {
	def, ok := catalog[name]
	return def, ok
}

// Names returns the catalog's tool names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsCitationSource reports whether results of the tool may back citations.
func IsCitationSource(name string) bool {
	return catalog[name].CitationSource
}
