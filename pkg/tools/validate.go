package tools

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/caster-net/caster/pkg/llm"
	"github.com/caster-net/caster/pkg/search"
)

// Input contracts are closed: every tool accepts a fixed key set and rejects
// extras, so agents cannot smuggle provider parameters past the catalog.

var (
	xSorts        = []string{"Top", "Latest"}
	aiTools       = []string{"web", "hackernews", "reddit", "wikipedia", "youtube", "twitter", "arxiv"}
	aiDateFilters = []string{"PAST_24_HOURS", "PAST_WEEK", "PAST_MONTH", "PAST_YEAR"}
	aiResultTypes = []string{"ONLY_LINKS", "LINKS_WITH_SUMMARIES", "LINKS_WITH_FINAL_SUMMARY"}
	llmEfforts    = []string{"low", "medium", "high"}

	datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

const (
	minResultCount = 1
	maxResultCount = 200
)

// argReader reads kwargs for one tool and tracks consumed keys so leftovers
// can be rejected.
type argReader struct {
	tool   string
	kwargs map[string]any
	used   map[string]bool
}

func newArgReader(tool string, kwargs map[string]any) *argReader {
	return &argReader{tool: tool, kwargs: kwargs, used: make(map[string]bool, len(kwargs))}
}

func (r *argReader) take(key string) (any, bool) {
	v, ok := r.kwargs[key]
	if ok {
		r.used[key] = true
	}
	return v, ok
}

func (r *argReader) stringField(key string, required bool) (string, error) {
	v, ok := r.take(key)
	if !ok {
		if required {
			return "", invalidf(r.tool, "%s is required", key)
		}
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", invalidf(r.tool, "%s must be a string", key)
	}
	if required && s == "" {
		return "", invalidf(r.tool, "%s must not be empty", key)
	}
	return s, nil
}

func (r *argReader) intField(key string) (*int, error) {
	v, ok := r.take(key)
	if !ok {
		return nil, nil
	}
	n, ok := intFromAny(v)
	if !ok {
		return nil, invalidf(r.tool, "%s must be an integer", key)
	}
	return &n, nil
}

func (r *argReader) requiredIntField(key string) (int, error) {
	n, err := r.intField(key)
	if err != nil {
		return 0, err
	}
	if n == nil {
		return 0, invalidf(r.tool, "%s is required", key)
	}
	return *n, nil
}

func (r *argReader) int64Field(key string) (int64, bool, error) {
	v, ok := r.take(key)
	if !ok {
		return 0, false, nil
	}
	n, ok := int64FromAny(v)
	if !ok {
		return 0, false, invalidf(r.tool, "%s must be an integer", key)
	}
	return n, true, nil
}

func (r *argReader) boolField(key string) (*bool, error) {
	v, ok := r.take(key)
	if !ok {
		return nil, nil
	}
	b, ok := v.(bool)
	if !ok {
		return nil, invalidf(r.tool, "%s must be a boolean", key)
	}
	return &b, nil
}

func (r *argReader) stringsField(key string) ([]string, error) {
	v, ok := r.take(key)
	if !ok {
		return nil, nil
	}
	items, ok := v.([]any)
	if !ok {
		return nil, invalidf(r.tool, "%s must be an array of strings", key)
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok || s == "" {
			return nil, invalidf(r.tool, "%s must be an array of non-empty strings", key)
		}
		out = append(out, s)
	}
	return out, nil
}

func (r *argReader) enumField(key string, allowed []string) (string, error) {
	s, err := r.stringField(key, false)
	if err != nil || s == "" {
		return s, err
	}
	for _, a := range allowed {
		if s == a {
			return s, nil
		}
	}
	return "", invalidf(r.tool, "%s must be one of %s", key, strings.Join(allowed, ", "))
}

func (r *argReader) dateField(key string) (string, error) {
	s, err := r.stringField(key, false)
	if err != nil || s == "" {
		return s, err
	}
	if !datePattern.MatchString(s) {
		return "", invalidf(r.tool, "%s must be a YYYY-MM-DD date", key)
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		return "", invalidf(r.tool, "%s must be a valid date", key)
	}
	return s, nil
}

// rest fails if any supplied key was not consumed.
func (r *argReader) rest() error {
	var extras []string
	for key := range r.kwargs {
		if !r.used[key] {
			extras = append(extras, key)
		}
	}
	if len(extras) == 0 {
		return nil
	}
	sort.Strings(extras)
	return invalidf(r.tool, "unexpected parameters: %s", strings.Join(extras, ", "))
}

func rejectPositional(tool string, args []any) error {
	if len(args) > 0 {
		return invalidf(tool, "positional arguments are not accepted")
	}
	return nil
}

func boundedCount(tool, key string, n int) error {
	if n < minResultCount || n > maxResultCount {
		return invalidf(tool, "%s must be between %d and %d", key, minResultCount, maxResultCount)
	}
	return nil
}

func intFromAny(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int(n), true
		}
	}
	return 0, false
}

func int64FromAny(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		if n == math.Trunc(n) && !math.IsInf(n, 0) {
			return int64(n), true
		}
	}
	return 0, false
}

// ────────────────────────────────────────────────────────────
// Per-tool validators
// ────────────────────────────────────────────────────────────

// validateTestTool accepts the message as a kwarg or the first positional.
func validateTestTool(args []any, kwargs map[string]any) (string, error) {
	r := newArgReader(ToolTest, kwargs)
	msg, err := r.stringField("message", false)
	if err != nil {
		return "", err
	}
	if msg == "" && len(args) > 0 {
		s, ok := args[0].(string)
		if !ok {
			return "", invalidf(ToolTest, "message must be a string")
		}
		msg = s
		args = args[1:]
	}
	if len(args) > 0 {
		return "", invalidf(ToolTest, "too many positional arguments")
	}
	return msg, r.rest()
}

func validateToolingInfo(args []any, kwargs map[string]any) error {
	if err := rejectPositional(ToolInfo, args); err != nil {
		return err
	}
	return newArgReader(ToolInfo, kwargs).rest()
}

func validateSearchWeb(args []any, kwargs map[string]any) (search.WebParams, error) {
	var p search.WebParams
	if err := rejectPositional(ToolSearchWeb, args); err != nil {
		return p, err
	}
	r := newArgReader(ToolSearchWeb, kwargs)

	var err error
	if p.Query, err = r.stringField("query", true); err != nil {
		return p, err
	}
	if p.Num, err = r.intField("num"); err != nil {
		return p, err
	}
	if p.Start, err = r.intField("start"); err != nil {
		return p, err
	}
	return p, r.rest()
}

func validateSearchX(args []any, kwargs map[string]any) (search.XParams, error) {
	var p search.XParams
	if err := rejectPositional(ToolSearchX, args); err != nil {
		return p, err
	}
	r := newArgReader(ToolSearchX, kwargs)

	var err error
	if p.Query, err = r.stringField("query", true); err != nil {
		return p, err
	}
	if p.Count, err = r.intField("count"); err != nil {
		return p, err
	}
	if p.Count != nil {
		if err := boundedCount(ToolSearchX, "count", *p.Count); err != nil {
			return p, err
		}
	}
	if p.Lang, err = r.stringField("lang", false); err != nil {
		return p, err
	}
	if p.Sort, err = r.enumField("sort", xSorts); err != nil {
		return p, err
	}
	if p.StartDate, err = r.dateField("start_date"); err != nil {
		return p, err
	}
	if p.EndDate, err = r.dateField("end_date"); err != nil {
		return p, err
	}
	if p.Verified, err = r.boolField("verified"); err != nil {
		return p, err
	}
	if p.BlueVerified, err = r.boolField("blue_verified"); err != nil {
		return p, err
	}
	if p.IsQuote, err = r.boolField("is_quote"); err != nil {
		return p, err
	}
	if p.IsVideo, err = r.boolField("is_video"); err != nil {
		return p, err
	}
	if p.IsImage, err = r.boolField("is_image"); err != nil {
		return p, err
	}
	return p, r.rest()
}

func validateSearchAI(args []any, kwargs map[string]any) (search.AIParams, error) {
	var p search.AIParams
	if err := rejectPositional(ToolSearchAI, args); err != nil {
		return p, err
	}
	r := newArgReader(ToolSearchAI, kwargs)

	var err error
	if p.Prompt, err = r.stringField("prompt", true); err != nil {
		return p, err
	}
	if p.Tools, err = r.stringsField("tools"); err != nil {
		return p, err
	}
	if len(p.Tools) == 0 {
		return p, invalidf(ToolSearchAI, "tools must name at least one source")
	}
	for _, tool := range p.Tools {
		if !contains(aiTools, tool) {
			return p, invalidf(ToolSearchAI, "tools must be a subset of %s", strings.Join(aiTools, ", "))
		}
	}
	if p.Count, err = r.intField("count"); err != nil {
		return p, err
	}
	if p.Count != nil {
		if err := boundedCount(ToolSearchAI, "count", *p.Count); err != nil {
			return p, err
		}
	}
	if p.DateFilter, err = r.enumField("date_filter", aiDateFilters); err != nil {
		return p, err
	}
	if p.ResultType, err = r.enumField("result_type", aiResultTypes); err != nil {
		return p, err
	}
	if p.SystemMessage, err = r.stringField("system_message", false); err != nil {
		return p, err
	}
	return p, r.rest()
}

// validateLLMChat builds the chat request and the receipt meta. The model
// allow-list is enforced here, before any network call.
func validateLLMChat(args []any, kwargs map[string]any) (llm.ChatRequest, map[string]string, error) {
	var req llm.ChatRequest
	if err := rejectPositional(ToolLLMChat, args); err != nil {
		return req, nil, err
	}
	r := newArgReader(ToolLLMChat, kwargs)

	var err error
	if req.Model, err = r.stringField("model", true); err != nil {
		return req, nil, err
	}
	if !llm.ModelAllowed(req.Model) {
		return req, nil, invalidf(ToolLLMChat, "model %q is not on the allow-list", req.Model)
	}

	rawMessages, ok := r.take("messages")
	if !ok {
		return req, nil, invalidf(ToolLLMChat, "messages is required")
	}
	items, ok := rawMessages.([]any)
	if !ok || len(items) == 0 {
		return req, nil, invalidf(ToolLLMChat, "messages must be a non-empty array")
	}
	req.Messages = make([]llm.Message, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return req, nil, invalidf(ToolLLMChat, "messages[%d] must be an object", i)
		}
		role, _ := m["role"].(string)
		if !llm.RoleAllowed(role) {
			return req, nil, invalidf(ToolLLMChat, "messages[%d] role must be one of system, user, assistant, tool", i)
		}
		content, ok := m["content"].(string)
		if !ok {
			return req, nil, invalidf(ToolLLMChat, "messages[%d] content must be a string", i)
		}
		req.Messages = append(req.Messages, llm.Message{Role: role, Content: content})
	}

	if v, ok := r.take("temperature"); ok {
		f, ok := floatFromAny(v)
		if !ok {
			return req, nil, invalidf(ToolLLMChat, "temperature must be a number")
		}
		temp := float32(f)
		req.Temperature = &temp
	}
	maxTokens, err := r.intField("max_output_tokens")
	if err != nil {
		return req, nil, err
	}
	if maxTokens != nil {
		if *maxTokens <= 0 {
			return req, nil, invalidf(ToolLLMChat, "max_output_tokens must be positive")
		}
		req.MaxOutputTokens = maxTokens
	}
	if v, ok := r.take("tools"); ok {
		defs, ok := v.([]any)
		if !ok {
			return req, nil, invalidf(ToolLLMChat, "tools must be an array")
		}
		req.Tools = defs
	}
	if v, ok := r.take("tool_choice"); ok {
		req.ToolChoice = v
	}
	if req.ReasoningEffort, err = r.enumField("reasoning_effort", llmEfforts); err != nil {
		return req, nil, err
	}

	// "include" is accepted and recorded but not forwarded upstream.
	meta := map[string]string{}
	if v, ok := r.take("include"); ok {
		include, err := includeValues(v)
		if err != nil {
			return req, nil, err
		}
		meta["include"] = include
	}

	return req, meta, r.rest()
}

func includeValues(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			s, ok := item.(string)
			if !ok {
				return "", invalidf(ToolLLMChat, "include must be a string or array of strings")
			}
			parts = append(parts, s)
		}
		return strings.Join(parts, ","), nil
	}
	return "", invalidf(ToolLLMChat, "include must be a string or array of strings")
}

func validateSearchRepo(args []any, kwargs map[string]any) (search.RepoSearchParams, error) {
	var p search.RepoSearchParams
	if err := rejectPositional(ToolSearchRepo, args); err != nil {
		return p, err
	}
	r := newArgReader(ToolSearchRepo, kwargs)

	var err error
	if p.RepoURL, err = r.stringField("repo_url", true); err != nil {
		return p, err
	}
	if p.CommitSHA, err = r.stringField("commit_sha", true); err != nil {
		return p, err
	}
	if p.Query, err = r.stringField("query", true); err != nil {
		return p, err
	}
	if p.PathGlob, err = r.stringField("path_glob", false); err != nil {
		return p, err
	}
	if p.Limit, err = r.intField("limit"); err != nil {
		return p, err
	}
	if p.Limit != nil && *p.Limit <= 0 {
		return p, invalidf(ToolSearchRepo, "limit must be positive")
	}
	return p, r.rest()
}

func validateGetRepoFile(args []any, kwargs map[string]any) (search.RepoFileParams, error) {
	var p search.RepoFileParams
	if err := rejectPositional(ToolGetRepoFile, args); err != nil {
		return p, err
	}
	r := newArgReader(ToolGetRepoFile, kwargs)

	var err error
	if p.RepoURL, err = r.stringField("repo_url", true); err != nil {
		return p, err
	}
	if p.CommitSHA, err = r.stringField("commit_sha", true); err != nil {
		return p, err
	}
	if p.Path, err = r.stringField("path", true); err != nil {
		return p, err
	}
	if p.StartLine, err = r.intField("start_line"); err != nil {
		return p, err
	}
	if p.EndLine, err = r.intField("end_line"); err != nil {
		return p, err
	}
	if p.StartLine != nil && *p.StartLine < 1 {
		return p, invalidf(ToolGetRepoFile, "start_line must be at least 1")
	}
	if p.EndLine != nil && p.StartLine != nil && *p.EndLine < *p.StartLine {
		return p, invalidf(ToolGetRepoFile, "end_line must not precede start_line")
	}
	return p, r.rest()
}

func validateSearchItems(args []any, kwargs map[string]any) (search.FeedSearchParams, error) {
	var p search.FeedSearchParams
	if err := rejectPositional(ToolSearchItems, args); err != nil {
		return p, err
	}
	r := newArgReader(ToolSearchItems, kwargs)

	var err error
	if p.FeedID, err = r.stringField("feed_id", true); err != nil {
		return p, err
	}
	seq, ok, err := r.int64Field("enqueue_seq")
	if err != nil {
		return p, err
	}
	if !ok {
		return p, invalidf(ToolSearchItems, "enqueue_seq is required")
	}
	if seq < 0 {
		return p, invalidf(ToolSearchItems, "enqueue_seq must not be negative")
	}
	p.EnqueueSeq = seq

	if p.SearchQueries, err = r.stringsField("search_queries"); err != nil {
		return p, err
	}
	if len(p.SearchQueries) == 0 {
		return p, invalidf(ToolSearchItems, "search_queries must contain at least one query")
	}
	if p.NumHit, err = r.requiredIntField("num_hit"); err != nil {
		return p, err
	}
	if err := boundedCount(ToolSearchItems, "num_hit", p.NumHit); err != nil {
		return p, err
	}
	return p, r.rest()
}

func floatFromAny(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
