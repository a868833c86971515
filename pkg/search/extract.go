package search

import "sort"

// Providers differ in their envelope keys ("data", "results", per-source
// sections in AI search), so extraction walks the whole payload rather than
// binding to one schema. The walk is deterministic: sorted map keys, slice
// order, first occurrence wins on duplicate URLs. Determinism matters because
// the entry count prices per-result tools.

const maxExtractDepth = 16

var (
	urlKeys   = []string{"url", "link"}
	titleKeys = []string{"title", "name", "username"}
	noteKeys  = []string{"snippet", "description", "text", "summary", "note"}
)

// Extract collects the referenceable entries from a provider payload.
func Extract(payload any) []Entry {
	var out []Entry
	seen := make(map[string]struct{})
	walkPayload(payload, seen, &out, 0)
	return out
}

func walkPayload(v any, seen map[string]struct{}, out *[]Entry, depth int) {
	if depth > maxExtractDepth {
		return
	}
	switch t := v.(type) {
	case map[string]any:
		if entry, ok := entryOf(t); ok {
			if _, dup := seen[entry.URL]; !dup {
				seen[entry.URL] = struct{}{}
				*out = append(*out, entry)
			}
			return
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkPayload(t[k], seen, out, depth+1)
		}
	case []any:
		for _, item := range t {
			walkPayload(item, seen, out, depth+1)
		}
	}
}

// entryOf converts a map into an Entry when it carries a URL.
func entryOf(m map[string]any) (Entry, bool) {
	url := firstString(m, urlKeys)
	if url == "" {
		return Entry{}, false
	}
	return Entry{
		URL:   url,
		Title: firstString(m, titleKeys),
		Note:  firstString(m, noteKeys),
	}, true
}

func firstString(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
