package classify

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"jobpipe/internal/reference"
)

// resultsKey wraps batched replies: {"results": [{...}, {...}]}.
const resultsKey = "results"

// DecodeResponse is the primary decoder. It accepts {"results": [...]}, a bare
// JSON array, or a bare object when a single text was sent. Each item maps
// taxonomy names to a string or a list of strings. The item count must equal
// the number of texts. Labels are returned unfiltered.
func DecodeResponse(raw string, n int, taxonomies []reference.Taxonomy) ([]Labels, error) {
	body := stripFences(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty reply", ErrMalformedResponse)
	}

	var items []map[string]json.RawMessage

	switch body[0] {
	case '[':
		if err := json.Unmarshal([]byte(body), &items); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}
	case '{':
		var obj map[string]json.RawMessage
		if err := json.Unmarshal([]byte(body), &obj); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
		}

		if wrapped, ok := obj[resultsKey]; ok && !isTaxonomy(resultsKey, taxonomies) {
			if err := json.Unmarshal(wrapped, &items); err != nil {
				return nil, fmt.Errorf("%w: results: %w", ErrMalformedResponse, err)
			}
		} else {
			items = []map[string]json.RawMessage{obj}
		}
	default:
		return nil, fmt.Errorf("%w: reply is not JSON", ErrMalformedResponse)
	}

	if len(items) != n {
		return nil, fmt.Errorf("%w: got %d results for %d texts", ErrMalformedResponse, len(items), n)
	}

	out := make([]Labels, len(items))

	for i, item := range items {
		labels, err := decodeItem(item, taxonomies)
		if err != nil {
			return nil, fmt.Errorf("%w: results[%d]: %w", ErrMalformedResponse, i, err)
		}

		out[i] = labels
	}

	return out, nil
}

func decodeItem(item map[string]json.RawMessage, taxonomies []reference.Taxonomy) (Labels, error) {
	labels := make(Labels, len(taxonomies))
	found := 0

	for _, tx := range taxonomies {
		value, ok := item[tx.Name]
		if !ok {
			continue
		}

		found++

		values, err := decodeValue(value)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", tx.Name, err)
		}

		labels[tx.Name] = values
	}

	if found == 0 {
		return nil, fmt.Errorf("no taxonomy field present")
	}

	return labels, nil
}

func decodeValue(value json.RawMessage) ([]string, error) {
	trimmed := strings.TrimSpace(string(value))
	if trimmed == "null" {
		return nil, nil
	}

	var single string
	if err := json.Unmarshal(value, &single); err == nil {
		return []string{single}, nil
	}

	var list []string
	if err := json.Unmarshal(value, &list); err != nil {
		return nil, fmt.Errorf("expected string or list of strings")
	}

	return list, nil
}

// quoted matches a double-quoted string without escapes.
var quoted = regexp.MustCompile(`"([^"]+)"`)

// DecodeFallback is the best-effort decoder used only after the primary
// decoder has failed on every attempt for a single text. It takes the first
// quoted string that is not a key name, or the whole reply when nothing is
// quoted, as the value of the first single-valued taxonomy.
func DecodeFallback(raw string, taxonomies []reference.Taxonomy) (Labels, error) {
	target, ok := fallbackTaxonomy(taxonomies)
	if !ok {
		return nil, fmt.Errorf("%w: no taxonomy to recover", ErrMalformedResponse)
	}

	body := stripFences(raw)

	for _, m := range quoted.FindAllStringSubmatch(body, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate == "" || candidate == resultsKey || isTaxonomy(candidate, taxonomies) {
			continue
		}

		return Labels{target.Name: {candidate}}, nil
	}

	if body != "" && !strings.ContainsAny(body, `"{}[]`) && !strings.Contains(body, "\n") {
		return Labels{target.Name: {body}}, nil
	}

	return nil, fmt.Errorf("%w: nothing recoverable", ErrMalformedResponse)
}

func fallbackTaxonomy(taxonomies []reference.Taxonomy) (reference.Taxonomy, bool) {
	for _, tx := range taxonomies {
		if !tx.Multi {
			return tx, true
		}
	}

	if len(taxonomies) > 0 {
		return taxonomies[0], true
	}

	return reference.Taxonomy{}, false
}

func isTaxonomy(name string, taxonomies []reference.Taxonomy) bool {
	for _, tx := range taxonomies {
		if tx.Name == name {
			return true
		}
	}

	return false
}

// stripFences removes markdown code fences from model output.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")

	return strings.TrimSpace(s)
}

// filterLabels validates decoded labels against the taxonomies. Every
// taxonomy gets an entry, possibly empty.
func filterLabels(labels Labels, taxonomies []reference.Taxonomy) Labels {
	out := make(Labels, len(taxonomies))

	for _, tx := range taxonomies {
		out[tx.Name] = tx.Filter(labels[tx.Name])
	}

	return out
}

// emptyLabels is the label set of a failed record.
func emptyLabels(taxonomies []reference.Taxonomy) Labels {
	out := make(Labels, len(taxonomies))
	for _, tx := range taxonomies {
		out[tx.Name] = []string{}
	}

	return out
}

// hasAny reports whether at least one taxonomy received a label.
func (l Labels) hasAny() bool {
	for _, v := range l {
		if len(v) > 0 {
			return true
		}
	}

	return false
}
