package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai/jsonschema"

	"jobpipe/internal/reference"
)

const systemPrompt = `You classify job postings. For every posting you receive, choose labels
from the closed lists below. Use the label spelling exactly as listed and never
invent labels. Answer with JSON only: {"results": [ ... one object per posting,
in the order given ... ]}.`

// BuildSystemPrompt describes the taxonomies the model must choose from.
func BuildSystemPrompt(taxonomies []reference.Taxonomy) string {
	var b strings.Builder

	b.WriteString(systemPrompt)

	for _, tx := range taxonomies {
		b.WriteString("\n\n")

		if tx.Multi {
			fmt.Fprintf(&b, "%q: a list with every applicable label (may be empty)", tx.Name)
		} else {
			fmt.Fprintf(&b, "%q: exactly one label", tx.Name)
		}

		if tx.Description != "" {
			fmt.Fprintf(&b, ". %s", tx.Description)
		}

		b.WriteString("\n- ")
		b.WriteString(strings.Join(tx.Labels, "\n- "))
	}

	return b.String()
}

// BuildUserPrompt lists the postings as a JSON array of strings.
func BuildUserPrompt(texts []string) (string, error) {
	payload, err := json.Marshal(texts)
	if err != nil {
		return "", fmt.Errorf("encode texts: %w", err)
	}

	return fmt.Sprintf("Classify these %d job posting(s):\n%s", len(texts), payload), nil
}

// ResponseSchema is the structured-output schema for a reply.
func ResponseSchema(taxonomies []reference.Taxonomy) *jsonschema.Definition {
	item := jsonschema.Definition{
		Type:                 jsonschema.Object,
		Properties:           make(map[string]jsonschema.Definition, len(taxonomies)),
		AdditionalProperties: false,
	}

	for _, tx := range taxonomies {
		label := jsonschema.Definition{Type: jsonschema.String, Enum: tx.Labels}

		if tx.Multi {
			item.Properties[tx.Name] = jsonschema.Definition{Type: jsonschema.Array, Items: &label, Description: tx.Description}
		} else {
			label.Description = tx.Description
			item.Properties[tx.Name] = label
		}

		item.Required = append(item.Required, tx.Name)
	}

	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"results": {Type: jsonschema.Array, Items: &item},
		},
		Required:             []string{"results"},
		AdditionalProperties: false,
	}
}
