// Package agents provides deterministic reference implementations of the
// four workflow plug-ins. They make the runtime exercisable end-to-end;
// deployments swap in model-backed plug-ins behind the same interface.
package agents

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/session"
	"github.com/agenticnav/navigator/internal/workflow"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

// codebaseMarkers are tokens that indicate source code rather than prose.
var codebaseMarkers = []string{"package ", "func ", "class ", "import ", "def ", "#include", "const ", "module "}

// stopwords excluded from entity extraction.
var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "but": true, "by": true, "for": true, "from": true, "has": true,
	"have": true, "in": true, "into": true, "is": true, "it": true, "its": true,
	"of": true, "on": true, "or": true, "that": true, "the": true, "their": true,
	"this": true, "to": true, "was": true, "were": true, "which": true, "with": true,
}

var (
	sentenceSplit = regexp.MustCompile(`[.!?]+\s*`)
	wordPattern   = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]*`)
)

// Orchestrator settles the content type and records planning notes.
type Orchestrator struct{}

// NewOrchestrator creates the orchestrator plug-in.
func NewOrchestrator() *Orchestrator { return &Orchestrator{} }

// Name implements workflow.Agent.
func (o *Orchestrator) Name() string { return a2a.AgentOrchestrator }

// Process implements workflow.Agent.
func (o *Orchestrator) Process(ctx context.Context, sc *session.Context, opts workflow.Options) (*workflow.PartialResult, error) {
	contentType := string(sc.ContentType)
	if contentType == "" {
		contentType = string(v1.ContentTypeDocument)
		for _, marker := range codebaseMarkers {
			if strings.Contains(sc.RawInput, marker) {
				contentType = string(v1.ContentTypeCodebase)
				break
			}
		}
	}

	return &workflow.PartialResult{
		SummaryInsights: map[string]any{
			"content_type": contentType,
			"orchestrator_notes": fmt.Sprintf(
				"dispatching %s pipeline over %d bytes with %s model",
				contentType, len(sc.RawInput), opts.ModelType),
		},
	}, nil
}

// Summariser produces a naive extractive summary with basic insights.
type Summariser struct{}

// NewSummariser creates the summariser plug-in.
func NewSummariser() *Summariser { return &Summariser{} }

// Name implements workflow.Agent.
func (s *Summariser) Name() string { return a2a.AgentSummariser }

// Process implements workflow.Agent.
func (s *Summariser) Process(ctx context.Context, sc *session.Context, opts workflow.Options) (*workflow.PartialResult, error) {
	if opts.Cancelled != nil && opts.Cancelled() {
		return nil, context.Canceled
	}

	sentences := splitSentences(sc.RawInput)
	summary := strings.TrimSpace(sc.RawInput)
	if len(sentences) > 2 {
		summary = strings.Join(sentences[:2], ". ") + "."
	}
	if summary == "" {
		summary = "(empty input)"
	}

	// The built-in summariser has no GPU inference service to reach, so an
	// accelerated request falls back to the primary path and records it.
	insights := map[string]any{
		"word_count":     len(words(sc.RawInput)),
		"sentence_count": len(sentences),
		"model_type":     opts.ModelType,
	}
	if opts.ModelType == "accelerated" {
		insights["model_type"] = "primary"
		insights["model_fallback"] = "accelerated unavailable, fell back to primary"
	}

	return &workflow.PartialResult{
		SummaryText:     summary,
		SummaryInsights: insights,
	}, nil
}

func words(text string) []string {
	return wordPattern.FindAllString(text, -1)
}

// Linker extracts entities and heuristic relationships.
type Linker struct{}

// NewLinker creates the linker plug-in.
func NewLinker() *Linker { return &Linker{} }

// Name implements workflow.Agent.
func (l *Linker) Name() string { return a2a.AgentLinker }

// Process implements workflow.Agent.
func (l *Linker) Process(ctx context.Context, sc *session.Context, opts workflow.Options) (*workflow.PartialResult, error) {
	if opts.Cancelled != nil && opts.Cancelled() {
		return nil, context.Canceled
	}

	var entities []string
	seen := make(map[string]bool)
	metadata := make(map[string]map[string]any)

	for position, raw := range wordPattern.FindAllString(sc.RawInput, -1) {
		word := strings.ToLower(raw)
		if len(word) < 3 || stopwords[word] {
			continue
		}
		if !seen[word] {
			seen[word] = true
			entities = append(entities, word)
			metadata[word] = map[string]any{
				"occurrences":    1,
				"first_position": position,
			}
			continue
		}
		metadata[word]["occurrences"] = metadata[word]["occurrences"].(int) + 1
	}

	// Relate entities that share a sentence, first occurrence wins.
	var relationships []session.EntityRelationship
	related := make(map[string]bool)
	for _, sentence := range splitSentences(sc.RawInput) {
		var inSentence []string
		sentenceSeen := make(map[string]bool)
		for _, raw := range wordPattern.FindAllString(sentence, -1) {
			word := strings.ToLower(raw)
			if seen[word] && !sentenceSeen[word] {
				sentenceSeen[word] = true
				inSentence = append(inSentence, word)
			}
		}
		for i := 0; i+1 < len(inSentence); i++ {
			key := inSentence[i] + "\x00" + inSentence[i+1]
			if related[key] {
				continue
			}
			related[key] = true
			relationships = append(relationships, session.EntityRelationship{
				Source:     inSentence[i],
				Target:     inSentence[i+1],
				Type:       "related_to",
				Label:      "appears with",
				Confidence: session.ConfidenceMedium,
			})
		}
	}

	if entities == nil {
		entities = []string{}
	}
	if relationships == nil {
		relationships = []session.EntityRelationship{}
	}
	return &workflow.PartialResult{
		KeyEntities:    entities,
		Relationships:  relationships,
		EntityMetadata: metadata,
	}, nil
}

// Visualiser lays out the knowledge graph from the linked entities.
type Visualiser struct{}

// NewVisualiser creates the visualiser plug-in.
func NewVisualiser() *Visualiser { return &Visualiser{} }

// Name implements workflow.Agent.
func (v *Visualiser) Name() string { return a2a.AgentVisualiser }

// Process implements workflow.Agent.
func (v *Visualiser) Process(ctx context.Context, sc *session.Context, opts workflow.Options) (*workflow.PartialResult, error) {
	graphType := session.GraphTypeMindMap
	if sc.ContentType == v1.ContentTypeCodebase {
		graphType = session.GraphTypeFlowchart
	}

	graph := &session.Graph{
		Type:  graphType,
		Nodes: []session.GraphNode{},
		Edges: []session.GraphEdge{},
	}
	for i, entity := range sc.KeyEntities {
		group := "entity"
		if i == 0 {
			group = "root"
		}
		graph.Nodes = append(graph.Nodes, session.GraphNode{
			ID:    entity,
			Label: entity,
			Group: group,
		})
	}
	for _, rel := range sc.Relationships {
		graph.Edges = append(graph.Edges, session.GraphEdge{
			Source: rel.Source,
			Target: rel.Target,
			Label:  rel.Label,
		})
	}

	return &workflow.PartialResult{GraphJSON: graph}, nil
}

// Registry returns the built-in plug-ins keyed by canonical name.
func Registry() map[string]workflow.Agent {
	return map[string]workflow.Agent{
		a2a.AgentOrchestrator: NewOrchestrator(),
		a2a.AgentSummariser:   NewSummariser(),
		a2a.AgentLinker:       NewLinker(),
		a2a.AgentVisualiser:   NewVisualiser(),
	}
}

func splitSentences(text string) []string {
	parts := sentenceSplit.Split(strings.TrimSpace(text), -1)
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
