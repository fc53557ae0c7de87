package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/session"
	"github.com/agenticnav/navigator/internal/workflow"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

const cellDoc = "The mitochondrion is the powerhouse of the cell."

func opts() workflow.Options {
	return workflow.Options{ModelType: "primary", CorrelationID: "session-1"}
}

func TestOrchestratorSniffsContentType(t *testing.T) {
	agent := NewOrchestrator()

	t.Run("prose is a document", func(t *testing.T) {
		sc := session.NewContext(cellDoc, "")
		partial, err := agent.Process(context.Background(), sc, opts())
		require.NoError(t, err)
		assert.Equal(t, string(v1.ContentTypeDocument), partial.SummaryInsights["content_type"])
		assert.NotEmpty(t, partial.SummaryInsights["orchestrator_notes"])
	})

	t.Run("source code is a codebase", func(t *testing.T) {
		sc := session.NewContext("package main\n\nfunc main() {}\n", "")
		partial, err := agent.Process(context.Background(), sc, opts())
		require.NoError(t, err)
		assert.Equal(t, string(v1.ContentTypeCodebase), partial.SummaryInsights["content_type"])
	})

	t.Run("explicit content type wins", func(t *testing.T) {
		sc := session.NewContext("package main", v1.ContentTypeDocument)
		partial, err := agent.Process(context.Background(), sc, opts())
		require.NoError(t, err)
		assert.Equal(t, string(v1.ContentTypeDocument), partial.SummaryInsights["content_type"])
	})
}

func TestSummariserProducesSummaryAndInsights(t *testing.T) {
	agent := NewSummariser()
	sc := session.NewContext(cellDoc, v1.ContentTypeDocument)

	partial, err := agent.Process(context.Background(), sc, opts())
	require.NoError(t, err)

	assert.NotEmpty(t, partial.SummaryText)
	assert.Equal(t, 8, partial.SummaryInsights["word_count"])
	assert.Equal(t, 1, partial.SummaryInsights["sentence_count"])
	assert.Equal(t, "primary", partial.SummaryInsights["model_type"])
}

func TestSummariserLogsAcceleratedFallback(t *testing.T) {
	agent := NewSummariser()
	sc := session.NewContext(cellDoc, v1.ContentTypeDocument)

	partial, err := agent.Process(context.Background(), sc, workflow.Options{ModelType: "accelerated"})
	require.NoError(t, err)

	assert.Equal(t, "primary", partial.SummaryInsights["model_type"])
	assert.NotEmpty(t, partial.SummaryInsights["model_fallback"])
}

func TestLinkerExtractsEntitiesAndRelationships(t *testing.T) {
	agent := NewLinker()
	sc := session.NewContext(cellDoc, v1.ContentTypeDocument)

	partial, err := agent.Process(context.Background(), sc, opts())
	require.NoError(t, err)

	assert.Contains(t, partial.KeyEntities, "mitochondrion")
	assert.Contains(t, partial.KeyEntities, "cell")
	assert.NotContains(t, partial.KeyEntities, "the")
	assert.NotEmpty(t, partial.Relationships)

	for _, rel := range partial.Relationships {
		assert.Equal(t, session.ConfidenceMedium, rel.Confidence)
		assert.NotEmpty(t, rel.Source)
		assert.NotEmpty(t, rel.Target)
	}

	require.Contains(t, partial.EntityMetadata, "mitochondrion")
	assert.Equal(t, 1, partial.EntityMetadata["mitochondrion"]["occurrences"])
}

func TestLinkerCountsRepeatedOccurrences(t *testing.T) {
	agent := NewLinker()
	sc := session.NewContext("cell walls protect the cell.", v1.ContentTypeDocument)

	partial, err := agent.Process(context.Background(), sc, opts())
	require.NoError(t, err)
	assert.Equal(t, 2, partial.EntityMetadata["cell"]["occurrences"])
}

func TestVisualiserGraphTypes(t *testing.T) {
	agent := NewVisualiser()

	t.Run("document yields mind map", func(t *testing.T) {
		sc := session.NewContext(cellDoc, v1.ContentTypeDocument)
		sc.KeyEntities = []string{"mitochondrion", "cell"}
		sc.Relationships = []session.EntityRelationship{{
			Source: "mitochondrion", Target: "cell", Type: "related_to", Label: "appears with",
			Confidence: session.ConfidenceMedium,
		}}

		partial, err := agent.Process(context.Background(), sc, opts())
		require.NoError(t, err)
		require.NotNil(t, partial.GraphJSON)
		assert.Equal(t, session.GraphTypeMindMap, partial.GraphJSON.Type)
		require.Len(t, partial.GraphJSON.Nodes, 2)
		assert.Equal(t, "root", partial.GraphJSON.Nodes[0].Group)
		assert.Len(t, partial.GraphJSON.Edges, 1)
	})

	t.Run("codebase yields flowchart", func(t *testing.T) {
		sc := session.NewContext("package main", v1.ContentTypeCodebase)
		partial, err := agent.Process(context.Background(), sc, opts())
		require.NoError(t, err)
		assert.Equal(t, session.GraphTypeFlowchart, partial.GraphJSON.Type)
	})
}

func TestRegistryCoversCanonicalSequence(t *testing.T) {
	registry := Registry()
	for _, name := range a2a.CanonicalSequence() {
		agent, ok := registry[name]
		require.True(t, ok, "missing plug-in for %s", name)
		assert.Equal(t, name, agent.Name())
	}
}

func TestAgentsHonourCancellation(t *testing.T) {
	cancelled := workflow.Options{
		ModelType: "primary",
		Cancelled: func() bool { return true },
	}
	sc := session.NewContext(cellDoc, v1.ContentTypeDocument)

	_, err := NewSummariser().Process(context.Background(), sc, cancelled)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewLinker().Process(context.Background(), sc, cancelled)
	assert.ErrorIs(t, err, context.Canceled)
}
