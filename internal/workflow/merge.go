package workflow

import (
	"go.uber.org/zap"

	"github.com/agenticnav/navigator/internal/a2a"
	"github.com/agenticnav/navigator/internal/common/logger"
	"github.com/agenticnav/navigator/internal/session"
	v1 "github.com/agenticnav/navigator/pkg/api/v1"
)

// mergePartial applies a partial result to the context, honouring the
// field-ownership table: each context field is writable by exactly one
// agent, and a field already written is never overwritten. Writes to
// fields the agent does not own are dropped; those to the summary text,
// entities, relationships or graph are also logged.
func mergePartial(sc *session.Context, agent string, partial *PartialResult, log *logger.Logger) {
	if partial == nil {
		return
	}

	switch agent {
	case a2a.AgentOrchestrator:
		if partial.SummaryText != "" || partial.KeyEntities != nil || partial.Relationships != nil || partial.GraphJSON != nil {
			log.Warn("orchestrator attempted writes outside its owned fields", zap.String("agent", agent))
		}
		// The orchestrator may settle an undetermined content type and
		// contribute its notes insight; nothing else.
		if sc.ContentType == "" && partial.SummaryInsights != nil {
			if ct, ok := partial.SummaryInsights["content_type"].(string); ok {
				sc.ContentType = v1.ContentType(ct)
			}
		}
		if notes, ok := partial.SummaryInsights["orchestrator_notes"]; ok {
			sc.SummaryInsights["orchestrator_notes"] = notes
		}

	case a2a.AgentSummariser:
		if partial.KeyEntities != nil || partial.Relationships != nil || partial.GraphJSON != nil {
			log.Warn("summariser attempted writes outside its owned fields", zap.String("agent", agent))
		}
		if partial.SummaryText != "" {
			if sc.SummaryText != "" {
				log.Warn("summary_text already written, ignoring rewrite")
			} else {
				sc.SummaryText = partial.SummaryText
			}
		}
		for k, v := range partial.SummaryInsights {
			if _, taken := sc.SummaryInsights[k]; taken {
				log.Warn("summary insight already written, ignoring rewrite", zap.String("key", k))
				continue
			}
			sc.SummaryInsights[k] = v
		}

	case a2a.AgentLinker:
		if partial.SummaryText != "" || partial.GraphJSON != nil {
			log.Warn("linker attempted writes outside its owned fields", zap.String("agent", agent))
		}
		if partial.KeyEntities != nil && sc.KeyEntities == nil {
			sc.KeyEntities = partial.KeyEntities
		}
		if partial.Relationships != nil && sc.Relationships == nil {
			sc.Relationships = partial.Relationships
		}
		for name, attrs := range partial.EntityMetadata {
			if _, taken := sc.EntityMetadata[name]; !taken {
				sc.EntityMetadata[name] = attrs
			}
		}

	case a2a.AgentVisualiser:
		if partial.SummaryText != "" || partial.KeyEntities != nil || partial.Relationships != nil {
			log.Warn("visualiser attempted writes outside its owned fields", zap.String("agent", agent))
		}
		if partial.GraphJSON != nil && sc.GraphJSON == nil {
			sc.GraphJSON = partial.GraphJSON
		}
	}

	for key := range partial.Unknown {
		log.Warn("ignoring unknown partial result key",
			zap.String("agent", agent),
			zap.String("key", key))
	}
}
