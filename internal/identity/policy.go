package identity

import "github.com/agenticnav/navigator/internal/a2a"

// Policy is the static send-authorisation table. Deny by default: the
// orchestrator may address any recipient; worker agents may only address
// the orchestrator or broadcast.
type Policy struct {
	allowed map[string]map[string]bool
}

// NewPolicy builds the canonical authorisation policy.
func NewPolicy() *Policy {
	workerTargets := map[string]bool{
		a2a.AgentOrchestrator: true,
		a2a.Broadcast:         true,
	}
	return &Policy{
		allowed: map[string]map[string]bool{
			a2a.AgentOrchestrator: nil, // nil means any recipient
			a2a.AgentSummariser:   workerTargets,
			a2a.AgentLinker:       workerTargets,
			a2a.AgentVisualiser:   workerTargets,
		},
	}
}

// CanSend reports whether sender is authorised to address recipient.
func (p *Policy) CanSend(sender, recipient string) bool {
	targets, known := p.allowed[sender]
	if !known {
		return false
	}
	if targets == nil {
		return true
	}
	return targets[recipient]
}
