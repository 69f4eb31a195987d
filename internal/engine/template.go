package engine

import "github.com/Priya8975/token-settlement-orchestrator/internal/domain"

// CarryForward builds the next event of a workflow: the prior record is
// copied and fresh overlaid on top. Values absent in prior stay absent
// unless fresh sets them. The log assigns id and created_at on append.
func CarryForward(prior domain.Event, kind domain.Kind, fresh domain.Record) domain.Event {
	return domain.Event{
		Kind:   kind,
		Record: prior.Record.Overlay(fresh),
	}
}
