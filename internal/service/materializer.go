package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"planner-engine/internal/logging"
	"planner-engine/internal/recurrence"
)

// Materializer turns one due occurrence into a task and advances the rule's
// cursor to it, both inside one store transaction.
type Materializer struct {
	store recurrence.Store
	log   zerolog.Logger
}

func NewMaterializer(store recurrence.Store, log zerolog.Logger) *Materializer {
	return &Materializer{store: store, log: logging.Component(log, "materializer")}
}

// Materialize returns the instance and the rule as stored afterwards. When
// the instance already exists for (rule, dueAt), e.g. after a crash between
// create and cursor advance, it is reused and only the cursor moves.
func (m *Materializer) Materialize(ctx context.Context, rule recurrence.Rule, occ recurrence.Occurrence) (recurrence.Instance, recurrence.Rule, error) {
	if occ.RuleID != rule.ID {
		return recurrence.Instance{}, rule, fmt.Errorf("%w: occurrence of rule %d given to rule %d", recurrence.ErrInvalidRule, occ.RuleID, rule.ID)
	}
	if rule.LastMaterializedAt != nil && !occ.DueAt.After(*rule.LastMaterializedAt) {
		return recurrence.Instance{}, rule, fmt.Errorf("occurrence %s is not after cursor %s: %w",
			occ.DueAt.Format("2006-01-02T15:04"), rule.LastMaterializedAt.Format("2006-01-02T15:04"), recurrence.ErrConflict)
	}

	var inst recurrence.Instance
	err := m.store.Atomically(ctx, func(tx recurrence.Store) error {
		created, err := tx.CreateInstance(ctx, rule, occ.DueAt)
		if err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		if err := tx.AdvanceCursor(ctx, rule.ID, rule.Version, occ.DueAt); err != nil {
			return fmt.Errorf("advance cursor: %w", err)
		}
		inst = created
		return nil
	})
	if err != nil {
		return recurrence.Instance{}, rule, err
	}

	next := rule.WithCursor(occ.DueAt)
	next.Version++
	m.log.Debug().
		Uint("rule_id", rule.ID).
		Uint("task_id", inst.TaskID).
		Time("due_at", occ.DueAt).
		Bool("created", inst.Created).
		Msg("occurrence materialized")
	return inst, next, nil
}
