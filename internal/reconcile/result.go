package reconcile

import (
	"time"

	"github.com/MattCruikshank/templatebot/internal/models"
)

// Op is what a run did to one entity.
type Op string

const (
	OpCreate Op = "create"
	OpDelete Op = "delete"
	OpSkip   Op = "skip" // privilege failure, run continued
	OpKeep   Op = "keep" // left in place on purpose
)

// Action is one journal entry.
type Action struct {
	Op     Op            `json:"op"`
	Entity models.Entity `json:"entity"`
	ID     string        `json:"id,omitempty"`
	Name   string        `json:"name"`
	Reason string        `json:"reason,omitempty"`
}

// Result describes one reconciliation run. Journal lists every action in
// the order it was committed, so a partially applied run can be inspected
// and undone by hand alongside the backup.
type Result struct {
	RunID      string    `json:"run_id"`
	GuildID    string    `json:"guild_id"`
	Template   string    `json:"template,omitempty"`
	BackupPath string    `json:"backup_path"`
	Journal    []Action  `json:"journal"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// Names returns the entity names journaled with op, in order.
func (r *Result) Names(op Op, entity models.Entity) []string {
	var names []string
	for _, a := range r.Journal {
		if a.Op == op && a.Entity == entity {
			names = append(names, a.Name)
		}
	}
	return names
}

// Count returns how many actions were journaled with op.
func (r *Result) Count(op Op) int {
	n := 0
	for _, a := range r.Journal {
		if a.Op == op {
			n++
		}
	}
	return n
}

// Skipped returns the actions that failed for lack of privilege.
func (r *Result) Skipped() []Action {
	var out []Action
	for _, a := range r.Journal {
		if a.Op == OpSkip {
			out = append(out, a)
		}
	}
	return out
}

func (r *Result) record(a Action) {
	r.Journal = append(r.Journal, a)
}
