package faults

import (
	"time"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/cluster"
	"cluster-chaos/internal/storage"
)

const journalPrefix = "rule/"

// Entry is a journaled fault rule
type Entry struct {
	Node        string            `json:"node"`
	Rule        cluster.FaultRule `json:"rule"`
	ActionID    string            `json:"action_id,omitempty"`
	InstalledAt time.Time         `json:"installed_at"`
}

// Journal remembers every rule between install and confirmed removal so a
// restarted orchestrator can find rules it never got to remove.
type Journal struct {
	store storage.Store
}

func NewJournal(store storage.Store) *Journal {
	return &Journal{store: store}
}

func journalKey(node, ruleName string) string {
	return journalPrefix + node + "/" + ruleName
}

func (j *Journal) Record(e Entry) error {
	return errors.Wrapf(j.store.Put(journalKey(e.Node, e.Rule.Name), e), "journal rule %s on %s", e.Rule.Name, e.Node)
}

func (j *Journal) Forget(node, ruleName string) error {
	return errors.Wrapf(j.store.Delete(journalKey(node, ruleName)), "forget rule %s on %s", ruleName, node)
}

// Entries lists journaled rules ordered by node then rule name
func (j *Journal) Entries() ([]Entry, error) {
	var entries []Entry
	err := j.store.List(journalPrefix, func(key string, decode func(interface{}) error) error {
		var e Entry
		if err := decode(&e); err != nil {
			return errors.Wrapf(err, "decode %s", key)
		}
		entries = append(entries, e)
		return nil
	})
	return entries, err
}
