package api

import (
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"cluster-chaos/internal/chaos"
	"cluster-chaos/internal/logging"
	"cluster-chaos/internal/storage"
)

const runPrefix = "run/"

var ErrRunNotFound = errors.New("run not found")

// RunRecord is a run as served by the API and as kept in history. Action
// and Result decode as plain maps when read back from the store.
type RunRecord struct {
	ID         string      `json:"id"`
	Kind       chaos.Kind  `json:"kind"`
	State      chaos.State `json:"state"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	Action     interface{} `json:"action,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
}

func recordOf(s chaos.RunStatus) RunRecord {
	return RunRecord{
		ID:         s.ID,
		Kind:       s.Kind,
		State:      s.State,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Action:     s.Action,
		Result:     s.Result,
		Error:      s.Error,
	}
}

// History writes finished runs to a store under "run/<id>". It shares the
// store with the fault-rule journal.
type History struct {
	store  storage.Store
	logger *logging.Logger
	wg     sync.WaitGroup
}

func NewHistory(store storage.Store, logger *logging.Logger) *History {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &History{store: store, logger: logger.WithComponent("history")}
}

// Track records run once it finishes. saved, when set, is called with the
// run id after the record is written.
func (h *History) Track(run *chaos.Run, saved func(id string)) {
	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		<-run.Done()
		if err := h.Save(run.Status()); err != nil {
			h.logger.Warn("Failed to record run", "action_id", run.ID, "error", err)
			return
		}
		if saved != nil {
			saved(run.ID)
		}
	}()
}

// Flush waits for tracked runs that have finished to be written
func (h *History) Flush() { h.wg.Wait() }

func (h *History) Save(s chaos.RunStatus) error {
	return errors.Wrapf(h.store.Put(runPrefix+s.ID, recordOf(s)), "saving run %s", s.ID)
}

func (h *History) Get(id string) (RunRecord, error) {
	var rec RunRecord
	err := h.store.Get(runPrefix+id, &rec)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return RunRecord{}, ErrRunNotFound
	}
	return rec, err
}

// List returns stored runs, newest first
func (h *History) List() ([]RunRecord, error) {
	var out []RunRecord
	err := h.store.List(runPrefix, func(_ string, decode func(interface{}) error) error {
		var rec RunRecord
		if err := decode(&rec); err != nil {
			return err
		}
		out = append(out, rec)
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, err
}
