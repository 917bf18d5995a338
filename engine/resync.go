package engine

import (
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/scheduler"
)

const resyncTaskName = "resync"

// resyncTask keeps the index consistent with entity bounds. A pass walks a
// snapshot of the indexed and parked entities and may span several ticks.
// Moved entities are removed and inserted again within the same unit of
// work. Unchanged entities only count toward the time check.
type resyncTask struct {
	engine   *Engine
	snapshot []*models.Entity
	pos      int
}

func (t *resyncTask) Name() string {
	return resyncTaskName
}

func (t *resyncTask) Step(s *scheduler.Slice) scheduler.Status {
	if t.snapshot == nil {
		t.snapshot = append(t.engine.index.Entities(), t.engine.index.ParkedEntities()...)
		t.pos = 0
	}

	index := t.engine.index
	for t.pos < len(t.snapshot) {
		e := t.snapshot[t.pos]
		t.pos++

		var suspend bool
		switch {
		case !index.Contains(e) && !index.Parked(e):
			suspend = s.Skip()

		case e.Destroyed():
			index.Remove(e)
			suspend = s.Done()

		case e.Changed():
			index.Insert(e)
			suspend = s.Done()

		default:
			suspend = s.Skip()
		}

		if suspend && t.pos < len(t.snapshot) {
			return scheduler.Suspended
		}
	}

	t.snapshot = nil
	return scheduler.PassComplete
}
