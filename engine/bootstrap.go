package engine

import (
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/models"
	"github.com/aukilabs/kenaz/scheduler"
)

const bootstrapTaskName = "bootstrap"

// bootstrapTask indexes the entities present in the scene when the engine
// starts.
type bootstrapTask struct {
	engine   *Engine
	entities []*models.Entity
	started  bool
	pos      int
	indexed  int
}

func (t *bootstrapTask) Name() string {
	return bootstrapTaskName
}

func (t *bootstrapTask) Step(s *scheduler.Slice) scheduler.Status {
	if !t.started {
		t.entities = t.engine.scene.Entities()
		t.started = true
	}

	for t.pos < len(t.entities) {
		e := t.entities[t.pos]
		t.pos++

		var suspend bool
		if t.engine.eligible(e) {
			if t.engine.index.Insert(e) {
				t.indexed++
			}
			suspend = s.Done()
		} else {
			suspend = s.Skip()
		}

		if suspend && t.pos < len(t.entities) {
			return scheduler.Suspended
		}
	}

	t.engine.bootstrapped.Store(true)
	logs.WithTag(EngineIDTag, t.engine.ID).
		WithTag("scanned", len(t.entities)).
		WithTag("indexed", t.indexed).
		Info("bootstrap completed")

	t.entities = nil
	return scheduler.Finished
}
