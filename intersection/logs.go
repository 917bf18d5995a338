package intersection

import (
	"github.com/aukilabs/go-tooling/pkg/logs"
	"github.com/aukilabs/kenaz/models"
)

const (
	ProbeIDTag  = "probe_id"
	EntityIDTag = "entity_id"
)

// ListenerWithLogs logs enter and exit transitions before forwarding them.
// Stay transitions are forwarded silently.
func ListenerWithLogs(l Listener) Listener {
	return listenerWithLogs{Listener: l}
}

type listenerWithLogs struct {
	Listener
}

func (l listenerWithLogs) OnEnter(p *Probe, e *models.Entity) {
	logs.WithTag(ProbeIDTag, p.ID).
		WithTag(EntityIDTag, e.ID).
		WithTag("entity_name", e.Name).
		Debug("probe entered entity")

	l.Listener.OnEnter(p, e)
}

func (l listenerWithLogs) OnExit(p *Probe, e *models.Entity) {
	logs.WithTag(ProbeIDTag, p.ID).
		WithTag(EntityIDTag, e.ID).
		Debug("probe exited entity")

	l.Listener.OnExit(p, e)
}
