package intersection

import "github.com/aukilabs/kenaz/models"

// Listener receives the probe transitions computed by a resolver.
type Listener interface {
	OnEnter(p *Probe, e *models.Entity)
	OnStay(p *Probe, e *models.Entity)
	OnExit(p *Probe, e *models.Entity)
}

// Listeners fans events out to multiple listeners, in order.
type Listeners []Listener

func (l Listeners) OnEnter(p *Probe, e *models.Entity) {
	for _, listener := range l {
		listener.OnEnter(p, e)
	}
}

func (l Listeners) OnStay(p *Probe, e *models.Entity) {
	for _, listener := range l {
		listener.OnStay(p, e)
	}
}

func (l Listeners) OnExit(p *Probe, e *models.Entity) {
	for _, listener := range l {
		listener.OnExit(p, e)
	}
}

// ListenerFuncs is a listener made of optional functions.
type ListenerFuncs struct {
	Enter func(*Probe, *models.Entity)
	Stay  func(*Probe, *models.Entity)
	Exit  func(*Probe, *models.Entity)
}

func (l ListenerFuncs) OnEnter(p *Probe, e *models.Entity) {
	if l.Enter != nil {
		l.Enter(p, e)
	}
}

func (l ListenerFuncs) OnStay(p *Probe, e *models.Entity) {
	if l.Stay != nil {
		l.Stay(p, e)
	}
}

func (l ListenerFuncs) OnExit(p *Probe, e *models.Entity) {
	if l.Exit != nil {
		l.Exit(p, e)
	}
}

type nopListener struct{}

func (nopListener) OnEnter(*Probe, *models.Entity) {}
func (nopListener) OnStay(*Probe, *models.Entity)  {}
func (nopListener) OnExit(*Probe, *models.Entity)  {}
