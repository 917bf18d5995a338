package models

import (
	"sync"

	"github.com/go-gl/mathgl/mgl32"
)

// A tracked pointer device.
type Pointer struct {
	ID uint32

	mutex            sync.RWMutex
	transform        mgl32.Mat4
	hasTransform     bool
	transformChanged bool
}

func (p *Pointer) SetTransform(m mgl32.Mat4) {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if p.hasTransform && p.transform == m {
		return
	}

	p.transform = m
	p.hasTransform = true
	p.transformChanged = true
}

// ClearTransform drops the pointer transform, usually when the device lost
// tracking.
func (p *Pointer) ClearTransform() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	if !p.hasTransform {
		return
	}

	p.transform = mgl32.Mat4{}
	p.hasTransform = false
	p.transformChanged = true
}

func (p *Pointer) Transform() (mgl32.Mat4, bool) {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.transform, p.hasTransform
}

func (p *Pointer) TransformChanged() bool {
	p.mutex.RLock()
	defer p.mutex.RUnlock()

	return p.transformChanged
}

func (p *Pointer) ClearTransformChanged() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	p.transformChanged = false
}
