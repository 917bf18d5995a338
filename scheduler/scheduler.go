package scheduler

import (
	"sync"
	"time"
)

// Status is the outcome of a task step.
type Status int

const (
	// The task has more work and resumes on the next tick.
	Suspended Status = iota

	// The task finished a pass and starts a new one on the next tick.
	PassComplete

	// The task is done and is dropped from the scheduler.
	Finished
)

func (s Status) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case PassComplete:
		return "pass_complete"
	case Finished:
		return "finished"
	default:
		return "unknown"
	}
}

// Task is a unit of background work that runs in bounded steps across
// scheduler ticks.
type Task interface {
	Name() string

	// Runs until the slice asks to suspend or the work is done. A step always
	// makes progress on at least one unit of work.
	Step(s *Slice) Status
}

// TaskFunc adapts a function to a Task.
type TaskFunc struct {
	TaskName string
	Func     func(s *Slice) Status
}

func (t TaskFunc) Name() string {
	return t.TaskName
}

func (t TaskFunc) Step(s *Slice) Status {
	return t.Func(s)
}

type Options struct {
	// The name used in metrics.
	Name string

	// The time a tick may spend running tasks.
	Limit time.Duration

	// The minimum time a step runs before yielding on ChunkSize.
	MinSlice time.Duration

	// The number of work units after which a step may yield early. 0 makes
	// steps run until the tick budget is spent.
	ChunkSize int

	Clock Clock
}

// TickResult summarizes a scheduler tick.
type TickResult struct {
	Steps    int
	Items    int
	Finished []string
	Elapsed  time.Duration
}

// Scheduler runs time-sliced tasks under a per-tick budget. Tasks share the
// budget and the task starting a tick rotates so none starves.
type Scheduler struct {
	opts Options

	mutex   sync.Mutex
	tasks   []Task
	ticks   uint64
	pending []Task
}

func New(opts Options) *Scheduler {
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.MinSlice <= 0 {
		opts.MinSlice = DefaultMinSlice
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Name == "" {
		opts.Name = "default"
	}

	return &Scheduler{opts: opts}
}

// Add queues a task. Tasks added during a tick start on the next one.
func (s *Scheduler) Add(t Task) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.pending = append(s.pending, t)
}

// Len returns the number of tasks that are not finished.
func (s *Scheduler) Len() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	return len(s.tasks) + len(s.pending)
}

// Tick runs the tasks under a fresh budget.
func (s *Scheduler) Tick() TickResult {
	s.mutex.Lock()
	s.tasks = append(s.tasks, s.pending...)
	s.pending = nil
	tasks := s.tasks
	tick := s.ticks
	s.ticks++
	s.mutex.Unlock()

	var res TickResult
	if len(tasks) == 0 {
		return res
	}

	budget := NewBudget(s.opts.Clock, s.opts.Limit, s.opts.MinSlice, s.opts.ChunkSize)
	finished := make(map[int]struct{})
	start := int(tick % uint64(len(tasks)))

	for i := 0; i < len(tasks); i++ {
		if i > 0 && budget.Exhausted() {
			break
		}

		idx := (start + i) % len(tasks)
		task := tasks[idx]

		slice := budget.Slice()
		status := task.Step(slice)
		res.Steps++

		instrumentStep(s.opts.Name, task.Name(), status, slice.Items())

		if status == Finished {
			finished[idx] = struct{}{}
			res.Finished = append(res.Finished, task.Name())
		}
	}

	res.Items = budget.Items()
	res.Elapsed = budget.Elapsed()
	instrumentTick(s.opts.Name, res.Elapsed)

	if len(finished) != 0 {
		s.mutex.Lock()
		remaining := make([]Task, 0, len(s.tasks)-len(finished))
		for i, t := range s.tasks {
			if _, ok := finished[i]; !ok {
				remaining = append(remaining, t)
			}
		}
		s.tasks = remaining
		s.mutex.Unlock()
	}

	return res
}
