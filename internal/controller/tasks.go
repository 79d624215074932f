package controller

import (
	"context"
	"sync"

	"github.com/go-logr/logr"
)

// Task is a secondary job, such as releasing a hook or stopping the relay,
// whose outcome can be observed.
type Task struct {
	Name string

	done chan struct{}
	err  error
}

// Done is closed when the task has finished.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err waits for the task and returns its result.
func (t *Task) Err() error {
	<-t.done
	return t.err
}

// TaskGroup runs tasks in the background and remembers them until they are
// collected.
type TaskGroup struct {
	log logr.Logger

	mu    sync.Mutex
	wg    sync.WaitGroup
	tasks []*Task
}

// NewTaskGroup creates an empty task group.
func NewTaskGroup(log logr.Logger) *TaskGroup {
	return &TaskGroup{log: log}
}

// Go starts fn as a task. Failures are logged and recorded on the task.
func (g *TaskGroup) Go(ctx context.Context, name string, fn func(ctx context.Context) error) *Task {
	t := &Task{Name: name, done: make(chan struct{})}

	g.mu.Lock()
	g.tasks = append(g.tasks, t)
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer close(t.done)

		t.err = fn(ctx)
		if t.err != nil {
			g.log.Error(t.err, "Task failed", "task", name)
			return
		}
		g.log.V(1).Info("Task completed", "task", name)
	}()

	return t
}

// Tasks returns every task started so far.
func (g *TaskGroup) Tasks() []*Task {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Task(nil), g.tasks...)
}

// Wait blocks until all started tasks finish or ctx ends.
func (g *TaskGroup) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
