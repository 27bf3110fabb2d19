package workflow

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// ErrSkipped is returned by a task action that had nothing to do.
var ErrSkipped = errors.New("skipped")

// Task is one node of the graph.
//
// DependsOn tasks are pulled into the plan and run first. MustRunAfter only
// orders tasks that are already planned. FinalizedBy tasks are pulled into
// the plan, run right after this task (even when it fails), and before
// anything that depends on or must run after it.
type Task struct {
	Name         string
	Group        string
	Description  string
	DependsOn    []string
	MustRunAfter []string
	FinalizedBy  []string
	Outputs      []string
	Action       func(ctx context.Context) error
}

type Graph struct {
	tasks map[string]*Task
	index map[string]int // registration order
}

func NewGraph() *Graph {
	return &Graph{tasks: map[string]*Task{}, index: map[string]int{}}
}

func (g *Graph) Register(t *Task) error {
	if _, ok := g.tasks[t.Name]; ok {
		return fmt.Errorf("task %q is already registered", t.Name)
	}
	g.index[t.Name] = len(g.tasks)
	g.tasks[t.Name] = t
	return nil
}

func (g *Graph) Lookup(name string) (*Task, bool) {
	t, ok := g.tasks[name]
	return t, ok
}

// Tasks returns all tasks in registration order.
func (g *Graph) Tasks() []*Task {
	list := make([]*Task, 0, len(g.tasks))
	for _, t := range g.tasks {
		list = append(list, t)
	}
	sort.Slice(list, func(i, j int) bool { return g.index[list[i].Name] < g.index[list[j].Name] })
	return list
}

// Plan compiles the goals and everything they pull in into a linear order.
func (g *Graph) Plan(goals ...string) ([]*Task, error) {
	selected := map[string]*Task{}
	queue := append([]string(nil), goals...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := selected[name]; ok {
			continue
		}

		t, ok := g.tasks[name]
		if !ok {
			return nil, fmt.Errorf("task %q not found", name)
		}
		selected[name] = t
		queue = append(queue, t.DependsOn...)
		queue = append(queue, t.FinalizedBy...)
	}

	edges := map[string]map[string]struct{}{} // before -> after
	addEdge := func(before, after string) {
		if edges[before] == nil {
			edges[before] = map[string]struct{}{}
		}
		edges[before][after] = struct{}{}
	}

	for name, t := range selected {
		for _, dep := range t.DependsOn {
			addEdge(dep, name)
		}
		for _, prior := range t.MustRunAfter {
			if _, ok := selected[prior]; ok {
				addEdge(prior, name)
			}
		}
		for _, fin := range t.FinalizedBy {
			addEdge(name, fin)
		}
	}

	// Finalizers of a task also run before the task's successors, unless the
	// finalizer itself requires the successor.
	for name, t := range selected {
		successors := map[string]struct{}{}
		for after := range edges[name] {
			successors[after] = struct{}{}
		}
		finalizers := g.finalizerClosure(t)
		for _, fin := range finalizers {
			requires := g.dependencyClosure(selected[fin])
			for after := range successors {
				if _, ok := requires[after]; ok || contains(finalizers, after) {
					continue
				}
				addEdge(fin, after)
			}
		}
	}

	return g.sort(selected, edges)
}

func (g *Graph) sort(selected map[string]*Task, edges map[string]map[string]struct{}) ([]*Task, error) {
	inDegree := make(map[string]int, len(selected))
	for name := range selected {
		inDegree[name] = 0
	}
	for name := range selected {
		for after := range edges[name] {
			inDegree[after]++
		}
	}

	ready := []string{}
	for name, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}

	plan := make([]*Task, 0, len(selected))
	for len(ready) > 0 {
		sort.Slice(ready, func(i, j int) bool { return g.index[ready[i]] < g.index[ready[j]] })
		name := ready[0]
		ready = ready[1:]
		plan = append(plan, selected[name])

		for after := range edges[name] {
			inDegree[after]--
			if inDegree[after] == 0 {
				ready = append(ready, after)
			}
		}
	}

	if len(plan) != len(selected) {
		stuck := []string{}
		for name, deg := range inDegree {
			if deg > 0 {
				stuck = append(stuck, name)
			}
		}
		sort.Strings(stuck)
		return nil, fmt.Errorf("task graph has a cycle involving: %s", strings.Join(stuck, ", "))
	}
	return plan, nil
}

func (g *Graph) finalizerClosure(t *Task) []string {
	seen := map[string]struct{}{}
	out := []string{}
	queue := append([]string(nil), t.FinalizedBy...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
		if fin, ok := g.tasks[name]; ok {
			queue = append(queue, fin.FinalizedBy...)
		}
	}
	return out
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func (g *Graph) dependencyClosure(t *Task) map[string]struct{} {
	seen := map[string]struct{}{}
	if t == nil {
		return seen
	}
	queue := append([]string(nil), t.DependsOn...)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		if dep, ok := g.tasks[name]; ok {
			queue = append(queue, dep.DependsOn...)
		}
	}
	return seen
}

// Execute runs a plan in order. The first failure halts the chain, but the
// finalizers of every task that ran are still executed. The first error is
// returned; later ones are only logged.
func Execute(ctx context.Context, plan []*Task, log logrus.FieldLogger) error {
	var (
		failure error
		pending = map[string]struct{}{} // finalizers owed by tasks that ran
	)

	for _, t := range plan {
		_, owed := pending[t.Name]
		if failure != nil && !owed {
			log.WithField("task", t.Name).Debug("not running because an earlier task failed")
			continue
		}
		delete(pending, t.Name)

		taskCtx := ctx
		if failure != nil {
			taskCtx = context.WithoutCancel(ctx) // cleanup must outlive cancellation
		}

		tlog := log.WithField("task", t.Name)
		tlog.Info("running task")
		err := t.Action(taskCtx)
		for _, fin := range t.FinalizedBy {
			pending[fin] = struct{}{}
		}

		switch {
		case errors.Is(err, ErrSkipped):
			tlog.Debug("task skipped")
		case err == nil:
		case failure == nil:
			failure = fmt.Errorf("%s: %w", t.Name, err)
		default:
			tlog.WithError(err).Error("task failed while cleaning up")
		}
	}

	return failure
}
