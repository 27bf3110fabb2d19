package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// TargetErrors maps the names of failed targets to their error.
type TargetErrors map[string]error

func (t TargetErrors) Error() string {
	names := make([]string, 0, len(t))
	for name := range t {
		names = append(names, name)
	}
	sort.Strings(names)

	msgs := make([]string, len(names))
	for i, name := range names {
		msgs[i] = fmt.Sprintf("image %s: %s", name, t[name])
	}
	return strings.Join(msgs, "; ")
}

// RunTargets runs the same tasks for every pipeline concurrently. Targets are
// independent: one failing doesn't stop the others.
func RunTargets(ctx context.Context, pipelines []*Pipeline, bases ...string) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = TargetErrors{}
	)
	for _, p := range pipelines {
		wg.Add(1)
		go func(p *Pipeline) {
			defer wg.Done()
			if err := p.Run(ctx, bases...); err != nil {
				mu.Lock()
				errs[p.Target()] = err
				mu.Unlock()
			}
		}(p)
	}
	wg.Wait()

	if len(errs) == 0 {
		return nil
	}
	return errs
}
