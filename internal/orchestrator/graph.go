// Package orchestrator implements the dependency-wave multi-agent
// executor: decomposition, wave construction, bounded-parallel wave
// execution, swarm patterns, and result synthesis.
package orchestrator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/osa-systems/osa/pkg/osa"
)

// Graph is a wave-ordered execution plan: Waves[0] has no dependencies,
// Waves[i+1] depends only on names present in Waves[0..i].
type Graph struct {
	Waves [][]string
	// CycleCollapsed is true when a dependency cycle forced every
	// remaining sub-task into a single trailing wave instead of being
	// rejected outright — the deliberate delta from a hard cycle error.
	CycleCollapsed bool
}

// BuildGraph performs a Kahn's-algorithm topological sort over subTasks'
// DependsOn edges. If a cycle is detected, rather than failing the whole
// decomposition, the unprocessable remainder collapses into one final
// wave and CycleCollapsed is set so the caller can emit a warning event,
// rather than failing the whole decomposition on a dependency cycle.
func BuildGraph(subTasks []osa.SubTask) (*Graph, error) {
	if len(subTasks) == 0 {
		return &Graph{}, nil
	}

	byName := make(map[string]osa.SubTask, len(subTasks))
	indegree := make(map[string]int, len(subTasks))
	dependents := make(map[string][]string, len(subTasks))

	for _, t := range subTasks {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("sub-task name cannot be empty")
		}
		if _, exists := byName[name]; exists {
			return nil, fmt.Errorf("duplicate sub-task name %q", name)
		}
		byName[name] = t
		indegree[name] = 0
	}

	for _, t := range subTasks {
		name := strings.TrimSpace(t.Name)
		for _, depRaw := range t.DependsOn {
			dep := strings.TrimSpace(depRaw)
			if dep == "" {
				continue
			}
			if _, ok := byName[dep]; !ok {
				return nil, fmt.Errorf("sub-task %q depends on unknown sub-task %q", name, dep)
			}
			indegree[name]++
			dependents[dep] = append(dependents[dep], name)
		}
	}

	ready := make([]string, 0)
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	processed := map[string]bool{}
	var waves [][]string

	for len(ready) > 0 {
		wave := append([]string(nil), ready...)
		sort.Strings(wave)
		waves = append(waves, wave)

		next := make([]string, 0)
		for _, name := range wave {
			processed[name] = true
			for _, dep := range dependents[name] {
				indegree[dep]--
				if indegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		ready = next
	}

	if len(processed) == len(byName) {
		return &Graph{Waves: waves}, nil
	}

	remaining := make([]string, 0, len(byName)-len(processed))
	for name := range byName {
		if !processed[name] {
			remaining = append(remaining, name)
		}
	}
	sort.Strings(remaining)
	waves = append(waves, remaining)
	return &Graph{Waves: waves, CycleCollapsed: true}, nil
}
