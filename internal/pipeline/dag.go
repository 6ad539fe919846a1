package pipeline

import (
	"sort"
	"strings"

	"github.com/sumaris-net/sumaris-pod-sub009/internal/domain"
)

// ResolveStageOrder levels stages with Kahn's algorithm. Stages within one
// level do not depend on each other and keep their declaration order.
// Dependencies must name another stage or one of inputs.
func ResolveStageOrder(stages []Stage, inputs []string) ([][]string, error) {
	if len(stages) == 0 {
		return nil, nil
	}

	index := make(map[string]int, len(stages))
	for i, st := range stages {
		if st.Sheet == "" {
			return nil, domain.ErrValidation("stage %d has no sheet", i)
		}
		key := sheetKey(st.Sheet)
		if _, dup := index[key]; dup {
			return nil, domain.ErrValidation("duplicate stage: %s", st.Sheet)
		}
		index[key] = i
	}
	external := make(map[string]struct{}, len(inputs))
	for _, in := range inputs {
		external[sheetKey(in)] = struct{}{}
	}

	inDegree := make([]int, len(stages))
	dependents := make([][]int, len(stages))
	for i, st := range stages {
		for _, dep := range st.DependsOn {
			j, ok := index[sheetKey(dep)]
			if !ok {
				if _, isInput := external[sheetKey(dep)]; isInput {
					continue
				}
				return nil, domain.ErrValidation("unknown dependency: %s", dep)
			}
			if j == i {
				return nil, domain.ErrValidation("self dependency: %s", st.Sheet)
			}
			dependents[j] = append(dependents[j], i)
			inDegree[i]++
		}
	}

	var queue []int
	for i, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, i)
		}
	}

	var levels [][]string
	processed := 0
	for len(queue) > 0 {
		sort.Ints(queue)
		level := make([]string, len(queue))
		for k, i := range queue {
			level[k] = stages[i].Sheet
		}
		levels = append(levels, level)
		processed += len(queue)

		var next []int
		for _, i := range queue {
			for _, d := range dependents[i] {
				inDegree[d]--
				if inDegree[d] == 0 {
					next = append(next, d)
				}
			}
		}
		queue = next
	}

	if processed != len(stages) {
		var cyclic []string
		for i, deg := range inDegree {
			if deg > 0 {
				cyclic = append(cyclic, stages[i].Sheet)
			}
		}
		return nil, domain.ErrValidation("cycle detected in stage dependencies: %s", strings.Join(cyclic, ", "))
	}
	return levels, nil
}
