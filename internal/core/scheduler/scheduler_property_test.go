package scheduler

import (
	"math/rand"
	"reflect"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/sprintfoundry/orchestrator/internal/core/plan"
)

// genDAGPlan builds a random plan.ExecutionPlan of up to maxSteps steps
// numbered 1..n, each depending only on a random subset of lower-numbered
// steps, which is acyclic by construction, plus (when n >= 2) one random
// parallel grouping drawn from those same step numbers.
func genDAGPlan(maxSteps int) gopter.Gen {
	return gen.IntRange(1, maxSteps).FlatMap(func(nAny any) gopter.Gen {
		n := nAny.(int)
		return gen.SliceOfN(n, gen.Int64Range(0, 1<<20)).Map(func(seeds []int64) *plan.ExecutionPlan {
			steps := make([]plan.Step, n)
			for i := 0; i < n; i++ {
				stepNum := i + 1
				r := rand.New(rand.NewSource(seeds[i]))
				var deps []int
				for j := 1; j < stepNum; j++ {
					if r.Intn(3) == 0 {
						deps = append(deps, j)
					}
				}
				steps[i] = plan.Step{StepNumber: stepNum, Agent: "developer", DependsOn: deps}
			}

			var groups []plan.ParallelGroup
			if n >= 2 {
				r := rand.New(rand.NewSource(int64(n) * 7919))
				groupSize := 2 + r.Intn(n-1)
				perm := r.Perm(n)[:groupSize]
				nums := make([]int, groupSize)
				for i, idx := range perm {
					nums[i] = idx + 1
				}
				groups = append(groups, plan.ParallelGroup{StepNumbers: nums})
			}

			return &plan.ExecutionPlan{PlanID: "prop-plan", Steps: steps, ParallelGroups: groups}
		}, reflect.TypeOf(&plan.ExecutionPlan{}))
	}, reflect.TypeOf(&plan.ExecutionPlan{}))
}

func newTestScheduler() *Scheduler {
	return New(Options{})
}

// TestReadyStepsOnlyReturnsStepsWithSatisfiedDependencies checks the
// dependency-respecting half of the at-most-once completion invariant:
// readySteps must never offer a step whose DependsOn isn't entirely in
// s.completed.
func TestReadyStepsOnlyReturnsStepsWithSatisfiedDependencies(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("ready steps have every dependency completed", prop.ForAll(
		func(p *plan.ExecutionPlan) bool {
			s := newTestScheduler()
			// Mark a random subset of steps completed to exercise partial
			// progress, not just the empty-completed starting state.
			r := rand.New(rand.NewSource(int64(len(p.Steps))))
			for _, st := range p.Steps {
				if r.Intn(2) == 0 {
					s.completed[st.StepNumber] = true
				}
			}

			for _, st := range s.readySteps(p) {
				for _, dep := range st.DependsOn {
					if !s.completed[dep] {
						return false
					}
				}
			}
			return true
		},
		genDAGPlan(12),
	))

	properties.TestingRun(t)
}

// TestLargestReadyGroupMembersAreAllReady backs the "exactly one
// planRework/parallel-group round" boundary: a parallel group is only ever
// selected for execution when every one of its members is actually ready,
// never a partial or stale group.
func TestLargestReadyGroupMembersAreAllReady(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every selected group member is in the ready set", prop.ForAll(
		func(p *plan.ExecutionPlan) bool {
			s := newTestScheduler()
			ready := s.readySteps(p)
			readyNums := make(map[int]bool, len(ready))
			for _, st := range ready {
				readyNums[st.StepNumber] = true
			}

			group := s.largestReadyGroup(p, ready)
			for _, st := range group {
				if !readyNums[st.StepNumber] {
					return false
				}
			}
			// A selected group is never a singleton; that's sequential
			// execution's job.
			return len(group) != 1
		},
		genDAGPlan(12),
	))

	properties.TestingRun(t)
}

// TestSimulatedExecutionCompletesEachStepAtMostOnce drives a bare
// readySteps/mark-complete loop (no runtime, no planner) over random DAGs
// and asserts every step is completed exactly once and the loop always
// terminates: the structural half of the at-most-once completion invariant
// that doesn't require a live AgentRuntime to exercise.
func TestSimulatedExecutionCompletesEachStepAtMostOnce(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("every step completes exactly once and the loop terminates", prop.ForAll(
		func(p *plan.ExecutionPlan) bool {
			s := newTestScheduler()
			completedOnce := make(map[int]int)

			for iterations := 0; iterations < len(p.Steps)+1; iterations++ {
				ready := s.readySteps(p)
				if len(ready) == 0 {
					break
				}
				for _, st := range ready {
					completedOnce[st.StepNumber]++
					s.completed[st.StepNumber] = true
				}
			}

			if len(s.completed) != len(p.Steps) {
				return false // didn't converge within the iteration budget
			}
			for _, count := range completedOnce {
				if count != 1 {
					return false
				}
			}
			return true
		},
		genDAGPlan(12),
	))

	properties.TestingRun(t)
}
