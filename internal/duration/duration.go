// Package duration estimates how long an action lasts.
package duration

import (
	"fmt"

	"github.com/limiquantix/replanner/internal/domain"
	"github.com/limiquantix/replanner/internal/plan"
)

// Function is a linear estimate: Base plus PerCPU time units per virtual CPU
// and PerMemoryGiB time units per GiB of memory of the element.
type Function struct {
	Base         int `mapstructure:"base" yaml:"base"`
	PerCPU       int `mapstructure:"per_cpu" yaml:"per_cpu"`
	PerMemoryGiB int `mapstructure:"per_memory_gib" yaml:"per_memory_gib"`
}

// Apply evaluates the function for an element. The size of a VM is its
// consumption; the size of a node is its capacity.
func (f Function) Apply(e domain.ManagedElement) int {
	var cpus, memMiB int
	switch e := e.(type) {
	case *domain.VirtualMachine:
		cpus, memMiB = e.NbOfCPUs, e.MemoryConsumption
	case *domain.Node:
		cpus, memMiB = e.CPUCapacity, e.MemoryCapacity
	}
	return f.Base + f.PerCPU*cpus + f.PerMemoryGiB*memMiB/1024
}

// Evaluator maps each action kind to a linear estimate. Kinds without a
// function last 0, which makes the corresponding transition unavailable.
type Evaluator struct {
	functions map[plan.Kind]Function
}

// NewEvaluator creates an evaluator. Keys are action kind names.
func NewEvaluator(functions map[string]Function) (*Evaluator, error) {
	known := make(map[plan.Kind]bool)
	for _, k := range append(plan.AllKinds, plan.KindRemoteResume) {
		known[k] = true
	}
	ev := &Evaluator{functions: make(map[plan.Kind]Function, len(functions))}
	for name, f := range functions {
		kind := plan.Kind(name)
		if !known[kind] {
			return nil, fmt.Errorf("unknown action kind %q: %w", name, domain.ErrInvalidArgument)
		}
		if f.Base < 0 || f.PerCPU < 0 || f.PerMemoryGiB < 0 {
			return nil, fmt.Errorf("negative duration for %s: %w", name, domain.ErrInvalidArgument)
		}
		ev.functions[kind] = f
	}
	return ev, nil
}

// Evaluate returns the estimated duration of an action of the given kind on e.
func (ev *Evaluator) Evaluate(kind plan.Kind, e domain.ManagedElement) (int, error) {
	if e == nil {
		return 0, fmt.Errorf("no element to evaluate %s on: %w", kind, domain.ErrInvalidArgument)
	}
	f, ok := ev.functions[kind]
	if !ok {
		return 0, nil
	}
	return f.Apply(e), nil
}

// Defaults returns a set of functions that makes every transition available.
// Migrations and remote resumes grow with the memory to copy.
func Defaults() map[string]Function {
	return map[string]Function{
		string(plan.KindMigration):    {Base: 2, PerMemoryGiB: 1},
		string(plan.KindRun):          {Base: 5},
		string(plan.KindStop):         {Base: 3},
		string(plan.KindSuspend):      {Base: 2, PerMemoryGiB: 1},
		string(plan.KindResume):       {Base: 2, PerMemoryGiB: 1},
		string(plan.KindRemoteResume): {Base: 4, PerMemoryGiB: 2},
		string(plan.KindInstantiate):  {Base: 8},
		string(plan.KindStartup):      {Base: 60},
		string(plan.KindShutdown):     {Base: 20},
		string(plan.KindDeploy):       {Base: 300},
		string(plan.KindRetype):       {Base: 1},
		string(plan.KindRename):       {Base: 1},
	}
}
