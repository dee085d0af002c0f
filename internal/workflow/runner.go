package workflow

import "context"

// Runner is a concrete graph (legacy linear pipeline, or the agent
// reason-act loop). The worker owns the outer loop: it asks for the
// initial step, runs Step, applies the patch, checkpoints, and — on
// RouteContinue — runs NextStep next.
type Runner interface {
	InitialStep() string
	Step(ctx context.Context, st *State, stepName string) (StepResult, error)
}
