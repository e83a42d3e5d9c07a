package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/osa-systems/osa/pkg/osa"
)

// Parallel builds sub-tasks with no dependencies between them: every
// sub-task runs in the graph's first and only wave.
func Parallel(tasks []osa.SubTask) []osa.SubTask {
	out := make([]osa.SubTask, len(tasks))
	for i, t := range tasks {
		t.DependsOn = nil
		out[i] = t
	}
	return out
}

// Pipeline chains sub-tasks into a straight-line dependency graph: each
// sub-task depends on exactly the one before it, so BuildGraph produces
// one wave per sub-task.
func Pipeline(tasks []osa.SubTask) []osa.SubTask {
	out := make([]osa.SubTask, len(tasks))
	for i, t := range tasks {
		if i > 0 {
			t.DependsOn = []string{out[i-1].Name}
		} else {
			t.DependsOn = nil
		}
		out[i] = t
	}
	return out
}

// Debate arranges proposers to run in parallel in the first wave, with a
// single critic in the second wave depending on every proposer. Run's
// normal semantics apply: the critic only runs if at least one proposer
// succeeded.
func Debate(proposers []osa.SubTask, critic osa.SubTask) []osa.SubTask {
	names := make([]string, len(proposers))
	out := make([]osa.SubTask, 0, len(proposers)+1)
	for i, p := range proposers {
		p.DependsOn = nil
		names[i] = p.Name
		out = append(out, p)
	}
	critic.DependsOn = names
	out = append(out, critic)
	return out
}

// ReviewRound is one worker/reviewer pass of a review loop.
type ReviewRound struct {
	WorkerResult   string
	ReviewerResult string
	Approved       bool
}

// ApprovalToken is the string a reviewer's verdict must start with,
// case-insensitive and after trimming, for ReviewLoop to treat a round as
// approved.
const ApprovalToken = "APPROVED"

// ReviewLoop drives a bounded sequential worker/reviewer cycle outside the
// wave-graph machinery: a worker produces a draft, a reviewer either
// approves it (by emitting ApprovalToken) or returns feedback that is fed
// back into the next worker turn, up to maxRounds times.
//
// worker receives the prior reviewer feedback (empty on round one).
// reviewer receives the worker's latest draft and returns its verdict text.
func ReviewLoop(ctx context.Context, maxRounds int, worker func(ctx context.Context, feedback string) (string, error), reviewer func(ctx context.Context, draft string) (string, error)) ([]ReviewRound, error) {
	if maxRounds <= 0 {
		maxRounds = 1
	}

	var rounds []ReviewRound
	feedback := ""

	for i := 0; i < maxRounds; i++ {
		draft, err := worker(ctx, feedback)
		if err != nil {
			return rounds, fmt.Errorf("review loop: worker round %d: %w", i+1, err)
		}

		verdict, err := reviewer(ctx, draft)
		if err != nil {
			return rounds, fmt.Errorf("review loop: reviewer round %d: %w", i+1, err)
		}

		approved := isApproved(verdict)
		rounds = append(rounds, ReviewRound{WorkerResult: draft, ReviewerResult: verdict, Approved: approved})
		if approved {
			return rounds, nil
		}
		feedback = verdict
	}

	return rounds, nil
}

func isApproved(verdict string) bool {
	v := strings.ToUpper(strings.TrimSpace(verdict))
	return v == ApprovalToken || strings.HasPrefix(v, ApprovalToken)
}
