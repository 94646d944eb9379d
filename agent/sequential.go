package agent

import (
	"context"
	"fmt"

	"github.com/hupe1980/aegis/core"
)

// Stage is one step of a sequential pipeline. It receives the result of the
// previous stage (nil for the first) and produces its own.
type Stage struct {
	Name string
	Run  func(ctx context.Context, prev *core.Result) (*core.Result, error)
}

// StageResult is the output of one completed stage.
type StageResult struct {
	Name   string
	Result *core.Result
}

// Pipeline executes stages in order, feeding each stage the previous result.
//
// Key properties:
//   - Ordered execution: stage N+1 starts after stage N returned
//   - Early termination: an error, or a result with Success=false, stops the
//     pipeline; results gathered so far are returned with the error
//   - No shared state: data flows only through the results
func Pipeline(ctx context.Context, stages ...Stage) ([]StageResult, error) {
	results := make([]StageResult, 0, len(stages))

	var prev *core.Result
	for _, st := range stages {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("pipeline cancelled before stage %s: %w", st.Name, err)
		}
		res, err := st.Run(ctx, prev)
		if err != nil {
			return results, fmt.Errorf("pipeline failed at stage %s: %w", st.Name, err)
		}
		results = append(results, StageResult{Name: st.Name, Result: res})
		if res == nil || !res.Success {
			msg := "no result"
			if res != nil {
				msg = res.Error
			}
			return results, fmt.Errorf("pipeline failed at stage %s: %s", st.Name, msg)
		}
		prev = res
	}
	return results, nil
}
