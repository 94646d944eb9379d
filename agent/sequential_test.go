package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/hupe1980/aegis/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipeline_FeedsPreviousResult(t *testing.T) {
	results, err := Pipeline(context.Background(),
		Stage{Name: "recommend", Run: func(_ context.Context, prev *core.Result) (*core.Result, error) {
			assert.Nil(t, prev)
			return core.OK(core.Payload{"ids": []any{"P1", "P2"}}), nil
		}},
		Stage{Name: "availability", Run: func(_ context.Context, prev *core.Result) (*core.Result, error) {
			return core.OK(core.Payload{"checked": len(prev.Data.Strings("ids"))}), nil
		}},
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "availability", results[1].Name)
	assert.Equal(t, 2, results[1].Result.Data.Int("checked", 0))
}

func TestPipeline_StopsOnFailure(t *testing.T) {
	called := false
	third := Stage{Name: "third", Run: func(context.Context, *core.Result) (*core.Result, error) {
		called = true
		return core.OK(nil), nil
	}}

	results, err := Pipeline(context.Background(),
		Stage{Name: "first", Run: func(context.Context, *core.Result) (*core.Result, error) { return core.OK(nil), nil }},
		Stage{Name: "second", Run: func(context.Context, *core.Result) (*core.Result, error) {
			return core.Fail("out of stock", nil), nil
		}},
		third,
	)
	assert.ErrorContains(t, err, "stage second: out of stock")
	assert.Len(t, results, 2)
	assert.False(t, called)

	boom := errors.New("timeout")
	_, err = Pipeline(context.Background(), Stage{Name: "only", Run: func(context.Context, *core.Result) (*core.Result, error) {
		return nil, boom
	}})
	assert.ErrorIs(t, err, boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Pipeline(ctx, third)
	assert.ErrorIs(t, err, context.Canceled)
}
