package txn

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func TestSequentialSuccess(t *testing.T) {
	var order []string
	steps := []Step{
		{Name: "a", Action: func(context.Context) error { order = append(order, "a"); return nil }},
		{Name: "b", Action: func(context.Context) error { order = append(order, "b"); return nil }},
	}
	err := New().RunSequential(context.Background(), steps)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, order)
}

func TestSequentialRollsBackOnFailure(t *testing.T) {
	var rolledBack []string
	steps := []Step{
		{
			Name:     "a",
			Action:   func(context.Context) error { return nil },
			Rollback: func(context.Context) error { rolledBack = append(rolledBack, "a"); return nil },
		},
		{
			Name:     "b",
			Action:   func(context.Context) error { return nil },
			Rollback: func(context.Context) error { rolledBack = append(rolledBack, "b"); return nil },
		},
		{
			Name:   "c",
			Action: func(context.Context) error { return errBoom },
		},
	}
	err := New().RunSequential(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"b", "a"}, rolledBack, "rollbacks run in reverse completion order")
}

func TestSequentialRollbackFailureAttachesSecondaryError(t *testing.T) {
	steps := []Step{
		{
			Name:     "a",
			Action:   func(context.Context) error { return nil },
			Rollback: func(context.Context) error { return errors.New("rollback exploded") },
		},
		{
			Name:   "b",
			Action: func(context.Context) error { return errBoom },
		},
	}
	err := New().RunSequential(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "boom")
}

func TestParallelRollsBackOnlySuccessfulSteps(t *testing.T) {
	var rolledBack []string
	steps := []Step{
		{
			Name:   "a",
			Action: func(context.Context) error { return nil },
			Rollback: func(context.Context) error {
				rolledBack = append(rolledBack, "a")
				return nil
			},
		},
		{
			Name:   "b",
			Action: func(context.Context) error { return errBoom },
		},
	}
	err := New().RunParallel(context.Background(), steps)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, []string{"a"}, rolledBack)
}
