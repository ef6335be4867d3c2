package nestedset

import (
	"context"
	"testing"

	"github.com/bluesky-social/nestedset/models"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mutationCount(t *testing.T, op, result string) float64 {
	var m = &dto.Metric{}
	require.NoError(t, mutationsCounter.WithLabelValues(op, result).Write(m))
	return m.Counter.GetValue()
}

func shiftedCount(t *testing.T, op string) float64 {
	var m = &dto.Metric{}
	require.NoError(t, rowsShiftedCounter.WithLabelValues(op).Write(m))
	return m.Counter.GetValue()
}

func TestMutationMetrics(t *testing.T) {
	forEachTree(t, nil, func(t *testing.T, tr *Tree) {
		assert := assert.New(t)
		ctx := context.Background()
		m := seedTree(t, tr)

		ok := mutationCount(t, "insert", "ok")
		failed := mutationCount(t, "insert", "error")
		shifted := shiftedCount(t, "insert")

		// lefts of E, C, F and rights of E, B, F, C, A
		insert(t, tr, "G", After(m["D"].ID))
		assert.Equal(ok+1, mutationCount(t, "insert", "ok"))
		assert.Equal(shifted+8, shiftedCount(t, "insert"))

		err := tr.Insert(ctx, &models.Node{Label: "H"}, LastChildOf(9999))
		assert.ErrorIs(err, ErrInvalidAnchor)
		assert.Equal(failed+1, mutationCount(t, "insert", "error"))
		assert.Equal(ok+1, mutationCount(t, "insert", "ok"))
	})
}
