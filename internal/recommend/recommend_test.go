package recommend

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runic-labs/rune/internal/vectorindex"
)

func TestRecommendByFileIDUnanalyzedReturnsEmpty(t *testing.T) {
	idx, err := vectorindex.OpenInMemory()
	require.NoError(t, err)
	defer idx.Close()

	e := New(idx)
	got, err := e.RecommendByFileID(context.Background(), 999, 5)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestRecommendByFileIDOrdersByDistance(t *testing.T) {
	idx, err := vectorindex.OpenInMemory()
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	var near, far, origin vectorindex.Vector
	origin = vectorindex.Vector{}
	near = vectorindex.Vector{}
	near[0] = 0.1
	far = vectorindex.Vector{}
	far[0] = 10

	require.NoError(t, idx.Upsert(ctx, 1, origin))
	require.NoError(t, idx.Upsert(ctx, 2, near))
	require.NoError(t, idx.Upsert(ctx, 3, far))

	e := New(idx)
	got, err := e.RecommendByFileID(ctx, 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, got)
}

func TestResolveRecommendTermParsesVector(t *testing.T) {
	idx, err := vectorindex.OpenInMemory()
	require.NoError(t, err)
	defer idx.Close()
	ctx := context.Background()

	var target vectorindex.Vector
	require.NoError(t, idx.Upsert(ctx, 42, target))

	e := New(idx)
	fields := make([]string, vectorindex.Dimensions)
	for i := range fields {
		fields[i] = "0"
	}
	param := strings.Join(fields, ",") + ",3"

	got, err := e.ResolveRecommendTerm(ctx, param)
	require.NoError(t, err)
	require.Equal(t, []int64{42}, got)
}

func TestResolveRecommendTermRejectsWrongWidth(t *testing.T) {
	e := New(nil)
	_, err := e.ResolveRecommendTerm(context.Background(), "1,2,3")
	require.Error(t, err)
}

func TestResolveRecommendTermRejectsBadNumber(t *testing.T) {
	e := New(nil)
	fields := make([]string, vectorindex.Dimensions)
	for i := range fields {
		fields[i] = "x"
	}
	_, err := e.ResolveRecommendTerm(context.Background(), strings.Join(fields, ","))
	require.Error(t, err)
}

func mustVector(fill float64) string {
	fields := make([]string, vectorindex.Dimensions)
	for i := range fields {
		fields[i] = fmt.Sprintf("%v", fill)
	}
	return strings.Join(fields, ",")
}
