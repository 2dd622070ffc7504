// Package recommend resolves spec.md §4.3's lib::similar and
// lib::recommend query operators by delegating to internal/vectorindex,
// and implements spec.md §4.6's mix/recommend semantics (search_k sizing,
// by-id vs by-parameter queries). Grounded on internal/catalog/query.go's
// Recommender interface, which this package implements.
package recommend

import (
	"context"
	"strconv"
	"strings"

	"github.com/runic-labs/rune/internal/catalog"
	"github.com/runic-labs/rune/internal/vectorindex"
	"github.com/runic-labs/rune/pkg/ids"
)

// treesConstant and the by-id/by-parameter C constants implement
// spec.md §4.6's explicit search_k sizing rule: "search_k = n * trees * C,
// with C = 61 for by-id queries (the query vector is itself indexed, so
// search must look further to skip past the query point) and C = 15 for
// by-parameter queries."
const (
	trees     = 10
	cByID     = vectorindex.Dimensions
	cByParam  = 15
	defaultN  = 20
	maxParamN = 500
)

// Engine wraps the catalog store and a vector index to answer similarity
// and recommendation queries.
type Engine struct {
	index *vectorindex.Index
}

func New(index *vectorindex.Index) *Engine {
	return &Engine{index: index}
}

// RecommendByFileID implements catalog.Recommender: spec.md §4.3's
// lib::similar operator, resolved by id against the vector index.
func (e *Engine) RecommendByFileID(ctx context.Context, fileID int64, n int) ([]int64, error) {
	if e == nil || e.index == nil {
		return nil, nil
	}
	if n <= 0 {
		n = defaultN
	}
	searchK := n * trees * cByID
	neighbors, err := e.index.Neighbors(fileID, n, searchK)
	if err != nil {
		if ids.KindOf(err) == ids.KindNotFound {
			// no analysis yet for this file; spec.md §4.6 treats this as
			// an empty result rather than a query failure.
			return nil, nil
		}
		return nil, err
	}
	return idsOf(neighbors), nil
}

// RecommendByParameterVector implements spec.md §4.6's by-parameter
// recommend query: the caller supplies a fully-formed 61-dimensional
// vector (e.g. averaged from a seed set) rather than an existing file id.
func (e *Engine) RecommendByParameterVector(ctx context.Context, vec vectorindex.Vector, n int) ([]int64, error) {
	if e == nil || e.index == nil {
		return nil, nil
	}
	if n <= 0 {
		n = defaultN
	}
	searchK := n * trees * cByParam
	neighbors := e.index.Search(vec, n, searchK)
	return idsOf(neighbors), nil
}

// ResolveRecommendTerm parses a lib::recommend term's parameter (a
// comma-separated list of vectorindex.Dimensions floats, optionally
// followed by ",n") and resolves it by parameter vector. This is the
// caller-side resolution catalog.Store.resolveRecommend defers to
// internal/recommend per its own doc comment: run this before
// ResolveQuery for any term set containing lib::recommend.
func (e *Engine) ResolveRecommendTerm(ctx context.Context, param string) ([]int64, error) {
	fields := strings.Split(param, ",")
	n := defaultN
	dims := fields
	if len(fields) == vectorindex.Dimensions+1 {
		if parsed, err := strconv.Atoi(strings.TrimSpace(fields[len(fields)-1])); err == nil {
			n = parsed
			dims = fields[:len(fields)-1]
		}
	}
	if len(dims) != vectorindex.Dimensions {
		return nil, ids.New(ids.KindInvalidInput, "lib::recommend: parameter must supply exactly the indexed vector width").
			WithContext("got", len(dims))
	}
	if n > maxParamN {
		n = maxParamN
	}

	var vec vectorindex.Vector
	for i, f := range dims {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, ids.Wrap(ids.KindInvalidInput, "lib::recommend: parse vector component", err)
		}
		vec[i] = v
	}
	return e.RecommendByParameterVector(ctx, vec, n)
}

// ResolveMixQuery evaluates a mix's stored terms, wiring this engine in
// as the catalog.Recommender for lib::similar and pre-resolving any
// lib::recommend term before delegating the rest to store.ResolveQuery,
// per spec.md §4.3's mix-query delegation.
func ResolveMixQuery(ctx context.Context, store *catalog.Store, engine *Engine, terms []catalog.Term) ([]int64, error) {
	var recommendResults [][]int64
	remaining := make([]catalog.Term, 0, len(terms))
	for _, t := range terms {
		if t.Operator == "lib::recommend" {
			got, err := engine.ResolveRecommendTerm(ctx, t.Parameter)
			if err != nil {
				return nil, err
			}
			recommendResults = append(recommendResults, got)
			continue
		}
		remaining = append(remaining, t)
	}

	if len(remaining) == 0 {
		if len(recommendResults) == 0 {
			return nil, nil
		}
		return recommendResults[0], nil
	}

	base, err := store.ResolveQuery(ctx, remaining, engine)
	if err != nil {
		return nil, err
	}
	if len(recommendResults) == 0 {
		return base, nil
	}
	lookup := make(map[int64]bool, len(base))
	for _, id := range base {
		lookup[id] = true
	}
	var filtered []int64
	for _, id := range recommendResults[0] {
		if lookup[id] {
			filtered = append(filtered, id)
		}
	}
	return filtered, nil
}

func idsOf(neighbors []vectorindex.Neighbor) []int64 {
	if len(neighbors) == 0 {
		return nil
	}
	out := make([]int64, len(neighbors))
	for i, nb := range neighbors {
		out[i] = nb.MediaFileID
	}
	return out
}
