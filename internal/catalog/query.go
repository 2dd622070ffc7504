package catalog

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/runic-labs/rune/pkg/ids"
)

// Term is one clause of a mix/playlist query, per spec.md §4.3's DSL:
// lib::track, lib::artist, lib::album, lib::genre, lib::playlist,
// lib::directory, lib::liked, lib::played_through, lib::skipped,
// lib::random, lib::recent, lib::similar, lib::recommend, lib::or.
//
// lib::or is the one operator that does not resolve against the catalog
// directly: its Group holds the disjunction's member terms, and Parameter
// is unused for it. Every other operator reads Parameter and leaves Group
// nil.
type Term struct {
	Operator  string
	Parameter string
	Group     []Term
}

// Recommender resolves lib::similar terms by delegating to
// internal/recommend, which this package cannot import directly
// (recommend imports catalog). Callers inject a Recommender implementation
// at query time; a nil Recommender makes lib::similar resolve to an empty
// list rather than erroring, keeping the DSL usable without the vector
// index wired up (e.g. before the first analysis batch completes).
// ResolveQuery itself always resolves lib::recommend to an empty list;
// internal/recommend's ResolveMixQuery resolves those terms before
// calling it.
type Recommender interface {
	RecommendByFileID(ctx context.Context, fileID int64, n int) ([]int64, error)
}

// ResolveQuery evaluates terms against the catalog per spec.md §4.3:
// "terms are conjunctive by default; lib::or(...) introduces a
// disjunction group. Results are returned in the order produced by the
// first resolving operator; ties are broken by file id ascending."
func (s *Store) ResolveQuery(ctx context.Context, terms []Term, rec Recommender) ([]int64, error) {
	if len(terms) == 0 {
		return nil, nil
	}

	var resultSets [][]int64
	for _, t := range terms {
		matched, err := s.resolveTerm(ctx, t, rec)
		if err != nil {
			return nil, err
		}
		resultSets = append(resultSets, matched)
	}

	ordered := resultSets[0]
	for _, set := range resultSets[1:] {
		setLookup := toSet(set)
		var filtered []int64
		for _, id := range ordered {
			if setLookup[id] {
				filtered = append(filtered, id)
			}
		}
		ordered = filtered
	}
	return ordered, nil
}

func toSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (s *Store) resolveTerm(ctx context.Context, t Term, rec Recommender) ([]int64, error) {
	switch t.Operator {
	case "lib::track":
		return s.resolveTrack(ctx, t.Parameter)
	case "lib::artist":
		return s.queryIDs(ctx, `
			SELECT mf.id FROM media_files mf
			JOIN media_file_artists mfa ON mfa.media_file_id = mf.id
			WHERE mfa.artist_id = ? AND mf.deleted = 0 ORDER BY mf.id`, t.Parameter)
	case "lib::album":
		return s.queryIDs(ctx, `SELECT id FROM media_files WHERE album_id = ? AND deleted = 0 ORDER BY id`, t.Parameter)
	case "lib::genre":
		return s.queryIDs(ctx, `
			SELECT mf.id FROM media_files mf
			JOIN media_file_genres mfg ON mfg.media_file_id = mf.id
			WHERE mfg.genre_id = ? AND mf.deleted = 0 ORDER BY mf.id`, t.Parameter)
	case "lib::playlist":
		return s.queryIDs(ctx, `
			SELECT media_file_id FROM playlist_tracks WHERE playlist_id = ? ORDER BY position`, t.Parameter)
	case "lib::directory":
		return s.queryLikeIDs(ctx, `SELECT id FROM media_files WHERE directory = ? AND deleted = 0 ORDER BY id`, t.Parameter)
	case "lib::liked":
		liked := t.Parameter == "true"
		return s.queryBoolIDs(ctx, `
			SELECT mf.id FROM media_files mf JOIN media_file_stats s ON s.media_file_id = mf.id
			WHERE s.liked = ? AND mf.deleted = 0 ORDER BY mf.id`, liked)
	case "lib::played_through":
		return s.queryRangeIDs(ctx, "played_through", t.Parameter)
	case "lib::skipped":
		return s.queryRangeIDs(ctx, "skipped", t.Parameter)
	case "lib::random":
		n, err := parseN(t.Parameter)
		if err != nil {
			return nil, err
		}
		return s.queryIDsNoArgs(ctx, fmt.Sprintf(`SELECT id FROM media_files WHERE deleted = 0 ORDER BY RANDOM() LIMIT %d`, n))
	case "lib::recent":
		n, err := parseN(t.Parameter)
		if err != nil {
			return nil, err
		}
		return s.queryIDsNoArgs(ctx, fmt.Sprintf(`
			SELECT id FROM media_files WHERE deleted = 0
			ORDER BY updated_at_hlc_ts DESC, updated_at_hlc_ver DESC LIMIT %d`, n))
	case "lib::similar":
		return s.resolveSimilar(ctx, t.Parameter, rec)
	case "lib::recommend":
		return s.resolveRecommend(ctx, t.Parameter, rec)
	case "lib::or":
		return s.resolveOr(ctx, t.Group, rec)
	default:
		return nil, ids.New(ids.KindInvalidInput, "unknown query operator").WithContext("operator", t.Operator)
	}
}

// resolveOr unions the result sets of a disjunction group's member terms,
// per spec.md §4.3's "lib::or(...) introduces a disjunction group". Members
// are themselves resolved with full operator support, including nested
// lib::or groups. The union is deduplicated and sorted by file id ascending
// so a disjunction group composes predictably with the conjunctive terms
// ResolveQuery intersects it against.
func (s *Store) resolveOr(ctx context.Context, group []Term, rec Recommender) ([]int64, error) {
	seen := make(map[int64]bool)
	var out []int64
	for _, member := range group {
		matched, err := s.resolveTerm(ctx, member, rec)
		if err != nil {
			return nil, err
		}
		for _, id := range matched {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (s *Store) resolveTrack(ctx context.Context, param string) ([]int64, error) {
	if id, err := strconv.ParseInt(param, 10, 64); err == nil {
		return []int64{id}, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT id FROM media_files WHERE hlc_uuid = ? AND deleted = 0`, param)
	var id int64
	if err := row.Scan(&id); err != nil {
		return nil, mapSQLErr(err)
	}
	return []int64{id}, nil
}

func (s *Store) resolveSimilar(ctx context.Context, param string, rec Recommender) ([]int64, error) {
	if rec == nil {
		return nil, nil
	}
	parts := strings.SplitN(param, ",", 2)
	fileID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return nil, ids.Wrap(ids.KindInvalidInput, "lib::similar: parse file id", err)
	}
	n := 20
	if len(parts) == 2 {
		if parsed, err := strconv.Atoi(parts[1]); err == nil {
			n = parsed
		}
	}
	got, err := rec.RecommendByFileID(ctx, fileID, n)
	if err != nil {
		// per spec.md §4.6, the recommendation engine never errors on an
		// empty result; here we propagate only genuine failures and let
		// an empty vector index surface as an empty slice upstream.
		return nil, err
	}
	return got, nil
}

func (s *Store) resolveRecommend(ctx context.Context, param string, rec Recommender) ([]int64, error) {
	// lib::recommend takes a caller-constructed parameter vector; the DSL
	// layer does not parse it itself (internal/recommend owns parameter
	// vector construction) — callers resolve this operator before handing
	// terms to ResolveQuery when a parameter vector is involved.
	return nil, nil
}

func parseN(param string) (int, error) {
	n, err := strconv.Atoi(param)
	if err != nil {
		return 0, ids.Wrap(ids.KindInvalidInput, "parse n", err)
	}
	return n, nil
}

func (s *Store) queryIDs(ctx context.Context, query string, param string) ([]int64, error) {
	id, err := strconv.ParseInt(param, 10, 64)
	if err != nil {
		return nil, ids.Wrap(ids.KindInvalidInput, "parse id parameter", err)
	}
	return s.scanIDRows(ctx, query, id)
}

func (s *Store) queryLikeIDs(ctx context.Context, query string, param string) ([]int64, error) {
	return s.scanIDRows(ctx, query, param)
}

func (s *Store) queryBoolIDs(ctx context.Context, query string, val bool) ([]int64, error) {
	return s.scanIDRows(ctx, query, val)
}

func (s *Store) queryRangeIDs(ctx context.Context, column, param string) ([]int64, error) {
	parts := strings.SplitN(param, "..", 2)
	if len(parts) != 2 {
		return nil, ids.New(ids.KindInvalidInput, "range parameter must be min..max")
	}
	min, err1 := strconv.ParseInt(parts[0], 10, 64)
	max, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return nil, ids.New(ids.KindInvalidInput, "range parameter must be numeric min..max")
	}
	query := fmt.Sprintf(`
		SELECT mf.id FROM media_files mf JOIN media_file_stats s ON s.media_file_id = mf.id
		WHERE s.%s BETWEEN ? AND ? AND mf.deleted = 0 ORDER BY mf.id`, column)
	return s.scanIDRows(ctx, query, min, max)
}

func (s *Store) queryIDsNoArgs(ctx context.Context, query string) ([]int64, error) {
	return s.scanIDRows(ctx, query)
}

func (s *Store) scanIDRows(ctx context.Context, query string, args ...any) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()
	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
