package transport

import (
	"net/http"
	"os"
	"path"

	"github.com/go-chi/chi/v5"

	"github.com/runic-labs/rune/internal/authz"
	"github.com/runic-labs/rune/pkg/ids"
)

// handleFiles serves GET /files/{library|cache}/{path}, per spec.md
// §4.9: "streams a file from either the library root or the cover-art
// cache, with canonicalization-based escape prevention (403 on
// traversal attempts)." Grounded on
// services/api/internal/stream/stream.go's range-request serving,
// generalized from the object store to a canonicalized local path and
// handed to http.ServeContent for byte-range support. Requires an
// Approved fingerprint, same as the WS data plane.
func (s *Server) handleFiles(w http.ResponseWriter, r *http.Request) {
	if s.authz != nil {
		fingerprint := firstNonEmpty(r.URL.Query(), "auth", "public_key", "fingerprint")
		entry, ok := s.trust.Get(fingerprint)
		status := "Unknown"
		if ok {
			status = string(entry.Status)
		}
		allowed, err := s.authz.Allowed(status, authz.ObjectFiles, authz.ActionRead)
		if err != nil || !allowed {
			writeErr(w, http.StatusForbidden, "not authorized for file access")
			return
		}
	}

	kind := chi.URLParam(r, "kind")
	rest := chi.URLParam(r, "*")

	var resolver interface{ Canonicalize(string) (string, error) }
	switch kind {
	case "library":
		resolver = s.libFS
	case "cache":
		resolver = s.cacheFS
	default:
		writeErr(w, http.StatusNotFound, "unknown file surface")
		return
	}
	if resolver == nil {
		writeErr(w, http.StatusNotFound, "file surface not configured")
		return
	}

	real, err := resolver.Canonicalize(rest)
	if err != nil {
		if ids.Is(err, ids.KindPermissionDenied) {
			writeErr(w, http.StatusForbidden, "path escapes scoped root")
			return
		}
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	f, err := os.Open(real)
	if err != nil {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		writeErr(w, http.StatusNotFound, "not found")
		return
	}

	http.ServeContent(w, r, path.Base(real), info.ModTime(), f)
}
