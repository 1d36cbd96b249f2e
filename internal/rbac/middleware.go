package rbac

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/axolop/axolop-crm/internal/access"
	"github.com/axolop/axolop-crm/internal/platform/httpx"
)

// Denial reasons passed to the DenialRecorder.
const (
	ReasonMissingCapability = "missing_capability"
	ReasonReadOnly          = "read_only"
	ReasonPaymentWall       = "payment_wall"
)

// DenialRecorder counts rejected requests.
type DenialRecorder interface {
	ObserveDenial(guard, reason string)
}

// Middleware wires capability guards for HTTP handlers. Guards read the
// agency context installed by the access middleware; a request without one
// is treated as having no capabilities.
type Middleware struct {
	Logger   *slog.Logger
	Recorder DenialRecorder
}

// RequireAny ensures the caller has at least one of the required capabilities.
func (m Middleware) RequireAny(caps ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(caps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted := Capabilities(access.AgencyFromContext(r.Context()))
			if hasAnyPermission(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, "require_any", ReasonMissingCapability, http.StatusForbidden)
		})
	}
}

// RequireAll ensures the caller has all required capabilities.
func (m Middleware) RequireAll(caps ...string) func(http.Handler) http.Handler {
	normalized := normalizePermissions(caps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(normalized) == 0 {
				next.ServeHTTP(w, r)
				return
			}
			granted := Capabilities(access.AgencyFromContext(r.Context()))
			if hasAllPermissions(granted, normalized) {
				next.ServeHTTP(w, r)
				return
			}
			m.deny(w, r, "require_all", ReasonMissingCapability, http.StatusForbidden)
		})
	}
}

// RequireWrite blocks mutations from read-only callers with 403 and from
// agencies behind the payment wall with 402. Safe methods pass through.
func (m Middleware) RequireWrite() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}
			ac := access.AgencyFromContext(r.Context())
			switch {
			case !ac.Flags.CanEdit:
				m.deny(w, r, "require_write", ReasonReadOnly, http.StatusForbidden)
			case ac.Warning.NeedsPaymentWall:
				m.deny(w, r, "require_write", ReasonPaymentWall, http.StatusPaymentRequired)
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

func (m Middleware) deny(w http.ResponseWriter, r *http.Request, guard, reason string, status int) {
	if m.Recorder != nil {
		m.Recorder.ObserveDenial(guard, reason)
	}
	if m.Logger != nil {
		m.Logger.Debug("rbac deny", slog.String("guard", guard), slog.String("reason", reason), slog.String("path", r.URL.Path))
	}
	switch status {
	case http.StatusPaymentRequired:
		httpx.RespondError(w, httpx.ErrPaymentRequired)
	default:
		httpx.RespondError(w, httpx.ErrForbidden)
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

func normalizePermissions(perms []string) []string {
	unique := make(map[string]struct{}, len(perms))
	for _, p := range perms {
		p = strings.TrimSpace(strings.ToLower(p))
		if p == "" {
			continue
		}
		unique[p] = struct{}{}
	}
	normalized := make([]string, 0, len(unique))
	for p := range unique {
		normalized = append(normalized, p)
	}
	return normalized
}

func hasAnyPermission(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; ok {
			return true
		}
	}
	return false
}

func hasAllPermissions(granted []string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(granted))
	for _, p := range granted {
		set[strings.ToLower(p)] = struct{}{}
	}
	for _, r := range required {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}
