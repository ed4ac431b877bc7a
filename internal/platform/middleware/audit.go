package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/platform/auth"
)

// Keys a handler sets on the echo context to describe the record it served.
const (
	AuditScopeKey   = "access_scope"
	AuditPatientKey = "access_patient"
)

const scopeEmergency = "emergency"

// AuditEntry describes one call against the record API.
type AuditEntry struct {
	Caller     string
	Roles      []string
	Action     string // read, create, update, delete
	Resource   string
	Patient    string
	Scope      string
	Method     string
	Path       string
	IPAddress  string
	UserAgent  string
	RequestID  string
	StatusCode int
	Timestamp  time.Time
}

// Emergency reports whether the record was served through the emergency
// override.
func (e AuditEntry) Emergency() bool {
	return e.Scope == scopeEmergency
}

// AuditRecorder persists audit entries in addition to the structured log.
type AuditRecorder interface {
	RecordAccess(entry AuditEntry) error
}

// AuditRecorderFunc is a function adapter for AuditRecorder.
type AuditRecorderFunc func(entry AuditEntry) error

func (f AuditRecorderFunc) RecordAccess(entry AuditEntry) error {
	return f(entry)
}

// Audit emits a record_access event for every /api/v1/ call once the
// handler has run, including calls rejected by authentication when Audit is
// installed ahead of it. Reads served through the emergency override are
// logged at WARN.
func Audit(logger zerolog.Logger, recorders ...AuditRecorder) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, "/api/v1/") {
				return next(c)
			}

			err := next(c)

			// Authentication runs inside this middleware and replaces the
			// request, so the caller is read from the request seen last.
			ctx := c.Request().Context()
			entry := AuditEntry{
				Caller:     auth.CallerAddressFromContext(ctx),
				Roles:      auth.RolesFromContext(ctx),
				Action:     httpMethodToAction(req.Method),
				Resource:   extractResource(req.URL.Path),
				Patient:    extractPatient(c),
				Method:     req.Method,
				Path:       req.URL.Path,
				IPAddress:  c.RealIP(),
				UserAgent:  req.UserAgent(),
				StatusCode: c.Response().Status,
				Timestamp:  time.Now().UTC(),
			}
			if he, ok := err.(*echo.HTTPError); ok {
				entry.StatusCode = he.Code
			}
			entry.Scope, _ = c.Get(AuditScopeKey).(string)
			entry.RequestID, _ = c.Get("request_id").(string)

			for _, r := range recorders {
				if r == nil {
					continue
				}
				if recErr := r.RecordAccess(entry); recErr != nil {
					logger.Error().Err(recErr).
						Str("request_id", entry.RequestID).
						Msg("failed to record audit entry")
				}
			}

			evt := logger.Info()
			if entry.Emergency() {
				evt = logger.Warn()
			}
			evt.
				Str("type", "record_audit").
				Str("request_id", entry.RequestID).
				Str("caller", entry.Caller).
				Strs("roles", entry.Roles).
				Str("action", entry.Action).
				Str("resource", entry.Resource).
				Str("patient", entry.Patient).
				Str("scope", entry.Scope).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.IPAddress).
				Int("status", entry.StatusCode).
				Msg("record_access")

			return err
		}
	}
}

func httpMethodToAction(method string) string {
	switch method {
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return "read"
	}
}

// extractResource returns the first path segment under /api/v1/.
func extractResource(path string) string {
	rest := strings.TrimPrefix(path, "/api/v1/")
	if seg, _, _ := strings.Cut(rest, "/"); seg != "" {
		return seg
	}
	return "unknown"
}

// extractPatient prefers the patient the handler reported, then the
// :address parameter of /patients/:address routes.
func extractPatient(c echo.Context) string {
	if p, ok := c.Get(AuditPatientKey).(string); ok && p != "" {
		return p
	}
	if strings.HasPrefix(c.Path(), "/api/v1/patients/:address") {
		return c.Param("address")
	}
	return ""
}
