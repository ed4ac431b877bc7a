package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medledger/medledger/internal/platform/auth"
)

func TestRequestID_GeneratesNew(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

	err := RequestID()(func(c echo.Context) error {
		if rid, _ := c.Get("request_id").(string); rid == "" {
			t.Error("expected request_id to be generated")
		}
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Error("expected X-Request-ID response header")
	}
}

func TestRequestID_PreservesExisting(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "my-custom-id")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	_ = RequestID()(func(c echo.Context) error {
		if rid := c.Get("request_id").(string); rid != "my-custom-id" {
			t.Errorf("expected my-custom-id, got %s", rid)
		}
		return nil
	})(c)
	if rec.Header().Get(RequestIDHeader) != "my-custom-id" {
		t.Errorf("expected my-custom-id in response header, got %s", rec.Header().Get(RequestIDHeader))
	}
}

func TestRequestID_ReplacesOversized(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", 200))
	rec := httptest.NewRecorder()
	_ = RequestID()(func(c echo.Context) error { return nil })(e.NewContext(req, rec))
	if got := rec.Header().Get(RequestIDHeader); len(got) != 36 {
		t.Errorf("expected a fresh uuid, got %q", got)
	}
}

// logLines decodes every JSON event written to buf.
func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	dec := json.NewDecoder(buf)
	for {
		var m map[string]interface{}
		if err := dec.Decode(&m); err == io.EOF {
			return out
		} else if err != nil {
			t.Fatalf("decode log line: %v", err)
		}
		out = append(out, m)
	}
}

func TestLogger_LogsRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), "0xa11ce"))
	c := e.NewContext(req, httptest.NewRecorder())
	c.Set("request_id", "req-1")

	err := Logger(logger)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one log line, got %d", len(lines))
	}
	l := lines[0]
	if l["message"] != "request" || l["level"] != "info" {
		t.Errorf("unexpected event %v", l)
	}
	if l["request_id"] != "req-1" || l["caller"] != "0xa11ce" || l["status"] != float64(200) {
		t.Errorf("unexpected fields %v", l)
	}
}

func TestLogger_ClientErrorAtWarn(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/patients/0xa11ce/reports", nil), httptest.NewRecorder())

	_ = Logger(zerolog.New(&buf))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "not authorized")
	})(c)

	lines := logLines(t, &buf)
	if len(lines) != 1 || lines[0]["level"] != "warn" || lines[0]["status"] != float64(403) {
		t.Errorf("expected a warn line with status 403, got %v", lines)
	}
}

func TestRecovery_CatchesPanic(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/panic", nil), httptest.NewRecorder())

	err := Recovery(zerolog.New(&buf))(func(c echo.Context) error {
		panic("test panic")
	})(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", httpErr.Code)
	}
	if !strings.Contains(buf.String(), "panic recovered") {
		t.Error("expected panic to be logged")
	}
}

func TestRecovery_PassesThrough(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/ok", nil), httptest.NewRecorder())

	err := Recovery(zerolog.Nop())(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAudit_RecordsReportRead(t *testing.T) {
	var buf bytes.Buffer
	var recorded []AuditEntry
	recorder := AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	})

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/0xa11ce/reports", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), "0xd0c", "doctor"))
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/api/v1/patients/:address/reports")
	c.SetParamNames("address")
	c.SetParamValues("0xa11ce")
	c.Set("request_id", "req-123")

	err := Audit(zerolog.New(&buf), recorder)(func(c echo.Context) error {
		c.Set(AuditScopeKey, "granted")
		return c.NoContent(http.StatusOK)
	})(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(recorded) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(recorded))
	}
	got := recorded[0]
	if got.Caller != "0xd0c" || got.Patient != "0xa11ce" || got.Scope != "granted" {
		t.Errorf("unexpected entry %+v", got)
	}
	if got.Action != "read" || got.Resource != "patients" || got.RequestID != "req-123" {
		t.Errorf("unexpected entry %+v", got)
	}

	lines := logLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "record_access" || lines[0]["level"] != "info" {
		t.Errorf("unexpected audit log %v", lines)
	}
}

func TestAudit_EmergencyAtWarn(t *testing.T) {
	var buf bytes.Buffer
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/patients/0xa11ce/emergency-reports", nil)
	req = req.WithContext(auth.WithCaller(req.Context(), "0xd0c"))
	c := e.NewContext(req, httptest.NewRecorder())

	_ = Audit(zerolog.New(&buf))(func(c echo.Context) error {
		c.Set(AuditScopeKey, "emergency")
		c.Set(AuditPatientKey, "0xa11ce")
		return c.NoContent(http.StatusOK)
	})(c)

	lines := logLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d", len(lines))
	}
	if lines[0]["level"] != "warn" || lines[0]["scope"] != "emergency" || lines[0]["patient"] != "0xa11ce" {
		t.Errorf("unexpected audit log %v", lines[0])
	}
}

func TestAudit_RecordsDenialStatus(t *testing.T) {
	var got AuditEntry
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodDelete, "/api/v1/grants/0xd0c", nil), httptest.NewRecorder())

	_ = Audit(zerolog.Nop(), AuditRecorderFunc(func(entry AuditEntry) error {
		got = entry
		return nil
	}))(func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusForbidden, "not a patient")
	})(c)

	if got.StatusCode != http.StatusForbidden || got.Action != "delete" || got.Resource != "grants" {
		t.Errorf("unexpected entry %+v", got)
	}
}

func TestAudit_SkipsNonAPIPaths(t *testing.T) {
	called := false
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/health", nil), httptest.NewRecorder())

	_ = Audit(zerolog.Nop(), AuditRecorderFunc(func(AuditEntry) error {
		called = true
		return nil
	}))(func(c echo.Context) error { return nil })(c)
	if called {
		t.Error("expected /health to be skipped")
	}
}

func TestAudit_AheadOfAuth(t *testing.T) {
	var recorded []AuditEntry
	audit := Audit(zerolog.Nop(), AuditRecorderFunc(func(entry AuditEntry) error {
		recorded = append(recorded, entry)
		return nil
	}))
	h := audit(auth.DevAuthMiddleware(nil)(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}))
	e := echo.New()

	// Rejected by authentication.
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil), httptest.NewRecorder())
	_ = h(c)

	// Authenticated; the caller is set on a request the audit never saw.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/accounts/me", nil)
	req.Header.Set(auth.HeaderCallerAddress, "0xa11ce")
	req.Header.Set(auth.HeaderCallerRoles, "patient")
	_ = h(e.NewContext(req, httptest.NewRecorder()))

	if len(recorded) != 2 {
		t.Fatalf("expected two audit entries, got %d", len(recorded))
	}
	if recorded[0].StatusCode != http.StatusUnauthorized || recorded[0].Caller != "" {
		t.Errorf("unexpected rejected entry %+v", recorded[0])
	}
	if recorded[1].StatusCode != http.StatusOK || recorded[1].Caller != "0xa11ce" {
		t.Errorf("unexpected authenticated entry %+v", recorded[1])
	}
	if len(recorded[1].Roles) != 1 || recorded[1].Roles[0] != "patient" {
		t.Errorf("unexpected roles %v", recorded[1].Roles)
	}
}
