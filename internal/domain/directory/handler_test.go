package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/medledger/medledger/internal/platform/auth"
)

func TestHandler_PublishRequiresCaller(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestService())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/directory", strings.NewReader(`{"username":"alice"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	err := h.Publish(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %v", err)
	}
}

func TestHandler_PublishLookupList(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestService())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/directory", strings.NewReader(`{"username":"Alice"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithCaller(req.Context(), "0xa11ce"))
	rec := httptest.NewRecorder()
	if err := h.Publish(e.NewContext(req, rec)); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/directory/alice", nil), rec)
	c.SetParamNames("username")
	c.SetParamValues("alice")
	if err := h.Lookup(c); err != nil {
		t.Fatalf("lookup: %v", err)
	}
	var entry Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entry); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if entry.Address != "0xa11ce" {
		t.Errorf("expected 0xa11ce, got %s", entry.Address)
	}

	rec = httptest.NewRecorder()
	if err := h.List(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/directory?limit=10", nil), rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	var page struct {
		Data    []Entry `json:"data"`
		Total   int     `json:"total"`
		HasMore bool    `json:"has_more"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 1 || len(page.Data) != 1 || page.HasMore {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestHandler_LookupNotFound(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestService())
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/directory/nobody", nil), httptest.NewRecorder())
	c.SetParamNames("username")
	c.SetParamValues("nobody")

	err := h.Lookup(c)
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %v", err)
	}
}

func TestHandler_ListEmpty(t *testing.T) {
	e := echo.New()
	h := NewHandler(newTestService())
	rec := httptest.NewRecorder()
	if err := h.List(e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/directory", nil), rec)); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"data":[]`) {
		t.Errorf("expected empty data array, got %s", rec.Body.String())
	}
}
