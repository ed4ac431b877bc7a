package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(target string) Params {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, target, nil), httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("/")
	if p.Limit != DefaultLimit {
		t.Errorf("expected default limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected default offset 0, got %d", p.Offset)
	}
}

func TestFromContext_Custom(t *testing.T) {
	p := paramsFor("/?limit=5&offset=10")
	if p.Limit != 5 || p.Offset != 10 {
		t.Errorf("expected limit 5 offset 10, got %+v", p)
	}
}

func TestFromContext_Clamps(t *testing.T) {
	if p := paramsFor("/?limit=1000"); p.Limit != MaxLimit {
		t.Errorf("expected limit clamped to %d, got %d", MaxLimit, p.Limit)
	}
	if p := paramsFor("/?limit=-3&offset=-1"); p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults for negative values, got %+v", p)
	}
	if p := paramsFor("/?limit=abc"); p.Limit != DefaultLimit {
		t.Errorf("expected default limit for garbage, got %d", p.Limit)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a"}, 3, Params{Limit: 1, Offset: 1})
	if !r.HasMore || r.Total != 3 || r.Limit != 1 || r.Offset != 1 {
		t.Errorf("unexpected response %+v", r)
	}
	if r := NewResponse(nil, 2, Params{Limit: 1, Offset: 1}); r.HasMore {
		t.Error("expected last page to have no more")
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		p          Params
		n          int
		start, end int
	}{
		{Params{Limit: 2, Offset: 0}, 5, 0, 2},
		{Params{Limit: 2, Offset: 4}, 5, 4, 5},
		{Params{Limit: 2, Offset: 9}, 5, 5, 5},
		{Params{Limit: 20, Offset: 0}, 0, 0, 0},
	}
	for _, tt := range tests {
		start, end := tt.p.Window(tt.n)
		if start != tt.start || end != tt.end {
			t.Errorf("%+v.Window(%d) = %d,%d want %d,%d", tt.p, tt.n, start, end, tt.start, tt.end)
		}
	}
}
