package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	rec := httptest.NewRecorder()
	return FromContext(e.NewContext(req, rec))
}

func TestFromContext(t *testing.T) {
	cases := []struct {
		query      string
		wantLimit  int
		wantOffset int
	}{
		{"", DefaultLimit, 0},
		{"limit=50&offset=10", 50, 10},
		{"limit=9999", MaxLimit, 0},
		{"limit=-5&offset=-2", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tc := range cases {
		got := paramsFor(tc.query)
		if got.Limit != tc.wantLimit || got.Offset != tc.wantOffset {
			t.Errorf("query %q: got limit=%d offset=%d, want limit=%d offset=%d",
				tc.query, got.Limit, got.Offset, tc.wantLimit, tc.wantOffset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if !NewResponse(nil, 100, 20, 0).HasMore {
		t.Error("expected more pages at offset 0 of 100")
	}
	if NewResponse(nil, 100, 20, 80).HasMore {
		t.Error("expected no more pages at the last page")
	}
	if NewResponse(nil, 0, 20, 0).HasMore {
		t.Error("empty result has no next page")
	}
}
