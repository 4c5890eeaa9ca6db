package validators

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/cantora-backend/pkg/errors"
)

func TestDecodeJSONBodyValidates(t *testing.T) {
	type body struct {
		Mode string `json:"mode" validate:"required,oneof=quick detailed"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"slow"}`))
	var dest body
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	details, _ := pkgerrors.As(err).Details().(map[string]string)
	if details["mode"] != "must be one of: quick, detailed" {
		t.Fatalf("unexpected details %v", details)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"quick","extra":1}`))
	if err := DecodeJSONBody(httptest.NewRecorder(), req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected unknown fields rejected, got %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"quick"}`))
	if err := DecodeJSONBody(httptest.NewRecorder(), req, &dest); err != nil || dest.Mode != "quick" {
		t.Fatalf("unexpected decode result %v %+v", err, dest)
	}
}

func TestQueryInt(t *testing.T) {
	bounds := IntRange{Default: 50, Min: 1, Max: 100}
	cases := []struct {
		url     string
		want    int
		wantErr bool
	}{
		{url: "/?limit=25", want: 25},
		{url: "/", want: 50},
		{url: "/?limit=%20", want: 50},
		{url: "/?limit=500", wantErr: true},
		{url: "/?limit=0", wantErr: true},
		{url: "/?limit=ten", wantErr: true},
	}
	for _, tc := range cases {
		got, err := QueryInt(httptest.NewRequest(http.MethodGet, tc.url, nil), "limit", bounds)
		if tc.wantErr {
			if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
				t.Fatalf("%s: expected validation error, got %v", tc.url, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("%s: expected %d, got %d %v", tc.url, tc.want, got, err)
		}
	}
}

func TestPathUUID(t *testing.T) {
	id := uuid.New()
	req := withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", id.String())
	got, err := PathUUID(req, "orderId")
	if err != nil || got != id {
		t.Fatalf("expected %s, got %s %v", id, got, err)
	}
	for _, raw := range []string{"nope", ""} {
		req = withParam(httptest.NewRequest(http.MethodGet, "/", nil), "orderId", raw)
		if _, err := PathUUID(req, "orderId"); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
			t.Fatalf("%q: expected validation error, got %v", raw, err)
		}
	}
}

func TestCleanText(t *testing.T) {
	cases := map[string]struct {
		in   string
		max  int
		want string
	}{
		"trims and caps":     {in: "  verso  ", max: 3, want: "ver"},
		"keeps runes whole":  {in: "Thaís", max: 4, want: "Thaí"},
		"no cap":             {in: " refrão ", max: 0, want: "refrão"},
		"normalizes endings": {in: "linha um\r\nlinha dois", want: "linha um\nlinha dois"},
		"drops controls":     {in: "verso\x00\x07\tfinal", want: "verso\tfinal"},
	}
	for name, tc := range cases {
		if got := CleanText(tc.in, tc.max); got != tc.want {
			t.Fatalf("%s: expected %q, got %q", name, tc.want, got)
		}
	}
}

func TestDecodeJSONBodyRequiresBody(t *testing.T) {
	var dest struct {
		Mode string `json:"mode"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if err := DecodeJSONBody(httptest.NewRecorder(), req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected missing body rejected, got %v", err)
	}
}

func TestDecodeOptionalJSONBodyAcceptsEmpty(t *testing.T) {
	var dest struct {
		LyricID *uuid.UUID `json:"lyricId" validate:"omitempty"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	if err := DecodeOptionalJSONBody(httptest.NewRecorder(), req, &dest); err != nil || dest.LyricID != nil {
		t.Fatalf("expected empty body accepted, got %v %+v", err, dest)
	}
}

func TestDecodeJSONBodyRejectsTrailingData(t *testing.T) {
	var dest struct {
		Mode string `json:"mode"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":"quick"}{"mode":"detailed"}`))
	if err := DecodeJSONBody(httptest.NewRecorder(), req, &dest); !pkgerrors.IsCode(err, pkgerrors.CodeValidation) {
		t.Fatalf("expected trailing object rejected, got %v", err)
	}
}

func TestDecodeJSONBodyReportsTypeMismatch(t *testing.T) {
	var dest struct {
		Mode string `json:"mode"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mode":3}`))
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	details, _ := pkgerrors.As(err).Details().(map[string]string)
	if details["mode"] != "must be string" {
		t.Fatalf("unexpected details %v (%v)", details, err)
	}
}

func TestDecodeJSONBodyCapsSize(t *testing.T) {
	var dest struct {
		Story string `json:"story"`
	}
	payload := `{"story":"` + strings.Repeat("a", MaxBodyBytes) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload))
	err := DecodeJSONBody(httptest.NewRecorder(), req, &dest)
	if !pkgerrors.IsCode(err, pkgerrors.CodeValidation) || pkgerrors.As(err).Message() != "request body too large" {
		t.Fatalf("expected size rejection, got %v", err)
	}
}

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}
