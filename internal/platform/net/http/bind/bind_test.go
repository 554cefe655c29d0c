package bind

import (
	"net/http/httptest"
	"strings"
	"testing"

	perr "mquery/internal/platform/errors"
)

type taintReq struct {
	Taint string   `json:"taint" validate:"required,label"`
	Tags  []string `json:"tags" validate:"omitempty,dive,label"`
}

func TestParseJSON(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		code  perr.ErrorCode
		field string
	}{
		{"ok", `{"taint":"tlp-red"}`, 0, ""},
		{"empty", ``, perr.ErrorCodeJSON, ""},
		{"garbage", `{"taint":`, perr.ErrorCodeJSON, ""},
		{"unknown field", `{"taint":"a","x":1}`, perr.ErrorCodeJSON, ""},
		{"trailing", `{"taint":"a"} {}`, perr.ErrorCodeJSON, ""},
		{"missing", `{}`, perr.ErrorCodeValidation, "taint"},
		{"bad label", `{"taint":"has space"}`, perr.ErrorCodeValidation, "taint"},
		{"bad dive", `{"taint":"a","tags":["ok","no\"pe"]}`, perr.ErrorCodeValidation, "tags[1]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req := httptest.NewRequest("POST", "/", strings.NewReader(tc.body))
			got, err := ParseJSON[taintReq](req)
			if tc.code == 0 {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got.Taint != "tlp-red" {
					t.Fatalf("got %+v", got)
				}
				return
			}
			if perr.CodeOf(err) != tc.code {
				t.Fatalf("code = %s, want %s (%v)", perr.CodeOf(err), tc.code, err)
			}
			if tc.field != "" {
				e, _ := perr.As(err)
				if e.Field() != tc.field {
					t.Fatalf("field = %q, want %q", e.Field(), tc.field)
				}
			}
		})
	}
}

func TestParseJSON_AllowEmptyBody(t *testing.T) {
	type opt struct {
		Note string `json:"note"`
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(""))
	if _, err := ParseJSON[opt](req, Options{AllowEmptyBody: true}); err != nil {
		t.Fatalf("unexpected: %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	type lower struct {
		V string `json:"v" validate:"lowercase_only"`
	}
	err := RegisterValidation("lowercase_only", "{0} must be lower case", func(fl FieldLevel) bool {
		return strings.ToLower(fl.Field().String()) == fl.Field().String()
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	req := httptest.NewRequest("POST", "/", strings.NewReader(`{"v":"ABC"}`))
	_, err = ParseJSON[lower](req)
	if !perr.IsCode(err, perr.ErrorCodeValidation) || !strings.Contains(err.Error(), "lower case") {
		t.Fatalf("expected translated validation error, got %v", err)
	}
}

func TestValidLabel(t *testing.T) {
	if !ValidLabel("d4f1e2") || ValidLabel("") || ValidLabel(strings.Repeat("a", 129)) || ValidLabel("a\tb") {
		t.Fatalf("ValidLabel mismatch")
	}
}
