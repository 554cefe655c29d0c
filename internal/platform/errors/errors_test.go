package errors

import (
	stderrs "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCodesMapToStatus(t *testing.T) {
	cases := []struct {
		code ErrorCode
		want int
	}{
		{ErrorCodeParse, http.StatusBadRequest},
		{ErrorCodeIngestion, http.StatusUnprocessableEntity},
		{ErrorCodeValidation, http.StatusUnprocessableEntity},
		{ErrorCodeNotFound, http.StatusNotFound},
		{ErrorCodeConflict, http.StatusConflict},
		{ErrorCodeEvaluation, http.StatusInternalServerError},
		{ErrorCodeUnavailable, http.StatusServiceUnavailable},
		{ErrorCodeUnknown, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := HTTPStatusCode(tc.code); got != tc.want {
			t.Fatalf("HTTPStatusCode(%s) = %d, want %d", tc.code, got, tc.want)
		}
	}
}

func TestKindsAreDistinguishable(t *testing.T) {
	parse := Parsef("line %d: unexpected token", 3)
	ingest := Ingestionf("unknown scheme %q", "gram9")
	eval := Wrap(stderrs.New("EOF"), ErrorCodeEvaluation, "read candidate")

	if !IsCode(parse, ErrorCodeParse) || IsCode(parse, ErrorCodeEvaluation) {
		t.Fatalf("parse error misclassified")
	}
	if Retryable(parse) || Retryable(ingest) {
		t.Fatalf("parse and ingestion errors must not be retryable")
	}
	if !Retryable(eval) {
		t.Fatalf("evaluation errors are retryable")
	}
	if w := WireFrom(ingest); w.Kind != "ingestion_error" || w.Message == "" {
		t.Fatalf("unexpected wire %+v", w)
	}
}

func TestWrapUnwrapAndMutators(t *testing.T) {
	cause := stderrs.New("disk gone")
	err := fmt.Errorf("outer: %w", Wrapf(cause, ErrorCodeUnavailable, "read %s", "x"))

	if Root(err) != cause {
		t.Fatalf("Root did not reach cause")
	}
	if CodeOf(err) != ErrorCodeUnavailable {
		t.Fatalf("CodeOf through fmt wrap = %s", CodeOf(err))
	}
	f := WithField(Validationf("bad"), "taint")
	if e, _ := As(f); e.Field() != "taint" {
		t.Fatalf("field not set")
	}
	if WithOp(cause, "x") != cause {
		t.Fatalf("foreign errors should pass through WithOp")
	}
	if w := WireFrom(cause); w.Code != ErrorCodeUnknown {
		t.Fatalf("foreign error wire = %+v", w)
	}
	if WireFrom(nil) != (Wire{}) {
		t.Fatalf("nil wire should be zero")
	}
}
