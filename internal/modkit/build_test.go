package modkit

import (
	"net/http"
	"testing"
)

func TestBuildAppliesOptionsInOrder(t *testing.T) {
	t.Parallel()
	var order []string
	mw := func(tag string) func(http.Handler) http.Handler {
		return func(next http.Handler) http.Handler {
			order = append(order, tag)
			return next
		}
	}

	b := Build(
		WithName("jobs"),
		WithPrefix("/api"),
		WithMiddlewares(mw("a")),
		WithMiddlewares(mw("b")),
		WithPorts(42),
	)
	if b.Name != "jobs" || b.Prefix != "/api" {
		t.Fatalf("built = %+v", b)
	}
	if b.Ports.(int) != 42 {
		t.Fatalf("ports = %v", b.Ports)
	}
	for _, m := range b.Mw {
		m(http.NotFoundHandler())
	}
	if len(order) != 2 || order[0] != "a" || order[1] != "b" {
		t.Fatalf("middleware order = %v", order)
	}
}

func TestBuildZero(t *testing.T) {
	t.Parallel()
	b := Build()
	if b.NameOr("datasets") != "datasets" || b.Ports != nil || len(b.Mw) != 0 {
		t.Fatalf("zero build = %+v", b)
	}
}
