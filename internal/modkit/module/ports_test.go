package module

import (
	"strings"
	"testing"

	phttp "mquery/internal/platform/net/http"
)

type fooPort interface{ Foo() int }

type fooImpl struct{ v int }

func (f fooImpl) Foo() int { return f.v }

type fakeModule struct {
	name  string
	ports any
}

func (m fakeModule) Name() string             { return m.name }
func (m fakeModule) Ports() any               { return m.ports }
func (m fakeModule) MountRoutes(phttp.Router) {}

func TestPortsOf(t *testing.T) {
	t.Parallel()
	type bundle struct {
		Foo fooPort
		Bar int
	}
	type hidden struct {
		foo fooPort
	}

	cases := []struct {
		name  string
		ports any
		want  int
		ok    bool
	}{
		{"nil", nil, 0, false},
		{"direct", fooPort(fooImpl{42}), 42, true},
		{"exported field", bundle{Foo: fooImpl{7}}, 7, true},
		{"unexported field", hidden{foo: fooImpl{1}}, 0, false},
		{"pointer bundle", &bundle{Foo: fooImpl{9}}, 9, true},
		{"nil field skipped", bundle{}, 0, false},
		{"nil pointer bundle", (*bundle)(nil), 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := PortsOf[fooPort](fakeModule{ports: tc.ports})
			if ok != tc.ok {
				t.Fatalf("ok = %v", ok)
			}
			if ok && got.Foo() != tc.want {
				t.Fatalf("Foo = %d", got.Foo())
			}
		})
	}
}

func TestMustPortsOfPanicsWithName(t *testing.T) {
	t.Parallel()
	defer func() {
		msg, _ := recover().(string)
		if !strings.Contains(msg, "taints") || !strings.Contains(msg, "fooPort") {
			t.Fatalf("panic = %q", msg)
		}
	}()
	MustPortsOf[fooPort](fakeModule{name: "taints"})
}
