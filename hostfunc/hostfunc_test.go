package hostfunc

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRegistryRegisterGet(t *testing.T) {
	r := NewRegistry()
	r.Register("echo", func(ctx context.Context, args map[string]any) (any, error) {
		return args["v"], nil
	}, "v")

	fn, ok := r.Get("echo")
	if !ok {
		t.Fatal("expected echo to be registered")
	}
	got, err := fn(context.Background(), map[string]any{"v": "hi"})
	if err != nil || got != "hi" {
		t.Errorf("expected hi, got %v (%v)", got, err)
	}

	if _, ok := r.Get("missing"); ok {
		t.Error("expected missing lookup to fail")
	}
}

func TestRegistryListSorted(t *testing.T) {
	r := NewRegistry()
	noop := func(ctx context.Context, args map[string]any) (any, error) { return nil, nil }
	r.Register("b", noop)
	r.Register("a", noop, "x", "y")
	r.Register("c", noop)

	if diff := cmp.Diff([]string{"a", "b", "c"}, r.List()); diff != "" {
		t.Errorf("List mismatch (-want +got):\n%s", diff)
	}

	all := r.All()
	if all[0].Name != "a" || len(all[0].Params) != 2 {
		t.Errorf("unexpected first spec: %+v", all[0])
	}
}
