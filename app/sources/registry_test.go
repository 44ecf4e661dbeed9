package sources

import (
	"context"
	"testing"
)

type fakeSource struct {
	typ string
}

func (f *fakeSource) Type() string { return f.typ }

func (f *fakeSource) FetchItems(ctx context.Context, settings map[string]string) ([]RawItem, error) {
	return nil, nil
}

func (f *fakeSource) ConfigSchema() SchemaDescriptor { return SchemaDescriptor{} }

func TestRegistryRegisterAndGet(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&fakeSource{typ: "zotero"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	source, ok := registry.Get("zotero")
	if !ok {
		t.Fatal("Expected registered source to be found")
	}
	if source.Type() != "zotero" {
		t.Errorf("Expected type 'zotero', got %s", source.Type())
	}

	if _, ok := registry.Get("unknown"); ok {
		t.Error("Expected lookup of unknown type to fail")
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&fakeSource{typ: "rss"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := registry.Register(&fakeSource{typ: "rss"}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
}

func TestRegistryRejectsEmptyType(t *testing.T) {
	registry := NewRegistry()

	if err := registry.Register(&fakeSource{typ: ""}); err == nil {
		t.Error("Expected registration with empty type to fail")
	}
}

func TestRegistryTypesSorted(t *testing.T) {
	registry := NewRegistry()

	for _, typ := range []string{"zotero", "newsletter", "rss"} {
		if err := registry.Register(&fakeSource{typ: typ}); err != nil {
			t.Fatalf("Register %s failed: %v", typ, err)
		}
	}

	types := registry.Types()
	expected := []string{"newsletter", "rss", "zotero"}
	if len(types) != len(expected) {
		t.Fatalf("Expected %d types, got %d", len(expected), len(types))
	}
	for i := range expected {
		if types[i] != expected[i] {
			t.Errorf("Expected types[%d] = %s, got %s", i, expected[i], types[i])
		}
	}
	if registry.Count() != 3 {
		t.Errorf("Expected count of 3, got %d", registry.Count())
	}
}
