package secret

import (
	"errors"
	"reflect"
	"testing"
)

func TestRegistry_RegisterAndCreate(t *testing.T) {
	reg := NewRegistry()
	if err := reg.Register("stub", func(cfg map[string]any) (Provider, error) {
		return &stubProvider{name: "stub"}, nil
	}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	p, err := reg.Create("stub", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if p == nil || p.Name() != "stub" {
		t.Fatalf("unexpected provider: %#v", p)
	}
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	reg := NewRegistry()
	factory := func(cfg map[string]any) (Provider, error) { return &stubProvider{name: "stub"}, nil }
	_ = reg.Register("stub", factory)
	if err := reg.Register("stub", factory); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
	if err := reg.Register(" ", factory); err == nil {
		t.Fatalf("expected error for blank name")
	}
}

func TestRegistry_CreateUnknown(t *testing.T) {
	reg := NewRegistry()
	if _, err := reg.Create("missing", nil); !errors.Is(err, ErrProviderNotRegistered) {
		t.Fatalf("error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestBuiltinRegistry(t *testing.T) {
	reg := NewBuiltinRegistry()
	if got, want := reg.List(), []string{"dotenv", "env", "file"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}

	p, err := reg.Create("file", map[string]any{"dir": "/run/secrets"})
	if err != nil {
		t.Fatalf("Create(file) error = %v", err)
	}
	if fp, ok := p.(*FileProvider); !ok || fp.Dir != "/run/secrets" {
		t.Fatalf("Create(file) = %#v", p)
	}

	p, err = reg.Create("dotenv", nil)
	if err != nil {
		t.Fatalf("Create(dotenv) error = %v", err)
	}
	if dp := p.(*DotenvProvider); dp.Path != ".env" {
		t.Fatalf("dotenv default path = %q, want .env", dp.Path)
	}

	if _, err := reg.Create("file", map[string]any{"dir": 42}); err == nil {
		t.Fatal("expected error for non-string option")
	}
}
