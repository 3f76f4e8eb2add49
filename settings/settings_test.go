package settings

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if _, ok := s.Get(KeyProviderID); ok {
		t.Error("empty store should have no provider_id")
	}

	if err := s.Set(KeyProviderID, "groq"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Set(ProviderKeyName("groq"), "gsk_test"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	// Reopen and verify persistence
	s2, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if v, ok := s2.Get(KeyProviderID); !ok || v != "groq" {
		t.Errorf("Get(provider_id) = %q, %v; want groq, true", v, ok)
	}
	if v, _ := s2.Get(ProviderKeyName("groq")); v != "gsk_test" {
		t.Errorf("Get(api_key_groq) = %q, want gsk_test", v)
	}
}

func TestFileStoreDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Set(KeyCustomAPIKey, "secret"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := s.Delete(KeyCustomAPIKey); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok := s.Get(KeyCustomAPIKey); ok {
		t.Error("key should be gone after Delete")
	}
	// Deleting a missing key is a no-op
	if err := s.Delete("missing"); err != nil {
		t.Errorf("Delete(missing): %v", err)
	}
}

func TestFileStoreCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte("{not yaml: ["), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Error("expected error for corrupt settings file")
	}
}
