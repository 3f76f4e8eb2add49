package provider

import (
	"encoding/binary"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"whisperclip/models"
	"whisperclip/settings"
)

type memStore struct {
	values map[string]string
}

func newMemStore() *memStore { return &memStore{values: map[string]string{}} }

func (m *memStore) Get(key string) (string, bool) {
	v, ok := m.values[key]
	return v, ok
}

func (m *memStore) Set(key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memStore) Delete(key string) error {
	delete(m.values, key)
	return nil
}

var _ settings.Store = (*memStore)(nil)

func writeGGML(t *testing.T, path string) {
	t.Helper()
	data := make([]byte, 16)
	binary.LittleEndian.PutUint32(data, 0x67676d6c)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func fakeWhisperCLI(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	script := filepath.Join(dir, "whisper-cli")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho ok\n"), 0755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WHISPER_CLI", script)
}

func newTestRuntime(t *testing.T, store settings.Store, defaults Defaults) (*Runtime, *[]string) {
	t.Helper()
	var statuses []string
	rt := NewRuntime(store, t.TempDir(), defaults, func(msg string) {
		statuses = append(statuses, msg)
	})
	return rt, &statuses
}

// waitAcquired polls until the acquisition pipeline settles.
func waitAcquired(t *testing.T, rt *Runtime) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rt.Poll()
		if !rt.Downloading() && !rt.Acquiring() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("acquisition did not settle")
}

func TestResolveInitialPersistedPresetWins(t *testing.T) {
	store := newMemStore()
	store.Set(settings.KeyProviderID, "ollama")
	rt, _ := newTestRuntime(t, store, Defaults{Service: "api", BaseURL: RemotePresets[0].BaseURL, Model: RemotePresets[0].DefaultModel, APIKey: "envkey"})

	rt.ResolveInitial()

	snap := rt.Snapshot()
	if snap.Kind != KindRemotePreset || snap.Label != "ollama" {
		t.Fatalf("active = %+v, want ollama preset", snap)
	}
	if snap.APIKey != "" {
		t.Errorf("keyless preset carries key %q", snap.APIKey)
	}
}

func TestResolveInitialUnknownIDFallsBackToDefaults(t *testing.T) {
	store := newMemStore()
	store.Set(settings.KeyProviderID, "retired-provider")
	rt, _ := newTestRuntime(t, store, Defaults{Service: "api", BaseURL: RemotePresets[0].BaseURL, Model: RemotePresets[0].DefaultModel, APIKey: "envkey"})

	rt.ResolveInitial()

	snap := rt.Snapshot()
	if snap.Label != "groq" {
		t.Errorf("active = %q, want groq from env defaults", snap.Label)
	}
	if snap.APIKey != "envkey" {
		t.Errorf("APIKey = %q, want envkey", snap.APIKey)
	}
}

func TestResolveInitialEnvCustomEndpoint(t *testing.T) {
	rt, _ := newTestRuntime(t, newMemStore(), Defaults{Service: "api", BaseURL: "http://10.0.0.5:8000/v1", Model: "faster-whisper", APIKey: "k"})

	rt.ResolveInitial()

	snap := rt.Snapshot()
	if snap.Kind != KindRemoteCustom {
		t.Fatalf("Kind = %v, want custom", snap.Kind)
	}
	if snap.BaseURL != "http://10.0.0.5:8000/v1" || snap.Model != "faster-whisper" {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestResolveInitialPersistedCustomWithEmptyKey(t *testing.T) {
	store := newMemStore()
	store.Set(settings.KeyProviderID, "custom")
	store.Set(settings.KeyCustomBaseURL, "http://box:9000/v1")
	store.Set(settings.KeyCustomModel, "whisper-1")
	rt, _ := newTestRuntime(t, store, Defaults{Service: "api", APIKey: "envkey", BaseURL: "x", Model: "y"})

	rt.ResolveInitial()

	snap := rt.Snapshot()
	if snap.Kind != KindRemoteCustom {
		t.Fatalf("Kind = %v, want custom", snap.Kind)
	}
	// Custom endpoints keep their own (possibly empty) key; the env
	// default key is not substituted in.
	if snap.APIKey != "" {
		t.Errorf("APIKey = %q, want empty", snap.APIKey)
	}
	if rt.NeedsKey() {
		t.Error("custom endpoint must not require a key")
	}
}

func TestResolveInitialLocalService(t *testing.T) {
	fakeWhisperCLI(t)
	rt, _ := newTestRuntime(t, newMemStore(), Defaults{Service: "local"})
	writeGGML(t, filepath.Join(rt.modelsDir, "ggml-tiny.en.bin"))

	rt.ResolveInitial()
	waitAcquired(t, rt)

	if !rt.IsLocal() {
		t.Fatal("expected local provider active")
	}
	if !rt.HandleResident() {
		t.Fatal("expected resident handle after load")
	}
}

func TestSwitchPersistsAndRecoversKey(t *testing.T) {
	store := newMemStore()
	store.Set(settings.ProviderKeyName("groq"), "saved-groq-key")
	rt, _ := newTestRuntime(t, store, Defaults{APIKey: "envkey"})

	rt.Switch("groq")

	if id, _ := store.Get(settings.KeyProviderID); id != "groq" {
		t.Errorf("persisted id = %q, want groq", id)
	}
	if snap := rt.Snapshot(); snap.APIKey != "saved-groq-key" {
		t.Errorf("APIKey = %q, want the remembered per-provider key", snap.APIKey)
	}

	// No saved key for openrouter: fall back to the process default.
	rt.Switch("openrouter")
	if snap := rt.Snapshot(); snap.APIKey != "envkey" {
		t.Errorf("APIKey = %q, want envkey", snap.APIKey)
	}

	// Keyless provider always clears the key.
	rt.Switch("lmstudio")
	if snap := rt.Snapshot(); snap.APIKey != "" {
		t.Errorf("APIKey = %q, want empty for keyless provider", snap.APIKey)
	}
}

func TestSwitchUnknownID(t *testing.T) {
	rt, statuses := newTestRuntime(t, newMemStore(), Defaults{})
	before := rt.Snapshot()
	rt.Switch("nope")
	if rt.Snapshot() != before {
		t.Error("unknown id must not change the active provider")
	}
	if len(*statuses) == 0 {
		t.Error("expected a status message for the unknown id")
	}
}

func TestSwitchBetweenLocalPresetsDeletesOldArtifact(t *testing.T) {
	fakeWhisperCLI(t)
	rt, _ := newTestRuntime(t, newMemStore(), Defaults{})

	pathA := filepath.Join(rt.modelsDir, "ggml-tiny.en.bin")
	pathB := filepath.Join(rt.modelsDir, "ggml-base.en.bin")
	writeGGML(t, pathA)
	writeGGML(t, pathB)

	rt.Switch("local-tiny")
	waitAcquired(t, rt)
	if !rt.HandleResident() {
		t.Fatal("tiny model should be resident")
	}

	rt.Switch("local-base")
	waitAcquired(t, rt)

	if _, err := os.Stat(pathA); !os.IsNotExist(err) {
		t.Error("artifact A still on disk after switching to B")
	}
	if !rt.HandleResident() {
		t.Fatal("base model should be resident")
	}
	if snap := rt.Snapshot(); snap.Label != "local-base" {
		t.Errorf("active = %q, want local-base", snap.Label)
	}
}

func TestSwitchToRemoteDeletesLocalArtifact(t *testing.T) {
	fakeWhisperCLI(t)
	rt, _ := newTestRuntime(t, newMemStore(), Defaults{APIKey: "k"})

	path := filepath.Join(rt.modelsDir, "ggml-tiny.en.bin")
	writeGGML(t, path)
	rt.Switch("local-tiny")
	waitAcquired(t, rt)

	rt.Switch("groq")

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("artifact still on disk after switching to remote")
	}
	if rt.HandleResident() {
		t.Error("handle still resident after switching to remote")
	}
}

// A fresh runtime resolves artifact URLs through ModelURL, pointing at the
// upstream whisper.cpp model repository.
func TestDefaultModelURL(t *testing.T) {
	rt, _ := newTestRuntime(t, newMemStore(), Defaults{})
	got := rt.modelURL("ggml-tiny.en.bin")
	want := "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.en.bin"
	if got != want {
		t.Errorf("model URL = %q, want %q", got, want)
	}
}

func TestSwitchBlockedWhileDownloading(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100000")
		w.Write(make([]byte, 1024))
		w.(http.Flusher).Flush()
		<-release
	}))
	defer srv.Close()
	defer close(release)

	rt, _ := newTestRuntime(t, newMemStore(), Defaults{APIKey: "k"})
	rt.modelURL = func(artifact string) string { return srv.URL + "/" + artifact }

	rt.Switch("local-tiny")
	if !rt.Downloading() {
		t.Fatal("expected downloading flag set")
	}

	rt.Switch("groq")
	if !rt.IsLocal() {
		t.Error("switch during download must be a no-op")
	}
	if err := rt.SwitchToCustomRemote("http://x/v1", "", "m"); err == nil {
		t.Error("custom switch during download must fail")
	}
}

func TestDownloadSuccessTriggersLoad(t *testing.T) {
	fakeWhisperCLI(t)
	payload := make([]byte, 320*1024)
	binary.LittleEndian.PutUint32(payload, 0x67676d6c)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Drip the body out so the poller can observe progress.
		w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
		for off := 0; off < len(payload); off += 64 * 1024 {
			w.Write(payload[off : off+64*1024])
			w.(http.Flusher).Flush()
			time.Sleep(20 * time.Millisecond)
		}
	}))
	defer srv.Close()

	rt, _ := newTestRuntime(t, newMemStore(), Defaults{})
	rt.modelURL = func(artifact string) string { return srv.URL + "/" + artifact }

	rt.Switch("local-tiny")

	var sawProgress bool
	var last int64
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rt.Poll()
		if p, ok := rt.DownloadProgress(); ok && p.Downloaded > 0 {
			if p.Downloaded < last {
				t.Fatalf("progress went backwards: %d after %d", p.Downloaded, last)
			}
			last = p.Downloaded
			sawProgress = true
		}
		if !rt.Downloading() && !rt.Acquiring() {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !sawProgress {
		t.Error("no progress events observed")
	}
	if !rt.HandleResident() {
		t.Fatal("expected automatic load after download")
	}
	if _, err := os.Stat(filepath.Join(rt.modelsDir, "ggml-tiny.en.bin")); err != nil {
		t.Errorf("artifact missing after download: %v", err)
	}
}

func TestDownloadFailureRevertsToFirstRemote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	store := newMemStore()
	rt, _ := newTestRuntime(t, store, Defaults{APIKey: "envkey"})
	rt.modelURL = func(artifact string) string { return srv.URL + "/" + artifact }

	rt.Switch("local-tiny")
	waitAcquired(t, rt)

	if rt.IsLocal() {
		t.Error("local still active after download failure")
	}
	if snap := rt.Snapshot(); snap.Label != RemotePresets[0].ID {
		t.Errorf("active = %q, want %q", snap.Label, RemotePresets[0].ID)
	}
	if rt.Downloading() {
		t.Error("downloading flag not cleared")
	}
	if id, _ := store.Get(settings.KeyProviderID); id != RemotePresets[0].ID {
		t.Errorf("persisted id = %q, want revert target", id)
	}
}

func TestLoadFailureRevertsToFirstRemote(t *testing.T) {
	rt, _ := newTestRuntime(t, newMemStore(), Defaults{APIKey: "k"})
	rt.loadModel = func(path string) (*models.Handle, error) {
		return nil, errors.New("corrupt model")
	}
	writeGGML(t, filepath.Join(rt.modelsDir, "ggml-tiny.en.bin"))

	rt.Switch("local-tiny")
	waitAcquired(t, rt)

	if rt.IsLocal() || rt.HandleResident() {
		t.Error("local must not remain active after load failure")
	}
	if snap := rt.Snapshot(); snap.Label != RemotePresets[0].ID {
		t.Errorf("active = %q, want first remote preset", snap.Label)
	}
}

func TestSwitchToCustomRemoteValidation(t *testing.T) {
	store := newMemStore()
	rt, _ := newTestRuntime(t, store, Defaults{})

	if err := rt.SwitchToCustomRemote("", "", "m"); err == nil {
		t.Error("empty base URL must fail")
	}
	if err := rt.SwitchToCustomRemote("http://x/v1", "", "  "); err == nil {
		t.Error("empty model must fail")
	}

	if err := rt.SwitchToCustomRemote("http://x/v1", "sk-1", "whisper-1"); err != nil {
		t.Fatalf("SwitchToCustomRemote: %v", err)
	}
	if id, _ := store.Get(settings.KeyProviderID); id != "custom" {
		t.Errorf("persisted id = %q, want custom", id)
	}
	if url, _ := store.Get(settings.KeyCustomBaseURL); url != "http://x/v1" {
		t.Errorf("persisted url = %q", url)
	}
	snap := rt.Snapshot()
	if snap.Kind != KindRemoteCustom || snap.APIKey != "sk-1" || snap.Model != "whisper-1" {
		t.Errorf("snapshot = %+v", snap)
	}
}
