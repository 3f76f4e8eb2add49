// Package provider holds the registry of transcription providers and the
// runtime configuration: which provider is active, its resolved connection
// parameters, and the resident local model when one is loaded.
package provider

// RemotePreset is a named, pre-filled remote provider configuration.
type RemotePreset struct {
	ID           string
	Label        string
	BaseURL      string
	DefaultModel string
	NeedsKey     bool
}

var RemotePresets = []RemotePreset{
	{ID: "groq", Label: "Groq", BaseURL: "https://api.groq.com/openai/v1", DefaultModel: "whisper-large-v3-turbo", NeedsKey: true},
	{ID: "ollama", Label: "Ollama", BaseURL: "http://localhost:11434/v1", DefaultModel: "whisper", NeedsKey: false},
	{ID: "openrouter", Label: "OpenRouter", BaseURL: "https://openrouter.ai/api/v1", DefaultModel: "openai/whisper-1", NeedsKey: true},
	{ID: "lmstudio", Label: "LM Studio", BaseURL: "http://localhost:1234/v1", DefaultModel: "whisper-1", NeedsKey: false},
}

func FindPreset(id string) *RemotePreset {
	for i := range RemotePresets {
		if RemotePresets[i].ID == id {
			return &RemotePresets[i]
		}
	}
	return nil
}

// LocalPreset describes an on-device model that can be downloaded and run
// without any remote service.
type LocalPreset struct {
	ID           string
	Label        string
	ArtifactName string
	SizeLabel    string
}

var LocalPresets = []LocalPreset{
	{ID: "local-tiny", Label: "Tiny", ArtifactName: "ggml-tiny.en.bin", SizeLabel: "~75 MB"},
	{ID: "local-base", Label: "Base", ArtifactName: "ggml-base.en.bin", SizeLabel: "~142 MB"},
	{ID: "local-small", Label: "Small", ArtifactName: "ggml-small.en.bin", SizeLabel: "~466 MB"},
	{ID: "local-medium", Label: "Medium", ArtifactName: "ggml-medium.en.bin", SizeLabel: "~1.5 GB"},
}

const DefaultLocalID = "local-tiny"

func FindLocalPreset(id string) *LocalPreset {
	for i := range LocalPresets {
		if LocalPresets[i].ID == id {
			return &LocalPresets[i]
		}
	}
	return nil
}

const defaultModelBaseURL = "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/"

// ModelURL returns the download URL for a model artifact file name.
func ModelURL(artifactName string) string {
	return defaultModelBaseURL + artifactName
}
