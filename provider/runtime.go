package provider

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"whisperclip/log"
	"whisperclip/models"
	"whisperclip/settings"
)

// Kind tags the active provider variant. The set is closed: remote preset,
// custom remote endpoint, or local model.
type Kind int

const (
	KindRemotePreset Kind = iota
	KindRemoteCustom
	KindLocal
)

// Snapshot is the resolved provider view taken at dispatch time. A request
// keeps the snapshot it was created with even if the runtime switches
// afterwards.
type Snapshot struct {
	Kind    Kind
	Label   string
	BaseURL string
	APIKey  string
	Model   string
	Handle  *models.Handle
}

// Defaults carries process-level configuration, read from the environment
// once at startup. Persisted settings take precedence over these.
type Defaults struct {
	Service string // "api" or "local"
	BaseURL string
	APIKey  string
	Model   string
}

// DefaultsFromEnv reads the process configuration. API_KEY and API_MODEL
// keep their legacy GROQ_* fallbacks so old setups keep working.
func DefaultsFromEnv() Defaults {
	d := Defaults{
		Service: os.Getenv("PRIMARY_TRANSCRIPTION_SERVICE"),
		BaseURL: os.Getenv("API_BASE_URL"),
		APIKey:  os.Getenv("API_KEY"),
		Model:   os.Getenv("API_MODEL"),
	}
	if d.Service == "" {
		d.Service = "api"
	}
	if d.BaseURL == "" {
		d.BaseURL = RemotePresets[0].BaseURL
	}
	if d.APIKey == "" {
		d.APIKey = os.Getenv("GROQ_API_KEY")
	}
	if d.Model == "" {
		d.Model = os.Getenv("GROQ_STT_MODEL")
	}
	if d.Model == "" {
		d.Model = RemotePresets[0].DefaultModel
	}
	return d
}

type customRemote struct {
	baseURL string
	model   string
}

type loadResult struct {
	handle *models.Handle
	err    error
}

// Runtime owns the active provider selection. It is mutated only on the
// orchestration goroutine: switch calls happen there, and background
// download/load outcomes are applied there through Poll.
type Runtime struct {
	store      settings.Store
	modelsDir  string
	defaults   Defaults
	downloader *models.Downloader
	notify     func(string)

	// test seams
	modelURL  func(artifactName string) string
	loadModel func(path string) (*models.Handle, error)

	kind   Kind
	preset *RemotePreset
	custom customRemote
	local  *LocalPreset
	apiKey string

	handle       *models.Handle
	downloading  bool
	progressCh   <-chan models.Progress
	lastProgress models.Progress
	pendingLoad  *LocalPreset
	loadCh       chan loadResult
}

func NewRuntime(store settings.Store, modelsDir string, defaults Defaults, notify func(string)) *Runtime {
	if notify == nil {
		notify = func(string) {}
	}
	return &Runtime{
		store:      store,
		modelsDir:  modelsDir,
		defaults:   defaults,
		downloader: models.NewDownloader(),
		notify:     notify,
		modelURL:   ModelURL,
		loadModel:  models.Load,
		kind:       KindRemotePreset,
		preset:     &RemotePresets[0],
	}
}

// ResolveInitial picks the startup provider: remembered settings first,
// process defaults second. A remembered id that no longer matches any
// preset falls through to the defaults.
func (r *Runtime) ResolveInitial() {
	if id, ok := r.store.Get(settings.KeyProviderID); ok && id != "" {
		if id == "custom" {
			url, _ := r.store.Get(settings.KeyCustomBaseURL)
			model, _ := r.store.Get(settings.KeyCustomModel)
			if url != "" && model != "" {
				key, _ := r.store.Get(settings.KeyCustomAPIKey)
				r.activateCustom(url, key, model, false)
				return
			}
		} else if p := FindPreset(id); p != nil {
			r.activatePreset(p, false)
			return
		} else if lp := FindLocalPreset(id); lp != nil {
			r.activateLocal(lp, false)
			return
		}
		log.Warnf("ignoring unknown persisted provider id %q", id)
	}

	if strings.EqualFold(r.defaults.Service, "local") {
		r.activateLocal(FindLocalPreset(DefaultLocalID), false)
		return
	}

	// Env defaults that line up with a preset activate that preset;
	// anything else is treated as a custom endpoint.
	for i := range RemotePresets {
		p := &RemotePresets[i]
		if p.BaseURL == r.defaults.BaseURL && p.DefaultModel == r.defaults.Model {
			r.activatePreset(p, false)
			return
		}
	}
	r.activateCustom(r.defaults.BaseURL, r.defaults.APIKey, r.defaults.Model, false)
}

// Switch activates the provider with the given preset id. It is a no-op
// while a model download or load is in flight; the orchestrator
// additionally rejects switches outside the Idle state.
func (r *Runtime) Switch(id string) {
	if r.downloading || r.loadCh != nil {
		r.notify("Model download in progress")
		return
	}
	if p := FindPreset(id); p != nil {
		r.activatePreset(p, true)
		return
	}
	if lp := FindLocalPreset(id); lp != nil {
		r.activateLocal(lp, true)
		return
	}
	r.notify("Unknown provider: " + id)
}

// SwitchToCustomRemote validates, persists and activates a user-supplied
// endpoint. Same in-flight preconditions as Switch.
func (r *Runtime) SwitchToCustomRemote(baseURL, apiKey, model string) error {
	if r.downloading || r.loadCh != nil {
		return errors.New("model download in progress")
	}
	if strings.TrimSpace(baseURL) == "" {
		return errors.New("base URL must not be empty")
	}
	if strings.TrimSpace(model) == "" {
		return errors.New("model must not be empty")
	}
	r.activateCustom(baseURL, apiKey, model, true)
	return nil
}

func (r *Runtime) activatePreset(p *RemotePreset, persist bool) {
	r.releaseLocal()
	r.kind = KindRemotePreset
	r.preset = p
	r.local = nil
	r.apiKey = r.resolveKey(p)
	if persist {
		if err := r.store.Set(settings.KeyProviderID, p.ID); err != nil {
			log.Errorf("persisting provider id: %v", err)
		}
	}
	log.Info("provider_active: " + p.ID)
	r.notify("Provider: " + p.Label)
}

func (r *Runtime) activateCustom(baseURL, apiKey, model string, persist bool) {
	r.releaseLocal()
	r.kind = KindRemoteCustom
	r.custom = customRemote{baseURL: baseURL, model: model}
	r.preset = nil
	r.local = nil
	r.apiKey = apiKey
	if persist {
		r.store.Set(settings.KeyCustomBaseURL, baseURL)
		r.store.Set(settings.KeyCustomAPIKey, apiKey)
		r.store.Set(settings.KeyCustomModel, model)
		if err := r.store.Set(settings.KeyProviderID, "custom"); err != nil {
			log.Errorf("persisting provider id: %v", err)
		}
	}
	log.Info("provider_active: custom " + baseURL)
	r.notify("Provider: " + baseURL)
}

func (r *Runtime) activateLocal(lp *LocalPreset, persist bool) {
	if r.local != nil && r.local.ID == lp.ID && (r.handle != nil || r.loadCh != nil) {
		return
	}
	r.releaseLocal()
	r.kind = KindLocal
	r.local = lp
	r.preset = nil
	r.apiKey = ""
	if persist {
		if err := r.store.Set(settings.KeyProviderID, lp.ID); err != nil {
			log.Errorf("persisting provider id: %v", err)
		}
	}
	log.Info("provider_active: " + lp.ID)
	r.acquire(lp)
}

// resolveKey recovers the remembered key for this provider before falling
// back to the process default. Keyless providers never carry a key.
func (r *Runtime) resolveKey(p *RemotePreset) string {
	if !p.NeedsKey {
		return ""
	}
	if saved, ok := r.store.Get(settings.ProviderKeyName(p.ID)); ok && saved != "" {
		return saved
	}
	return r.defaults.APIKey
}

// releaseLocal drops the resident model and deletes its artifact. Models
// are not retained once deselected.
func (r *Runtime) releaseLocal() {
	if r.handle != nil {
		if err := r.handle.Release(); err != nil {
			log.Errorf("releasing model: %v", err)
		}
		r.handle = nil
		return
	}
	if r.local != nil {
		os.Remove(r.artifactPath(r.local))
	}
}

func (r *Runtime) artifactPath(lp *LocalPreset) string {
	return filepath.Join(r.modelsDir, lp.ArtifactName)
}

// acquire makes the selected local model usable: load it if the artifact
// is on disk, download it first if not.
func (r *Runtime) acquire(lp *LocalPreset) {
	path := r.artifactPath(lp)
	if _, err := os.Stat(path); err == nil {
		r.startLoad(lp)
		return
	}
	r.downloading = true
	r.pendingLoad = lp
	r.lastProgress = models.Progress{Total: models.TotalUnknown}
	r.notify(fmt.Sprintf("Downloading %s model (%s)...", lp.Label, lp.SizeLabel))
	r.progressCh = r.downloader.Download(r.modelURL(lp.ArtifactName), path)
}

func (r *Runtime) startLoad(lp *LocalPreset) {
	ch := make(chan loadResult, 1)
	r.loadCh = ch
	path := r.artifactPath(lp)
	load := r.loadModel
	go func() {
		h, err := load(path)
		ch <- loadResult{handle: h, err: err}
		close(ch)
	}()
	r.notify("Loading " + lp.Label + " model...")
}

// Poll applies any terminal download or load outcome. Called from the
// orchestration loop; never blocks.
func (r *Runtime) Poll() {
	if r.progressCh != nil {
		r.pollDownload()
	}
	if r.loadCh != nil {
		r.pollLoad()
	}
}

func (r *Runtime) pollDownload() {
	for {
		select {
		case p, ok := <-r.progressCh:
			if !ok {
				// Closed without a terminal event: internal fault.
				r.progressCh = nil
				r.downloading = false
				r.pendingLoad = nil
				r.revert("Model download aborted")
				return
			}
			if p.Err != nil {
				r.progressCh = nil
				r.downloading = false
				r.pendingLoad = nil
				r.revert("Model download failed: " + p.Err.Error())
				return
			}
			if p.Done {
				r.progressCh = nil
				r.downloading = false
				lp := r.pendingLoad
				r.pendingLoad = nil
				log.Infof("model_downloaded: %s (%d bytes)", lp.ArtifactName, p.Downloaded)
				r.startLoad(lp)
				return
			}
			r.lastProgress = p
		default:
			return
		}
	}
}

func (r *Runtime) pollLoad() {
	select {
	case res, ok := <-r.loadCh:
		r.loadCh = nil
		if !ok {
			r.revert("Model load aborted")
			return
		}
		if res.err != nil {
			r.revert("Model load failed: " + res.err.Error())
			return
		}
		r.handle = res.handle
		log.Info("model_loaded: " + r.local.ID)
		r.notify(r.local.Label + " model ready")
	default:
	}
}

// revert falls back to the first remote preset so Local is never left
// active without a usable handle. The artifact, if any, stays on disk for
// the next attempt.
func (r *Runtime) revert(reason string) {
	log.Error(reason)
	r.notify(reason)
	p := &RemotePresets[0]
	r.kind = KindRemotePreset
	r.preset = p
	r.local = nil
	r.handle = nil
	r.apiKey = r.resolveKey(p)
	if err := r.store.Set(settings.KeyProviderID, p.ID); err != nil {
		log.Errorf("persisting provider id: %v", err)
	}
	r.notify("Reverted to " + p.Label)
}

func (r *Runtime) Downloading() bool { return r.downloading }

// Acquiring reports whether a model load is still in flight.
func (r *Runtime) Acquiring() bool { return r.loadCh != nil }

// DownloadProgress returns the latest progress event while downloading.
func (r *Runtime) DownloadProgress() (models.Progress, bool) {
	if !r.downloading {
		return models.Progress{}, false
	}
	return r.lastProgress, true
}

func (r *Runtime) IsLocal() bool        { return r.kind == KindLocal }
func (r *Runtime) HandleResident() bool { return r.handle != nil }

// NeedsKey reports whether the active selection requires an API key
// before a recording may start.
func (r *Runtime) NeedsKey() bool {
	return r.kind == KindRemotePreset && r.preset.NeedsKey
}

func (r *Runtime) HasKey() bool { return r.apiKey != "" }

func (r *Runtime) ActiveLabel() string {
	switch r.kind {
	case KindRemoteCustom:
		return r.custom.baseURL
	case KindLocal:
		return r.local.Label + " (local)"
	default:
		return r.preset.Label
	}
}

// Snapshot resolves the active provider into the value a transcription
// request carries.
func (r *Runtime) Snapshot() Snapshot {
	switch r.kind {
	case KindRemoteCustom:
		return Snapshot{
			Kind:    KindRemoteCustom,
			Label:   "custom",
			BaseURL: r.custom.baseURL,
			APIKey:  r.apiKey,
			Model:   r.custom.model,
		}
	case KindLocal:
		return Snapshot{
			Kind:   KindLocal,
			Label:  r.local.ID,
			Model:  r.local.ID,
			Handle: r.handle,
		}
	default:
		return Snapshot{
			Kind:    KindRemotePreset,
			Label:   r.preset.ID,
			BaseURL: r.preset.BaseURL,
			APIKey:  r.apiKey,
			Model:   r.preset.DefaultModel,
		}
	}
}
