package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"whisperclip/audio"
	"whisperclip/clipboard"
	"whisperclip/history"
	"whisperclip/hotkey"
	"whisperclip/log"
	"whisperclip/orchestrator"
	"whisperclip/provider"
	"whisperclip/settings"
	"whisperclip/update"
)

var version = "dev"

var shutdownOnce sync.Once

func gracefulShutdown(hk hotkey.Hotkey, capture *audio.Capture) {
	shutdownOnce.Do(func() {
		if hk != nil {
			hk.Unregister()
		}
		if capture != nil {
			capture.Close()
		}
		log.Close()
		os.Exit(0)
	})
}

// clipboardDelivery adapts the clipboard package to the orchestrator.
type clipboardDelivery struct{}

func (clipboardDelivery) Copy(text string) error { return clipboard.Copy(text) }
func (clipboardDelivery) Paste() error           { return clipboard.Paste() }

func configDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, "whisperclip")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func printHistory(path string, n int) {
	store, err := history.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	entries, err := store.Recent(n)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Printf("[%s] %s\n", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Text)
	}
}

func runUpdate() {
	if version == "dev" {
		fmt.Println("Dev build — cannot check for updates.")
		os.Exit(0)
	}
	fmt.Printf("whisperclip %s — checking for updates...\n", version)
	rel, err := update.CheckLatest(version)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if rel == nil {
		fmt.Println("Already up to date.")
		os.Exit(0)
	}
	fmt.Printf("Update available: %s -> %s\n", version, rel.Version)
	fmt.Print("Continue? [y/N] ")
	var answer string
	fmt.Scanln(&answer)
	if answer != "y" && answer != "Y" {
		fmt.Println("Aborted.")
		os.Exit(0)
	}
	fmt.Printf("Downloading %s...\n", rel.Version)
	if err := update.Apply(rel); err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Updated to %s\n", rel.Version)
	os.Exit(0)
}

func run() {
	if len(os.Args) > 1 && os.Args[1] == "update" {
		runUpdate()
	}

	godotenv.Load()

	historyFlag := flag.Int("history", 0, "Print the last N transcriptions and exit")
	providerFlag := flag.String("provider", "", "Switch provider (groq, ollama, openrouter, lmstudio, local-tiny, local-base, local-small, local-medium)")
	customURLFlag := flag.String("custom-url", "", "Use a custom OpenAI-compatible endpoint base URL")
	customKeyFlag := flag.String("custom-key", "", "API key for the custom endpoint")
	customModelFlag := flag.String("custom-model", "", "Model name for the custom endpoint")
	autoPasteFlag := flag.Bool("autopaste", true, "Paste into the focused window after copying")
	logPathFlag := flag.String("logpath", "", "log directory path (default: OS-specific location, use ./ for current dir)")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("whisperclip %s\n", version)
		os.Exit(0)
	}

	logPath, err := log.ResolveDir(*logPathFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve log directory: %v\n", err)
		os.Exit(1)
	}
	log.SetDir(logPath)
	if err := log.EnsureDir(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not create log directory: %v\n", err)
	}

	crashPath := filepath.Join(log.Dir(), "crash_log.txt")
	crashFile, err := os.OpenFile(crashPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		fmt.Fprintf(crashFile, "\n=== Session %s [pid=%d] ===\n", time.Now().Format("2006-01-02 15:04:05"), os.Getpid())
		debug.SetCrashOutput(crashFile, debug.CrashOptions{})
	}

	cfgDir, err := configDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: config directory: %v\n", err)
		os.Exit(1)
	}
	historyPath := filepath.Join(cfgDir, "history.jsonl")

	if *historyFlag > 0 {
		printHistory(historyPath, *historyFlag)
		return
	}

	if err := log.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not init logging: %v\n", err)
	}

	store, err := settings.Open(filepath.Join(cfgDir, "settings.yaml"))
	if err != nil {
		log.Errorf("opening settings: %v", err)
		fmt.Fprintf(os.Stderr, "Error: settings: %v\n", err)
		os.Exit(1)
	}
	hist, err := history.Open(historyPath)
	if err != nil {
		log.Errorf("opening history: %v", err)
		fmt.Fprintf(os.Stderr, "Error: history: %v\n", err)
		os.Exit(1)
	}

	modelsDir := filepath.Join(cfgDir, "models")
	if err := os.MkdirAll(modelsDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Error: models directory: %v\n", err)
		os.Exit(1)
	}

	status := func(msg string) {
		fmt.Println(msg)
	}

	rt := provider.NewRuntime(store, modelsDir, provider.DefaultsFromEnv(), status)
	rt.ResolveInitial()

	if *customURLFlag != "" {
		model := *customModelFlag
		if model == "" {
			fmt.Fprintln(os.Stderr, "Error: -custom-url requires -custom-model")
			os.Exit(1)
		}
		if err := rt.SwitchToCustomRemote(*customURLFlag, *customKeyFlag, model); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	} else if *providerFlag != "" {
		rt.Switch(*providerFlag)
	}

	log.SessionStart(rt.ActiveLabel())

	capture, err := audio.NewCapture()
	if err != nil {
		log.Errorf("audio init error: %v", err)
		fmt.Fprintf(os.Stderr, "Error initializing audio: %v\n", err)
		os.Exit(1)
	}

	if *autoPasteFlag {
		if err := clipboard.Init(); err != nil {
			fmt.Printf("Warning: paste init failed: %v\n", err)
			fmt.Println("Fix with: sudo chmod 660 /dev/uinput && sudo chgrp input /dev/uinput")
		}
	}

	orch := orchestrator.New(capture, rt, hist, clipboardDelivery{}, *autoPasteFlag, status)

	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Errorf("hotkey register error: %v", err)
		fmt.Fprintf(os.Stderr, "Error registering hotkey: %v\n", err)
		capture.Close()
		os.Exit(1)
	}

	update.StartBackgroundCheck(version, log.Dir(), func(rel update.Release) {
		log.Info("update_available: " + rel.Version)
		status("Update available: " + rel.Version + " (run: whisperclip update)")
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Printf("whisperclip %s — provider: %s\n", version, rt.ActiveLabel())
	fmt.Println("Press Ctrl+Shift+Space to start and stop recording.")

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	lastPct := -1
	lastRecSec := 0
	for {
		select {
		case <-hk.Triggers():
			orch.Trigger()

		case <-ticker.C:
			rt.Poll()
			orch.Poll()
			if orch.State() == orchestrator.StateRecording {
				if sec := int(orch.RecordingSeconds()); sec > lastRecSec {
					lastRecSec = sec
					fmt.Printf("Recording... %ds\n", sec)
				}
			} else {
				lastRecSec = 0
			}
			if p, ok := rt.DownloadProgress(); ok && p.Total > 0 {
				pct := int(p.Downloaded * 100 / p.Total)
				if pct/5 != lastPct/5 {
					lastPct = pct
					fmt.Printf("Downloading model... %d%%\n", pct)
				}
			} else {
				lastPct = -1
			}

		case <-sigChan:
			gracefulShutdown(hk, capture)
		}
	}
}
