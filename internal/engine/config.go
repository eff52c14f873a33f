package engine

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Config is the parsed form of <data_dir>/config: key=value lines.
type Config struct {
	LogLevel      string
	LogTags       string
	LogFileEnabled bool
	LogMaxSizeKB  int
	LogMaxFiles   int
	BootstrapNodes []string
}

func defaultConfig() Config {
	return Config{
		LogLevel:       "info",
		LogTags:        "",
		LogFileEnabled: false,
		LogMaxSizeKB:   10240,
		LogMaxFiles:    5,
		BootstrapNodes: nil,
	}
}

func configPath(dataDir string) string {
	return filepath.Join(dataDir, "config")
}

// LoadConfig reads <data_dir>/config, writing defaults first if the file is
// absent.
func LoadConfig(dataDir string) (Config, error) {
	path := configPath(dataDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := defaultConfig()
		if err := SaveConfig(dataDir, cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()

	cfg := defaultConfig()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		k, v = strings.TrimSpace(k), strings.TrimSpace(v)
		switch k {
		case "log_level":
			cfg.LogLevel = v
		case "log_tags":
			cfg.LogTags = v
		case "log_file_enabled":
			cfg.LogFileEnabled = v == "true" || v == "1"
		case "log_max_size_kb":
			if n, err := strconv.Atoi(v); err == nil {
				cfg.LogMaxSizeKB = n
			}
		case "log_max_files":
			if n, err := strconv.Atoi(v); err == nil {
				cfg.LogMaxFiles = n
			}
		case "bootstrap_nodes":
			if v != "" {
				cfg.BootstrapNodes = strings.Split(v, ",")
			}
		}
	}
	return cfg, scanner.Err()
}

// SaveConfig writes cfg to <data_dir>/config in key=value form.
func SaveConfig(dataDir string, cfg Config) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "log_level=%s\n", cfg.LogLevel)
	fmt.Fprintf(&b, "log_tags=%s\n", cfg.LogTags)
	fmt.Fprintf(&b, "log_file_enabled=%t\n", cfg.LogFileEnabled)
	fmt.Fprintf(&b, "log_max_size_kb=%d\n", cfg.LogMaxSizeKB)
	fmt.Fprintf(&b, "log_max_files=%d\n", cfg.LogMaxFiles)
	fmt.Fprintf(&b, "bootstrap_nodes=%s\n", strings.Join(cfg.BootstrapNodes, ","))
	return os.WriteFile(configPath(dataDir), []byte(b.String()), 0o600)
}

// ConfigWatcher live-reloads <data_dir>/config on write, so the engine
// picks up externally edited settings without a restart.
type ConfigWatcher struct {
	mu       sync.RWMutex
	current  Config
	watcher  *fsnotify.Watcher
	onChange func(Config)
	done     chan struct{}
}

// WatchConfig starts watching <data_dir>/config for writes and invokes
// onChange with the freshly reloaded Config whenever it changes.
func WatchConfig(dataDir string, onChange func(Config)) (*ConfigWatcher, error) {
	cfg, err := LoadConfig(dataDir)
	if err != nil {
		return nil, err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dataDir); err != nil {
		w.Close()
		return nil, err
	}
	cw := &ConfigWatcher{current: cfg, watcher: w, onChange: onChange, done: make(chan struct{})}
	go cw.loop(dataDir)
	return cw, nil
}

func (cw *ConfigWatcher) loop(dataDir string) {
	target := configPath(dataDir)
	for {
		select {
		case ev, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := LoadConfig(dataDir)
			if err != nil {
				continue
			}
			cw.mu.Lock()
			cw.current = cfg
			cw.mu.Unlock()
			if cw.onChange != nil {
				cw.onChange(cfg)
			}
		case <-cw.watcher.Errors:
			continue
		case <-cw.done:
			return
		}
	}
}

// Current returns the most recently loaded Config.
func (cw *ConfigWatcher) Current() Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.current
}

// Close stops watching.
func (cw *ConfigWatcher) Close() error {
	close(cw.done)
	return cw.watcher.Close()
}
