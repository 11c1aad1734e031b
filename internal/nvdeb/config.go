package nvdeb

import (
	"bufio"
	"os"
	"strings"
)

// Config holds key=value settings from /etc/nvdeb.conf plus NVDEB_* env overrides.
type Config struct {
	Values map[string]string
}

// loadConfig reads the config file and applies defaults.
// A missing file is not an error; env overrides still apply.
func loadConfig(path string) (*Config, error) {
	cfg := &Config{Values: make(map[string]string)}

	file, err := os.Open(path)
	if err == nil {
		defer file.Close()
		scanner := bufio.NewScanner(file)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || strings.HasPrefix(line, "#") {
				continue
			}
			parts := strings.SplitN(line, "=", 2)
			if len(parts) != 2 {
				continue
			}
			key := strings.TrimSpace(parts[0])
			val := strings.TrimSpace(parts[1])
			val = strings.Trim(val, `"'`)
			cfg.Values[key] = val
		}
		if err := scanner.Err(); err != nil {
			return cfg, err
		}
	}

	mergeEnvOverrides(cfg)

	if tmp := cfg.Values["TMPDIR"]; tmp == "" {
		cfg.Values["TMPDIR"] = "/tmp"
	}
	if ch := cfg.Values["NVDEB_CHANNEL"]; ch == "" {
		cfg.Values["NVDEB_CHANNEL"] = "stable"
	}

	return cfg, nil
}

// mergeEnvOverrides folds NVDEB_* environment variables into cfg.
func mergeEnvOverrides(cfg *Config) {
	for _, env := range os.Environ() {
		if strings.HasPrefix(env, "NVDEB_") {
			parts := strings.SplitN(env, "=", 2)
			if len(parts) == 2 {
				cfg.Values[parts[0]] = parts[1]
			}
		}
	}
}

func initConfig(cfg *Config) {
	tmpDir = cfg.Values["TMPDIR"]
	if tmpDir == "" {
		tmpDir = "/tmp"
	}

	CacheDir = cfg.Values["NVDEB_CACHE"]
	if CacheDir == "" {
		CacheDir = "/var/cache/nvdeb"
	}
	SourcesDir = CacheDir + "/sources"
	StagingDir = CacheDir + "/staging"
	WorkDir = CacheDir + "/work"
	OutputDir = CacheDir + "/output"
	PackagesDir = CacheDir + "/packages"
	LogDir = CacheDir + "/log"
}
