package config

import (
	"fmt"
	"log"
	"os"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	loadedConfig *AppConfig

	configMutex sync.RWMutex
)

// LoadConfig reads the YAML file, applies defaults and env overrides, validates and
// stores the result for GetConfig. A missing file is not an error: defaults are used.
func LoadConfig(filePath string) error {
	log.Printf("Loading configuration from %s...", filePath)

	cfg, err := Parse(filePath)
	if err != nil {
		return err
	}

	configMutex.Lock()
	loadedConfig = cfg
	configMutex.Unlock()

	log.Printf("Configuration loaded and validated successfully. Prompt source: %s, storage: %s, duration: %s",
		cfg.Prompts.Source, cfg.Storage.Backend, cfg.Writing.Duration)
	return nil
}

// Parse builds a validated AppConfig from filePath without touching the global.
func Parse(filePath string) (*AppConfig, error) {
	var cfg AppConfig

	yamlFile, err := os.ReadFile(filePath)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(yamlFile, &cfg); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML from '%s': %w", filePath, err)
		}
	case os.IsNotExist(err):
		log.Printf("Warning: config file '%s' not found, using defaults.", filePath)
	default:
		return nil, fmt.Errorf("failed to read config file '%s': %w", filePath, err)
	}

	cfg.ApplyDefaults()
	if err := ApplyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func GetConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if loadedConfig == nil {
		log.Println("Warning: GetConfig() called before configuration was loaded.")
	}
	return loadedConfig
}

// SetConfig is intended for tests.
func SetConfig(cfg *AppConfig) {
	configMutex.Lock()
	loadedConfig = cfg
	configMutex.Unlock()
}
