package prompt

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/dkalashnik/openwrite/pkg/clock"
	"github.com/dkalashnik/openwrite/pkg/config"
	"github.com/dkalashnik/openwrite/pkg/ports"
)

const (
	SourceRotation = "rotation"
	SourceRemote   = "remote"
	SourceDatabase = "database"
)

// Deps carries what a source may need to be built.
type Deps struct {
	Clock  clock.Scheduler
	HTTP   *http.Client
	Lookup DayLookup
}

// SourceStrategy builds one kind of prompt source from configuration.
type SourceStrategy interface {
	Name() string
	Validate(cfg config.PromptsConfig) error
	New(cfg config.PromptsConfig, deps Deps) (ports.PromptSource, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]SourceStrategy)

	validatorOnce sync.Once
	builtinsOnce  sync.Once
)

// RegisterBuiltins wires config validation to the registry and registers built-in sources.
func RegisterBuiltins() {
	builtinsOnce.Do(func() {
		registerValidator()
		MustRegister(rotationStrategy{})
		MustRegister(remoteStrategy{})
		MustRegister(databaseStrategy{})
	})
}

func registerValidator() {
	validatorOnce.Do(func() {
		config.RegisterPromptSourceValidator(func(cfg config.PromptsConfig) error {
			strat := Get(cfg.Source)
			if strat == nil {
				return fmt.Errorf("config validation failed: unknown prompt source '%s'", cfg.Source)
			}
			return strat.Validate(cfg)
		})
	})
}

// MustRegister adds a strategy to the registry, panicking when a duplicate name is registered.
func MustRegister(strategy SourceStrategy) {
	if strategy == nil {
		panic("cannot register nil prompt source")
	}

	key := normalize(strategy.Name())
	registryMu.Lock()
	defer registryMu.Unlock()

	if _, exists := registry[key]; exists {
		panic(fmt.Sprintf("prompt source '%s' already registered", strategy.Name()))
	}
	registry[key] = strategy
}

// Get returns the strategy for the given name, or nil when absent.
func Get(name string) SourceStrategy {
	key := normalize(name)
	registryMu.RLock()
	defer registryMu.RUnlock()

	return registry[key]
}

// New builds the configured source.
func New(cfg config.PromptsConfig, deps Deps) (ports.PromptSource, error) {
	strat := Get(cfg.Source)
	if strat == nil {
		return nil, fmt.Errorf("prompt source '%s' is not registered", cfg.Source)
	}
	if err := strat.Validate(cfg); err != nil {
		return nil, err
	}
	return strat.New(cfg, deps)
}

func normalize(name string) string {
	return strings.TrimSpace(strings.ToLower(name))
}

// resetRegistryForTests wipes registration state. Only used inside unit tests.
func resetRegistryForTests() {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry = make(map[string]SourceStrategy)
	validatorOnce = sync.Once{}
	builtinsOnce = sync.Once{}
}

type rotationStrategy struct{}

func (rotationStrategy) Name() string { return SourceRotation }

func (rotationStrategy) Validate(cfg config.PromptsConfig) error {
	for i, p := range cfg.Rotation {
		if strings.TrimSpace(p) == "" {
			return fmt.Errorf("config validation failed: prompts.rotation[%d] is empty", i)
		}
	}
	return nil
}

func (rotationStrategy) New(cfg config.PromptsConfig, deps Deps) (ports.PromptSource, error) {
	prompts := cfg.Rotation
	if len(prompts) == 0 {
		prompts = DefaultRotation
	}
	return NewRotation(prompts, deps.Clock), nil
}

type remoteStrategy struct{}

func (remoteStrategy) Name() string { return SourceRemote }

func (remoteStrategy) Validate(cfg config.PromptsConfig) error {
	if strings.TrimSpace(cfg.RemoteURL) == "" {
		return fmt.Errorf("config validation failed: prompts.remote_url is required for source '%s'", SourceRemote)
	}
	if !strings.HasPrefix(cfg.RemoteURL, "http://") && !strings.HasPrefix(cfg.RemoteURL, "https://") {
		return fmt.Errorf("config validation failed: prompts.remote_url must be an http(s) URL, got '%s'", cfg.RemoteURL)
	}
	return nil
}

func (remoteStrategy) New(cfg config.PromptsConfig, deps Deps) (ports.PromptSource, error) {
	return NewRemote(cfg.RemoteURL, deps.HTTP), nil
}

type databaseStrategy struct{}

func (databaseStrategy) Name() string { return SourceDatabase }

func (databaseStrategy) Validate(config.PromptsConfig) error { return nil }

func (databaseStrategy) New(_ config.PromptsConfig, deps Deps) (ports.PromptSource, error) {
	if deps.Lookup == nil {
		return nil, fmt.Errorf("prompt source '%s' needs a database lookup", SourceDatabase)
	}
	return NewDatabase(deps.Lookup, deps.Clock), nil
}
