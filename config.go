package molbot

import (
	"math"
	"os"

	"github.com/stjordanis/MolBot/finetune"
	"github.com/unixpickle/essentials"
	"gopkg.in/yaml.v3"
)

// Policy names accepted in Config.Policy.
const (
	PolicyWindowed = "windowed"
	PolicyFull     = "full"
)

// Config stores the hyper-parameters of a Generator.
type Config struct {
	// Policy selects how strings are encoded for training.
	// It is either PolicyWindowed or PolicyFull.
	Policy string `yaml:"policy"`

	// Window is the context length of the windowed policy.
	Window int `yaml:"window"`

	Hidden1  int     `yaml:"hidden1"`
	Hidden2  int     `yaml:"hidden2"`
	Dropout1 float64 `yaml:"dropout1"`
	Dropout2 float64 `yaml:"dropout2"`

	// BatchSize is the requested mini-batch size.
	// If it is 0, it is picked from the number of samples.
	BatchSize    int     `yaml:"batch_size"`
	Epochs       int     `yaml:"epochs"`
	LearningRate float64 `yaml:"learning_rate"`

	// Validation is the fraction of samples held out while
	// fitting.
	// A negative value disables validation.
	Validation float64 `yaml:"validation"`

	// Seed seeds the random source used for generation.
	// If it is 0, a random seed is used.
	Seed uint64 `yaml:"seed"`

	FineTune finetune.Config `yaml:"fine_tune"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		Policy:       PolicyFull,
		Window:       10,
		Hidden1:      256,
		Hidden2:      256,
		Dropout1:     0.3,
		Dropout2:     0.5,
		Epochs:       4,
		LearningRate: 0.001,
		Validation:   0.05,
		FineTune:     finetune.Config{}.WithDefaults(),
	}
}

// LoadConfig reads a YAML configuration file.
// Fields which are absent from the file keep their
// default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, essentials.AddCtx("load config", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, essentials.AddCtx("load config", err)
	}
	return cfg, cfg.Validate()
}

// Validate returns a *ConfigError for the first invalid
// field, if there is one.
func (c Config) Validate() error {
	switch {
	case c.Policy != PolicyWindowed && c.Policy != PolicyFull:
		return &ConfigError{Field: "policy", Value: c.Policy,
			Reason: "must be " + PolicyWindowed + " or " + PolicyFull}
	case c.Policy == PolicyWindowed && c.Window < 1:
		return &ConfigError{Field: "window", Value: c.Window, Reason: "must be positive"}
	case c.Hidden1 < 1:
		return &ConfigError{Field: "hidden1", Value: c.Hidden1, Reason: "must be positive"}
	case c.Hidden2 < 1:
		return &ConfigError{Field: "hidden2", Value: c.Hidden2, Reason: "must be positive"}
	case !validDropout(c.Dropout1):
		return &ConfigError{Field: "dropout1", Value: c.Dropout1, Reason: "must be in [0, 1)"}
	case !validDropout(c.Dropout2):
		return &ConfigError{Field: "dropout2", Value: c.Dropout2, Reason: "must be in [0, 1)"}
	case c.BatchSize < 0:
		return &ConfigError{Field: "batch_size", Value: c.BatchSize, Reason: "must not be negative"}
	case c.Epochs < 1:
		return &ConfigError{Field: "epochs", Value: c.Epochs, Reason: "must be positive"}
	case !(c.LearningRate > 0) || math.IsInf(c.LearningRate, 0):
		return &ConfigError{Field: "learning_rate", Value: c.LearningRate, Reason: "must be positive"}
	case c.Validation >= 1 || math.IsNaN(c.Validation):
		return &ConfigError{Field: "validation", Value: c.Validation, Reason: "must be less than 1"}
	}
	if err := c.FineTune.WithDefaults().Validate(); err != nil {
		return &ConfigError{Field: "fine_tune", Value: c.FineTune, Reason: err.Error()}
	}
	return nil
}

func validDropout(d float64) bool {
	return d >= 0 && d < 1
}
