package fasttext

import (
	"encoding/json"
	"maps"

	"github.com/pkg/errors"
)

// JSON keys of the named Config fields.
const (
	keyDropout      = "dropout"
	keyRequiresGrad = "requires_grad"
	keyTrainState   = "train_state"
)

// Config holds the hyperparameters of an Embedding. It's saved alongside the vectors.
type Config struct {
	// Dropout probability applied to lookup results while TrainState is true. Must be in [0, 1).
	Dropout float64

	// RequiresGrad marks the table as trainable. It's stored for the enclosing model, lookups ignore it.
	RequiresGrad bool

	// TrainState is true while training (dropout active) and false for inference.
	TrainState bool

	// Extra holds any other options. They are saved and loaded as top-level keys of the JSON object.
	Extra map[string]any
}

// DefaultConfig returns the configuration used for pretrained embeddings and for keys missing when loading.
func DefaultConfig() Config {
	return Config{Dropout: 0.5, RequiresGrad: true, TrainState: true}
}

// Validate checks the configuration values.
func (c Config) Validate() error {
	if c.Dropout < 0 || c.Dropout >= 1 {
		return errors.Errorf("dropout must be in [0, 1), got %g", c.Dropout)
	}
	return nil
}

// MarshalJSON encodes the configuration as a flat object: the Extra keys plus "dropout", "requires_grad" and
// "train_state". The named fields take precedence over Extra keys with the same name.
func (c Config) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(c.Extra)+3)
	maps.Copy(m, c.Extra)
	m[keyDropout] = c.Dropout
	m[keyRequiresGrad] = c.RequiresGrad
	m[keyTrainState] = c.TrainState
	return json.Marshal(m)
}

// UnmarshalJSON decodes a flat object. Missing named keys keep their current value, unknown keys go to Extra.
func (c *Config) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return errors.Wrap(err, "failed to parse embedding configuration")
	}
	for key, value := range raw {
		var err error
		switch key {
		case keyDropout:
			err = json.Unmarshal(value, &c.Dropout)
		case keyRequiresGrad:
			err = json.Unmarshal(value, &c.RequiresGrad)
		case keyTrainState:
			err = json.Unmarshal(value, &c.TrainState)
		default:
			var v any
			err = json.Unmarshal(value, &v)
			if err == nil {
				if c.Extra == nil {
					c.Extra = make(map[string]any)
				}
				c.Extra[key] = v
			}
		}
		if err != nil {
			return errors.Wrapf(err, "invalid value for configuration key %q", key)
		}
	}
	return nil
}
