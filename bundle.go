package molbot

import (
	"errors"
	"os"

	"github.com/stjordanis/MolBot/codec"
	"github.com/stjordanis/MolBot/seqmodel"
	"github.com/stjordanis/MolBot/vocab"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var b Bundle
	serializer.RegisterTypedDeserializer(b.SerializerType(), DeserializeBundle)
}

// A Bundle is the complete state of a trained Generator.
type Bundle struct {
	Vocab *vocab.Vocab

	// Policy is PolicyWindowed or PolicyFull.
	Policy string

	// Window is used by the windowed policy.
	Window int

	// MaxSize is used by the full-sequence policy.
	MaxSize int

	Model *seqmodel.RNN
}

// DeserializeBundle deserializes a Bundle.
func DeserializeBundle(d []byte) (*Bundle, error) {
	var res Bundle
	err := serializer.DeserializeAny(d, &res.Vocab, &res.Policy, &res.Window, &res.MaxSize,
		&res.Model)
	if err != nil {
		return nil, essentials.AddCtx("deserialize Bundle", err)
	}
	if _, err := res.policy(); err != nil {
		return nil, essentials.AddCtx("deserialize Bundle", err)
	}
	return &res, nil
}

// LoadBundle reads a bundle from a file.
func LoadBundle(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, essentials.AddCtx("load bundle", err)
	}
	var res *Bundle
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, essentials.AddCtx("load bundle", err)
	}
	return res, nil
}

// Save writes the bundle to a file.
func (b *Bundle) Save(path string) error {
	data, err := serializer.SerializeAny(b)
	if err != nil {
		return essentials.AddCtx("save bundle", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return essentials.AddCtx("save bundle", err)
	}
	return nil
}

// SerializerType returns the unique ID used to serialize
// a Bundle with the serializer package.
func (b *Bundle) SerializerType() string {
	return "github.com/stjordanis/MolBot.Bundle"
}

// Serialize serializes the bundle.
func (b *Bundle) Serialize() ([]byte, error) {
	if b.Vocab == nil || b.Model == nil {
		return nil, errors.New("serialize Bundle: incomplete bundle")
	}
	return serializer.SerializeAny(b.Vocab, b.Policy, b.Window, b.MaxSize, b.Model)
}

func (b *Bundle) policy() (codec.Policy, error) {
	switch b.Policy {
	case PolicyWindowed:
		return codec.NewWindowed(b.Vocab, b.Window)
	case PolicyFull:
		return codec.NewFullSequence(b.Vocab, b.MaxSize)
	default:
		return nil, &ConfigError{Field: "policy", Value: b.Policy, Reason: "unknown policy"}
	}
}
