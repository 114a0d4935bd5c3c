package seqmodel

import (
	"fmt"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
)

func init() {
	var t Temperature
	serializer.RegisterTypedDeserializer(t.SerializerType(), DeserializeTemperature)
}

// Temperature is an anynet.Layer which divides its input
// by a constant.
//
// Placed right before a LogSoftmax, it sharpens (T < 1)
// or flattens (T > 1) the resulting distribution.
type Temperature struct {
	T float64
}

// DeserializeTemperature deserializes a Temperature.
func DeserializeTemperature(d []byte) (*Temperature, error) {
	var t serializer.Float64
	if err := serializer.DeserializeAny(d, &t); err != nil {
		return nil, essentials.AddCtx("deserialize Temperature", err)
	}
	res := Temperature{T: float64(t)}
	if res.T <= 0 {
		return nil, fmt.Errorf("deserialize Temperature: invalid value %f", res.T)
	}
	return &res, nil
}

// Apply scales the input.
func (t *Temperature) Apply(in anydiff.Res, n int) anydiff.Res {
	if t.T == 1 {
		return in
	}
	return anydiff.Scale(in, in.Output().Creator().MakeNumeric(1/t.T))
}

// SerializerType returns the unique ID used to serialize
// a Temperature with the serializer package.
func (t *Temperature) SerializerType() string {
	return "github.com/stjordanis/MolBot/seqmodel.Temperature"
}

// Serialize serializes the layer.
func (t *Temperature) Serialize() ([]byte, error) {
	return serializer.SerializeAny(serializer.Float64(t.T))
}
