package seqmodel

import (
	"errors"
	"fmt"
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anydiff/anyseq"
	"github.com/unixpickle/anynet"
	"github.com/unixpickle/anynet/anyrnn"
	"github.com/unixpickle/anynet/anysgd"
	"github.com/unixpickle/anyvec"
	"github.com/unixpickle/essentials"
	"github.com/unixpickle/serializer"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultLearningRate  = 0.001
	DefaultReinforceRate = 0.0005
	DefaultClipNorm      = 3.0
)

func init() {
	var r RNN
	serializer.RegisterTypedDeserializer(r.SerializerType(), DeserializeRNN)
}

// RNN is a Model made of two stacked LSTMs followed by a
// fully-connected softmax output layer.
//
// Input dropout is applied before each LSTM during
// training.
type RNN struct {
	// Block is the underlying network.
	// Its last element is a *anyrnn.LayerBlock wrapping an
	// anynet.Net that ends in a Temperature and a
	// LogSoftmax.
	Block anyrnn.Stack

	// LearningRate is the step size for TrainStep.
	LearningRate float64

	// ReinforceRate is the step size for Reinforce.
	ReinforceRate float64

	// ClipNorm, if non-zero, bounds the gradient norm used
	// by Reinforce.
	ClipNorm float64

	trainOpt     anysgd.Transformer
	reinforceOpt anysgd.Transformer
}

// NewRNN creates a randomly initialized RNN.
//
// The dropout arguments are drop probabilities for the
// inputs of the first and second LSTM.
func NewRNN(c anyvec.Creator, vocabSize, hidden1, hidden2 int, dropout1,
	dropout2 float64) *RNN {
	return &RNN{
		Block: anyrnn.Stack{
			&anyrnn.LayerBlock{Layer: &anynet.Dropout{KeepProb: 1 - dropout1}},
			anyrnn.NewLSTM(c, vocabSize, hidden1),
			&anyrnn.LayerBlock{Layer: &anynet.Dropout{KeepProb: 1 - dropout2}},
			anyrnn.NewLSTM(c, hidden1, hidden2),
			&anyrnn.LayerBlock{
				Layer: anynet.Net{
					anynet.NewFC(c, hidden2, vocabSize),
					&Temperature{T: 1},
					anynet.LogSoftmax,
				},
			},
		},
		LearningRate:  DefaultLearningRate,
		ReinforceRate: DefaultReinforceRate,
		ClipNorm:      DefaultClipNorm,
	}
}

// DeserializeRNN deserializes an RNN.
func DeserializeRNN(d []byte) (*RNN, error) {
	var blockData []byte
	var rate, reinforceRate, clip serializer.Float64
	err := serializer.DeserializeAny(d, &blockData, &rate, &reinforceRate, &clip)
	if err != nil {
		return nil, essentials.AddCtx("deserialize RNN", err)
	}
	res := RNN{
		LearningRate:  float64(rate),
		ReinforceRate: float64(reinforceRate),
		ClipNorm:      float64(clip),
	}
	slice, err := serializer.DeserializeSlice(blockData)
	if err != nil {
		return nil, essentials.AddCtx("deserialize RNN", err)
	}
	for _, x := range slice {
		if block, ok := x.(anyrnn.Block); ok {
			res.Block = append(res.Block, block)
		} else {
			return nil, fmt.Errorf("deserialize RNN: not a Block: %T", x)
		}
	}
	if _, err := res.head(); err != nil {
		return nil, essentials.AddCtx("deserialize RNN", err)
	}
	return &res, nil
}

// Parameters returns the learnable parameters.
func (r *RNN) Parameters() []*anydiff.Var {
	var res []*anydiff.Var
	for _, b := range r.Block {
		if p, ok := b.(anynet.Parameterizer); ok {
			res = append(res, p.Parameters()...)
		}
	}
	return res
}

// Predict computes the next-symbol distribution for every
// timestep of the input.
func (r *RNN) Predict(in *mat.Dense) (*mat.Dense, error) {
	rows, cols := in.Dims()
	if err := r.checkWidth(cols); err != nil {
		return nil, err
	}
	if rows == 0 {
		return nil, errors.New("predict: empty sequence")
	}
	c := r.creator()
	seq := anyseq.ConstSeqList(c, [][]anyvec.Vector{denseToVecs(c, in)})
	out := anyrnn.Map(seq, r.Block).Output()
	res := mat.NewDense(rows, cols, nil)
	for i, batch := range out {
		for j, x := range vecToFloats(batch.Packed) {
			res.Set(i, j, math.Exp(x))
		}
	}
	return res, nil
}

// TrainStep performs a step of Adam on the batch's
// average cross-entropy.
func (r *RNN) TrainStep(inputs, targets []*mat.Dense) (float64, error) {
	if len(inputs) != len(targets) {
		return 0, errors.New("train step: input and target counts differ")
	}
	for _, in := range inputs {
		if _, cols := in.Dims(); r.checkWidth(cols) != nil {
			return 0, r.checkWidth(cols)
		}
	}
	r.setDropout(true)
	defer r.setDropout(false)

	t := &Trainer{
		Block:   r.Block,
		Cost:    anynet.DotCost{},
		Params:  r.Parameters(),
		Average: true,
	}
	batch, err := t.Fetch(&Samples{Inputs: inputs, Targets: targets, C: r.creator()})
	if err != nil {
		return 0, essentials.AddCtx("train step", err)
	}
	grad := t.Gradient(batch)
	if r.trainOpt == nil {
		r.trainOpt = &anysgd.Adam{}
	}
	r.step(grad, r.trainOpt, r.LearningRate, 0)
	return numericFloat(t.LastCost), nil
}

// Reinforce performs a step of Adam on the squared
// difference between target and the log-likelihood of seq.
func (r *RNN) Reinforce(seq *mat.Dense, target float64) (float64, error) {
	rows, cols := seq.Dims()
	if err := r.checkWidth(cols); err != nil {
		return 0, err
	}
	if rows < 2 {
		return 0, nil
	}
	c := r.creator()
	vecs := denseToVecs(c, seq)
	inSeq := anyseq.ConstSeqList(c, [][]anyvec.Vector{vecs[:rows-1]})
	next := anyseq.ConstSeqList(c, [][]anyvec.Vector{vecs[1:]}).Output()

	var idx int
	negLogs := anyseq.Map(anyrnn.Map(inSeq, r.Block), func(a anydiff.Res, n int) anydiff.Res {
		desired := next[idx]
		idx++
		return anynet.DotCost{}.Cost(anydiff.NewConst(desired.Packed), a, n)
	})
	negLogLikelihood := anydiff.Sum(anyseq.Sum(negLogs))
	targetVec := c.MakeVectorData(c.MakeNumericList([]float64{target}))
	loss := anydiff.Square(anydiff.Add(negLogLikelihood, anydiff.NewConst(targetVec)))

	grad := anydiff.NewGrad(r.Parameters()...)
	loss.Propagate(c.MakeVectorData(c.MakeNumericList([]float64{1})), grad)
	if r.reinforceOpt == nil {
		r.reinforceOpt = &anysgd.Adam{}
	}
	r.step(grad, r.reinforceOpt, r.ReinforceRate, r.ClipNorm)

	return -numericFloat(anyvec.Sum(negLogLikelihood.Output())), nil
}

// Clone creates a deep copy of the RNN by serializing it.
// Optimizer state is not copied.
func (r *RNN) Clone() (Model, error) {
	data, err := serializer.SerializeAny(r)
	if err != nil {
		return nil, essentials.AddCtx("clone RNN", err)
	}
	var res *RNN
	if err := serializer.DeserializeAny(data, &res); err != nil {
		return nil, essentials.AddCtx("clone RNN", err)
	}
	return res, nil
}

// WithTemperature replaces the last two stages of the
// output layer with a Temperature and a LogSoftmax.
//
// The resulting RNN shares every parameter with r, but
// has its own optimizer state.
func (r *RNN) WithTemperature(t float64) (Model, error) {
	if t <= 0 || math.IsNaN(t) || math.IsInf(t, 0) {
		return nil, fmt.Errorf("with temperature: invalid temperature %f", t)
	}
	head, err := r.head()
	if err != nil {
		return nil, err
	}
	net := append(anynet.Net{}, head[:len(head)-2]...)
	net = append(net, &Temperature{T: t}, anynet.LogSoftmax)

	block := append(anyrnn.Stack{}, r.Block[:len(r.Block)-1]...)
	block = append(block, &anyrnn.LayerBlock{Layer: net})
	return &RNN{
		Block:         block,
		LearningRate:  r.LearningRate,
		ReinforceRate: r.ReinforceRate,
		ClipNorm:      r.ClipNorm,
	}, nil
}

// Temperature returns the temperature of the output
// layer.
func (r *RNN) Temperature() float64 {
	head, err := r.head()
	if err != nil {
		return 1
	}
	return head[len(head)-2].(*Temperature).T
}

// SerializerType returns the unique ID used to serialize
// an RNN with the serializer package.
func (r *RNN) SerializerType() string {
	return "github.com/stjordanis/MolBot/seqmodel.RNN"
}

// Serialize serializes the RNN.
//
// Every block must be a serializer.Serializer.
func (r *RNN) Serialize() ([]byte, error) {
	var slice []serializer.Serializer
	for _, b := range r.Block {
		if s, ok := b.(serializer.Serializer); ok {
			slice = append(slice, s)
		} else {
			return nil, fmt.Errorf("serialize RNN: not a Serializer: %T", b)
		}
	}
	blockData, err := serializer.SerializeSlice(slice)
	if err != nil {
		return nil, essentials.AddCtx("serialize RNN", err)
	}
	return serializer.SerializeAny(blockData, serializer.Float64(r.LearningRate),
		serializer.Float64(r.ReinforceRate), serializer.Float64(r.ClipNorm))
}

func (r *RNN) head() (anynet.Net, error) {
	if len(r.Block) == 0 {
		return nil, errors.New("empty RNN")
	}
	lb, ok := r.Block[len(r.Block)-1].(*anyrnn.LayerBlock)
	if !ok {
		return nil, errors.New("RNN output is not a layer block")
	}
	net, ok := lb.Layer.(anynet.Net)
	if !ok || len(net) < 3 {
		return nil, errors.New("RNN output layer has an unexpected structure")
	}
	if _, ok := net[len(net)-2].(*Temperature); !ok {
		return nil, errors.New("RNN output layer has no temperature stage")
	}
	return net, nil
}

func (r *RNN) outputSize() int {
	head, err := r.head()
	if err != nil {
		return 0
	}
	return head[0].(*anynet.FC).OutCount
}

func (r *RNN) checkWidth(cols int) error {
	if n := r.outputSize(); cols != n {
		return fmt.Errorf("input has %d columns but the model expects %d", cols, n)
	}
	return nil
}

func (r *RNN) creator() anyvec.Creator {
	return r.Parameters()[0].Vector.Creator()
}

func (r *RNN) setDropout(enabled bool) {
	for _, b := range r.Block {
		if lb, ok := b.(*anyrnn.LayerBlock); ok {
			if d, ok := lb.Layer.(*anynet.Dropout); ok {
				d.Enabled = enabled
			}
		}
	}
}

// step applies an optimizer step, clipping the gradient
// norm to clip first if it is non-zero.
func (r *RNN) step(grad anydiff.Grad, opt anysgd.Transformer, rate, clip float64) {
	c := r.creator()
	if clip > 0 {
		var sqNorm float64
		for _, v := range grad {
			sqNorm += numericFloat(v.Dot(v))
		}
		if norm := math.Sqrt(sqNorm); norm > clip {
			grad.Scale(c.MakeNumeric(clip / norm))
		}
	}
	grad = opt.Transform(grad)
	grad.Scale(c.MakeNumeric(-rate))
	grad.AddToVars()
}
