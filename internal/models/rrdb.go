package models

import (
	"fmt"
	"math/rand"

	"github.com/pkg/errors"

	"github.com/born-ml/modelexport/internal/backend/cpu"
	"github.com/born-ml/modelexport/internal/nn"
	"github.com/born-ml/modelexport/internal/onnx"
	"github.com/born-ml/modelexport/internal/tensor"
)

// residualScale weights the residual branch of dense blocks and RRDBs.
const residualScale = 0.2

// leakySlope is the negative slope of every activation in RRDBNet.
const leakySlope = 0.2

// RRDBConfig sizes an RRDBNet.
type RRDBConfig struct {
	InChannels  int `yaml:"in_channels"`
	OutChannels int `yaml:"out_channels"`
	NumFeat     int `yaml:"num_feat"`    // Feature channels of the trunk
	NumBlock    int `yaml:"num_block"`   // Number of RRDBs in the body
	NumGrowCh   int `yaml:"num_grow_ch"` // Channels added by each dense conv
	Scale       int `yaml:"scale"`       // Upscaling factor
}

// DefaultRRDBConfig returns the 4x RRDBNet configuration published with
// pretrained weights: 3 in/out channels, 64 features, 23 blocks, growth 32.
func DefaultRRDBConfig() RRDBConfig {
	return RRDBConfig{
		InChannels:  3,
		OutChannels: 3,
		NumFeat:     64,
		NumBlock:    23,
		NumGrowCh:   32,
		Scale:       4,
	}
}

// Validate checks the configuration.
func (c RRDBConfig) Validate() error {
	if c.InChannels <= 0 || c.OutChannels <= 0 || c.NumFeat <= 0 || c.NumGrowCh <= 0 {
		return errors.Errorf("rrdb: channel counts must be positive: %+v", c)
	}
	if c.NumBlock < 0 {
		return errors.Errorf("rrdb: negative num_block %d", c.NumBlock)
	}
	if c.Scale != 4 {
		// Scales 1 and 2 need pixel-unshuffled inputs, which no exporter uses.
		return errors.Errorf("rrdb: only scale 4 is supported, got %d", c.Scale)
	}
	return nil
}

// ResidualDenseBlock is five densely connected 3x3 convolutions: each conv
// sees the block input concatenated with all previous outputs.
//
//	x1 = lrelu(conv1(x))
//	x2 = lrelu(conv2(x ‖ x1))
//	...
//	x5 = conv5(x ‖ x1 ‖ x2 ‖ x3 ‖ x4)
//	out = 0.2*x5 + x
type ResidualDenseBlock struct {
	name    string
	convs   [5]*nn.Conv2D
	lrelu   *nn.LeakyReLU
	backend *cpu.CPUBackend
}

// NewResidualDenseBlock creates a dense block with kaiming-normal weights
// scaled by 0.1 and zero biases.
func NewResidualDenseBlock(name string, numFeat, numGrowCh int, rng *rand.Rand, backend *cpu.CPUBackend) *ResidualDenseBlock {
	rdb := &ResidualDenseBlock{
		name:    name,
		lrelu:   nn.NewLeakyReLU(name+".lrelu", leakySlope, backend),
		backend: backend,
	}
	for i := range rdb.convs {
		in := numFeat + i*numGrowCh
		out := numGrowCh
		if i == len(rdb.convs)-1 {
			out = numFeat
		}
		rdb.convs[i] = nn.NewConv2D(fmt.Sprintf("%s.conv%d", name, i+1), in, out, 3, 1, 1, rng, backend)
		rdb.convs[i].ScaledInit(0.1, rng)
	}
	return rdb
}

// Forward implements nn.Module.
func (r *ResidualDenseBlock) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	features := []*tensor.RawTensor{x}
	for i, conv := range r.convs {
		in := x
		if i > 0 {
			in = r.backend.Concat(features...)
		}
		out := conv.Forward(in)
		if i == len(r.convs)-1 {
			return r.backend.Add(r.backend.Scale(out, residualScale), x)
		}
		features = append(features, r.lrelu.Forward(out))
	}
	panic("unreachable")
}

// Parameters implements nn.Module.
func (r *ResidualDenseBlock) Parameters() []*nn.Parameter {
	var params []*nn.Parameter
	for _, conv := range r.convs {
		params = append(params, conv.Parameters()...)
	}
	return params
}

// Export implements nn.Module.
func (r *ResidualDenseBlock) Export(b *onnx.GraphBuilder, x string) string {
	features := []string{x}
	for i, conv := range r.convs {
		in := x
		if i > 0 {
			in = b.AddNode("Concat", r.name, features, onnx.AttrInt("axis", 1))
		}
		out := conv.Export(b, in)
		if i == len(r.convs)-1 {
			return exportResidual(b, r.name, out, x)
		}
		features = append(features, r.lrelu.Export(b, out))
	}
	panic("unreachable")
}

// exportResidual emits residualScale*branch + skip.
func exportResidual(b *onnx.GraphBuilder, scope, branch, skip string) string {
	scaled := b.AddNode("Mul", scope, []string{branch, b.Scalar(residualScale)})
	return b.AddNode("Add", scope, []string{scaled, skip})
}

// RRDB is a residual in residual dense block: three dense blocks in a row
// with an outer scaled residual.
type RRDB struct {
	name    string
	rdbs    [3]*ResidualDenseBlock
	backend *cpu.CPUBackend
}

// NewRRDB creates an RRDB whose dense blocks are named rdb1..rdb3.
func NewRRDB(name string, numFeat, numGrowCh int, rng *rand.Rand, backend *cpu.CPUBackend) *RRDB {
	r := &RRDB{name: name, backend: backend}
	for i := range r.rdbs {
		r.rdbs[i] = NewResidualDenseBlock(fmt.Sprintf("%s.rdb%d", name, i+1), numFeat, numGrowCh, rng, backend)
	}
	return r
}

// Forward implements nn.Module.
func (r *RRDB) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	out := x
	for _, rdb := range r.rdbs {
		out = rdb.Forward(out)
	}
	return r.backend.Add(r.backend.Scale(out, residualScale), x)
}

// Parameters implements nn.Module.
func (r *RRDB) Parameters() []*nn.Parameter {
	return nn.CollectParameters(r.rdbs[0], r.rdbs[1], r.rdbs[2])
}

// Export implements nn.Module.
func (r *RRDB) Export(b *onnx.GraphBuilder, x string) string {
	out := x
	for _, rdb := range r.rdbs {
		out = rdb.Export(b, out)
	}
	return exportResidual(b, r.name, out, x)
}

// RRDBNet is the RRDB super-resolution network.
//
//	feat = conv_first(x)
//	feat = feat + conv_body(body(feat))
//	feat = lrelu(conv_up1(upsample2x(feat)))
//	feat = lrelu(conv_up2(upsample2x(feat)))
//	out  = conv_last(lrelu(conv_hr(feat)))
type RRDBNet struct {
	nn.Mode

	config    RRDBConfig
	convFirst *nn.Conv2D
	body      *nn.Sequential
	convBody  *nn.Conv2D
	convUp1   *nn.Conv2D
	convUp2   *nn.Conv2D
	convHR    *nn.Conv2D
	convLast  *nn.Conv2D
	upsample  *nn.Upsample
	lrelu     *nn.LeakyReLU
	backend   *cpu.CPUBackend
}

// NewRRDBNet creates an RRDBNet in training mode.
func NewRRDBNet(cfg RRDBConfig, rng *rand.Rand, backend *cpu.CPUBackend) (*RRDBNet, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	nf := cfg.NumFeat
	m := &RRDBNet{
		config:    cfg,
		convFirst: nn.NewConv2D("conv_first", cfg.InChannels, nf, 3, 1, 1, rng, backend),
		body:      nn.NewSequential(),
		backend:   backend,
	}
	for i := 0; i < cfg.NumBlock; i++ {
		m.body.Add(NewRRDB(fmt.Sprintf("body.%d", i), nf, cfg.NumGrowCh, rng, backend))
	}
	m.convBody = nn.NewConv2D("conv_body", nf, nf, 3, 1, 1, rng, backend)
	m.convUp1 = nn.NewConv2D("conv_up1", nf, nf, 3, 1, 1, rng, backend)
	m.convUp2 = nn.NewConv2D("conv_up2", nf, nf, 3, 1, 1, rng, backend)
	m.convHR = nn.NewConv2D("conv_hr", nf, nf, 3, 1, 1, rng, backend)
	m.convLast = nn.NewConv2D("conv_last", nf, cfg.OutChannels, 3, 1, 1, rng, backend)
	m.upsample = nn.NewUpsample("", 2, backend)
	m.lrelu = nn.NewLeakyReLU("lrelu", leakySlope, backend)
	m.Train(true)
	return m, nil
}

// Config returns the network configuration.
func (m *RRDBNet) Config() RRDBConfig {
	return m.config
}

// Architecture implements Network.
func (m *RRDBNet) Architecture() string {
	return ArchRRDB
}

// InputShape implements Network.
func (m *RRDBNet) InputShape(size int) tensor.Shape {
	return tensor.Shape{1, m.config.InChannels, size, size}
}

// Forward maps [batch, in, H, W] to [batch, out, 4H, 4W].
func (m *RRDBNet) Forward(x *tensor.RawTensor) *tensor.RawTensor {
	feat := m.convFirst.Forward(x)
	feat = m.backend.Add(feat, m.convBody.Forward(m.body.Forward(feat)))
	feat = m.lrelu.Forward(m.convUp1.Forward(m.upsample.Forward(feat)))
	feat = m.lrelu.Forward(m.convUp2.Forward(m.upsample.Forward(feat)))
	return m.convLast.Forward(m.lrelu.Forward(m.convHR.Forward(feat)))
}

// Parameters returns all parameters in state dict order.
func (m *RRDBNet) Parameters() []*nn.Parameter {
	return nn.CollectParameters(m.convFirst, m.body, m.convBody, m.convUp1, m.convUp2, m.convHR, m.convLast)
}

// Export emits the RRDBNet graph.
func (m *RRDBNet) Export(b *onnx.GraphBuilder, x string) string {
	feat := m.convFirst.Export(b, x)
	bodyFeat := m.convBody.Export(b, m.body.Export(b, feat))
	feat = b.AddNode("Add", "", []string{feat, bodyFeat})
	feat = m.lrelu.Export(b, m.convUp1.Export(b, m.upsample.Export(b, feat)))
	feat = m.lrelu.Export(b, m.convUp2.Export(b, m.upsample.Export(b, feat)))
	return m.convLast.Export(b, m.lrelu.Export(b, m.convHR.Export(b, feat)))
}
