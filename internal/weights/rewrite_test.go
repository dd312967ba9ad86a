package weights

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/modelexport/internal/tensor"
)

func TestRewriterRename(t *testing.T) {
	rw := &Rewriter{Rules: []PrefixRule{
		{From: "module.", To: ""},
		{From: "model.", To: "net."},
		{From: "model.body.", To: "ignored."},
	}}
	tests := []struct{ in, want string }{
		{"module.conv_first.weight", "conv_first.weight"},
		{"model.body.0.rdb1.conv1.weight", "net.body.0.rdb1.conv1.weight"},
		{"conv_last.bias", "conv_last.bias"},
		{"xmodule.conv.weight", "xmodule.conv.weight"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, rw.Rename(tt.in), tt.in)
	}
}

func TestRewriterApply(t *testing.T) {
	one := tensor.Full(tensor.Shape{1}, 1)
	two := tensor.Full(tensor.Shape{1}, 2)
	three := tensor.Full(tensor.Shape{1}, 3)
	sd := map[string]*tensor.RawTensor{
		"module.a.weight": one,
		"module.b.weight": two,
		"b.weight":        three,
	}
	out, n := DefaultRewriter().Apply(sd)
	assert.Equal(t, 1, n)
	assert.Same(t, one, out["a.weight"])
	assert.Same(t, three, out["b.weight"], "an existing key wins over a renamed one")
	assert.Same(t, two, out["module.b.weight"])
	assert.Len(t, out, 3)
}

func TestParsePrefixRules(t *testing.T) {
	rules, err := ParsePrefixRules([]string{"module.=", "model.=net."})
	require.NoError(t, err)
	assert.Equal(t, []PrefixRule{{From: "module.", To: ""}, {From: "model.", To: "net."}}, rules)

	_, err = ParsePrefixRules([]string{"module."})
	assert.Error(t, err)
	_, err = ParsePrefixRules([]string{"=x"})
	assert.Error(t, err)
}
