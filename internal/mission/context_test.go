package mission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContext_Attrs(t *testing.T) {
	ctx := NewContext()
	assert.Nil(t, ctx.Attrs(), "no attributes before a run starts")

	ctx.Set(Snapshot{RunID: "r1", State: StateLoading, Battery: 42})
	assert.Equal(t, StateLoading, ctx.Get().State)

	attrs := ctx.Attrs()
	if assert.Len(t, attrs, 3) {
		assert.Equal(t, "r1", attrs[0].Value.String())
		assert.Equal(t, "Loading", attrs[1].Value.String())
		assert.Equal(t, 42.0, attrs[2].Value.Float64())
	}
}
