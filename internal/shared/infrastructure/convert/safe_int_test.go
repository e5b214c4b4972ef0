package convert

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIntToUint32(t *testing.T) {
	t.Run("converts valid value", func(t *testing.T) {
		result, err := IntToUint32(5)
		require.NoError(t, err)
		assert.Equal(t, uint32(5), result)
	})

	t.Run("converts zero", func(t *testing.T) {
		result, err := IntToUint32(0)
		require.NoError(t, err)
		assert.Equal(t, uint32(0), result)
	})

	t.Run("rejects negative value", func(t *testing.T) {
		_, err := IntToUint32(-1)
		assert.Error(t, err)
	})

	t.Run("rejects value above max uint32", func(t *testing.T) {
		_, err := IntToUint32(math.MaxUint32 + 1)
		assert.Error(t, err)
	})
}

func TestIntToUint32Clamped(t *testing.T) {
	assert.Equal(t, uint32(0), IntToUint32Clamped(-10))
	assert.Equal(t, uint32(7), IntToUint32Clamped(7))
	assert.Equal(t, uint32(math.MaxUint32), IntToUint32Clamped(math.MaxUint32+10))
}
