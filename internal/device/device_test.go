package device

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	for _, tc := range []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"cpu", CPU, false},
		{" WebGPU ", WebGPU, false},
		{"tpu", "", true},
		{"", "", true},
	} {
		got, err := Parse(tc.in)
		if tc.wantErr {
			assert.Error(t, err, tc.in)
			continue
		}
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got)
	}
}

func TestSelect(t *testing.T) {
	assert.Equal(t, CPU, Current())

	k, err := Select("cpu")
	require.NoError(t, err)
	assert.Equal(t, CPU, k)
	assert.True(t, Available(CPU))

	_, err = Select("tpu")
	assert.Error(t, err)
	assert.Equal(t, CPU, Current())
}

func TestSelect_WebGPUUnavailable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("WebGPU availability depends on the machine")
	}
	_, err := Select("webgpu")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, CPU, Current())
}

func TestNewCPU(t *testing.T) {
	backend := NewCPU()
	assert.False(t, backend.Tape().IsRecording())
	assert.NotEmpty(t, backend.Name())
}
