package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	tests := []struct {
		in   string
		want Platform
		c    Container
	}{
		{"windows-x64", WindowsX64, ContainerPE},
		{"linux-x64", LinuxX64, ContainerELF},
		{"macos-x64", MacOSX64, ContainerMachO},
		{"darwin-amd64", MacOSX64, ContainerMachO},
		{"linux-x86_64", LinuxX64, ContainerELF},
	}

	for _, tc := range tests {
		p, err := ParsePlatform(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, p, tc.in)
		assert.Equal(t, tc.c, p.Container(), tc.in)
	}

	for _, bad := range []string{"", "linux", "plan9-x64", "linux-arm64"} {
		_, err := ParsePlatform(bad)
		assert.Error(t, err, bad)
	}
}

func TestPlatformText(t *testing.T) {
	var p Platform

	require.NoError(t, p.UnmarshalText([]byte("windows-x64")))
	assert.Equal(t, WindowsX64, p)

	b, err := p.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "windows-x64", string(b))
}

func TestVectorLanes(t *testing.T) {
	assert.Equal(t, 2, VectorLanes(128, 64))
	assert.Equal(t, 4, VectorLanes(128, 32))
	assert.Equal(t, 4, VectorLanes(256, 64))
	assert.Equal(t, 0, VectorLanes(32, 64))

	bits := HostVectorBits()
	assert.Contains(t, []int{128, 256}, bits)
}
