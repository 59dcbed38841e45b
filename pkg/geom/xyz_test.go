package geom

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const twoFrameXYZ = `3
reactant
O   0.0000000000   0.0000000000   0.1173000000
H   0.0000000000   0.7572000000  -0.4692000000
H   0.0000000000  -0.7572000000  -0.4692000000
3
product
O   0.1000000000   0.0000000000   0.1173000000
H   0.0000000000   0.7572000000  -0.4692000000
H   0.0000000000  -0.7572000000  -0.4692000000
`

func TestReadXYZ_TwoFrames(t *testing.T) {
	frames, err := ReadXYZ(strings.NewReader(twoFrameXYZ))
	require.NoError(t, err)
	require.Len(t, frames, 2)

	assert.Equal(t, []string{"O", "H", "H"}, frames[0].Elements)
	assert.Equal(t, 0.1173, frames[0].Coords[0][2])
	assert.Equal(t, 0.1, frames[1].Coords[0][0])
	assert.False(t, frames[0].Equal(frames[1]))
}

func TestReadXYZ_Truncated(t *testing.T) {
	_, err := ReadXYZ(strings.NewReader("3\ncomment\nO 0 0 0\nH 0 0 0\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "truncated")
}

func TestReadXYZ_BadHeader(t *testing.T) {
	_, err := ReadXYZ(strings.NewReader("banana\n"))
	require.Error(t, err)
}

func TestWriteReadRoundTrip(t *testing.T) {
	frames, err := ReadXYZ(strings.NewReader(twoFrameXYZ))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "rxn.xyz")
	require.NoError(t, WriteXYZFile(path, frames, "roundtrip"))

	got, err := ReadXYZFile(path)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, frames[0].Equal(got[0]))
	assert.True(t, frames[1].Equal(got[1]))
}

func TestCloneIsDeep(t *testing.T) {
	frames, err := ReadXYZ(strings.NewReader(twoFrameXYZ))
	require.NoError(t, err)

	orig := frames[0]
	cp := orig.Clone()
	cp.Coords[0][0] = 99.0
	assert.Equal(t, 0.0, orig.Coords[0][0])
}

func TestCloneAndEqualCarryElectronicState(t *testing.T) {
	frames, err := ReadXYZ(strings.NewReader(twoFrameXYZ))
	require.NoError(t, err)

	charged := frames[0]
	charged.Charge, charged.Multiplicity = -1, 3

	cp := charged.Clone()
	assert.Equal(t, -1, cp.Charge)
	assert.Equal(t, 3, cp.Multiplicity)
	assert.True(t, charged.Equal(cp))

	assert.False(t, charged.Equal(frames[0]), "same coordinates, different system")
}
