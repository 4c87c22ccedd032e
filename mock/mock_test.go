package mock

import (
	"io"
	"testing"

	fsb "github.com/izh318/fsb-sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder(t *testing.T) {
	d := New()
	d.Add("bank.fsb", &Container{
		ContainerName: "bank",
		Format:        fsb.BuildPcm,
		Sounds: []SubSound{
			{Desc: fsb.SampleDescriptor{Index: 0, Name: "a"}, PCM: []byte{1, 2}},
		},
	})

	c, err := d.Open("bank.fsb", 0)
	require.NoError(t, err)
	assert.Equal(t, "bank", c.Name())
	assert.Equal(t, 1, c.NumSubSounds())
	assert.Equal(t, fsb.BuildPcm, c.BuildFormat())

	desc, err := c.Describe(0)
	require.NoError(t, err)
	assert.Equal(t, "a", desc.Name)

	r, err := c.OpenPCM(0)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2}, data)

	_, err = c.Describe(5)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Close())
	_, err = c.Describe(0)
	assert.Error(t, err)

	_, err = d.Open("missing.fsb", 0)
	assert.ErrorIs(t, err, ErrNotFound)
}
