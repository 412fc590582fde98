package storage

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSelectsLocalBackendWithoutRemote(t *testing.T) {
	fs = afero.NewMemMapFs()

	s, err := New("", "/data")
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	require.NoError(t, s.Write(UsersKey(), []byte("danny: {}")))
	read, err := s.Read(UsersKey())
	require.NoError(t, err)
	assert.Equal(t, []byte("danny: {}"), read)
}
