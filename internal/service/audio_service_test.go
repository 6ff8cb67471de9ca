package service

import (
	"io"
	"os"
	"strings"
	"testing"

	apperrors "mindgarden/backend/pkg/errors"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAudioServiceRoundTrip(t *testing.T) {
	svc, err := NewAudioServiceWithFs(afero.NewMemMapFs(), AudioServiceConfig{Dir: "/data/audio", MaxBytes: 16})
	require.NoError(t, err)

	url, err := svc.Save([]byte("voice"), "m4a")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, AudioURLPrefix))
	assert.True(t, strings.HasSuffix(url, ".m4a"))

	f, info, err := svc.Open(strings.TrimPrefix(url, AudioURLPrefix))
	require.NoError(t, err)
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	f.Close()
	assert.Equal(t, "voice", string(data))
	assert.EqualValues(t, 5, info.Size())

	require.NoError(t, svc.Delete(url))
	_, _, err = svc.Open(strings.TrimPrefix(url, AudioURLPrefix))
	assert.Error(t, err)
}

func TestAudioServiceRejects(t *testing.T) {
	svc, err := NewAudioServiceWithFs(afero.NewMemMapFs(), AudioServiceConfig{Dir: "/a", MaxBytes: 4})
	require.NoError(t, err)

	_, err = svc.Save(nil, ".mp3")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	_, err = svc.Save([]byte("too large"), ".mp3")
	assert.True(t, apperrors.HasCode(err, apperrors.CodeInvalidArgument))

	for _, name := range []string{"", "../etc/passwd", ".hidden", "a/b.mp3"} {
		_, _, err := svc.Open(name)
		assert.ErrorIs(t, err, os.ErrNotExist, name)
	}
	assert.ErrorIs(t, svc.Delete("/elsewhere/x.mp3"), os.ErrNotExist)
}

func TestExtForContentType(t *testing.T) {
	assert.Equal(t, ".mp3", ExtForContentType("audio/mpeg"))
	assert.Equal(t, ".wav", ExtForContentType("audio/wav"))
	assert.Equal(t, ".webm", ExtForContentType("audio/webm;codecs=opus"))
	assert.Equal(t, ".m4a", ExtForContentType(""))
}
