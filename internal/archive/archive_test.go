package archive

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chadiek/covercall/internal/dialog"
)

type memUploader struct {
	objects map[string][]byte
	types   map[string]string
	err     error
}

func (m *memUploader) Upload(key, contentType string, data []byte) error {
	if m.err != nil {
		return m.err
	}
	if m.objects == nil {
		m.objects, m.types = map[string][]byte{}, map[string]string{}
	}
	m.objects[key] = data
	m.types[key] = contentType
	return nil
}

func newArchive(up Uploader) *Archive {
	a := New(up, logrus.New())
	a.now = func() time.Time { return time.Unix(1700000000, 0) }
	return a
}

func TestSaveTranscript(t *testing.T) {
	up := &memUploader{}
	a := newArchive(up)
	v := dialog.View{
		ID:    "s1",
		State: dialog.Closed,
		History: []dialog.Turn{
			{Role: dialog.RolePersona, Text: "Joe's Pizza"},
			{Role: dialog.RoleCaller, Text: "one large"},
		},
	}
	require.NoError(t, a.SaveTranscript(v))

	key := "transcripts/s1_1700000000.json"
	require.Contains(t, up.objects, key)
	assert.Equal(t, "application/json", up.types[key])
	var got map[string]any
	require.NoError(t, json.Unmarshal(up.objects[key], &got))
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "closed", got["state"])
	assert.Len(t, got["turns"], 2)
}

func TestSaveRecording(t *testing.T) {
	up := &memUploader{}
	key, err := newArchive(up).SaveRecording("RE9", []byte("RIFF"))
	require.NoError(t, err)
	assert.Equal(t, "recordings/recording_RE9_1700000000.wav", key)
	assert.Equal(t, "audio/wav", up.types[key])

	up.err = errors.New("bucket missing")
	_, err = newArchive(up).SaveRecording("RE9", nil)
	assert.Error(t, err)
}

func TestNilArchive(t *testing.T) {
	var a *Archive
	assert.NoError(t, a.SaveTranscript(dialog.View{ID: "x"}))
	key, err := a.SaveRecording("RE", nil)
	assert.NoError(t, err)
	assert.Empty(t, key)
}
