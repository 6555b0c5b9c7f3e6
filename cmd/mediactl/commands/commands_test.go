package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	out := &bytes.Buffer{}
	Root.SetOut(out)
	Root.SetErr(out)
	Root.SetArgs(args)
	t.Cleanup(func() { Root.SetArgs(nil) })

	err := Root.Execute()
	return out.String(), err
}

func TestBuildPrintsCommand(t *testing.T) {
	t.Setenv("FFMPEG", "ffmpeg")

	out, err := execute(t, "build", "in.mov", "out.mp4", "--preset", "web_optimized", "--rotate", "90")
	require.NoError(t, err)

	assert.Equal(t,
		"ffmpeg -i in.mov -y -c:v libx264 -s 1280x720 -c:a aac -b:a 128k -vf transpose=clock -crf 23 -preset medium out.mp4\n",
		out,
	)
}

func TestPresetsListsEveryPreset(t *testing.T) {
	out, err := execute(t, "presets")
	require.NoError(t, err)

	lines := strings.Fields(out)
	require.Len(t, lines, len(transcoder.Presets))
	for i, p := range transcoder.Presets {
		assert.Equal(t, string(p), lines[i])
	}
}

func TestDecryptRejectsPlainFile(t *testing.T) {
	t.Setenv("TEMP_FOLDER_PATH", t.TempDir())

	path := filepath.Join(t.TempDir(), "plain.mp3")
	require.NoError(t, os.WriteFile(path, []byte("ID3 plain audio"), 0o644))

	_, err := execute(t, "decrypt", path)
	assert.ErrorIs(t, err, transcoder.ErrDecryption)
}
