package retriever

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/highlightr/highlightr-agent/internal/backend"
	"github.com/highlightr/highlightr-agent/internal/clip"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fakeDownloader struct {
	contentType string
	disposition string
	body        []byte
	err         error
}

func (f *fakeDownloader) DownloadClip(ctx context.Context, videoID, clipID string) (*backend.Download, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &backend.Download{
		ContentType:        f.contentType,
		ContentDisposition: f.disposition,
		ContentLength:      int64(len(f.body)),
		Body:               io.NopCloser(bytes.NewReader(f.body)),
	}, nil
}

func newTestRetriever(t *testing.T, d Downloader) *Retriever {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "artifacts"))
	require.NoError(t, err)
	return New(d, store, testLogger())
}

func TestFetch_ValidVideo(t *testing.T) {
	d := &fakeDownloader{
		contentType: "video/mp4",
		disposition: `attachment; filename="highlight_clip-9.mp4"`,
		body:        bytes.Repeat([]byte{0x42}, 4096),
	}
	r := newTestRetriever(t, d)

	a, err := r.Fetch(context.Background(), "vid", "clip-9")
	require.NoError(t, err)
	assert.NotEmpty(t, a.Handle)
	assert.Equal(t, "highlight_clip-9.mp4", a.Filename)
	assert.True(t, strings.HasSuffix(a.Filename, ".mp4"))
	assert.Equal(t, int64(4096), a.Size)
	assert.Equal(t, URLPrefix+a.Handle, a.URL)
	assert.Empty(t, a.Warning)

	data, err := os.ReadFile(a.Path)
	require.NoError(t, err)
	assert.Len(t, data, 4096)

	got, ok := r.Lookup(a.Handle)
	require.True(t, ok)
	assert.Equal(t, a, got)
}

func TestFetch_TooSmall(t *testing.T) {
	d := &fakeDownloader{contentType: "text/html", body: []byte("<html>oops</html>")}
	r := newTestRetriever(t, d)

	_, err := r.Fetch(context.Background(), "vid", "clip")
	var empty *clip.EmptyArtifactError
	require.ErrorAs(t, err, &empty)
	assert.Equal(t, int64(17), empty.Size)
	assert.Contains(t, err.Error(), "17 bytes")
	assert.Contains(t, err.Error(), "text/html")

	entries, _ := os.ReadDir(r.store.Dir())
	assert.Empty(t, entries, "rejected payload must not stay on disk")
	assert.Equal(t, 0, r.store.Len())
}

func TestFetch_UnexpectedContentTypeIsAdvisory(t *testing.T) {
	d := &fakeDownloader{
		contentType: "application/octet-stream",
		disposition: `attachment; filename="result.bin"`,
		body:        make([]byte, 2048),
	}
	r := newTestRetriever(t, d)

	a, err := r.Fetch(context.Background(), "vid", "clip")
	require.NoError(t, err)
	assert.Contains(t, a.Warning, "application/octet-stream")
}

func TestFetch_OctetStreamWithVideoExtensionIsFine(t *testing.T) {
	d := &fakeDownloader{
		contentType: "application/octet-stream",
		disposition: `attachment; filename="result.mkv"`,
		body:        make([]byte, 2048),
	}
	r := newTestRetriever(t, d)

	a, err := r.Fetch(context.Background(), "vid", "clip")
	require.NoError(t, err)
	assert.Empty(t, a.Warning)
}

func TestFetch_DownloadError(t *testing.T) {
	r := newTestRetriever(t, &fakeDownloader{err: &clip.DownloadError{StatusCode: 404, Body: "Clip file not found"}})

	_, err := r.Fetch(context.Background(), "vid", "clip")
	var dlErr *clip.DownloadError
	require.ErrorAs(t, err, &dlErr)
}

func TestReleaseDeletesSpool(t *testing.T) {
	r := newTestRetriever(t, &fakeDownloader{contentType: "video/mp4", body: make([]byte, 2048)})

	a, err := r.Fetch(context.Background(), "vid", "clip")
	require.NoError(t, err)
	assert.Equal(t, FallbackFilename, a.Filename)

	require.NoError(t, r.Release(a.Handle))
	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
	_, ok := r.Lookup(a.Handle)
	assert.False(t, ok)

	assert.NoError(t, r.Release(a.Handle), "double release is harmless")
	assert.NoError(t, r.Release(""))
}

func TestSave(t *testing.T) {
	r := newTestRetriever(t, &fakeDownloader{
		contentType: "video/mp4",
		disposition: `attachment; filename="clip.mp4"`,
		body:        bytes.Repeat([]byte("x"), 2048),
	})
	a, err := r.Fetch(context.Background(), "vid", "clip")
	require.NoError(t, err)

	dir := t.TempDir()
	first, err := r.Save(a.Handle, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip.mp4"), first)

	second, err := r.Save(a.Handle, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "clip (1).mp4"), second)

	_, err = r.Save("nope", dir)
	assert.ErrorIs(t, err, ErrUnknownHandle)

	_, err = r.Save(a.Handle, "relative/dir")
	assert.ErrorIs(t, err, clip.ErrValidation)
}

func TestClose(t *testing.T) {
	r := newTestRetriever(t, &fakeDownloader{contentType: "video/mp4", body: make([]byte, 2048)})
	a, err := r.Fetch(context.Background(), "vid", "clip")
	require.NoError(t, err)

	require.NoError(t, r.Close())
	_, err = os.Stat(a.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestFilenameFromDisposition(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", FallbackFilename},
		{`attachment; filename="highlight.mp4"`, "highlight.mp4"},
		{`attachment; filename=plain.mov`, "plain.mov"},
		{`attachment; filename*=UTF-8''%E7%B2%BE%E5%BD%A9.mp4`, "精彩.mp4"},
		{`attachment; filename="../../etc/passwd"`, "passwd"},
		{`attachment; filename="..\\..\\evil.mp4"`, "evil.mp4"},
		{`attachment; filename="a<b>.mp4"`, "a_b_.mp4"},
		{`attachment; filename=""`, FallbackFilename},
		{`attachment; filename=".."`, FallbackFilename},
		{`attachment`, FallbackFilename},
	}

	for _, tt := range tests {
		t.Run(tt.header, func(t *testing.T) {
			assert.Equal(t, tt.want, FilenameFromDisposition(tt.header))
		})
	}
}

func TestCleanClipName(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		limit int
		want  string
	}{
		{"control characters dropped", " A\nB\rC\tD\x00 ", 100, "ABCD"},
		{"reserved characters replaced", "bad<>|\"name", 100, "bad____name"},
		{"colon and slash replaced", "half:time/2.mp4", 100, "half_time_2.mp4"},
		{"cjk and brackets kept", "进球 [集锦] (1).mp4", 100, "进球 [集锦] (1).mp4"},
		{"no limit", strings.Repeat("a", 300), 0, strings.Repeat("a", 300)},
		{"extension longer than limit", "ab.verylongext", 4, "ab.v"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanClipName(tt.in, tt.limit))
		})
	}

	got := cleanClipName(strings.Repeat("a", 50)+".mp4", 20)
	assert.Len(t, []rune(got), 20)
	assert.True(t, strings.HasSuffix(got, ".mp4"))
}

func TestValidateOutputDir(t *testing.T) {
	dir := t.TempDir()
	assert.NoError(t, ValidateOutputDir(dir))

	file := filepath.Join(dir, "f.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	for _, bad := range []string{
		"",
		"/tmp/../etc",
		"relative/clips",
		dir + "/",
		filepath.Join(dir, "missing"),
		file,
	} {
		err := ValidateOutputDir(bad)
		require.ErrorIs(t, err, clip.ErrValidation, "dir %q", bad)
		var invalid *clip.ValidationError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "output directory", invalid.Field)
	}
}
