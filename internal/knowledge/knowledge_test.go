package knowledge

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"testing/fstest"

	"github.com/jonbmost/acquisition-assistant/internal/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFSMatchesMarkdownAndText(t *testing.T) {
	fsys := fstest.MapFS{
		"PWS Template.md":              {Data: []byte("# PWS\nScope")},
		"notes/FAR-Quick-Reference.md": {Data: []byte("FAR Part 12")},
		"notes/readme.txt":             {Data: []byte("plain")},
		"image.png":                    {Data: []byte{0x89}},
		".hidden/secret.md":            {Data: []byte("no")},
	}

	docs, err := LoadFS(fsys)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "PWS Template.md", docs[0].Name)
	assert.Equal(t, "repo-PWS Template.md", docs[0].ID)
	assert.Equal(t, "FAR-Quick-Reference.md", docs[1].Name)
	assert.Equal(t, "notes/FAR-Quick-Reference.md", docs[1].Path)
	assert.Equal(t, SourceRepository, docs[2].Source)
}

func TestLoadDirMissingIsEmpty(t *testing.T) {
	docs, err := LoadDir(filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadDirReadsFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "SOO Template.md"), []byte("objectives"), 0o644))

	docs, err := LoadDir(dir)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "SOO Template", docs[0].Title())
}

func TestReadUpload(t *testing.T) {
	doc, err := ReadUpload("notes.md", []byte("# hi"))
	require.NoError(t, err)
	assert.Equal(t, "# hi", doc.Content)
	assert.Equal(t, SourceUpload, doc.Source)
	assert.NotEmpty(t, doc.ID)

	_, err = ReadUpload("scan.pdf", []byte("%PDF"))
	assert.ErrorIs(t, err, ErrUnsupportedType)

	_, err = ReadUpload("broken.docx", []byte("not a zip"))
	assert.Error(t, err)
}

func TestReadUploadDocx(t *testing.T) {
	var buf bytes.Buffer
	err := export.WriteDocx(&buf, "t", []export.Paragraph{
		{Heading: 1, Runs: []export.TextRun{{Text: "Scope & Purpose"}}},
		{Runs: []export.TextRun{{Text: "Line one"}, {Break: true}, {Text: "line two", Bold: true}}},
		{Bullet: true, Runs: []export.TextRun{{Text: "item"}}},
	})
	require.NoError(t, err)

	doc, err := ReadUpload("pws.docx", buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, "Scope & Purpose\nLine one\nline two\nitem", doc.Content)
}

func TestBaseSearchLimitsMatchesPerFile(t *testing.T) {
	content := "FAR a\nfar b\nnothing\nFar c\nFAR d\nFAR e\nFAR f\n"
	b := NewBase([]Document{
		{ID: "1", Name: "FAR-Quick-Reference.md", Content: content, Source: SourceRepository},
		{ID: "2", Name: "other.md", Content: "unrelated", Source: SourceRepository},
	})

	got := b.Search("far")
	require.Len(t, got, 1)
	assert.Equal(t, "FAR-Quick-Reference", got[0].File)
	assert.Equal(t, []string{"FAR a", "far b", "Far c", "FAR d", "FAR e"}, got[0].Lines)
}

func TestBaseAddRemoveLookup(t *testing.T) {
	b := NewBase([]Document{{ID: "repo-a.md", Name: "a.md", Source: SourceRepository}})
	b.Add(Document{ID: "u1", Name: "upload.txt", Source: SourceUpload})

	d, err := b.Lookup("A")
	require.NoError(t, err)
	assert.Equal(t, "repo-a.md", d.ID)

	assert.ErrorIs(t, b.Remove("repo-a.md"), ErrReadOnly)
	assert.ErrorIs(t, b.Remove("missing"), ErrNotFound)
	require.NoError(t, b.Remove("u1"))
	assert.Len(t, b.All(), 1)

	_, err = b.Lookup("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTemplatesOnlyRepositoryMarkdown(t *testing.T) {
	b := NewBase([]Document{
		{Name: "SOO Template.md", Source: SourceRepository},
		{Name: "readme.txt", Source: SourceRepository},
		{Name: "mine.md", Source: SourceUpload},
	})
	got := b.Templates()
	require.Len(t, got, 1)
	assert.Equal(t, "SOO Template.md", got[0].Name)
}
