package document

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	drive "google.golang.org/api/drive/v2"

	"github.com/tonimelisma/drivevault/internal/gdrive"
)

// folderLister serves a single page of folders.
type folderLister struct {
	folders []*drive.File
	calls   int
	err     error
}

func (l *folderLister) ListFilesPage(_ context.Context, query, _ string) (*drive.FileList, error) {
	l.calls++

	if query != gdrive.QueryFolders {
		return nil, fmt.Errorf("unexpected query %q", query)
	}

	if l.err != nil {
		return nil, l.err
	}

	return &drive.FileList{Items: l.folders}, nil
}

func folderFile(id, title, parent string) *drive.File {
	f := &drive.File{Id: id, Title: title, MimeType: gdrive.FolderMimeType}
	if parent == "" {
		f.Parents = []*drive.ParentReference{{Id: "root", IsRoot: true}}
	} else {
		f.Parents = []*drive.ParentReference{{Id: parent}}
	}

	return f
}

func TestFolderCache_ResolvesPaths(t *testing.T) {
	l := &folderLister{folders: []*drive.File{
		folderFile("a", "Projects", ""),
		folderFile("b", "2024", "a"),
		folderFile("c", "Q1/Q2", "b"),
		folderFile("s", "Shared", "someone-elses-folder"),
	}}
	fc := NewFolderCache(l, fastPolicy(), 0, nil)
	ctx := context.Background()

	p, err := fc.Path(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, "Projects/2024/Q1_Q2", p)

	p, err = fc.Path(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "Projects/2024", p)

	p, err = fc.Path(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Shared", p)

	p, err = fc.Path(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = fc.Path(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, p)

	n, err := fc.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 1, l.calls, "listed once")

	fc.Release()

	_, err = fc.Path(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 2, l.calls, "relisted after release")
}

func TestFolderCache_Cycle(t *testing.T) {
	l := &folderLister{folders: []*drive.File{
		folderFile("x", "X", "y"),
		folderFile("y", "Y", "z"),
		folderFile("z", "Z", "x"),
	}}
	fc := NewFolderCache(l, fastPolicy(), 0, nil)

	_, err := fc.Path(context.Background(), "x")
	require.ErrorIs(t, err, ErrFolderCycle)
}

func TestFolderCache_SelfParentIsCycle(t *testing.T) {
	l := &folderLister{folders: []*drive.File{folderFile("x", "X", "x")}}
	fc := NewFolderCache(l, fastPolicy(), 0, nil)

	_, err := fc.Path(context.Background(), "x")
	require.ErrorIs(t, err, ErrFolderCycle)
}

func TestFolderCache_TooDeep(t *testing.T) {
	var folders []*drive.File

	parent := ""
	for i := range 6 {
		id := fmt.Sprintf("f%d", i)
		folders = append(folders, folderFile(id, id, parent))
		parent = id
	}

	fc := NewFolderCache(&folderLister{folders: folders}, fastPolicy(), 5, nil)
	ctx := context.Background()

	p, err := fc.Path(ctx, "f4")
	require.NoError(t, err)
	assert.Equal(t, "f0/f1/f2/f3/f4", p)

	_, err = fc.Path(ctx, "f5")
	require.ErrorIs(t, err, ErrFolderTooDeep)
}

func TestFolderCache_AuthExpired(t *testing.T) {
	l := &folderLister{err: fmt.Errorf("%w: HTTP 401", gdrive.ErrTokenExpired)}
	fc := NewFolderCache(l, fastPolicy(), 0, nil)

	_, err := fc.Path(context.Background(), "a")
	require.ErrorIs(t, err, gdrive.ErrTokenExpired)

	l.err = nil
	l.folders = []*drive.File{folderFile("a", "A", "")}

	p, err := fc.Path(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "A", p)
}
