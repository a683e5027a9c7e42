package vfs

import (
	"io"
	"io/ioutil"
	"os"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemDir_Write(t *testing.T) {
	d := NewMemDir()
	f, err := d.CreateFile("foo")
	require.NoError(t, err)

	_, err = io.WriteString(f, "hello")
	require.NoError(t, err)
	require.NoError(t, f.Commit())
	require.NoError(t, f.Close())

	r, err := d.OpenFile("foo")
	require.NoError(t, err)
	defer r.Close()

	b, err := ioutil.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(b))
}

func TestMemDir_WriteWithoutCommit(t *testing.T) {
	d := NewMemDir()
	f, err := d.CreateFile("foo")
	require.NoError(t, err)

	_, err = io.WriteString(f, "hello")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = d.OpenFile("foo")
	assert.Error(t, err)
}

func TestDir_List(t *testing.T) {
	check := func(t *testing.T, d Dir) {
		f1, err := d.CreateFile("foo")
		require.NoError(t, err)
		require.NoError(t, f1.Commit())
		require.NoError(t, f1.Close())

		f2, err := d.CreateFile("bar")
		require.NoError(t, err)
		require.NoError(t, f2.Commit())
		require.NoError(t, f2.Close())

		f3, err := d.CreateFile("baz")
		require.NoError(t, err)
		require.NoError(t, f3.Close())

		files, err := d.ListFiles()
		require.NoError(t, err)
		sort.Strings(files)
		require.Equal(t, []string{"bar", "foo"}, files)
	}

	t.Run("MemDir", func(t *testing.T) {
		check(t, NewMemDir())
	})

	t.Run("FsDir", func(t *testing.T) {
		path, err := ioutil.TempDir("", "vfs-test")
		require.NoError(t, err)
		defer os.RemoveAll(path)

		d, err := OpenDir(path, true)
		require.NoError(t, err)
		check(t, d)
	})
}

func TestSwapDirs(t *testing.T) {
	base, err := ioutil.TempDir("", "vfs-swap-test")
	require.NoError(t, err)
	defer os.RemoveAll(base)

	oldPath := base + "/cur"
	newPath := base + "/next"

	require.NoError(t, os.Mkdir(oldPath, 0750))
	require.NoError(t, ioutil.WriteFile(oldPath+"/marker", []byte("old"), 0644))

	require.NoError(t, os.Mkdir(newPath, 0750))
	require.NoError(t, ioutil.WriteFile(newPath+"/marker", []byte("new"), 0644))

	require.NoError(t, SwapDirs(oldPath, newPath))

	data, err := ioutil.ReadFile(oldPath + "/marker")
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))

	_, err = os.Stat(newPath)
	assert.True(t, os.IsNotExist(err))
}
