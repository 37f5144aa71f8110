package bitcask

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) (*BitCask, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store", "data.log")
	bc, err := NewBitCask(path)
	require.NoError(t, err)
	return bc, path
}

func TestSetGetDelete(t *testing.T) {
	bc, _ := openTemp(t)
	defer bc.Close()

	require.NoError(t, bc.Set([]byte("a"), []byte("1")))
	require.NoError(t, bc.Set([]byte("b"), []byte{}))

	v, err := bc.Get([]byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), v)

	v, err = bc.Get([]byte("b"))
	require.NoError(t, err)
	assert.NotNil(t, v)
	assert.Len(t, v, 0)

	require.NoError(t, bc.Delete([]byte("a")))
	v, err = bc.Get([]byte("a"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestReopenRebuildsKeyDir(t *testing.T) {
	bc, path := openTemp(t)
	require.NoError(t, bc.Set([]byte("k1"), []byte("v1")))
	require.NoError(t, bc.Set([]byte("k2"), []byte("v2")))
	require.NoError(t, bc.Set([]byte("k1"), []byte("v1b")))
	require.NoError(t, bc.Delete([]byte("k2")))
	require.NoError(t, bc.Close())

	bc, err := NewBitCask(path)
	require.NoError(t, err)
	defer bc.Close()

	v, err := bc.Get([]byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1b"), v)
	v, err = bc.Get([]byte("k2"))
	require.NoError(t, err)
	assert.Nil(t, v)
}

func TestTornTailIsTruncated(t *testing.T) {
	bc, path := openTemp(t)
	require.NoError(t, bc.Set([]byte("k"), []byte("value")))
	size := bc.Log.size
	require.NoError(t, bc.Close())

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o666)
	require.NoError(t, err)
	_, err = f.Write([]byte{0, 0, 0, 9, 0, 0})
	require.NoError(t, err)
	require.NoError(t, f.Close())

	bc, err = NewBitCask(path)
	require.NoError(t, err)
	defer bc.Close()
	assert.Equal(t, size, bc.Log.size)

	v, err := bc.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), v)
}

func TestScanPrefix(t *testing.T) {
	bc, _ := openTemp(t)
	defer bc.Close()

	for _, k := range []string{"t/a", "t/b", "u/a", "t/c", "s/z"} {
		require.NoError(t, bc.Set([]byte(k), []byte(k)))
	}

	items, err := bc.ScanPrefix([]byte("t/"))
	require.NoError(t, err)
	var keys []string
	for _, item := range items {
		keys = append(keys, string(item.Key))
	}
	assert.Equal(t, []string{"t/a", "t/b", "t/c"}, keys)

	items, err = bc.Scan([]byte("t/b"), []byte("u/a"))
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

func TestCompactDropsGarbage(t *testing.T) {
	bc, path := openTemp(t)
	for i := 0; i < 10; i++ {
		require.NoError(t, bc.Set([]byte("k"), []byte("some value")))
	}
	require.NoError(t, bc.Set([]byte("gone"), []byte("x")))
	require.NoError(t, bc.Delete([]byte("gone")))
	before := bc.Status()
	require.NoError(t, bc.Close())

	bc, err := NewCompact(path, 0.2)
	require.NoError(t, err)
	defer bc.Close()

	after := bc.Status()
	assert.Less(t, after.TotalDiskSize, before.TotalDiskSize)
	assert.Equal(t, uint64(0), after.GarbageDiskSize)
	v, err := bc.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("some value"), v)
}

func TestSecondOpenIsRejected(t *testing.T) {
	bc, path := openTemp(t)
	defer bc.Close()
	_, err := NewBitCask(path)
	assert.Error(t, err)
}
