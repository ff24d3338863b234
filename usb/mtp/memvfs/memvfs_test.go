package memvfs

import (
	"io"
	"testing"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

func TestMkdirAndStat(t *testing.T) {
	v := New(1 << 20)

	if err := v.Mkdir("/pictures"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	info, err := v.Stat("/pictures")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if !info.Attr.IsDir() {
		t.Error("Stat of a created directory should report IsDir()")
	}

	if err := v.Mkdir("/pictures"); err != vfs.EINVAL {
		t.Fatalf("Mkdir of an existing path = %v, want EINVAL", err)
	}

	if err := v.Mkdir("/missing/child"); err != vfs.ENOTDIR {
		t.Fatalf("Mkdir under a missing parent = %v, want ENOTDIR", err)
	}
}

func TestOpenWriteReadRoundTrip(t *testing.T) {
	v := New(1 << 20)

	f, err := v.Open("/hello.txt", vfs.O_WRONLY|vfs.O_CREATE)
	if err != nil {
		t.Fatalf("Open for write: %v", err)
	}

	want := []byte("hello, mtp")
	if _, err := f.Write(want); err != nil {
		t.Fatalf("Write: %v", err)
	}
	f.Close()

	f, err = v.Open("/hello.txt", vfs.O_RDONLY)
	if err != nil {
		t.Fatalf("Open for read: %v", err)
	}
	defer f.Close()

	got, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("read back %q, want %q", got, want)
	}
}

func TestReadReturnsStdlibEOF(t *testing.T) {
	// buffer.go's Writer.StreamRead relies on io.ReadFull, and
	// foldercache.go's lineCount relies on io.Copy; both detect
	// end-of-stream via pointer equality against io.EOF, not duck typing.
	v := New(1 << 20)

	f, _ := v.Open("/x", vfs.O_WRONLY|vfs.O_CREATE)
	f.Write([]byte("ab"))
	f.Close()

	f, _ = v.Open("/x", vfs.O_RDONLY)
	defer f.Close()

	buf := make([]byte, 16)
	n, err := f.Read(buf)
	if n != 2 || err != nil {
		t.Fatalf("first Read = (%d, %v), want (2, nil)", n, err)
	}

	n, err = f.Read(buf)
	if n != 0 || err != io.EOF {
		t.Fatalf("Read at EOF = (%d, %v), want (0, io.EOF)", n, err)
	}
}

func TestRemoveNonEmptyDirectoryReturnsENOTEMPTY(t *testing.T) {
	v := New(1 << 20)

	if err := v.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}
	if err := v.Mkdir("/dir/sub"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	if err := v.Remove("/dir"); err != vfs.ENOTEMPTY {
		t.Fatalf("Remove(non-empty dir) = %v, want ENOTEMPTY", err)
	}

	if err := v.Remove("/dir/sub"); err != nil {
		t.Fatalf("Remove(leaf): %v", err)
	}
	if err := v.Remove("/dir"); err != nil {
		t.Fatalf("Remove(now-empty dir): %v", err)
	}
}

func TestReadDirListsImmediateChildrenOnly(t *testing.T) {
	v := New(1 << 20)

	for _, p := range []string{"/a", "/b"} {
		if err := v.Mkdir(p); err != nil {
			t.Fatalf("Mkdir(%s): %v", p, err)
		}
	}
	if err := v.Mkdir("/a/nested"); err != nil {
		t.Fatalf("Mkdir(nested): %v", err)
	}
	f, _ := v.Open("/c.txt", vfs.O_WRONLY|vfs.O_CREATE)
	f.Close()

	entries, err := v.ReadDir("/")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}

	names := make(map[string]bool)
	for _, e := range entries {
		names[e.Name] = true
	}

	if len(entries) != 3 {
		t.Fatalf("ReadDir(/) returned %d entries, want 3: %v", len(entries), names)
	}
	if names["nested"] {
		t.Fatal("ReadDir(/) leaked a grandchild (/a/nested) into the root listing")
	}
	if !names["a"] || !names["b"] || !names["c.txt"] {
		t.Fatalf("ReadDir(/) missing an expected entry: %v", names)
	}
}

func TestFreeSpaceAccountsOnlyFiles(t *testing.T) {
	v := New(100)

	if err := v.Mkdir("/dir"); err != nil {
		t.Fatalf("Mkdir: %v", err)
	}

	free, err := v.FreeSpace()
	if err != nil || free != 100 {
		t.Fatalf("FreeSpace after Mkdir = (%d, %v), want (100, nil)", free, err)
	}

	f, _ := v.Open("/x", vfs.O_WRONLY|vfs.O_CREATE)
	f.Write(make([]byte, 40))
	f.Close()

	free, err = v.FreeSpace()
	if err != nil || free != 60 {
		t.Fatalf("FreeSpace after a 40-byte write = (%d, %v), want (60, nil)", free, err)
	}
}

func TestReadOnlyVolumeRejectsWrites(t *testing.T) {
	v := New(1 << 20).ReadOnly()

	if err := v.Mkdir("/dir"); err != vfs.EROFS {
		t.Fatalf("Mkdir on read-only volume = %v, want EROFS", err)
	}

	if _, err := v.Open("/x", vfs.O_WRONLY|vfs.O_CREATE); err != vfs.EROFS {
		t.Fatalf("Open(O_WRONLY) on read-only volume = %v, want EROFS", err)
	}

	if !v.Flags().Removable() {
		t.Error("volume should still report ATTR_REMOVABLE_DISK")
	}
	if v.Flags().Writable() {
		t.Error("read-only volume must not report ATTR_IWRITE")
	}
}
