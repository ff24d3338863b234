// MTP core folder side-cache.
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mtp

import (
	"bufio"
	"bytes"
	"io"
	"strings"

	"github.com/usbarmory/tamago-mtp/usb/mtp/vfs"
)

// FolderCacheFile is the default per-volume side-cache file name. On
// FAT-like volumes it would additionally carry the hidden attribute; this
// package only controls its content.
const FolderCacheFile = "/_.MTP"

// FolderCache wraps the ordinal-to-path side-cache file for one volume. It
// is skipped entirely (Append/Lookup become no-ops returning ENODEV) when
// the volume reports ATTR_FLAT_FILESYSTEM; Config.FlatNamespace does not
// affect it.
type FolderCache struct {
	vol  vfs.Volume
	flat bool
}

// NewFolderCache returns a FolderCache bound to vol.
func NewFolderCache(vol vfs.Volume) *FolderCache {
	return &FolderCache{vol: vol, flat: vol.Flags().Flat()}
}

// Lookup reads the cache file until line ordinal is reached and returns its
// relative path.
func (c *FolderCache) Lookup(ordinal int) (string, error) {
	if c.flat {
		return "", vfs.ENODEV
	}

	f, err := c.vol.Open(FolderCacheFile, vfs.O_RDONLY)
	if err != nil {
		return "", vfs.ENOENT
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)

	i := 0
	for scanner.Scan() {
		if i == ordinal {
			return scanner.Text(), nil
		}
		i++
	}

	return "", vfs.ENOENT
}

// Append adds path as a new line and returns its assigned ordinal (the
// previous line count): ordinals are assigned in the order a directory is
// first encountered while walking the volume.
func (c *FolderCache) Append(path string) (uint32, error) {
	if c.flat {
		return 0, vfs.ENODEV
	}

	count, err := c.lineCount()
	if err != nil && err != vfs.ENOENT {
		return 0, err
	}

	f, err := c.vol.Open(FolderCacheFile, vfs.O_WRONLY|vfs.O_CREATE)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	if _, err := f.Seek(0, io.SeekEnd); err != nil {
		return 0, vfs.EINVAL
	}

	if _, err := f.Write([]byte(path + "\n")); err != nil {
		return 0, vfs.EINVAL
	}

	return uint32(count), nil
}

func (c *FolderCache) lineCount() (int, error) {
	f, err := c.vol.Open(FolderCacheFile, vfs.O_RDONLY)
	if err != nil {
		return 0, vfs.ENOENT
	}
	defer f.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, f); err != nil {
		return 0, vfs.EINVAL
	}

	if buf.Len() == 0 {
		return 0, nil
	}

	return strings.Count(buf.String(), "\n"), nil
}

// Reset deletes the cache file (a missing file is not an error). OpenSession
// resets every volume's cache unless Config.FlatNamespace is set;
// CloseSession resets the caches of dirty volumes.
func (c *FolderCache) Reset() error {
	if c.flat {
		return nil
	}

	if err := c.vol.Remove(FolderCacheFile); err != nil {
		if errno, ok := err.(vfs.Errno); ok && errno == vfs.ENOENT {
			return nil
		}
		return err
	}

	return nil
}
