// Package cache loads images for flashing. Compressed and remote images are
// unpacked once and kept under the user's cache directory.
package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/golang/glog"
	"github.com/ulikunitz/xz"

	"github.com/awfex/efex/pkg/efex"
)

// xzMagic starts every xz stream.
var xzMagic = []byte{0xfd, '7', 'z', 'X', 'Z', 0x00}

type Cache struct {
	// Dir holds the cached files.
	Dir string
}

// New returns a cache in dir, or in the XDG cache home if dir is empty.
func New(dir string) *Cache {
	if dir == "" {
		dir = filepath.Join(xdg.CacheHome, "efex")
	}
	return &Cache{Dir: dir}
}

func (c *Cache) pathFor(kind, key string) string {
	s := sha256.New()
	fmt.Fprintf(s, "%s", key)
	return filepath.Join(c.Dir, fmt.Sprintf("%s-%s.bin", kind, hex.EncodeToString(s.Sum(nil))))
}

func isURL(src string) bool {
	return strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
}

// Load returns the contents of src, a file path or an http(s) URL. xz
// compressed contents are returned decompressed.
func (c *Cache) Load(src string) ([]byte, error) {
	var data []byte
	var err error
	if isURL(src) {
		data, err = c.download(src)
	} else {
		data, err = os.ReadFile(src)
		if err != nil {
			err = efex.NewError("load", efex.ErrFileOpen, err)
		}
	}
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, xzMagic) {
		return data, nil
	}
	return c.decompress(data)
}

func (c *Cache) download(url string) ([]byte, error) {
	fspath := c.pathFor("download", url)
	if data, err := os.ReadFile(fspath); err == nil {
		glog.Infof("Using cached %s at %s", url, fspath)
		return data, nil
	}

	glog.Infof("Downloading %s...", url)
	resp, err := http.Get(url)
	if err != nil {
		return nil, efex.NewError("download", efex.ErrFileOpen, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, efex.NewError("download", efex.ErrFileOpen, fmt.Errorf("%s: %s", url, resp.Status))
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, efex.NewError("download", efex.ErrFileRead, err)
	}
	if err := c.store(fspath, data); err != nil {
		return nil, err
	}
	return data, nil
}

func (c *Cache) decompress(compressed []byte) ([]byte, error) {
	fspath := c.pathFor("xz", string(compressed))
	if data, err := os.ReadFile(fspath); err == nil {
		glog.Infof("Using decompressed image at %s", fspath)
		return data, nil
	}

	r, err := xz.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, efex.NewError("decompress", efex.ErrFileRead, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, efex.NewError("decompress", efex.ErrFileRead, err)
	}
	glog.Infof("Decompressed %d bytes into %d bytes.", len(compressed), len(data))
	if err := c.store(fspath, data); err != nil {
		return nil, err
	}
	return data, nil
}

// store writes data to fspath through a temporary file, so that an
// interrupted write never leaves a partial cache entry.
func (c *Cache) store(fspath string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(fspath), 0755); err != nil {
		return efex.NewError("cache", efex.ErrFileWrite, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(fspath), ".partial-*")
	if err != nil {
		return efex.NewError("cache", efex.ErrFileWrite, err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return efex.NewError("cache", efex.ErrFileWrite, err)
	}
	if err := tmp.Close(); err != nil {
		return efex.NewError("cache", efex.ErrFileWrite, err)
	}
	if err := os.Rename(tmp.Name(), fspath); err != nil {
		return efex.NewError("cache", efex.ErrFileWrite, err)
	}
	return nil
}
