package upload

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is a candidate upload. Open may be called once per transfer attempt.
type File struct {
	Name string
	Size int64
	// Path is the local copy of the video, if there is one. It becomes VideoAsset.Source.
	Path string
	Open func() (io.ReadCloser, error)
}

func FromPath(path string) (File, error) {
	info, err := os.Stat(path)
	if err != nil {
		return File{}, fmt.Errorf("stat upload file: %w", err)
	}
	if info.IsDir() {
		return File{}, fmt.Errorf("upload file %s is a directory", path)
	}
	return File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Path: path,
		Open: func() (io.ReadCloser, error) {
			return os.Open(path)
		},
	}, nil
}

func FromBytes(name string, data []byte) File {
	return File{
		Name: name,
		Size: int64(len(data)),
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}
