package client

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

type ValidationError struct {
	Arg   string
	Cause string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Arg, e.Cause)
}

type PathKind int

const (
	PathFile PathKind = iota
	PathDir
)

// UploadPath is a local path accepted for upload.
type UploadPath struct {
	FullPath string
	Kind     PathKind
}

// UploadName is the filename sent to the server. Directories are sent as
// a zip archive named after the directory.
func (p UploadPath) UploadName() string {
	name := filepath.Base(p.FullPath)
	if p.Kind == PathDir {
		return name + ".zip"
	}
	return name
}

// ParseUploadArgs checks that every argument names an existing regular
// file or directory.
func ParseUploadArgs(args []string) ([]UploadPath, error) {
	if len(args) == 0 {
		return nil, &ValidationError{Arg: "<paths>", Cause: "no files provided"}
	}

	var out []UploadPath

	for _, raw := range args {
		p := filepath.Clean(raw)
		info, err := os.Stat(p)
		if err != nil {
			return nil, &ValidationError{Arg: raw, Cause: "not found or not accessible"}
		}

		kind := PathFile
		switch {
		case info.IsDir():
			kind = PathDir
		case !info.Mode().IsRegular():
			return nil, &ValidationError{Arg: raw, Cause: "not a regular file or directory"}
		}

		out = append(out, UploadPath{FullPath: p, Kind: kind})
	}

	return out, nil
}

// Open returns a reader over the upload body: the file itself, or a zip of
// the directory produced on the fly.
func (p UploadPath) Open() (io.ReadCloser, error) {
	if p.Kind == PathFile {
		return os.Open(p.FullPath)
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(ZipDir(p.FullPath, pw))
	}()
	return pr, nil
}
