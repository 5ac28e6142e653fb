package domain

import (
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// LocalFile references a file picked by the user for upload.
type LocalFile struct {
	Path        string
	Name        string
	ContentType string
	Size        int64
}

// LocalFileFromPath stats path and fills in name, size and content type.
func LocalFileFromPath(path string) (LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return LocalFile{}, err
	}
	name := filepath.Base(path)
	return LocalFile{
		Path:        path,
		Name:        name,
		ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(name))),
		Size:        info.Size(),
	}, nil
}

// Extension returns the lower-cased image subtype of the file, preferring the
// declared content type over the file name.
func (f LocalFile) Extension() string {
	if ct := strings.ToLower(strings.TrimSpace(f.ContentType)); ct != "" {
		if i := strings.Index(ct, ";"); i >= 0 {
			ct = ct[:i]
		}
		if sub, ok := strings.CutPrefix(ct, "image/"); ok {
			return sub
		}
	}
	name := f.Name
	if name == "" {
		name = f.Path
	}
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
}
