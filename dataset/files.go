package dataset

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile represents an image file of a dataset directory.
type ImageFile struct {
	// Name is the file name, the key used in dataset.json.
	Name string
	// Path is the path to the image file.
	Path string
}

// ListImageFiles returns the GIF, PNG and JPEG files of a directory sorted by
// name.
//
// Arguments:
// - dir: Directory path containing image files.
//
// Returns:
// - []ImageFile: The image files.
// - error: Error if the directory cannot be read.
func ListImageFiles(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", dir)
	}

	var files []ImageFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(entry.Name())) {
		case ".gif", ".jpg", ".jpeg", ".png":
			files = append(files, ImageFile{
				Name: entry.Name(),
				Path: filepath.Join(dir, entry.Name()),
			})
		}
	}

	sort.Slice(files, func(i, j int) bool {
		return files[i].Name < files[j].Name
	})
	return files, nil
}
