package static

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/gocarina/gocsv"
)

// changeExempt are the files whose differences do not count as a content
// change: their dates and version churn on every build.
var changeExempt = map[string]bool{
	"feed_info.txt": true,
	"calendar.txt":  true,
}

// Render serializes every non-empty table to CSV, keyed by file name.
func (d *Dataset) Render() (map[string][]byte, error) {
	files := make(map[string][]byte)
	for name, rows := range map[string]any{
		"agency.txt":       d.Agency,
		"feed_info.txt":    d.FeedInfo,
		"calendar.txt":     d.Calendar,
		"routes.txt":       d.Routes,
		"shapes.txt":       d.Shapes,
		"stops.txt":        d.Stops,
		"trips.txt":        d.Trips,
		"stop_times.txt":   d.StopTimes,
		"translations.txt": d.Translations,
	} {
		var buf bytes.Buffer
		if err := gocsv.Marshal(rows, &buf); err != nil {
			return nil, fmt.Errorf("render %s: %w", name, err)
		}
		if buf.Len() > 0 {
			files[name] = buf.Bytes()
		}
	}
	return files, nil
}

// WriteZip writes the rendered files to a zip at path, entries in sorted
// name order so identical content produces identical archives.
func WriteZip(files map[string][]byte, path string) error {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	for _, name := range names {
		w, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", name, err)
		}
		if _, err := w.Write(files[name]); err != nil {
			return fmt.Errorf("zip write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return nil
}

// ReadZip loads a bundle's files back into memory. A missing archive reads
// as empty.
func ReadZip(path string) (map[string][]byte, error) {
	zr, err := zip.OpenReader(path)
	if os.IsNotExist(err) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer zr.Close()

	files := make(map[string][]byte, len(zr.File))
	for _, entry := range zr.File {
		rc, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("zip open %s: %w", entry.Name, err)
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("zip read %s: %w", entry.Name, err)
		}
		files[entry.Name] = data
	}
	return files, nil
}

// Changed reports whether the new bundle differs from the old one, ignoring
// the change-exempt files.
func Changed(newFiles, oldFiles map[string][]byte) bool {
	names := make(map[string]struct{}, len(newFiles)+len(oldFiles))
	for name := range newFiles {
		names[name] = struct{}{}
	}
	for name := range oldFiles {
		names[name] = struct{}{}
	}

	for name := range names {
		if changeExempt[name] {
			continue
		}
		if !bytes.Equal(newFiles[name], oldFiles[name]) {
			return true
		}
	}
	return false
}
