package export

import (
	"encoding/json"
	"encoding/xml"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	errs "github.com/johnwbyrd/yalje/pkg/errors"
	"github.com/johnwbyrd/yalje/pkg/models"
)

// Exporter serializes and deserializes an ExportBundle in one format
type Exporter interface {
	Export(bundle *models.ExportBundle, w io.Writer) error
	Load(r io.Reader) (*models.ExportBundle, error)
	Extension() string
}

// ForFormat returns the exporter for a format name
func ForFormat(format string) (Exporter, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return &YAMLExporter{}, nil
	case "json":
		return &JSONExporter{}, nil
	case "xml":
		return &XMLExporter{}, nil
	default:
		return nil, errs.Newf(errs.ErrorTypeUnknown, "unsupported export format: %s", format)
	}
}

// ForPath returns the exporter matching a file's extension
func ForPath(path string) (Exporter, error) {
	ext := strings.TrimPrefix(filepath.Ext(path), ".")
	if ext == "" {
		return nil, errs.Newf(errs.ErrorTypeUnknown, "cannot determine format from path: %s", path)
	}
	return ForFormat(ext)
}

// WriteFile serializes the bundle to path, choosing the format from the
// extension. The file is written atomically via a temp file and rename.
func WriteFile(path string, bundle *models.ExportBundle) error {
	exporter, err := ForPath(path)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".yalje-export-*")
	if err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to create temp export file", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := exporter.Export(bundle, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to sync export file", err)
	}
	if err := tmp.Close(); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to close export file", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to move export file into place", err)
	}
	return nil
}

// ReadFile loads a bundle from path, choosing the format from the extension
func ReadFile(path string) (*models.ExportBundle, error) {
	exporter, err := ForPath(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeUnknown, "failed to open export file", err)
	}
	defer f.Close()
	return exporter.Load(f)
}

// YAMLExporter writes the default human-readable archive format
type YAMLExporter struct{}

func (e *YAMLExporter) Extension() string { return "yaml" }

func (e *YAMLExporter) Export(bundle *models.ExportBundle, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(bundle); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to encode YAML export", err)
	}
	return enc.Close()
}

func (e *YAMLExporter) Load(r io.Reader) (*models.ExportBundle, error) {
	var bundle models.ExportBundle
	if err := yaml.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, "failed to decode YAML export", err)
	}
	return &bundle, nil
}

// JSONExporter writes an indented JSON archive
type JSONExporter struct{}

func (e *JSONExporter) Extension() string { return "json" }

func (e *JSONExporter) Export(bundle *models.ExportBundle, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(bundle); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to encode JSON export", err)
	}
	return nil
}

func (e *JSONExporter) Load(r io.Reader) (*models.ExportBundle, error) {
	var bundle models.ExportBundle
	if err := json.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, "failed to decode JSON export", err)
	}
	return &bundle, nil
}

// XMLExporter writes an XML archive with a document header
type XMLExporter struct{}

func (e *XMLExporter) Extension() string { return "xml" }

func (e *XMLExporter) Export(bundle *models.ExportBundle, w io.Writer) error {
	if _, err := io.WriteString(w, xml.Header); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to write XML header", err)
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(bundle); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to encode XML export", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return errs.Wrap(errs.ErrorTypeUnknown, "failed to finish XML export", err)
	}
	return nil
}

func (e *XMLExporter) Load(r io.Reader) (*models.ExportBundle, error) {
	var bundle models.ExportBundle
	if err := xml.NewDecoder(r).Decode(&bundle); err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, "failed to decode XML export", err)
	}
	return &bundle, nil
}
