package calibration

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Measurement is one instrument reading.
type Measurement struct {
	// Luminance is Y in cd/m².
	Luminance float64 `json:"luminance" yaml:"luminance" toml:"luminance"`

	// ChromaX and ChromaY are the CIE 1931 chromaticity coordinates.
	ChromaX float64   `json:"x" yaml:"x" toml:"x"`
	ChromaY float64   `json:"y" yaml:"y" toml:"y"`
	Status  string    `json:"status" yaml:"status" toml:"status"`
	Raw     string    `json:"raw" yaml:"raw" toml:"raw"`
	TakenAt time.Time `json:"takenAt" yaml:"takenAt" toml:"takenAt"`
}

// Record is the persisted state of a calibration.
type Record struct {
	ID           string        `json:"id" yaml:"id" toml:"id"`
	Description  string        `json:"description" yaml:"description" toml:"description"`
	Device       string        `json:"device" yaml:"device" toml:"device"`
	CreatedAt    time.Time     `json:"createdAt" yaml:"createdAt" toml:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt" yaml:"updatedAt" toml:"updatedAt"`
	Curve        Curve         `json:"curve" yaml:"curve" toml:"curve"`
	Measurements []Measurement `json:"measurements,omitempty" yaml:"measurements,omitempty" toml:"measurements,omitempty"`
}

func newRecord(description, device string) Record {
	now := timeNow()
	return Record{
		ID:          uuid.NewString(),
		Description: description,
		Device:      device,
		CreatedAt:   now,
		UpdatedAt:   now,
		Curve:       IdentityCurve(),
	}
}

// clone returns a copy that shares no slices with r.
func (r Record) clone() Record {
	c := r
	if r.Measurements != nil {
		c.Measurements = make([]Measurement, len(r.Measurements))
		copy(c.Measurements, r.Measurements)
	}
	if r.Curve.Points != nil {
		c.Curve.Points = make([]Point, len(r.Curve.Points))
		copy(c.Curve.Points, r.Curve.Points)
	}
	return c
}

// Format is a calibration file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// FormatFor picks the encoding from the file extension. Unknown extensions are YAML.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".toml":
		return FormatTOML
	default:
		return FormatYAML
	}
}

// Encode writes r in format f.
func (r *Record) Encode(f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		return json.MarshalIndent(r, "", "  ")
	case FormatTOML:
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(r); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return yaml.Marshal(r)
	}
}

// DecodeRecord parses data in format f and validates the result.
func DecodeRecord(data []byte, f Format) (*Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, fmt.Errorf("%w: empty file", ErrFileFormat)
	}

	var r Record
	var err error
	switch f {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		err = dec.Decode(&r)
	case FormatTOML:
		_, err = toml.Decode(string(data), &r)
	default:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		err = dec.Decode(&r)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileFormat, err)
	}

	if r.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrFileFormat)
	}
	if err := r.Curve.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileFormat, err)
	}

	return &r, nil
}

// ReadRecord loads a record from path. A missing or undecodable file is
// ErrFileFormat; any other read failure is ErrIO.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: %w", ErrFileFormat, path, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrIO, err)
	}

	r, err := DecodeRecord(data, FormatFor(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

// WriteRecord stores r at path, replacing any existing file atomically.
func WriteRecord(path string, r *Record) error {
	data, err := r.Encode(FormatFor(path))
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrIO, path, err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	tmpName := tmp.Name()
	defer func() {
		// No-op once renamed.
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("%w: write %s: %w", ErrIO, path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrIO, path, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	return nil
}

// timeNow is replaced in tests.
var timeNow = func() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
