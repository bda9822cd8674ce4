// Package config loads decoder settings from YAML files.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/thesyncim/dav1d"
	"gopkg.in/yaml.v3"
)

// File is a decoder settings file. Keys left out keep the library
// defaults.
type File struct {
	Threads               *int     `yaml:"threads"`
	MaxFrameDelay         *int     `yaml:"max_frame_delay"`
	ApplyGrain            *bool    `yaml:"apply_grain"`
	OperatingPoint        *int     `yaml:"operating_point"`
	AllLayers             *bool    `yaml:"all_layers"`
	FrameSizeLimit        *uint32  `yaml:"frame_size_limit"`
	StrictStdCompliance   *bool    `yaml:"strict_std_compliance"`
	OutputInvisibleFrames *bool    `yaml:"output_invisible_frames"`
	InloopFilters         []string `yaml:"inloop_filters"`
	DecodeFrameType       string   `yaml:"decode_frame_type"`
	NativeLog             *bool    `yaml:"native_log"`
}

// Load reads and validates a settings file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates YAML settings. Unknown keys are an error.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

func (f *File) validate() error {
	if f.Threads != nil && *f.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0, got %d", *f.Threads)
	}
	if f.MaxFrameDelay != nil && *f.MaxFrameDelay < 0 {
		return fmt.Errorf("config: max_frame_delay must be >= 0, got %d", *f.MaxFrameDelay)
	}
	if f.OperatingPoint != nil && (*f.OperatingPoint < 0 || *f.OperatingPoint > 31) {
		return fmt.Errorf("config: operating_point must be in [0, 31], got %d", *f.OperatingPoint)
	}
	if f.InloopFilters != nil {
		if _, err := ParseInloopFilters(f.InloopFilters); err != nil {
			return err
		}
	}
	if f.DecodeFrameType != "" {
		if _, err := ParseDecodeFrameType(f.DecodeFrameType); err != nil {
			return err
		}
	}
	return nil
}

// Apply copies every key present in f onto s.
func (f *File) Apply(s *dav1d.Settings) error {
	if f.Threads != nil {
		s.SetThreads(*f.Threads)
	}
	if f.MaxFrameDelay != nil {
		s.SetMaxFrameDelay(*f.MaxFrameDelay)
	}
	if f.ApplyGrain != nil {
		s.SetApplyGrain(*f.ApplyGrain)
	}
	if f.OperatingPoint != nil {
		s.SetOperatingPoint(*f.OperatingPoint)
	}
	if f.AllLayers != nil {
		s.SetAllLayers(*f.AllLayers)
	}
	if f.FrameSizeLimit != nil {
		s.SetFrameSizeLimit(*f.FrameSizeLimit)
	}
	if f.StrictStdCompliance != nil {
		s.SetStrictStdCompliance(*f.StrictStdCompliance)
	}
	if f.OutputInvisibleFrames != nil {
		s.SetOutputInvisibleFrames(*f.OutputInvisibleFrames)
	}
	if f.InloopFilters != nil {
		filters, err := ParseInloopFilters(f.InloopFilters)
		if err != nil {
			return err
		}
		s.SetInloopFilters(filters)
	}
	if f.DecodeFrameType != "" {
		t, err := ParseDecodeFrameType(f.DecodeFrameType)
		if err != nil {
			return err
		}
		if err := s.SetDecodeFrameType(t); err != nil {
			return err
		}
	}
	if f.NativeLog != nil {
		s.SetNativeLogging(*f.NativeLog)
	}
	return nil
}

// ParseInloopFilters combines filter names: deblock, cdef, restoration,
// all or none. An empty list disables every filter.
func ParseInloopFilters(names []string) (dav1d.InloopFilterType, error) {
	var f dav1d.InloopFilterType
	for _, name := range names {
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "deblock":
			f |= dav1d.InloopFilterDeblock
		case "cdef":
			f |= dav1d.InloopFilterCDEF
		case "restoration", "lr":
			f |= dav1d.InloopFilterRestoration
		case "all":
			f |= dav1d.InloopFilterAll
		case "none":
		default:
			return 0, fmt.Errorf("config: unknown inloop filter %q", name)
		}
	}
	return f, nil
}

// ParseDecodeFrameType accepts all, reference, intra or key.
func ParseDecodeFrameType(name string) (dav1d.DecodeFrameType, error) {
	for _, t := range []dav1d.DecodeFrameType{
		dav1d.DecodeFrameTypeAll,
		dav1d.DecodeFrameTypeReference,
		dav1d.DecodeFrameTypeIntra,
		dav1d.DecodeFrameTypeKey,
	} {
		if strings.EqualFold(name, t.String()) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("config: unknown decode_frame_type %q: %w", name, dav1d.ErrInvalidDecodeFrameType)
}
