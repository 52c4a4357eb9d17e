package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"pspnet/internal/model"
	"pspnet/internal/nn"
)

// Config captures the model and run knobs for a session.
type Config struct {
	Layers      int     `yaml:"layers"`
	Bins        []int   `yaml:"bins"`
	Dropout     float64 `yaml:"dropout"`
	Classes     int     `yaml:"classes"`
	ZoomFactor  int     `yaml:"zoom_factor"`
	UsePPM      *bool   `yaml:"use_ppm"`
	Variant     string  `yaml:"variant"`
	AuxHead     bool    `yaml:"aux_head"`
	Training    bool    `yaml:"training"`
	Norm        string  `yaml:"norm"`
	IgnoreIndex *int    `yaml:"ignore_index"`
	Seed        int64   `yaml:"seed"`

	BatchSize  int  `yaml:"batch_size"`
	Height     int  `yaml:"height"`
	Width      int  `yaml:"width"`
	Iterations int  `yaml:"iterations"`
	Warmup     *int `yaml:"warmup"`
	LogEvery   int  `yaml:"log_every"`

	Image  string `yaml:"image"`
	Labels string `yaml:"labels"`
	Output string `yaml:"output"`
}

// Overrides captures CLI supplied values.
type Overrides struct {
	Layers     int
	Classes    int
	ZoomFactor int
	Variant    string
	Norm       string
	Seed       int64
	BatchSize  int
	Height     int
	Width      int
	Iterations int
	LogEvery   int
	Image      string
	Labels     string
	Output     string
}

// Load reads and validates a Config from YAML.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()

	cfg, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML from r. Unknown keys are rejected.
func Parse(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return cfg, nil
}

// ApplyOverrides updates cfg using any non-zero override.
func (c *Config) ApplyOverrides(o Overrides) {
	if o.Layers > 0 {
		c.Layers = o.Layers
	}
	if o.Classes > 0 {
		c.Classes = o.Classes
	}
	if o.ZoomFactor > 0 {
		c.ZoomFactor = o.ZoomFactor
	}
	if o.Variant != "" {
		c.Variant = o.Variant
	}
	if o.Norm != "" {
		c.Norm = o.Norm
	}
	if o.Seed != 0 {
		c.Seed = o.Seed
	}
	if o.BatchSize > 0 {
		c.BatchSize = o.BatchSize
	}
	if o.Height > 0 {
		c.Height = o.Height
	}
	if o.Width > 0 {
		c.Width = o.Width
	}
	if o.Iterations > 0 {
		c.Iterations = o.Iterations
	}
	if o.LogEvery > 0 {
		c.LogEvery = o.LogEvery
	}
	if o.Image != "" {
		c.Image = o.Image
	}
	if o.Labels != "" {
		c.Labels = o.Labels
	}
	if o.Output != "" {
		c.Output = o.Output
	}
}

// Validate fills defaults and verifies the config is runnable.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if c.Layers == 0 {
		c.Layers = 18
	}
	if len(c.Bins) == 0 {
		c.Bins = []int{1, 2, 3, 6}
	}
	if c.ZoomFactor == 0 {
		c.ZoomFactor = 8
	}
	if c.UsePPM == nil {
		on := true
		c.UsePPM = &on
	}
	if c.IgnoreIndex == nil {
		idx := model.DefaultIgnoreIndex
		c.IgnoreIndex = &idx
	}
	if c.BatchSize == 0 {
		c.BatchSize = 1
	}
	if c.Iterations == 0 {
		c.Iterations = 20
	}
	if c.Warmup == nil {
		w := 1
		c.Warmup = &w
	}
	if c.LogEvery <= 0 {
		c.LogEvery = 1
	}
	if _, err := c.normFactory(); err != nil {
		return err
	}
	if c.BatchSize < 0 {
		return fmt.Errorf("batch_size must not be negative (got %d)", c.BatchSize)
	}
	if c.Image == "" && (c.Height <= 0 || c.Width <= 0) {
		return fmt.Errorf("height and width must be > 0 without an image (got %dx%d)", c.Height, c.Width)
	}
	if c.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative (got %d)", c.Iterations)
	}
	if c.Labels != "" && c.Image == "" {
		return errors.New("labels require an image")
	}
	if c.Training && c.Image == "" && c.BatchSize == 1 && c.globalBatchNorm() {
		return errors.New("training with batch norm and a 1x1 pyramid bin needs batch_size > 1")
	}
	if *c.Warmup < 0 || *c.Warmup >= c.Iterations {
		return fmt.Errorf("warmup must be in [0, iterations) (got %d)", *c.Warmup)
	}
	opts, err := c.ModelOptions()
	if err != nil {
		return err
	}
	return opts.Validate()
}

// ModelOptions maps the config onto model construction options.
func (c *Config) ModelOptions() (model.Options, error) {
	variant, err := model.ParseVariant(c.Variant)
	if err != nil {
		return model.Options{}, err
	}
	norm, err := c.normFactory()
	if err != nil {
		return model.Options{}, err
	}
	opts := model.Options{
		Layers:      c.Layers,
		Bins:        append([]int(nil), c.Bins...),
		Dropout:     c.Dropout,
		Classes:     c.Classes,
		ZoomFactor:  c.ZoomFactor,
		UsePPM:      c.UsePPM == nil || *c.UsePPM,
		Variant:     variant,
		WithAuxHead: c.AuxHead || c.Training || variant != model.Standard,
		Training:    c.Training,
		Norm:        norm,
		Seed:        c.Seed,
	}
	if c.IgnoreIndex != nil {
		opts.Loss = model.CrossEntropyLoss(*c.IgnoreIndex)
	}
	return opts, nil
}

// globalBatchNorm reports whether a PPM branch batch-normalizes a single
// pooled cell per sample.
func (c *Config) globalBatchNorm() bool {
	if c.UsePPM != nil && !*c.UsePPM {
		return false
	}
	if n := strings.ToLower(c.Norm); n != "" && n != "batch" {
		return false
	}
	for _, b := range c.Bins {
		if b == 1 {
			return true
		}
	}
	return false
}

func (c *Config) normFactory() (nn.NormFactory, error) {
	switch strings.ToLower(c.Norm) {
	case "", "batch":
		return nn.BatchNorm(), nil
	case "instance":
		return nn.InstanceNorm(), nil
	}
	return nil, fmt.Errorf("unknown norm %q", c.Norm)
}
