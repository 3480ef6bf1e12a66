package seismod

import (
	"fmt"
	"os"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Scenario is a complete YAML description of a modeling run: the earth
// model, the acquisition geometry, and run parameters. Units follow the
// seismic convention used throughout the package: meters for distance,
// milliseconds for time, so velocities are in m/ms (numerically km/s)
// and frequencies in kHz.
type Scenario struct {
	Model       ModelConfig       `yaml:"model"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Run         RunConfig         `yaml:"run"`
}

// Validate validates the scenario.
func (s *Scenario) Validate() error {
	if err := s.Model.Validate(); err != nil {
		return err
	}
	if err := s.Acquisition.Validate(len(s.Model.Shape)); err != nil {
		return err
	}
	return s.Run.Validate()
}

// ModelConfig describes the velocity model and grid geometry.
type ModelConfig struct {
	Shape    []int          `yaml:"shape"`
	Spacing  []float64      `yaml:"spacing"`
	Origin   []float64      `yaml:"origin"`
	NB       int            `yaml:"nbl"`
	Velocity VelocityConfig `yaml:"velocity"`
}

// Validate validates the model configuration.
func (c *ModelConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Shape, validation.Required, validation.Length(2, 3)),
		validation.Field(&c.Spacing, validation.Required),
		validation.Field(&c.NB, validation.Min(0)),
	); err != nil {
		return err
	}
	if len(c.Spacing) != len(c.Shape) {
		return fmt.Errorf("model: spacing has %d entries, shape has %d", len(c.Spacing), len(c.Shape))
	}
	if len(c.Origin) != 0 && len(c.Origin) != len(c.Shape) {
		return fmt.Errorf("model: origin has %d entries, shape has %d", len(c.Origin), len(c.Shape))
	}
	for d, n := range c.Shape {
		if n < 3 {
			return fmt.Errorf("model: shape[%d] = %d is too small", d, n)
		}
	}
	for d, h := range c.Spacing {
		if h <= 0 {
			return fmt.Errorf("model: spacing[%d] must be positive", d)
		}
	}
	return c.Velocity.Validate()
}

// VelocityConfig builds a velocity volume from a background value plus
// optional flat layers. Layers are stacked along the first (depth)
// dimension; each one overrides the velocity from its depth downward.
type VelocityConfig struct {
	Background float64       `yaml:"background"`
	Layers     []LayerConfig `yaml:"layers"`
}

// LayerConfig is one flat velocity layer.
type LayerConfig struct {
	Depth    float64 `yaml:"depth"`
	Velocity float64 `yaml:"velocity"`
}

// Validate validates the velocity configuration.
func (c *VelocityConfig) Validate() error {
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Background, validation.Required, validation.Min(0.1)),
	); err != nil {
		return err
	}
	for i, l := range c.Layers {
		if l.Velocity <= 0 {
			return fmt.Errorf("velocity: layer %d has non-positive velocity", i)
		}
		if l.Depth < 0 {
			return fmt.Errorf("velocity: layer %d has negative depth", i)
		}
	}
	return nil
}

// AcquisitionConfig describes one shot: a point source and a line of
// receivers.
type AcquisitionConfig struct {
	Source    SourceConfig   `yaml:"source"`
	Receivers ReceiverConfig `yaml:"receivers"`
}

// Validate validates the acquisition against the model dimensionality.
func (c *AcquisitionConfig) Validate(ndim int) error {
	if err := c.Source.Validate(ndim); err != nil {
		return err
	}
	return c.Receivers.Validate(ndim)
}

// SourceConfig is the shot position and wavelet peak frequency (kHz).
type SourceConfig struct {
	Position      []float64 `yaml:"position"`
	PeakFrequency float64   `yaml:"peak_frequency"`
}

// Validate validates the source configuration.
func (c *SourceConfig) Validate(ndim int) error {
	if len(c.Position) != ndim {
		return fmt.Errorf("source: position has %d components, model is %d-D", len(c.Position), ndim)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.PeakFrequency, validation.Required, validation.Min(1e-4)),
	)
}

// ReceiverConfig is a straight line of evenly spaced receivers between
// First and Last inclusive.
type ReceiverConfig struct {
	First []float64 `yaml:"first"`
	Last  []float64 `yaml:"last"`
	Count int       `yaml:"count"`
}

// Validate validates the receiver configuration.
func (c *ReceiverConfig) Validate(ndim int) error {
	if len(c.First) != ndim || len(c.Last) != ndim {
		return fmt.Errorf("receivers: first/last must have %d components", ndim)
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Count, validation.Required, validation.Min(1)),
	)
}

// Coords expands the line into per-receiver coordinates.
func (c *ReceiverConfig) Coords() [][]float64 {
	out := make([][]float64, c.Count)
	for i := 0; i < c.Count; i++ {
		f := 0.0
		if c.Count > 1 {
			f = float64(i) / float64(c.Count-1)
		}
		p := make([]float64, len(c.First))
		for d := range p {
			p[d] = c.First[d] + f*(c.Last[d]-c.First[d])
		}
		out[i] = p
	}
	return out
}

// RunConfig holds run parameters. Dt of zero means the critical time
// step; Checkpoints of zero means full wavefield storage for gradients.
type RunConfig struct {
	Time        float64   `yaml:"time"`
	Dt          float64   `yaml:"dt"`
	SpaceOrder  int       `yaml:"space_order"`
	Checkpoints int       `yaml:"checkpoints"`
	ISIC        bool      `yaml:"isic"`
	Frequencies []float64 `yaml:"frequencies"`
	GPU         bool      `yaml:"gpu"`
}

// Validate validates the run configuration.
func (c *RunConfig) Validate() error {
	if c.SpaceOrder == 0 {
		c.SpaceOrder = DefaultSpaceOrder
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Time, validation.Required, validation.Min(0.0).Exclusive()),
		validation.Field(&c.Dt, validation.Min(0.0)),
		validation.Field(&c.Checkpoints, validation.Min(0)),
	); err != nil {
		return err
	}
	if err := checkSpaceOrder(c.SpaceOrder); err != nil {
		return err
	}
	for i, f := range c.Frequencies {
		if f <= 0 {
			return fmt.Errorf("run: frequency %d must be positive", i)
		}
	}
	return nil
}

// LoadScenario reads a scenario from a YAML file, expanding environment
// variables before parsing, and validates it.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario %s: %w", path, err)
	}
	var s Scenario
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &s); err != nil {
		return nil, fmt.Errorf("parsing scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("scenario validation failed: %w", err)
	}
	return &s, nil
}

// BuildModel realizes the configured velocity volume as a Model.
func (s *Scenario) BuildModel() (*Model, error) {
	c := &s.Model
	n := 1
	for _, d := range c.Shape {
		n *= d
	}
	vel := make([]float64, n)
	for i := range vel {
		vel[i] = c.Velocity.Background
	}
	rowLen := n / c.Shape[0]
	for _, l := range c.Velocity.Layers {
		z0 := int(l.Depth / c.Spacing[0])
		if z0 < 0 {
			z0 = 0
		}
		for z := z0; z < c.Shape[0]; z++ {
			row := vel[z*rowLen : (z+1)*rowLen]
			for i := range row {
				row[i] = l.Velocity
			}
		}
	}
	origin := c.Origin
	if len(origin) == 0 {
		origin = make([]float64, len(c.Shape))
	}
	return NewModel(c.Shape, c.Spacing, origin, c.NB, vel)
}

// TimeAxis resolves the time step and sample count for the model.
func (s *Scenario) TimeAxis(m *Model) (dt float64, nt int) {
	dt = s.Run.Dt
	if dt <= 0 {
		dt = m.CriticalDt(s.Run.SpaceOrder)
	}
	nt = int(s.Run.Time/dt) + 1
	if nt < 2 {
		nt = 2
	}
	return dt, nt
}

// Options translates the run parameters into modeling options.
func (s *Scenario) Options() []Option {
	opts := []Option{WithSpaceOrder(s.Run.SpaceOrder)}
	if s.Run.Dt > 0 {
		opts = append(opts, WithDt(s.Run.Dt))
	}
	if s.Run.ISIC {
		opts = append(opts, WithISIC())
	}
	if s.Run.GPU {
		opts = append(opts, WithGPU())
	}
	return opts
}
