// Package nn provides the parameterised layers the backbone and segmentation
// heads are built from.
package nn

import (
	"errors"
	"fmt"
	"strconv"

	"pspnet/internal/tensor"
)

// ErrStateSize indicates a stored parameter whose length does not match the module.
var ErrStateSize = errors.New("nn: state size mismatch")

// Module is a stateful function over NCHW tensors. train selects
// training-time behaviour (batch statistics, dropout).
type Module interface {
	Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error)
	Owner
}

// Owner enumerates named state.
type Owner interface {
	Parameters() []Parameter
}

// Parameter is a named slice of module state. Buffers such as running
// statistics are reported with Trainable unset.
type Parameter struct {
	Name      string
	Data      []float64
	Trainable bool
}

// Prefixed returns params with prefix+"." prepended to every name.
func Prefixed(prefix string, params []Parameter) []Parameter {
	out := make([]Parameter, len(params))
	for i, p := range params {
		p.Name = prefix + "." + p.Name
		out[i] = p
	}
	return out
}

// Sequential runs modules in order. Children are named by their index.
type Sequential struct {
	Modules []Module
}

// NewSequential chains modules.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{Modules: modules}
}

// Forward implements Module.
func (s *Sequential) Forward(x *tensor.Tensor, train bool) (*tensor.Tensor, error) {
	var err error
	for i, m := range s.Modules {
		x, err = m.Forward(x, train)
		if err != nil {
			return nil, fmt.Errorf("%d: %w", i, err)
		}
	}
	return x, nil
}

// Parameters implements Module.
func (s *Sequential) Parameters() []Parameter {
	var out []Parameter
	for i, m := range s.Modules {
		out = append(out, Prefixed(strconv.Itoa(i), m.Parameters())...)
	}
	return out
}

// StateSource looks up stored parameter values by hierarchical name.
type StateSource interface {
	Lookup(name string) ([]float64, bool)
}

// StateMap is an in-memory StateSource.
type StateMap map[string][]float64

// Lookup implements StateSource.
func (m StateMap) Lookup(name string) ([]float64, bool) {
	v, ok := m[name]
	return v, ok
}

// Snapshot copies every parameter of m into a StateMap.
func Snapshot(m Owner) StateMap {
	out := make(StateMap)
	for _, p := range m.Parameters() {
		out[p.Name] = append([]float64(nil), p.Data...)
	}
	return out
}

// Load copies values from src into m. Names src does not know are left
// untouched; the number of loaded entries is returned.
func Load(m Owner, src StateSource) (int, error) {
	loaded := 0
	for _, p := range m.Parameters() {
		v, ok := src.Lookup(p.Name)
		if !ok {
			continue
		}
		if len(v) != len(p.Data) {
			return loaded, fmt.Errorf("%w: %s has %d values, want %d", ErrStateSize, p.Name, len(v), len(p.Data))
		}
		copy(p.Data, v)
		loaded++
	}
	return loaded, nil
}

// CountParameters returns the number of trainable scalars in m.
func CountParameters(m Owner) int {
	total := 0
	for _, p := range m.Parameters() {
		if p.Trainable {
			total += len(p.Data)
		}
	}
	return total
}
