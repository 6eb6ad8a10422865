// Package inputspec resolves the concrete input bytes for a differential
// run. Inputs are derived from a seeded generator so a run is reproducible
// from the seed alone; a spec file overrides individual arguments by
// position. Spec files are YAML (JSON is accepted unchanged).
package inputspec

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xgo-dev/spillfuzz/abi"
)

// DefaultSeed is used when neither the spec nor the caller supplies one.
const DefaultSeed = 12345

// UsageError marks a spec that contradicts the kernel's argument shape, for
// example an override wider than the argument it targets. The caller exits
// with the usage status rather than reporting a finding.
type UsageError struct {
	Arg int
	Msg string
}

func (e *UsageError) Error() string {
	return fmt.Sprintf("input spec: arg %d: %s", e.Arg, e.Msg)
}

// Launch overrides the default 1x1x1 launch geometry.
type Launch struct {
	Grid  [3]int `yaml:"grid"`
	Block [3]int `yaml:"block"`
}

// Value overrides a scalar or by-value argument. Exactly one representation
// is set: a little-endian integer, a hex string, or raw bytes.
type Value struct {
	Int   *uint64
	Bytes []byte
}

// UnmarshalYAML accepts a bare integer, {hex: "..."} or {bytes: [..]}.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n, err := strconv.ParseUint(node.Value, 0, 64)
		if err != nil {
			return fmt.Errorf("value %q is not an integer", node.Value)
		}
		v.Int = &n
		return nil
	}
	var obj struct {
		Hex   string `yaml:"hex"`
		Bytes []int  `yaml:"bytes"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	switch {
	case obj.Hex != "":
		b, err := hex.DecodeString(strings.TrimPrefix(obj.Hex, "0x"))
		if err != nil {
			return fmt.Errorf("bad hex value %q: %w", obj.Hex, err)
		}
		v.Bytes = b
	case len(obj.Bytes) > 0:
		v.Bytes = make([]byte, len(obj.Bytes))
		for i, n := range obj.Bytes {
			if n < 0 || n > 255 {
				return fmt.Errorf("byte value %d out of range", n)
			}
			v.Bytes[i] = byte(n)
		}
	default:
		return fmt.Errorf("value must be an integer, hex or bytes")
	}
	return nil
}

// BufferSpec overrides a device buffer: its size and optionally a fill
// pattern repeated across it.
type BufferSpec struct {
	SizeBytes int
	Fill      []byte
}

// UnmarshalYAML accepts a bare size or {size_bytes: N, fill_hex: "..."}.
func (b *BufferSpec) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		n, err := strconv.Atoi(node.Value)
		if err != nil {
			return fmt.Errorf("buffer size %q is not an integer", node.Value)
		}
		b.SizeBytes = n
		return nil
	}
	var obj struct {
		SizeBytes int    `yaml:"size_bytes"`
		FillHex   string `yaml:"fill_hex"`
	}
	if err := node.Decode(&obj); err != nil {
		return err
	}
	b.SizeBytes = obj.SizeBytes
	if obj.FillHex != "" {
		fill, err := hex.DecodeString(strings.TrimPrefix(obj.FillHex, "0x"))
		if err != nil {
			return fmt.Errorf("bad fill_hex %q: %w", obj.FillHex, err)
		}
		b.Fill = fill
	}
	return nil
}

// Spec is the user-facing override file. Keys of Buffers and Values are
// zero-based argument positions; both JSON string keys and YAML integer
// keys decode to strings.
type Spec struct {
	Seed    *uint64               `yaml:"seed"`
	Launch  *Launch               `yaml:"launch"`
	Buffers map[string]BufferSpec `yaml:"buffers"`
	Values  map[string]Value      `yaml:"values"`
}

// Parse decodes a spec document.
func Parse(data []byte) (*Spec, error) {
	var s Spec
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse input spec: %w", err)
	}
	return &s, nil
}

// LoadFile reads a spec file. A missing path yields the empty spec, so a
// run without overrides needs no file at all.
func LoadFile(path string) (*Spec, error) {
	if path == "" {
		return &Spec{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Spec{}, nil
		}
		return nil, err
	}
	return Parse(data)
}

// MatArg is one resolved argument: for buffers, the initial device contents;
// for scalars, the exact by-value bytes.
type MatArg struct {
	Kind string
	Data []byte
}

// Materialized is the fully resolved input set for one differential run.
// Both kernel variants receive exactly these bytes.
type Materialized struct {
	Seed  uint64
	Grid  [3]int
	Block [3]int
	Args  []MatArg
}

// Resolve produces the concrete bytes for every argument in spec order. The
// generator is seeded once and consumed only for arguments without an
// override; identical spec plus seed always yields identical bytes.
func Resolve(argspec abi.KernelArgSpec, spec *Spec, defaultBufSize int) (*Materialized, error) {
	if spec == nil {
		spec = &Spec{}
	}
	m := &Materialized{
		Seed:  DefaultSeed,
		Grid:  [3]int{1, 1, 1},
		Block: [3]int{1, 1, 1},
	}
	if spec.Seed != nil {
		m.Seed = *spec.Seed
	}
	if spec.Launch != nil {
		m.Grid = clampDim(spec.Launch.Grid)
		m.Block = clampDim(spec.Launch.Block)
	}
	rng := rand.New(rand.NewSource(int64(m.Seed)))

	for i, arg := range argspec.Args {
		key := strconv.Itoa(i)
		var data []byte
		switch {
		case arg.IsBuffer():
			size := defaultBufSize
			if bs, ok := spec.Buffers[key]; ok && bs.SizeBytes > 0 {
				size = bs.SizeBytes
			}
			data = make([]byte, size)
			if bs, ok := spec.Buffers[key]; ok && len(bs.Fill) > 0 {
				for j := range data {
					data[j] = bs.Fill[j%len(bs.Fill)]
				}
			} else {
				rng.Read(data)
			}
		default:
			if v, ok := spec.Values[key]; ok {
				b, err := encodeValue(i, v, arg.Size)
				if err != nil {
					return nil, err
				}
				data = b
			} else {
				data = make([]byte, arg.Size)
				rng.Read(data)
			}
		}
		m.Args = append(m.Args, MatArg{Kind: arg.Kind, Data: data})
	}
	for key := range spec.Buffers {
		if err := checkOverrideTarget(argspec, key, true); err != nil {
			return nil, err
		}
	}
	for key := range spec.Values {
		if err := checkOverrideTarget(argspec, key, false); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// encodeValue renders an override into exactly size bytes, little-endian and
// zero-extended for integers. Wider overrides are usage errors.
func encodeValue(arg int, v Value, size int) ([]byte, error) {
	if v.Int != nil {
		var full [8]byte
		binary.LittleEndian.PutUint64(full[:], *v.Int)
		for _, b := range full[min(size, 8):] {
			if b != 0 {
				return nil, &UsageError{Arg: arg, Msg: fmt.Sprintf("value %d does not fit in %d bytes", *v.Int, size)}
			}
		}
		out := make([]byte, size)
		copy(out, full[:])
		return out, nil
	}
	if len(v.Bytes) > size {
		return nil, &UsageError{Arg: arg, Msg: fmt.Sprintf("override is %d bytes, argument is %d", len(v.Bytes), size)}
	}
	out := make([]byte, size)
	copy(out, v.Bytes)
	return out, nil
}

func checkOverrideTarget(argspec abi.KernelArgSpec, key string, wantBuffer bool) error {
	i, err := strconv.Atoi(key)
	if err != nil || i < 0 {
		return &UsageError{Arg: -1, Msg: fmt.Sprintf("bad argument index %q", key)}
	}
	if i >= len(argspec.Args) {
		return &UsageError{Arg: i, Msg: fmt.Sprintf("kernel has only %d arguments", len(argspec.Args))}
	}
	if argspec.Args[i].IsBuffer() != wantBuffer {
		if wantBuffer {
			return &UsageError{Arg: i, Msg: "buffer override targets a non-buffer argument"}
		}
		return &UsageError{Arg: i, Msg: "value override targets a buffer argument"}
	}
	return nil
}

func clampDim(d [3]int) [3]int {
	for i := range d {
		if d[i] < 1 {
			d[i] = 1
		}
	}
	return d
}

// Flatten renders the materialized inputs in the flat line format the
// standalone runner consumes: seed, launch geometry, then one line per
// argument with its kind, size and hex contents.
func (m *Materialized) Flatten() string {
	var b strings.Builder
	fmt.Fprintf(&b, "seed %d\n", m.Seed)
	fmt.Fprintf(&b, "grid %d %d %d\n", m.Grid[0], m.Grid[1], m.Grid[2])
	fmt.Fprintf(&b, "block %d %d %d\n", m.Block[0], m.Block[1], m.Block[2])
	for _, a := range m.Args {
		fmt.Fprintf(&b, "arg %s %d %s\n", a.Kind, len(a.Data), hex.EncodeToString(a.Data))
	}
	return b.String()
}
