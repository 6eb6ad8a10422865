// Package abi resolves a compiled kernel's explicit-argument shape from the
// code-object metadata embedded in its binary. The metadata is the YAML
// document llvm-readobj prints; only device-buffer, by-value-aggregate and
// scalar arguments are accepted. Anything else (hidden runtime arguments,
// group-shared placeholders) marks the kernel unsupported for the dynamic
// oracle.
package abi

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Argument kinds accepted for differential execution. Values mirror the
// metadata's value_kind field.
const (
	KindGlobalBuffer = "global_buffer"
	KindByValue      = "by_value"
	KindValue        = "value"
)

// Arg is one explicit kernel argument, positional and ABI-significant.
type Arg struct {
	Kind      string
	Size      int
	AddrSpace string
}

// IsBuffer reports whether the argument is a device buffer whose contents
// are observable output.
func (a Arg) IsBuffer() bool { return a.Kind == KindGlobalBuffer }

// KernelArgSpec is the ordered explicit-argument list of one kernel. The
// order is declaration order and must match the launch call exactly.
type KernelArgSpec struct {
	Kernel string
	Args   []Arg
}

// UnsupportedError marks a kernel whose argument list contains a kind the
// dynamic oracle cannot materialize. The caller skips the dynamic check; this
// is not a failure.
type UnsupportedError struct {
	Kernel string
	Kind   string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("kernel %s: unsupported argument kind %q", e.Kernel, e.Kind)
}

// metadata mirrors the amdhsa.kernels section of the code-object document.
type metadata struct {
	Kernels []struct {
		Name string `yaml:".name"`
		Args []struct {
			ValueKind    string `yaml:".value_kind"`
			Size         int    `yaml:".size"`
			AddressSpace string `yaml:".address_space"`
		} `yaml:".args"`
	} `yaml:"amdhsa.kernels"`
}

// ParseMetadata extracts kernel arg specs from llvm-readobj output. raw may
// be the tool's full output; the embedded YAML document is located by its
// `---`/`...` markers (falling back to the whole input). kernel selects one
// kernel by name; empty selects the first kernel that has explicit
// arguments.
func ParseMetadata(raw []byte, kernel string) (KernelArgSpec, error) {
	doc := extractYAMLDocument(raw)
	var md metadata
	if err := yaml.Unmarshal(doc, &md); err != nil {
		return KernelArgSpec{}, fmt.Errorf("parse code-object metadata: %w", err)
	}
	if len(md.Kernels) == 0 {
		return KernelArgSpec{}, fmt.Errorf("no kernels in code-object metadata")
	}
	for _, k := range md.Kernels {
		if kernel != "" && k.Name != kernel {
			continue
		}
		spec := KernelArgSpec{Kernel: k.Name}
		for _, a := range k.Args {
			switch a.ValueKind {
			case KindGlobalBuffer, KindByValue, KindValue:
				addr := a.AddressSpace
				if addr == "" {
					addr = "none"
				}
				spec.Args = append(spec.Args, Arg{Kind: a.ValueKind, Size: a.Size, AddrSpace: addr})
			default:
				return KernelArgSpec{}, &UnsupportedError{Kernel: k.Name, Kind: a.ValueKind}
			}
		}
		if kernel == "" && len(spec.Args) == 0 {
			continue
		}
		return spec, nil
	}
	if kernel != "" {
		return KernelArgSpec{}, fmt.Errorf("kernel %q not found in metadata", kernel)
	}
	return KernelArgSpec{}, fmt.Errorf("no kernel with explicit arguments in metadata")
}

// extractYAMLDocument cuts the `---` ... `...` document out of readobj
// output, dropping the common indentation readobj adds. Input without
// markers is returned as-is.
func extractYAMLDocument(raw []byte) []byte {
	lines := strings.Split(string(raw), "\n")
	start, end := -1, len(lines)
	for i, l := range lines {
		t := strings.TrimSpace(l)
		if start < 0 && t == "---" {
			start = i
			continue
		}
		if start >= 0 && t == "..." {
			end = i
			break
		}
	}
	if start < 0 {
		return raw
	}
	body := lines[start+1 : end]
	indent := -1
	for _, l := range body {
		if strings.TrimSpace(l) == "" {
			continue
		}
		n := len(l) - len(strings.TrimLeft(l, " "))
		if indent < 0 || n < indent {
			indent = n
		}
	}
	if indent > 0 {
		for i, l := range body {
			if len(l) >= indent {
				body[i] = l[indent:]
			}
		}
	}
	return []byte(strings.Join(body, "\n"))
}

// Format renders the line-oriented arg-spec file consumed by the
// differential runner: one `kernel <name>` line, then one
// `arg <kind> <size> <address-space>` line per argument in declaration
// order.
func (s KernelArgSpec) Format() string {
	var b strings.Builder
	fmt.Fprintf(&b, "kernel %s\n", s.Kernel)
	for _, a := range s.Args {
		fmt.Fprintf(&b, "arg %s %d %s\n", a.Kind, a.Size, a.AddrSpace)
	}
	return b.String()
}

// WriteFile persists the spec in the line format.
func (s KernelArgSpec) WriteFile(path string) error {
	return os.WriteFile(path, []byte(s.Format()), 0o644)
}

// ParseSpec reads the line format back.
func ParseSpec(r io.Reader) (KernelArgSpec, error) {
	var spec KernelArgSpec
	sc := bufio.NewScanner(r)
	lineno := 0
	for sc.Scan() {
		lineno++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
			continue
		}
		switch fields[0] {
		case "kernel":
			if len(fields) != 2 {
				return spec, fmt.Errorf("line %d: malformed kernel line", lineno)
			}
			spec.Kernel = fields[1]
		case "arg":
			if len(fields) != 4 {
				return spec, fmt.Errorf("line %d: malformed arg line", lineno)
			}
			size, err := strconv.Atoi(fields[2])
			if err != nil || size < 0 {
				return spec, fmt.Errorf("line %d: bad arg size %q", lineno, fields[2])
			}
			spec.Args = append(spec.Args, Arg{Kind: fields[1], Size: size, AddrSpace: fields[3]})
		default:
			return spec, fmt.Errorf("line %d: unknown tag %q", lineno, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return spec, err
	}
	if spec.Kernel == "" {
		return spec, fmt.Errorf("arg spec has no kernel line")
	}
	return spec, nil
}

// LoadSpec reads an arg-spec file.
func LoadSpec(path string) (KernelArgSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return KernelArgSpec{}, err
	}
	defer f.Close()
	return ParseSpec(f)
}
