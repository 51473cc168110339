package runner

import (
	"fmt"
	"runtime"
	"slices"
	"strings"

	"github.com/klauspost/cpuid/v2"
)

// Accelerator is a compute backend a runner can be placed on.
type Accelerator string

const (
	// Auto lets the embedder pick the best available accelerator.
	Auto   Accelerator = "auto"
	CPU    Accelerator = "cpu"
	GPU    Accelerator = "gpu"
	Neural Accelerator = "neural"
)

// ParseAccelerator converts a config string into an Accelerator.
func ParseAccelerator(s string) (Accelerator, error) {
	switch a := Accelerator(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return Auto, nil
	case Auto, CPU, GPU, Neural:
		return a, nil
	default:
		return "", fmt.Errorf("unknown accelerator %q (want auto, cpu, gpu or neural)", s)
	}
}

// Hardware describes the compute available to a provider.
type Hardware struct {
	// Accelerators in preference order, best first. CPU is always last.
	Accelerators []Accelerator
	OS           string
	Arch         string
	CPUBrand     string
	Cores        int
	// Features lists CPU SIMD features relevant to inference.
	Features []string
}

// Supports reports whether a is usable.
func (h Hardware) Supports(a Accelerator) bool {
	return slices.Contains(h.Accelerators, a)
}

// Best returns the preferred accelerator.
func (h Hardware) Best() Accelerator {
	if len(h.Accelerators) == 0 {
		return CPU
	}
	return h.Accelerators[0]
}

// CPUOnly returns a copy of h restricted to the CPU.
func (h Hardware) CPUOnly() Hardware {
	h.Accelerators = []Accelerator{CPU}
	return h
}

func (h Hardware) String() string {
	accels := make([]string, len(h.Accelerators))
	for i, a := range h.Accelerators {
		accels[i] = string(a)
	}
	return fmt.Sprintf("%s/%s %s (%d cores) accel=[%s] features=[%s]",
		h.OS, h.Arch, h.CPUBrand, h.Cores, strings.Join(accels, ","), strings.Join(h.Features, ","))
}

var simdFeatures = []struct {
	id   cpuid.FeatureID
	name string
}{
	{cpuid.SSE4, "sse4.1"},
	{cpuid.AVX, "avx"},
	{cpuid.AVX2, "avx2"},
	{cpuid.FMA3, "fma3"},
	{cpuid.F16C, "f16c"},
	{cpuid.AVX512F, "avx512f"},
	{cpuid.AVXVNNI, "avxvnni"},
	{cpuid.ASIMD, "asimd"},
	{cpuid.ASIMDHP, "asimdhp"},
}

// DetectHardware inspects the host CPU. Apple Silicon is reported with GPU
// (Metal) and Neural (ANE) accelerators in addition to the CPU.
func DetectHardware() Hardware {
	h := Hardware{
		OS:       runtime.GOOS,
		Arch:     runtime.GOARCH,
		CPUBrand: cpuid.CPU.BrandName,
		Cores:    cpuid.CPU.PhysicalCores,
	}
	if h.Cores == 0 {
		h.Cores = runtime.NumCPU()
	}
	for _, f := range simdFeatures {
		if cpuid.CPU.Has(f.id) {
			h.Features = append(h.Features, f.name)
		}
	}
	if h.OS == "darwin" && h.Arch == "arm64" {
		h.Accelerators = append(h.Accelerators, GPU, Neural)
	}
	h.Accelerators = append(h.Accelerators, CPU)
	return h
}
