// Package manifest provides loading and validation of reaction batch
// manifests.
//
// A batch manifest is a YAML file that configures one pipeline run: the
// input reaction folder, scratch root, worker pool size, calculator
// selection, and the per-stage parameter blocks.
//
// Example manifest:
//
//	reactbench_path: /opt/reactbench
//	inp_path: ./reactions
//	scratch: ./scratch
//	nprocs: 4
//	charge: 0
//	multiplicity: 1
//	calc: leftnet
//	device: cpu
//	gsm:
//	  num_nodes: 9
//	  max_gsm_iters: 100
//	  max_opt_steps: 3
//	  add_node_tol: 0.1
//	  conv_tol: 0.0005
//	refine:
//	  select: tight
//	  tsopt_path: /usr/local/bin/pysis-tsopt
//	  irc_path: /usr/local/bin/pysis-irc
//
// Unrecognized keys are ignored for forward compatibility; missing
// optional keys fall back to the documented defaults.
package manifest

import (
	"fmt"

	"github.com/deepprinciple/reactbench/pkg/calculator"
)

// Manifest is a validated batch manifest.
type Manifest struct {
	// ReactBenchPath is the installation root, exported to stage
	// subprocesses as REACTBENCH_PATH. Optional.
	ReactBenchPath string `yaml:"reactbench_path"`

	// InpPath is the folder of per-reaction geometry files. Required.
	InpPath string `yaml:"inp_path"`

	// Scratch is the output/working root. Default: ./scratch.
	Scratch string `yaml:"scratch"`

	// NProcs is the worker-pool size. Default: 1.
	NProcs int `yaml:"nprocs"`

	// Charge and Multiplicity are batch-wide defaults, overridable per
	// reaction.
	Charge       int `yaml:"charge"`
	Multiplicity int `yaml:"multiplicity"`

	// Calc selects the calculator backend. Required; must name a
	// registered backend.
	Calc string `yaml:"calc"`

	// Device is "cpu" (default) or an accelerator id such as "cuda:0".
	Device string `yaml:"device"`

	// CheckpointRef is the model weights reference for neural backends.
	CheckpointRef string `yaml:"checkpoint_ref"`

	// RunnerPath is the external evaluator executable for neural
	// backends.
	RunnerPath string `yaml:"runner_path"`

	// CalcRateLimit caps calculator calls per second across the whole
	// pool. Zero means unlimited. Default: 0.
	CalcRateLimit float64 `yaml:"calc_rate_limit"`

	// GSM configures the path-growth stage.
	GSM GSMConfig `yaml:"gsm"`

	// Refine configures the refinement stage.
	Refine RefineConfig `yaml:"refine"`
}

// GSMConfig is the PathGrowth stage block.
type GSMConfig struct {
	// Restart resumes from an existing growth checkpoint when present.
	Restart bool `yaml:"gsm_restart"`

	// NumNodes is the path node cap. Default: 9.
	NumNodes int `yaml:"num_nodes"`

	// MaxIters is the maximum growth iterations. Default: 100.
	MaxIters int `yaml:"max_gsm_iters"`

	// MaxOptSteps bounds optimization steps per node per iteration.
	// Default: 3.
	MaxOptSteps int `yaml:"max_opt_steps"`

	// AddNodeTol governs node insertion. Default: 0.1.
	AddNodeTol float64 `yaml:"add_node_tol"`

	// ConvTol is the convergence tolerance on the path gradient norm.
	// Default: 0.0005.
	ConvTol float64 `yaml:"conv_tol"`

	// FixedR / FixedP hold the reactant/product endpoints fixed.
	FixedR bool `yaml:"fixed_R"`
	FixedP bool `yaml:"fixed_P"`

	// DMax is the maximum optimization step size. Default: 0.1.
	DMax float64 `yaml:"dmax"`

	// WallTime is the per-stage wall-clock budget in seconds.
	// Default: 3600.
	WallTime int `yaml:"gsm_wt"`
}

// RefineConfig is the Refinement stage block.
type RefineConfig struct {
	// Select is the result-selection strictness: "tight" accepts only
	// an unambiguous single energy peak, "loose" takes the highest of
	// several. Default: tight.
	Select string `yaml:"select"`

	// Restart resumes from an existing refinement checkpoint.
	Restart bool `yaml:"pysis_restart"`

	// TSOptPath and IRCPath are the two external stage executables.
	TSOptPath string `yaml:"tsopt_path"`
	IRCPath   string `yaml:"irc_path"`
}

// Default values for optional manifest fields.
const (
	DefaultScratch     = "./scratch"
	DefaultNProcs      = 1
	DefaultCharge      = 0
	DefaultMult        = 1
	DefaultDevice      = "cpu"
	DefaultNumNodes    = 9
	DefaultMaxIters    = 100
	DefaultMaxOptSteps = 3
	DefaultAddNodeTol  = 0.1
	DefaultConvTol     = 0.0005
	DefaultDMax        = 0.1
	DefaultWallTime    = 3600
	DefaultSelect      = "tight"
)

// ApplyDefaults fills unset optional fields with their defaults.
func (m *Manifest) ApplyDefaults() {
	if m.Scratch == "" {
		m.Scratch = DefaultScratch
	}
	if m.NProcs <= 0 {
		m.NProcs = DefaultNProcs
	}
	if m.Multiplicity <= 0 {
		m.Multiplicity = DefaultMult
	}
	if m.Device == "" {
		m.Device = DefaultDevice
	}
	if m.GSM.NumNodes <= 0 {
		m.GSM.NumNodes = DefaultNumNodes
	}
	if m.GSM.MaxIters <= 0 {
		m.GSM.MaxIters = DefaultMaxIters
	}
	if m.GSM.MaxOptSteps <= 0 {
		m.GSM.MaxOptSteps = DefaultMaxOptSteps
	}
	if m.GSM.AddNodeTol <= 0 {
		m.GSM.AddNodeTol = DefaultAddNodeTol
	}
	if m.GSM.ConvTol <= 0 {
		m.GSM.ConvTol = DefaultConvTol
	}
	if m.GSM.DMax <= 0 {
		m.GSM.DMax = DefaultDMax
	}
	if m.GSM.WallTime <= 0 {
		m.GSM.WallTime = DefaultWallTime
	}
	if m.Refine.Select == "" {
		m.Refine.Select = DefaultSelect
	}
}

// Validate checks manifest consistency. All violations are ConfigErrors
// and abort the batch before any job is scheduled.
func (m *Manifest) Validate() error {
	if m.InpPath == "" {
		return &ConfigError{Field: "inp_path", Err: fmt.Errorf("required")}
	}
	if m.Calc == "" {
		return &ConfigError{Field: "calc", Err: fmt.Errorf("required")}
	}
	if err := calculator.ValidateBackend(m.Calc); err != nil {
		return &ConfigError{Field: "calc", Err: err}
	}
	switch m.Refine.Select {
	case "tight", "loose":
	default:
		return &ConfigError{Field: "refine.select", Err: fmt.Errorf("must be tight or loose, got %q", m.Refine.Select)}
	}
	return nil
}

// CalculatorSpec builds the calculator spec configured by the manifest.
func (m *Manifest) CalculatorSpec() calculator.Spec {
	return calculator.Spec{
		Backend:       m.Calc,
		Device:        calculator.Device(m.Device).Normalize(),
		CheckpointRef: m.CheckpointRef,
		RunnerPath:    m.RunnerPath,
	}
}
