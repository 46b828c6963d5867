// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// convlower reads a module in the graph text format, canonicalizes its convolutions for a convolution
// primitive and prints the rewritten module, followed by a report of the rewritten convolutions.
//
// Usage:
//
//	convlower [flags] [file]
//
// The module is read from stdin if no file is given. With -emit, the lowered IR of the computations is
// printed as well.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/fatih/color"
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/convlower/codegen/convemit"
	"github.com/gomlx/convlower/codegen/kernelsupport"
	"github.com/gomlx/convlower/codegen/lir"
	"github.com/gomlx/convlower/graph"
	"github.com/gomlx/convlower/graph/graphtext"
	"github.com/gomlx/convlower/passes"
	"github.com/gomlx/convlower/passes/padinsertion"
	"github.com/gomlx/convlower/passes/trivialpad"
	"github.com/muesli/termenv"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	flagEnvelope = flag.String("envelope", "default",
		"Convolution primitive to canonicalize for: \"default\" accepts any non-negative padding and base dilation, "+
			"\"cudnn\" only symmetric padding and no base dilation.")
	flagMaxPadding = flag.Int("max_padding", -1,
		"Largest padding the convolution primitive accepts on each side. Negative means unbounded.")
	flagMaxIterations = flag.Int("max_iterations", passes.DefaultMaxIterations,
		"Maximum number of runs of the passes pipeline to reach a fixpoint.")
	flagParallel = flag.Bool("parallel", false, "Canonicalize the computations of the module concurrently.")
	flagEmit     = flag.Bool("emit", false, "Also print the lowered IR of the computations.")
	flagFastMath = flag.Bool("fast_math", false, "With -emit, mark the outlined kernels with fast-math.")
	flagColor    = flag.String("color", "auto", "Colored output: \"auto\", \"always\" or \"never\".")
	flagReport   = flag.Bool("report", true, "Print the table of rewritten convolutions after the module.")
)

// config holds the parsed flags.
type config struct {
	envelope      backends.ConvolutionEnvelope
	maxIterations int
	parallel      bool
	emit          bool
	fastMath      bool
	report        bool
}

// envelopeFromFlags returns the convolution envelope selected by name, with the given MaxPadding.
func envelopeFromFlags(name string, maxPadding int) (backends.ConvolutionEnvelope, error) {
	var envelope backends.ConvolutionEnvelope
	switch name {
	case "default":
		envelope = backends.DefaultConvolutionEnvelope()
	case "cudnn":
		envelope = backends.CuDNNConvolutionEnvelope()
	default:
		return envelope, errors.Errorf("unknown -envelope=%q, valid values are \"default\" and \"cudnn\"", name)
	}
	envelope.MaxPadding = maxPadding
	return envelope, nil
}

// setColorMode configures the colors of lipgloss and of the error reports.
func setColorMode(mode string) error {
	switch mode {
	case "auto":
		lipgloss.SetColorProfile(termenv.NewOutput(os.Stdout).EnvColorProfile())
	case "always":
		lipgloss.SetColorProfile(termenv.TrueColor)
		color.NoColor = false
	case "never":
		lipgloss.SetColorProfile(termenv.Ascii)
		color.NoColor = true
	default:
		return errors.Errorf("unknown -color=%q, valid values are \"auto\", \"always\" and \"never\"", mode)
	}
	return nil
}

func main() {
	klog.InitFlags(nil)
	flag.Usage = func() {
		_, _ = fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags] [file]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if err := setColorMode(*flagColor); err != nil {
		klog.Exitf("%+v", err)
	}
	envelope, err := envelopeFromFlags(*flagEnvelope, *flagMaxPadding)
	if err != nil {
		klog.Exitf("%+v", err)
	}
	cfg := config{
		envelope:      envelope,
		maxIterations: *flagMaxIterations,
		parallel:      *flagParallel,
		emit:          *flagEmit,
		fastMath:      *flagFastMath,
		report:        *flagReport,
	}

	filename, text, err := readInput(flag.Args())
	if err != nil {
		klog.Exitf("%+v", err)
	}
	if err := run(cfg, filename, text, os.Stdout); err != nil {
		_, _ = fmt.Fprint(os.Stderr, formatError(filename, text, err))
		os.Exit(1)
	}
}

// readInput reads the module from the file given in args, or from stdin.
func readInput(args []string) (filename, text string, err error) {
	switch len(args) {
	case 0:
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", "", errors.Wrap(err, "reading module from stdin")
		}
		return "<stdin>", string(data), nil
	case 1:
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", errors.Wrapf(err, "reading module from %q", args[0])
		}
		return args[0], string(data), nil
	default:
		return "", "", errors.Errorf("too many arguments %q: at most one file can be given, see 'convlower -help'", args)
	}
}

// run parses the module, canonicalizes it and writes the results to w.
func run(cfg config, filename, text string, w io.Writer) error {
	module, err := graphtext.ParseNamed(filename, text)
	if err != nil {
		return err
	}
	stats := moduleStats{nodesBefore: module.NumNodes()}

	padInsertion := padinsertion.New(
		padinsertion.WithEnvelope(cfg.envelope),
		padinsertion.WithParallelComputations(cfg.parallel))
	pipeline := passes.NewPipeline(padInsertion, trivialpad.New()).WithMaxIterations(cfg.maxIterations)
	changed, err := pipeline.Run(module)
	if err != nil {
		return err
	}
	stats.nodesAfter = module.NumNodes()
	klog.V(1).Infof("convlower: module %q changed=%v", module.Name(), changed)

	_, _ = fmt.Fprint(w, module.String())
	if cfg.report {
		_, _ = fmt.Fprintln(w, reportRewrites(cfg.envelope, padInsertion.Rewrites(), stats))
	}
	if cfg.emit {
		return emit(cfg, module, w)
	}
	return nil
}

// emit lowers the computations of the module and writes the lowered IR to w. Computations that can't be
// lowered are skipped with a warning.
func emit(cfg config, module *graph.Module, w io.Writer) error {
	lowered := lir.NewModule(module.Name())
	opts := convemit.Options{
		Kernel:   kernelsupport.KernelOptions{EnableFastMath: cfg.fastMath},
		Envelope: &cfg.envelope,
	}
	for _, comp := range module.Computations() {
		if comp.Root() == nil {
			klog.Warningf("computation %q has no root, not lowered", comp.Name())
			continue
		}
		_, err := convemit.EmitComputation(lowered, comp, opts)
		if errors.Is(err, convemit.ErrUnimplemented) {
			klog.Warningf("computation %q not lowered: %v", comp.Name(), err)
			continue
		}
		if err != nil {
			return err
		}
	}
	if err := lowered.Verify(); err != nil {
		return errors.WithMessage(err, "lowered module is invalid")
	}
	_, _ = fmt.Fprint(w, "\n"+lowered.Format())
	return nil
}
