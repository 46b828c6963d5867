package backends

import (
	"fmt"
	"maps"

	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities holds mappings of what is supported by a target.
type Capabilities struct {
	// Operations supported by a target.
	// If not listed, it's assumed to be false, hence not supported.
	Operations map[OpType]bool

	// DTypes list the data types supported by a target.
	// If not listed, it's assumed to be false, hence not supported.
	DTypes map[dtypes.DType]bool

	// Convolution describes the padding and dilation configurations the target's convolution
	// primitive executes directly.
	Convolution ConvolutionEnvelope
}

// Clone makes a deep copy of the Capabilities.
func (c Capabilities) Clone() Capabilities {
	var c2 Capabilities
	c2.Operations = make(map[OpType]bool, len(c.Operations))
	maps.Copy(c2.Operations, c.Operations)
	c2.DTypes = make(map[dtypes.DType]bool, len(c.DTypes))
	maps.Copy(c2.DTypes, c.DTypes)
	c2.Convolution = c.Convolution
	return c2
}

// ConvolutionEnvelope is the restricted padding model of a fixed-signature convolution primitive.
//
// A window dimension is canonical (directly executable by the primitive) when its paddings are
// non-negative and at most MaxPadding, equal on both sides if SymmetricPadding is set, and its base
// dilation is 1 unless AllowBaseDilation is set.
type ConvolutionEnvelope struct {
	// MaxPadding is the largest padding (on either side) the primitive accepts. Negative means unbounded.
	MaxPadding int

	// SymmetricPadding requires low and high paddings to be equal.
	SymmetricPadding bool

	// AllowBaseDilation indicates the primitive can dilate its input.
	AllowBaseDilation bool

	// MaxWindowDilation is the largest window dilation the primitive accepts. Negative means unbounded.
	// There is no way of materializing window dilation with a Pad, so configurations above it are unsupported.
	MaxWindowDilation int
}

// DefaultConvolutionEnvelope accepts any non-negative, possibly asymmetric, padding and base dilation.
func DefaultConvolutionEnvelope() ConvolutionEnvelope {
	return ConvolutionEnvelope{
		MaxPadding:        -1,
		AllowBaseDilation: true,
		MaxWindowDilation: -1,
	}
}

// CuDNNConvolutionEnvelope models cuDNN-like primitives: only symmetric non-negative padding and no base dilation.
func CuDNNConvolutionEnvelope() ConvolutionEnvelope {
	return ConvolutionEnvelope{
		MaxPadding:        -1,
		SymmetricPadding:  true,
		AllowBaseDilation: false,
		MaxWindowDilation: -1,
	}
}

// PaddingFits returns whether a single padding amount is representable by the primitive.
func (e ConvolutionEnvelope) PaddingFits(padding int) bool {
	return padding >= 0 && (e.MaxPadding < 0 || padding <= e.MaxPadding)
}

// IsCanonical returns whether the window dimension (as executed by the primitive) is directly representable.
func (e ConvolutionEnvelope) IsCanonical(wd WindowDimension) bool {
	if !e.PaddingFits(wd.PaddingLow) || !e.PaddingFits(wd.PaddingHigh) {
		return false
	}
	if e.SymmetricPadding && wd.PaddingLow != wd.PaddingHigh {
		return false
	}
	if wd.BaseDilation > 1 && !e.AllowBaseDilation {
		return false
	}
	return true
}

// WindowDilationFits returns whether the window dilation is supported.
func (e ConvolutionEnvelope) WindowDilationFits(dilation int) bool {
	return e.MaxWindowDilation < 0 || dilation <= e.MaxWindowDilation
}

// String implements fmt.Stringer.
func (e ConvolutionEnvelope) String() string {
	bound := func(v int) string {
		if v < 0 {
			return "unbounded"
		}
		return fmt.Sprintf("%d", v)
	}
	return fmt.Sprintf("ConvolutionEnvelope{max_padding=%s, symmetric=%t, base_dilation=%t, max_window_dilation=%s}",
		bound(e.MaxPadding), e.SymmetricPadding, e.AllowBaseDilation, bound(e.MaxWindowDilation))
}
