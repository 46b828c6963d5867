// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package simplego

import (
	"github.com/gomlx/convlower/backends"
	"github.com/gomlx/gopjrt/dtypes"
)

// Capabilities of the SimpleGo evaluator: the set of supported operations and data types.
var Capabilities = backends.Capabilities{
	Operations: map[backends.OpType]bool{
		backends.OpTypeParameter:   true,
		backends.OpTypeConstant:    true,
		backends.OpTypePad:         true,
		backends.OpTypeConvolution: true,
	},

	DTypes: map[dtypes.DType]bool{
		dtypes.Int32:    true,
		dtypes.Int64:    true,
		dtypes.Float16:  true,
		dtypes.BFloat16: true,
		dtypes.Float32:  true,
		dtypes.Float64:  true,
	},

	// The evaluator executes any window directly.
	Convolution: backends.DefaultConvolutionEnvelope(),
}
