package backends

// OpType is an enum of all operations a computation graph node can hold.
//
// The graph only holds the operations convolution lowering reads or creates.
type OpType int

//go:generate go tool enumer -type=OpType -trimprefix=OpType -transform=snake -output=gen_optype_enumer.go optype.go

const (
	OpTypeInvalid OpType = iota
	OpTypeParameter
	OpTypeConstant
	OpTypePad
	OpTypeConvolution
)
