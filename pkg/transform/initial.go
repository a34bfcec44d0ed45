package transform

// Kind classifies an externally supplied initial transformation.
type Kind int

const (
	KindOther Kind = iota
	KindLinear
	KindComposite
)

func (k Kind) String() string {
	switch k {
	case KindLinear:
		return "linear"
	case KindComposite:
		return "composite"
	default:
		return "other"
	}
}

// Initial is an initial transformation reduced to one of three cases:
// LinearInitial, CompositeInitial or OtherInitial.
type Initial interface {
	Kind() Kind
}

// LinearInitial is a pure affine transformation.
type LinearInitial struct {
	Matrix Matrix
}

// CompositeInitial is a linear component followed by grid stages.
type CompositeInitial struct {
	Matrix Matrix
	Combo  *Combo
}

// OtherInitial carries nothing usable.
type OtherInitial struct{}

func (LinearInitial) Kind() Kind    { return KindLinear }
func (CompositeInitial) Kind() Kind { return KindComposite }
func (OtherInitial) Kind() Kind     { return KindOther }

// Classify reduces a transformation to its Initial case. A nil transformation and any
// type without a linear or composite reading are OtherInitial.
func Classify(t Transformation) Initial {
	switch v := t.(type) {
	case Matrix:
		return LinearInitial{Matrix: v}
	case *Matrix:
		if v == nil {
			return OtherInitial{}
		}
		return LinearInitial{Matrix: *v}
	case *Combo:
		if v == nil {
			return OtherInitial{}
		}
		if v.Classify() == KindLinear {
			return LinearInitial{Matrix: v.GetInitialTransformation()}
		}
		return CompositeInitial{Matrix: v.GetInitialTransformation(), Combo: v}
	default:
		return OtherInitial{}
	}
}
