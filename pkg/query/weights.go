package query

// WeightOptions shape the effective segment weights.
type WeightOptions struct {
	// LengthFloor is the length factor of an empty message.
	LengthFloor float64
	// LengthFull is the rune count at which the length factor reaches 1.
	LengthFull int
	// FocusMin is the minimum share of the focus segment after
	// normalization.
	FocusMin float64
}

// DefaultWeightOptions returns 0.35 / 50 / 0.35.
func DefaultWeightOptions() WeightOptions {
	return WeightOptions{LengthFloor: 0.35, LengthFull: 50, FocusMin: 0.35}
}

// LengthFactor ramps linearly from o.LengthFloor at 0 runes to 1 at
// o.LengthFull runes and stays at 1 beyond.
func (o WeightOptions) LengthFactor(chars int) float64 {
	if chars <= 0 {
		return o.LengthFloor
	}
	if o.LengthFull <= 0 || chars >= o.LengthFull {
		return 1
	}
	return o.LengthFloor + (1-o.LengthFloor)*float64(chars)/float64(o.LengthFull)
}

// LengthFactor is [WeightOptions.LengthFactor] with default options.
func LengthFactor(chars int) float64 {
	return DefaultWeightOptions().LengthFactor(chars)
}

// ComputeSegmentWeights returns one weight per segment: base weight times
// length factor, normalized to sum to 1, with the segment at focus raised
// to at least o.FocusMin by scaling the others down proportionally.
// focus < 0 or out of range means no clamping.
func (o WeightOptions) ComputeSegmentWeights(segs []Segment, focus int) []float64 {
	n := len(segs)
	if n == 0 {
		return nil
	}
	w := make([]float64, n)
	sum := 0.0
	for i, s := range segs {
		w[i] = max(s.BaseWeight, 0) * o.LengthFactor(s.CharCount)
		sum += w[i]
	}
	if sum <= 0 {
		for i := range w {
			w[i] = 1 / float64(n)
		}
	} else {
		for i := range w {
			w[i] /= sum
		}
	}
	if focus < 0 || focus >= n || n == 1 || w[focus] >= o.FocusMin {
		return w
	}

	rest := 1 - w[focus]
	scale := (1 - o.FocusMin) / rest
	for i := range w {
		if i != focus {
			w[i] *= scale
		}
	}
	w[focus] = o.FocusMin
	return w
}
