package binding

import "github.com/amikos-tech/pure-executorch/et"

// ParseSlices converts host slice arguments into ranges, one entry per axis:
//
//	nil            the whole axis
//	n              the single index n, keeping the axis
//	[start, end]   either bound may be nil or omitted
//
// Axes past the end of the list are taken whole.
func ParseSlices(slices any) ([]et.Range, error) {
	if slices == nil {
		return nil, nil
	}
	entries, ok := slices.([]any)
	if !ok {
		return nil, hostError(et.ErrorCodeInvalidArgument, "slices must be an array, got %T", slices)
	}

	ranges := make([]et.Range, len(entries))
	for axis, entry := range entries {
		switch e := entry.(type) {
		case nil:
			ranges[axis] = et.Full()
		case []any:
			if len(e) > 2 {
				return nil, hostError(et.ErrorCodeInvalidArgument, "slice for axis %d has %d bounds, expected at most 2", axis, len(e))
			}
			var r et.Range
			for i, bound := range e {
				if bound == nil {
					continue
				}
				n, ok := hostInt(bound)
				if !ok {
					return nil, hostError(et.ErrorCodeInvalidArgument, "slice bound %d for axis %d is not an integer: %v", i, axis, bound)
				}
				if i == 0 {
					r.Start = &n
				} else {
					r.End = &n
				}
			}
			ranges[axis] = r
		default:
			n, ok := hostInt(entry)
			if !ok {
				return nil, hostError(et.ErrorCodeInvalidArgument, "slice for axis %d must be null, an integer or a [start, end] pair, got %T", axis, entry)
			}
			ranges[axis] = et.Index(n)
		}
	}
	return ranges, nil
}
