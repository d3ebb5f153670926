package et

// Range selects [Start, End) along one axis. A nil bound defaults to the start or
// the end of the axis. Negative bounds count from the end of the axis once
// (-1 is the last element); bounds that still fall outside [0, dim] are rejected.
type Range struct {
	Start *int64
	End   *int64
	index bool
}

// Full selects the whole axis.
func Full() Range { return Range{} }

// Span selects [start, end).
func Span(start, end int64) Range { return Range{Start: &start, End: &end} }

// From selects [start, dim).
func From(start int64) Range { return Range{Start: &start} }

// To selects [0, end).
func To(end int64) Range { return Range{End: &end} }

// Index selects the single element i, keeping the axis with size 1.
func Index(i int64) Range { return Range{Start: &i, index: true} }

func (r Range) resolve(axis int, dim int64) (int64, int64, error) {
	wrap := func(name string, v int64) (int64, error) {
		if v < 0 {
			v += dim
		}
		if v < 0 || v > dim {
			return 0, invalidArgument("slice %s out of range for axis %d of size %d", name, axis, dim)
		}
		return v, nil
	}

	start := int64(0)
	if r.Start != nil {
		s, err := wrap("start", *r.Start)
		if err != nil {
			return 0, 0, err
		}
		start = s
	}

	if r.index {
		if start >= dim {
			return 0, 0, invalidArgument("slice index %d out of range for axis %d of size %d", *r.Start, axis, dim)
		}
		return start, start + 1, nil
	}

	end := dim
	if r.End != nil {
		e, err := wrap("end", *r.End)
		if err != nil {
			return 0, 0, err
		}
		end = e
	}

	if start > end {
		return 0, 0, invalidArgument("slice start %d is after end %d on axis %d", start, end, axis)
	}
	return start, end, nil
}

// Reshape returns a copy of the tensor with a new shape holding the same number of elements.
func (t *Tensor) Reshape(shape Shape) (*Tensor, error) {
	if t == nil {
		return nil, invalidArgument("tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}

	newCount, err := ShapeElementCount(shape)
	if err != nil {
		return nil, err
	}
	oldCount := len(t.data) / t.dtype.ByteWidth()
	if newCount != oldCount {
		return nil, invalidArgument("new shape %v must have the same number of elements as %v (%d != %d)", []int64(shape), []int64(t.shape), newCount, oldCount)
	}

	return NewTensor(t.dtype, shape, t.data)
}

// Slice extracts a sub-tensor. ranges[i] applies to axis i; axes without a range
// are taken whole. The result is a new, contiguous tensor.
func (t *Tensor) Slice(ranges ...Range) (*Tensor, error) {
	if t == nil {
		return nil, invalidArgument("tensor is nil")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if err := t.checkAlive(); err != nil {
		return nil, err
	}

	rank := len(t.shape)
	if len(ranges) > rank {
		return nil, invalidArgument("got %d slice ranges for a tensor of rank %d", len(ranges), rank)
	}

	starts := make([]int64, rank)
	newShape := make(Shape, rank)
	for axis := 0; axis < rank; axis++ {
		r := Full()
		if axis < len(ranges) {
			r = ranges[axis]
		}
		start, end, err := r.resolve(axis, t.shape[axis])
		if err != nil {
			return nil, err
		}
		starts[axis] = start
		newShape[axis] = end - start
	}

	count, err := ShapeElementCount(newShape)
	if err != nil {
		return nil, err
	}
	elem := t.dtype.ByteWidth()
	out := make([]byte, count*elem)
	if count == 0 || rank == 0 {
		copy(out, t.data)
		return newTensorOwned(t.dtype, newShape, out), nil
	}

	// Copy one contiguous innermost run per output row.
	srcStrides := t.shape.strides()
	runLen := int(newShape[rank-1]) * elem
	rows := count / int(newShape[rank-1])
	pos := make([]int64, rank-1)
	for row := 0; row < rows; row++ {
		offset := int(starts[rank-1])
		for axis, p := range pos {
			offset += int(starts[axis]+p) * srcStrides[axis]
		}
		src := offset * elem
		copy(out[row*runLen:(row+1)*runLen], t.data[src:src+runLen])

		for axis := rank - 2; axis >= 0; axis-- {
			pos[axis]++
			if pos[axis] < newShape[axis] {
				break
			}
			pos[axis] = 0
		}
	}

	return newTensorOwned(t.dtype, newShape, out), nil
}

// Concat joins tensors along axis. All inputs must share dtype, rank and every
// dimension except axis; the output axis size is the sum of the inputs'.
func Concat(tensors []*Tensor, axis int) (*Tensor, error) {
	if len(tensors) == 0 {
		return nil, invalidArgument("expected non-empty array of tensors")
	}
	// Each input is copied under its own lock, one at a time, so no two input
	// locks are ever held together.
	inputs := make([]*Tensor, len(tensors))
	copies := make(map[*Tensor]*Tensor, len(tensors))
	for i, tensor := range tensors {
		if tensor == nil {
			return nil, invalidArgument("tensor at index %d is nil", i)
		}
		if c, ok := copies[tensor]; ok {
			inputs[i] = c
			continue
		}
		c, err := tensor.Clone()
		if err != nil {
			return nil, err
		}
		copies[tensor] = c
		inputs[i] = c
	}
	tensors = inputs

	first := tensors[0]
	dtype := first.dtype
	rank := len(first.shape)
	if axis < 0 || axis >= rank {
		return nil, invalidArgument("invalid axis %d for tensors of rank %d", axis, rank)
	}

	newShape := cloneShape(first.shape)
	for i, tensor := range tensors[1:] {
		if tensor.dtype != dtype {
			return nil, invalidArgument("tensor %d has dtype %s, expected %s", i+1, tensor.dtype, dtype)
		}
		if len(tensor.shape) != rank {
			return nil, invalidArgument("tensor %d has rank %d, expected %d", i+1, len(tensor.shape), rank)
		}
		for j := 0; j < rank; j++ {
			if j == axis {
				newShape[j] += tensor.shape[j]
			} else if tensor.shape[j] != first.shape[j] {
				return nil, invalidArgument("tensor %d has size %d at axis %d, expected %d", i+1, tensor.shape[j], j, first.shape[j])
			}
		}
	}

	count, err := ShapeElementCount(newShape)
	if err != nil {
		return nil, err
	}
	elem := dtype.ByteWidth()
	out := make([]byte, count*elem)

	outer := 1
	for _, dim := range first.shape[:axis] {
		outer *= int(dim)
	}
	chunks := make([]int, len(tensors))
	rowBytes := 0
	for i, tensor := range tensors {
		if outer > 0 {
			chunks[i] = len(tensor.data) / outer
		}
		rowBytes += chunks[i]
	}

	for o := 0; o < outer; o++ {
		dst := o * rowBytes
		for i, tensor := range tensors {
			chunk := chunks[i]
			copy(out[dst:dst+chunk], tensor.data[o*chunk:(o+1)*chunk])
			dst += chunk
		}
	}

	return newTensorOwned(dtype, newShape, out), nil
}
