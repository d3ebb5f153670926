package et

import (
	"fmt"
	"strconv"
	"strings"
)

// Shape is an ordered sequence of dimension sizes, interpreted row-major.
type Shape []int64

// NewShape creates a new shape from dimensions.
func NewShape(dims ...int64) Shape {
	return cloneShape(Shape(dims))
}

// Rank returns the number of dimensions.
func (s Shape) Rank() int {
	return len(s)
}

// Equal reports whether two shapes have the same dimensions.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

func cloneShape(shape Shape) Shape {
	if len(shape) == 0 {
		// Keep scalar tensors as non-nil empty shape (rank 0), not nil.
		return Shape{}
	}

	shapeCopy := make(Shape, len(shape))
	copy(shapeCopy, shape)
	return shapeCopy
}

// ShapeElementCount returns the total element count for a shape.
// Dimensions must be non-negative; zero dimensions produce a count of zero and
// the empty shape counts as a single element.
func ShapeElementCount(shape Shape) (int, error) {
	maxInt := int(^uint(0) >> 1)

	count := 1
	for i, dim := range shape {
		if dim < 0 {
			return 0, invalidArgument("invalid shape dimension at index %d: %d (must be >= 0)", i, dim)
		}

		if dim == 0 {
			count = 0
			continue
		}

		if count == 0 {
			continue
		}

		if dim > int64(maxInt) {
			return 0, invalidArgument("shape dimension at index %d is too large: %d", i, dim)
		}

		dimInt := int(dim)
		if count > maxInt/dimInt {
			return 0, invalidArgument("shape %v exceeds maximum supported element count", shape)
		}

		count *= dimInt
	}

	return count, nil
}

// strides returns row-major element strides: the last axis varies fastest.
// It is the one stride primitive used by slicing, concatenation and element access.
func (s Shape) strides() []int {
	strides := make([]int, len(s))
	stride := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= int(s[i])
	}
	return strides
}

// flatOffset folds a position into a flat element offset, checking every coordinate
// against its axis.
func (s Shape) flatOffset(position []int64) (int, error) {
	if len(position) != len(s) {
		return 0, invalidArgument("position rank %d does not match tensor rank %d", len(position), len(s))
	}
	strides := s.strides()
	offset := 0
	for i, p := range position {
		if p < 0 || p >= s[i] {
			return 0, invalidArgument("position %v is out of bounds for shape %v at axis %d", position, s, i)
		}
		offset += int(p) * strides[i]
	}
	return offset, nil
}

// ParseShape parses a comma-separated shape string (for example: "1,384").
// An empty string parses to the scalar shape.
func ParseShape(raw string) (Shape, error) {
	if strings.TrimSpace(raw) == "" {
		return Shape{}, nil
	}

	parts := strings.Split(raw, ",")
	shape := make(Shape, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			return nil, fmt.Errorf("empty dimension")
		}

		dim, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse dimension %q: %w", part, err)
		}
		if dim < 0 {
			return nil, fmt.Errorf("negative dimension %d", dim)
		}
		shape = append(shape, dim)
	}

	return shape, nil
}
