package gpuhub

import "fmt"

// RangeKind says how much of a buffer a BufferRange covers.
type RangeKind uint8

const (
	// RangeBounded ranges have an exact size.
	RangeBounded RangeKind = iota
	// RangeToEnd ranges run to the end of the buffer; the size is computed
	// when the range is resolved against a buffer.
	RangeToEnd
	// RangeUnknown ranges may or may not know their size.
	RangeUnknown
)

// String returns the kind name.
func (k RangeKind) String() string {
	switch k {
	case RangeBounded:
		return "Bounded"
	case RangeToEnd:
		return "ToEnd"
	case RangeUnknown:
		return "Unknown"
	default:
		return fmt.Sprintf("RangeKind(%d)", uint8(k))
	}
}

// BufferRange is an offset and optional size inside a buffer. Sub-ranges
// are checked against their parent when they are built, and against the
// buffer when resolved.
type BufferRange struct {
	Offset uint64
	Kind   RangeKind
	// Size is the range size for RangeBounded, and for RangeUnknown when
	// Known is set.
	Size  uint64
	Known bool
}

// Whole returns the range covering an entire buffer.
func Whole() BufferRange { return BufferRange{Kind: RangeToEnd} }

// Bounded returns the range [offset, offset+size).
func Bounded(offset, size uint64) BufferRange {
	return BufferRange{Offset: offset, Kind: RangeBounded, Size: size}
}

// FromOffset returns the range from offset to the end of the buffer.
func FromOffset(offset uint64) BufferRange {
	return BufferRange{Offset: offset, Kind: RangeToEnd}
}

// Unknown returns a range whose size is only meaningful when known is true.
func Unknown(offset, size uint64, known bool) BufferRange {
	if !known {
		size = 0
	}
	return BufferRange{Offset: offset, Kind: RangeUnknown, Size: size, Known: known}
}

// knownSize reports the size of r when it is fixed.
func (r BufferRange) knownSize() (uint64, bool) {
	switch r.Kind {
	case RangeBounded:
		return r.Size, true
	case RangeUnknown:
		return r.Size, r.Known
	default:
		return 0, false
	}
}

// Sub narrows r to sub, whose offset is relative to subOffset inside r.
// The result starts at r.Offset+subOffset+sub.Offset and must end inside r
// whenever r's size is known.
func (r BufferRange) Sub(subOffset uint64, sub BufferRange) (BufferRange, error) {
	rel := subOffset + sub.Offset
	if rel < subOffset {
		return BufferRange{}, fmt.Errorf("sub range offset overflows: %w", ErrRangeOutOfBounds)
	}
	offset := r.Offset + rel
	if offset < r.Offset {
		return BufferRange{}, fmt.Errorf("sub range offset overflows: %w", ErrRangeOutOfBounds)
	}

	parentSize, parentKnown := r.knownSize()
	subSize, subKnown := sub.knownSize()

	if parentKnown {
		if rel > parentSize {
			return BufferRange{}, fmt.Errorf("sub range offset %d past parent size %d: %w", rel, parentSize, ErrRangeOutOfBounds)
		}
		if subKnown && subSize > parentSize-rel {
			return BufferRange{}, fmt.Errorf("sub range [%d,%d) exceeds parent size %d: %w",
				rel, rel+subSize, parentSize, ErrRangeOutOfBounds)
		}
		if !subKnown {
			subSize, subKnown = parentSize-rel, true
		}
	}

	switch {
	case r.Kind == RangeUnknown || sub.Kind == RangeUnknown:
		return Unknown(offset, subSize, subKnown), nil
	case subKnown:
		return Bounded(offset, subSize), nil
	default:
		return FromOffset(offset), nil
	}
}

// Resolve returns the absolute offset and size of r inside a buffer of
// bufferSize bytes.
func (r BufferRange) Resolve(bufferSize uint64) (offset, size uint64, err error) {
	if r.Offset > bufferSize {
		return 0, 0, fmt.Errorf("range offset %d past buffer size %d: %w", r.Offset, bufferSize, ErrRangeOutOfBounds)
	}
	size, known := r.knownSize()
	if !known {
		return r.Offset, bufferSize - r.Offset, nil
	}
	if size > bufferSize-r.Offset {
		return 0, 0, fmt.Errorf("range [%d,%d) exceeds buffer size %d: %w",
			r.Offset, r.Offset+size, bufferSize, ErrRangeOutOfBounds)
	}
	return r.Offset, size, nil
}

// String returns a debug representation such as "[4,+8)" or "[4,..)".
func (r BufferRange) String() string {
	if size, ok := r.knownSize(); ok {
		return fmt.Sprintf("[%d,+%d)", r.Offset, size)
	}
	return fmt.Sprintf("[%d,..)", r.Offset)
}
