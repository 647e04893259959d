package storage

import "fmt"

// Region is a fixed window of a DurableStore. Offsets passed to its methods
// are relative to the start of the window.
type Region struct {
	store  DurableStore
	offset int64
	size   int64
}

// NewRegion returns the window [offset, offset+size) of store
func NewRegion(store DurableStore, offset, size int64) (*Region, error) {
	if offset < 0 || size < 0 || offset+size > store.Size() {
		return nil, fmt.Errorf("region [%d, %d) exceeds store of %d bytes: %w",
			offset, offset+size, store.Size(), ErrOutOfBounds)
	}
	return &Region{store: store, offset: offset, size: size}, nil
}

// Layout carves consecutive regions of the given sizes out of store, starting
// at offset zero.
func Layout(store DurableStore, sizes ...int64) ([]*Region, error) {
	regions := make([]*Region, 0, len(sizes))
	var off int64
	for _, size := range sizes {
		r, err := NewRegion(store, off, size)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
		off += size
	}
	return regions, nil
}

// Size returns the length of the region
func (r *Region) Size() int64 {
	return r.size
}

// ReadAt fills p from the region
func (r *Region) ReadAt(p []byte, off int64) error {
	if err := checkBounds(r.size, len(p), off); err != nil {
		return err
	}
	return r.store.ReadAt(p, r.offset+off)
}

// WriteAt writes p into the region
func (r *Region) WriteAt(p []byte, off int64) error {
	if err := checkBounds(r.size, len(p), off); err != nil {
		return err
	}
	return r.store.WriteAt(p, r.offset+off)
}

// Zero clears length bytes starting at off with a single write
func (r *Region) Zero(off, length int64) error {
	if length == 0 {
		return nil
	}
	if length < 0 {
		return ErrOutOfBounds
	}
	return r.WriteAt(make([]byte, length), off)
}
