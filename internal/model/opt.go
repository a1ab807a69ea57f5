package model

// optState tracks whether a patch field was left alone, set, or cleared.
type optState uint8

const (
	optUnspecified optState = iota
	optSet
	optCleared
)

// Opt is a single field of a partial update. The zero value means "not
// specified" and leaves the stored value untouched. Clear means "set to empty"
// (NULL in Postgres, nil in memory), which is distinct from not specifying it.
type Opt[T any] struct {
	state optState
	value T
}

// Set returns an Opt that writes v.
func Set[T any](v T) Opt[T] {
	return Opt[T]{state: optSet, value: v}
}

// Clear returns an Opt that empties the field.
func Clear[T any]() Opt[T] {
	return Opt[T]{state: optCleared}
}

// SetPtr returns Set(*v) for a non-nil pointer and Clear otherwise.
func SetPtr[T any](v *T) Opt[T] {
	if v == nil {
		return Clear[T]()
	}
	return Set(*v)
}

// Specified reports whether the patch touches this field at all.
func (o Opt[T]) Specified() bool { return o.state != optUnspecified }

// IsClear reports whether the patch empties this field.
func (o Opt[T]) IsClear() bool { return o.state == optCleared }

// Get returns the value and true when the patch sets a value.
func (o Opt[T]) Get() (T, bool) {
	return o.value, o.state == optSet
}

// Ptr returns a pointer to the new value, nil when cleared or unspecified.
func (o Opt[T]) Ptr() *T {
	if o.state != optSet {
		return nil
	}
	v := o.value
	return &v
}

// applyPtr writes the patch into an optional field.
func (o Opt[T]) applyPtr(dst **T) {
	switch o.state {
	case optSet:
		v := o.value
		*dst = &v
	case optCleared:
		*dst = nil
	}
}

// applyVal writes the patch into a required field. Clearing a required field
// resets it to the zero value.
func (o Opt[T]) applyVal(dst *T) {
	switch o.state {
	case optSet:
		*dst = o.value
	case optCleared:
		var zero T
		*dst = zero
	}
}
