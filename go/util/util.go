package util

import (
	"io"
	"os"
	"path/filepath"
	"reflect"

	"pixi.build/dispatcher/go/sklog"
)

// Close wraps the Close method of c, logging any error it returns. Intended
// for use in defer statements where an error from the corresponding Close
// would otherwise be silently dropped.
func Close(c io.Closer) {
	if err := c.Close(); err != nil {
		sklog.Errorf("Failed to close: %s", err)
	}
}

// IsNil returns true if the given interface is nil or contains a nil value,
// e.g. a nil *os.File stored in an io.Writer.
func IsNil(i interface{}) bool {
	if i == nil {
		return true
	}
	v := reflect.ValueOf(i)
	switch v.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Ptr, reflect.Slice:
		return v.IsNil()
	default:
		return false
	}
}

// WithWriteFile calls write with a Writer to a temporary file, then renames
// the temporary file over path on success. The rename is atomic on the same
// filesystem, so a reader never observes a partially written file.
func WithWriteFile(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			_ = os.Remove(tmpPath)
		}
	}()
	if err := write(tmp); err != nil {
		Close(tmp)
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	removeTmp = false
	return nil
}

// In returns true if s is an element of list.
func In(s string, list []string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// StringSet is a set of strings, represented as a map to struct{}.
type StringSet map[string]struct{}

// NewStringSet returns a StringSet containing the given strings.
func NewStringSet(strs ...string) StringSet {
	s := make(StringSet, len(strs))
	for _, v := range strs {
		s[v] = struct{}{}
	}
	return s
}

// Keys returns the elements of the StringSet as a slice, in no particular
// order.
func (s StringSet) Keys() []string {
	rv := make([]string, 0, len(s))
	for k := range s {
		rv = append(rv, k)
	}
	return rv
}
