package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JsonColumn wraps a value which is stored in the database as a
// JSONB column, handling the (un)marshalling during scanning and
// valuing of the row.
type JsonColumn[T any] struct {
	val *T
}

func NewJsonColumn[T any](val T) JsonColumn[T] {
	return JsonColumn[T]{val: &val}
}

func (j *JsonColumn[T]) Scan(src any) error {
	if src == nil {
		j.val = nil
		return nil
	}

	srcBytes, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("cannot scan %T in to JsonColumn", src)
	}

	val := new(T)
	if err := json.Unmarshal(srcBytes, val); err != nil {
		return err
	}

	j.val = val
	return nil
}

func (j JsonColumn[T]) Value() (driver.Value, error) {
	if j.val == nil {
		return nil, nil
	}

	return json.Marshal(*j.val)
}

// Set replaces the wrapped value.
func (j *JsonColumn[T]) Set(val T) { j.val = &val }

// Get returns the scanned value, which may be nil if the column
// was NULL.
func (j *JsonColumn[T]) Get() *T { return j.val }
