// Package envconf populates configuration structs from environment
// variables. Fields are bound with an `env:"NAME"` tag; a missing
// variable is an error unless the field also carries an
// `envDefault:"..."` tag. Untagged struct fields are walked
// recursively, so per-binary configs can embed shared blocks like the
// Postgres settings.
package envconf

import (
	"encoding"
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"time"
)

var (
	ErrMissingRequired = errors.New("missing required environment variable")
	ErrUnsupportedType = errors.New("unsupported field type")
)

// Load fills dst (a non-nil pointer to a struct) from the environment.
func Load(dst any) error {
	if dst == nil {
		return errors.New("destination is nil")
	}

	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return errors.New("destination must be a non-nil pointer to a struct")
	}

	v = v.Elem()
	if v.Kind() != reflect.Struct {
		return errors.New("destination must point to a struct")
	}

	return loadStruct(v)
}

var durationType = reflect.TypeOf(time.Duration(0))

func loadStruct(v reflect.Value) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		sf := t.Field(i)
		fv := v.Field(i)

		if !sf.IsExported() {
			continue
		}

		tag := sf.Tag.Get("env")
		if tag == "" || tag == "-" {
			err := recurse(sf, fv)
			if err != nil {
				return err
			}

			continue
		}

		raw, ok := os.LookupEnv(tag)
		if !ok {
			def, hasDef := sf.Tag.Lookup("envDefault")
			if !hasDef {
				return fmt.Errorf("%w: %s (field %q)", ErrMissingRequired, tag, sf.Name)
			}

			raw = def
		}

		err := assign(fv, raw)
		if err != nil {
			return fmt.Errorf("parse %q for field %q: %w", tag, sf.Name, err)
		}
	}

	return nil
}

// recurse descends into untagged nested structs (and pointers to them).
// time.Duration is an int64 under the hood and must not be walked.
func recurse(sf reflect.StructField, fv reflect.Value) error {
	switch {
	case fv.Kind() == reflect.Struct && sf.Type != durationType:
		err := loadStruct(fv)
		if err != nil {
			return fmt.Errorf("load nested %q: %w", sf.Name, err)
		}

	case fv.Kind() == reflect.Pointer && fv.Type().Elem().Kind() == reflect.Struct:
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}

		err := loadStruct(fv.Elem())
		if err != nil {
			return fmt.Errorf("load nested %q: %w", sf.Name, err)
		}
	}

	return nil
}

//nolint:cyclop
func assign(fv reflect.Value, raw string) error {
	if !fv.CanSet() {
		return fmt.Errorf("field not settable: %w", ErrUnsupportedType)
	}

	if fv.CanAddr() {
		u, ok := fv.Addr().Interface().(encoding.TextUnmarshaler)
		if ok {
			err := u.UnmarshalText([]byte(raw))
			if err != nil {
				return fmt.Errorf("unmarshal text: %w", err)
			}

			return nil
		}
	}

	switch fv.Kind() {
	case reflect.String:
		fv.SetString(raw)

	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return fmt.Errorf("parse bool: %w", err)
		}

		fv.SetBool(b)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if fv.Type() == durationType {
			d, err := time.ParseDuration(raw)
			if err != nil {
				return fmt.Errorf("parse duration: %w", err)
			}

			fv.SetInt(int64(d))

			return nil
		}

		n, err := strconv.ParseInt(raw, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("parse int: %w", err)
		}

		fv.SetInt(n)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(raw, 10, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("parse uint: %w", err)
		}

		fv.SetUint(n)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(raw, fv.Type().Bits())
		if err != nil {
			return fmt.Errorf("parse float: %w", err)
		}

		fv.SetFloat(f)

	case reflect.Pointer:
		if fv.IsNil() {
			fv.Set(reflect.New(fv.Type().Elem()))
		}

		return assign(fv.Elem(), raw)

	default:
		return fmt.Errorf("unsupported type %s: %w", fv.Type(), ErrUnsupportedType)
	}

	return nil
}
