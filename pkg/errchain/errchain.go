// Package errchain renders an error's full wrap chain for diagnostics.
// The taskwatch command prints a fatal supervisor error with Sprint, or
// with DumpVerbose when -v is set, to show the complete chain behind a
// script-load or script-evaluation failure, since gopher-lua errors are
// frequently wrapped more than once (parse error -> call error -> load
// error) before they reach the generation loop.
package errchain

import (
	"errors"
	"fmt"
	"io"
	"reflect"

	"github.com/davecgh/go-spew/spew"
)

// Sprint renders each layer of err's Unwrap chain with its concrete type,
// one line per layer. Returns "<nil>" for a nil error.
func Sprint(err error) string {
	if err == nil {
		return "<nil>"
	}
	var b []byte
	i := 0
	for e := err; e != nil; e = errors.Unwrap(e) {
		b = fmt.Appendf(b, "[%d] %T: %v\n", i, e, e)
		i++
	}
	return string(b)
}

// DumpVerbose writes a verbose rendering of err's chain to w: for each
// layer, its type, its Error() string, a spew dump of its fields, and
// whether it implements Unwrap/Cause. Used only behind -v, since spew.Dump
// output is noisy and meant for a human debugging a script failure.
func DumpVerbose(w io.Writer, err error) {
	for i := 0; err != nil; err = errors.Unwrap(err) {
		fmt.Fprintf(w, "[%d] %T\n", i, err)
		fmt.Fprintf(w, "   Error(): %v\n", err)

		spew.Fdump(w, err)

		rv := reflect.ValueOf(err)
		rt := reflect.TypeOf(err)
		if rt.Kind() == reflect.Ptr {
			rv = rv.Elem()
			rt = rt.Elem()
		}
		if rt.Kind() == reflect.Struct {
			for j := 0; j < rt.NumField(); j++ {
				f := rt.Field(j)
				v := rv.Field(j)
				if v.CanInterface() {
					fmt.Fprintf(w, "   field %s (%s): %+v\n", f.Name, f.Type, v.Interface())
				}
			}
		}

		if u, ok := err.(interface{ Unwrap() error }); ok {
			fmt.Fprintf(w, "   has Unwrap(): %T\n", u.Unwrap())
		}
		if c, ok := err.(interface{ Cause() error }); ok {
			fmt.Fprintf(w, "   has Cause(): %T\n", c.Cause())
		}

		i++
	}
}
