package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chazu/jfe/history"
	"github.com/chazu/jfe/jarray"
)

// Output formats for -value and -binary.
const (
	formatText = "text"
	formatJSON = "json"
	formatCBOR = "cbor"
)

func validFormat(f string) bool {
	return f == formatText || f == formatJSON || f == formatCBOR
}

// printValue writes v in the given format. CBOR is written as raw bytes so
// it can be piped.
func printValue(w io.Writer, v jarray.Value, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, v)
	case formatCBOR:
		data, err := jarray.MarshalValue(v)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		fmt.Fprintln(w, v.String())
		if s, ok := v.Text(); ok {
			fmt.Fprintln(w, s)
		}
		return nil
	}
}

// printRaw writes a binary capture in the given format.
func printRaw(w io.Writer, r jarray.Raw, format string) error {
	switch format {
	case formatJSON:
		return writeJSON(w, r)
	case formatCBOR:
		data, err := jarray.MarshalRaw(r)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	default:
		fmt.Fprintln(w, r.String())
		fmt.Fprintln(w, r.Text())
		return nil
	}
}

// printHistory writes transcript entries one per line, failures marked
// with their status.
func printHistory(w io.Writer, entries []history.Entry) {
	for _, e := range entries {
		stamp := e.At.Local().Format("2006-01-02 15:04:05")
		if e.Status != 0 {
			fmt.Fprintf(w, "%s  %s   [status %d]\n", stamp, e.Sentence, e.Status)
		} else {
			fmt.Fprintf(w, "%s  %s\n", stamp, e.Sentence)
		}
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
