// Package present renders gathered variants at the coordinator.
package present

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dreamware/gtgather/internal/config"
	"github.com/dreamware/gtgather/internal/variant"
)

// Output formats.
const (
	FormatJSON          = "json"
	FormatPositionsJSON = "positions-json"
	FormatTSV           = "tsv"
)

// Formats lists the accepted format names. The empty name selects FormatJSON.
var Formats = []string{FormatJSON, FormatPositionsJSON, FormatTSV}

// ValidateFormat rejects unknown format names.
func ValidateFormat(format string) error {
	switch format {
	case "", FormatJSON, FormatPositionsJSON, FormatTSV:
		return nil
	}
	return config.Argumentf("output format", "%q is not one of %s", format, strings.Join(Formats, ", "))
}

// Print writes variants to w in the given format. cfg names the attributes
// to render, in order.
func Print(w io.Writer, variants []variant.Variant, format string, cfg *config.QueryConfig) error {
	if err := ValidateFormat(format); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	var err error
	switch format {
	case "", FormatJSON:
		err = writeJSON(bw, variants, cfg.Attributes)
	case FormatPositionsJSON:
		err = writeJSON(bw, variants, nil)
	case FormatTSV:
		err = writeTSV(bw, variants, cfg.Attributes)
	}
	if err != nil {
		return err
	}
	return bw.Flush()
}

// writeJSON emits one object per variant with keys in a stable order:
// row, begin, end, then the attributes. Absent attributes are null.
func writeJSON(w *bufio.Writer, variants []variant.Variant, attributes []string) error {
	var obj bytes.Buffer
	w.WriteString("[")
	for i := range variants {
		v := &variants[i]
		obj.Reset()
		fmt.Fprintf(&obj, `{"row":%d,"begin":%d,"end":%d`, v.Row, v.ColumnBegin, v.ColumnEnd)
		for _, name := range attributes {
			key, _ := json.Marshal(name)
			obj.WriteByte(',')
			obj.Write(key)
			obj.WriteByte(':')

			val, ok := v.Field(name)
			if !ok {
				obj.WriteString("null")
				continue
			}
			b, err := json.Marshal(val.Interface())
			if err != nil {
				return fmt.Errorf("render %s of row %d at %d: %w", name, v.Row, v.ColumnBegin, err)
			}
			obj.Write(b)
		}
		obj.WriteByte('}')

		if i > 0 {
			w.WriteByte(',')
		}
		w.WriteString("\n  ")
		w.Write(obj.Bytes())
	}
	if len(variants) > 0 {
		w.WriteByte('\n')
	}
	_, err := w.WriteString("]\n")
	return err
}

func writeTSV(w *bufio.Writer, variants []variant.Variant, attributes []string) error {
	w.WriteString("row\tbegin\tend")
	for _, name := range attributes {
		w.WriteString("\t" + tsvEscaper.Replace(name))
	}
	w.WriteByte('\n')

	for i := range variants {
		v := &variants[i]
		fmt.Fprintf(w, "%d\t%d\t%d", v.Row, v.ColumnBegin, v.ColumnEnd)
		for _, name := range attributes {
			w.WriteByte('\t')
			val, ok := v.Field(name)
			if !ok {
				w.WriteByte('.')
				continue
			}
			w.WriteString(tsvValue(val))
		}
		if err := w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return nil
}

// tsvEscaper keeps tabs and line breaks inside a value from splitting
// columns or rows.
var tsvEscaper = strings.NewReplacer(`\`, `\\`, "\t", `\t`, "\n", `\n`, "\r", `\r`)

func tsvValue(val variant.Value) string {
	switch val.Kind {
	case variant.KindString:
		return tsvEscaper.Replace(val.Str)
	case variant.KindStrings:
		parts := make([]string, len(val.Strs))
		for i, s := range val.Strs {
			parts[i] = tsvEscaper.Replace(s)
		}
		return strings.Join(parts, ",")
	case variant.KindFloat:
		return strconv.FormatFloat(val.Float, 'g', -1, 64)
	case variant.KindInts:
		parts := make([]string, len(val.Ints))
		for i, n := range val.Ints {
			parts[i] = strconv.FormatInt(n, 10)
		}
		return strings.Join(parts, ",")
	default:
		return "."
	}
}
