// Package render formats CLI output.
//
// Without --format, a terminal gets a table and anything else gets JSON.
// --no-color only affects table and progress output.
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"reflect"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"
)

// Format is an output format.
type Format string

// Supported formats.
const (
	FormatJSON  Format = "json"
	FormatTable Format = "table"
	FormatYAML  Format = "yaml"
)

// ParseFormat parses s case-insensitively. "" is returned for an empty s so
// the caller can pick a default.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case FormatJSON, FormatTable, FormatYAML, "":
		return f, nil
	default:
		return "", fmt.Errorf("invalid format: %q (must be json, table, or yaml)", s)
	}
}

// Renderer writes values in one format.
type Renderer struct {
	format  Format
	noColor bool
	out     io.Writer
}

// NewRenderer reads --format and --no-color from c and writes to stdout.
func NewRenderer(c *cli.Context) (*Renderer, error) {
	format, err := ParseFormat(c.String("format"))
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = FormatJSON
		if IsTTY(os.Stdout) {
			format = FormatTable
		}
	}
	return &Renderer{format: format, noColor: c.Bool("no-color"), out: os.Stdout}, nil
}

// NewRendererWithWriter returns a renderer writing to out.
func NewRendererWithWriter(format Format, noColor bool, out io.Writer) *Renderer {
	return &Renderer{format: format, noColor: noColor, out: out}
}

// Format returns the selected format.
func (r *Renderer) Format() Format {
	return r.format
}

// Writer returns the output writer.
func (r *Renderer) Writer() io.Writer {
	return r.out
}

// NoColor reports whether color is disabled.
func (r *Renderer) NoColor() bool {
	return r.noColor
}

// Render writes data.
func (r *Renderer) Render(data any) error {
	switch r.format {
	case FormatJSON:
		enc := json.NewEncoder(r.out)
		enc.SetIndent("", "  ")
		return enc.Encode(data)
	case FormatYAML:
		enc := yaml.NewEncoder(r.out)
		enc.SetIndent(2)
		if err := enc.Encode(data); err != nil {
			return err
		}
		return enc.Close()
	case FormatTable:
		return r.renderTable(data)
	default:
		return fmt.Errorf("unknown format: %s", r.format)
	}
}

func (r *Renderer) renderTable(data any) error {
	w := tabwriter.NewWriter(r.out, 0, 0, 2, ' ', 0)
	v := indirect(reflect.ValueOf(data))

	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Len() == 0 {
			fmt.Fprintln(w, "(no results)")
			break
		}
		headers := fieldNames(indirect(v.Index(0)))
		fmt.Fprintln(w, strings.Join(headers, "\t"))
		for i := range v.Len() {
			fmt.Fprintln(w, strings.Join(rowValues(indirect(v.Index(i)), headers), "\t"))
		}
	case reflect.Struct, reflect.Map:
		names := fieldNames(v)
		values := rowValues(v, names)
		for i, name := range names {
			fmt.Fprintf(w, "%s:\t%s\n", name, values[i])
		}
	default:
		fmt.Fprintf(w, "%v\n", data)
	}
	return w.Flush()
}

func indirect(v reflect.Value) reflect.Value {
	for v.IsValid() && (v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface) {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// fieldNames lists struct fields by JSON name, or map keys sorted.
func fieldNames(v reflect.Value) []string {
	var names []string
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if name, ok := jsonName(t.Field(i)); ok {
				names = append(names, name)
			}
		}
	case reflect.Map:
		for _, k := range v.MapKeys() {
			names = append(names, fmt.Sprint(k.Interface()))
		}
		slices.Sort(names)
	}
	return names
}

func rowValues(v reflect.Value, names []string) []string {
	values := make([]string, 0, len(names))
	switch v.Kind() {
	case reflect.Struct:
		t := v.Type()
		for i := range t.NumField() {
			if _, ok := jsonName(t.Field(i)); ok {
				values = append(values, formatValue(v.Field(i)))
			}
		}
	case reflect.Map:
		for _, name := range names {
			values = append(values, formatValue(v.MapIndex(reflect.ValueOf(name))))
		}
	}
	return values
}

func jsonName(f reflect.StructField) (string, bool) {
	if !f.IsExported() {
		return "", false
	}
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	switch name {
	case "-":
		return "", false
	case "":
		return strings.ToLower(f.Name), true
	}
	return name, true
}

func formatValue(v reflect.Value) string {
	v = indirect(v)
	if !v.IsValid() {
		return ""
	}
	if t, ok := v.Interface().(time.Time); ok {
		return t.Format(time.RFC3339)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		if v.Type().Elem().Kind() == reflect.String {
			parts := make([]string, v.Len())
			for i := range v.Len() {
				parts[i] = v.Index(i).String()
			}
			return strings.Join(parts, " ")
		}
		return fmt.Sprintf("[%d items]", v.Len())
	case reflect.Map:
		return fmt.Sprintf("{%d keys}", v.Len())
	case reflect.Struct:
		return "{...}"
	default:
		return fmt.Sprint(v.Interface())
	}
}

// IsTTY reports whether f is a terminal.
func IsTTY(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}
