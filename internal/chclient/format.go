package chclient

import (
	"fmt"
	"reflect"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/mrk-andreev/chprobe/internal/ir"
)

// Null is the TabSeparated rendering of NULL.
const Null = `\N`

const timeLayout = "2006-01-02 15:04:05"

// FormatRows reads every row and renders them as TabSeparated text: one line
// per row, columns separated by tabs. Rows are closed before returning.
func FormatRows(rows driver.Rows) (string, error) {
	defer rows.Close()

	types := rows.ColumnTypes()
	var b strings.Builder
	for rows.Next() {
		dest := make([]any, len(types))
		for i, ct := range types {
			dest[i] = reflect.New(ct.ScanType()).Interface()
		}
		if err := rows.Scan(dest...); err != nil {
			return "", err
		}
		for i, d := range dest {
			if i > 0 {
				b.WriteByte('\t')
			}
			b.WriteString(FormatValue(reflect.ValueOf(d).Elem().Interface()))
		}
		b.WriteByte('\n')
	}
	if err := rows.Err(); err != nil {
		return "", err
	}
	return b.String(), nil
}

// FormatValue renders one scanned column value as a TabSeparated field.
func FormatValue(v any) string {
	return formatValue(reflect.ValueOf(v), false)
}

// formatValue renders v. Nested values (array elements, map entries) quote
// strings and times instead of escaping them.
func formatValue(v reflect.Value, nested bool) string {
	if !v.IsValid() {
		return nullText(nested)
	}
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nullText(nested)
		}
		v = v.Elem()
	}

	if v.CanInterface() {
		switch x := v.Interface().(type) {
		case time.Time:
			return text(x.Format(timeLayout), nested)
		case []byte:
			return text(string(x), nested)
		case fmt.Stringer:
			if v.Kind() != reflect.Slice && v.Kind() != reflect.Map {
				return text(x.String(), nested)
			}
		}
	}

	switch v.Kind() {
	case reflect.String:
		return text(v.String(), nested)
	case reflect.Bool:
		return strconv.FormatBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(v.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(v.Uint(), 10)
	case reflect.Float32:
		return formatFloat(v.Float(), 32)
	case reflect.Float64:
		return formatFloat(v.Float(), 64)
	case reflect.Slice, reflect.Array:
		parts := make([]string, v.Len())
		for i := range parts {
			parts[i] = formatValue(v.Index(i), true)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case reflect.Map:
		keys := v.MapKeys()
		entries := make([]string, len(keys))
		for i, k := range keys {
			entries[i] = formatValue(k, true) + ":" + formatValue(v.MapIndex(k), true)
		}
		slices.Sort(entries)
		return "{" + strings.Join(entries, ",") + "}"
	case reflect.Struct:
		parts := make([]string, v.NumField())
		for i := range parts {
			parts[i] = formatValue(v.Field(i), true)
		}
		return "(" + strings.Join(parts, ",") + ")"
	default:
		return text(fmt.Sprint(v), nested)
	}
}

func nullText(nested bool) string {
	if nested {
		return "NULL"
	}
	return Null
}

func text(s string, nested bool) string {
	if nested {
		return ir.String(s).Literal()
	}
	return EscapeTSV(s)
}

func formatFloat(f float64, bits int) string {
	switch {
	case f != f:
		return "nan"
	case f > 0 && f*2 == f:
		return "inf"
	case f < 0 && f*2 == f:
		return "-inf"
	}
	return strconv.FormatFloat(f, 'g', -1, bits)
}

var tsvEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\t", `\t`,
	"\n", `\n`,
	"\r", `\r`,
	"\b", `\b`,
	"\f", `\f`,
	"\x00", `\0`,
	"'", `\'`,
)

// EscapeTSV escapes a string field the way TabSeparated output does.
func EscapeTSV(s string) string {
	return tsvEscaper.Replace(s)
}
