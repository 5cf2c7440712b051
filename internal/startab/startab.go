// Package startab implements the relational text-table format shared with
// the external scheduler. A file holds named data blocks; each block is
// either a set of key/value pairs or a single loop of whitespace-separated
// rows under declared column headers. Column order is preserved on write so
// an unmodified load/save of a file in canonical single-space form
// round-trips byte for byte; looser spacing is accepted on read and
// normalized on the first save.
package startab

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"
)

// Pair is one key/value entry of a non-loop block.
type Pair struct {
	Key   string
	Value string
}

// Row holds the values of one loop row, aligned with Table.Columns.
// Values past the declared columns (unknown columns appended by other
// writers) are carried verbatim so they survive a round trip.
type Row []string

// Table is one data block. Exactly one of Pairs or Columns/Rows is set.
type Table struct {
	Name    string
	Pairs   []Pair
	Columns []string
	Rows    []Row
}

// IsLoop reports whether the table is a loop block.
func (t *Table) IsLoop() bool { return len(t.Columns) > 0 }

// ColumnIndex returns the position of col, or -1 if undeclared.
func (t *Table) ColumnIndex(col string) int {
	for i, c := range t.Columns {
		if c == col {
			return i
		}
	}
	return -1
}

// Value returns row's value for col.
func (t *Table) Value(r Row, col string) (string, bool) {
	i := t.ColumnIndex(col)
	if i < 0 || i >= len(r) {
		return "", false
	}
	return r[i], true
}

// Pair returns the value for key in a key/value block.
func (t *Table) Pair(key string) (string, bool) {
	for _, p := range t.Pairs {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// SetPair updates key in place or appends it.
func (t *Table) SetPair(key, value string) {
	for i := range t.Pairs {
		if t.Pairs[i].Key == key {
			t.Pairs[i].Value = value
			return
		}
	}
	t.Pairs = append(t.Pairs, Pair{Key: key, Value: value})
}

// File is an ordered collection of tables.
type File struct {
	Tables []*Table
}

// Table returns the named table, or nil.
func (f *File) Table(name string) *Table {
	for _, t := range f.Tables {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// Ensure returns the named table, appending an empty one if absent.
func (f *File) Ensure(name string) *Table {
	if t := f.Table(name); t != nil {
		return t
	}
	t := &Table{Name: name}
	f.Tables = append(f.Tables, t)
	return t
}

// Parse reads tables from r. Values are bare whitespace-free tokens; the
// parser tolerates arbitrary inter-token spacing and blank lines, while
// Write emits the canonical single-space form.
func Parse(r io.Reader) (*File, error) {
	f := &File{}
	var cur *Table
	inLoop := false
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "" || strings.HasPrefix(line, "#"):
			continue
		case strings.HasPrefix(line, "data_"):
			cur = &Table{Name: strings.TrimPrefix(line, "data_")}
			f.Tables = append(f.Tables, cur)
			inLoop = false
		case line == "loop_":
			if cur == nil {
				return nil, fmt.Errorf("startab: line %d: loop_ outside data block", lineNo)
			}
			inLoop = true
		case strings.HasPrefix(line, "_"):
			if cur == nil {
				return nil, fmt.Errorf("startab: line %d: header outside data block", lineNo)
			}
			fields := strings.Fields(line)
			name := strings.TrimPrefix(fields[0], "_")
			if inLoop {
				if len(cur.Rows) > 0 {
					return nil, fmt.Errorf("startab: line %d: column header after rows in data_%s", lineNo, cur.Name)
				}
				cur.Columns = append(cur.Columns, name)
			} else {
				if len(fields) < 2 {
					return nil, fmt.Errorf("startab: line %d: key _%s has no value", lineNo, name)
				}
				cur.Pairs = append(cur.Pairs, Pair{Key: name, Value: fields[1]})
			}
		default:
			if cur == nil || !inLoop {
				return nil, fmt.Errorf("startab: line %d: unexpected row %q", lineNo, line)
			}
			vals := strings.Fields(line)
			if len(vals) < len(cur.Columns) {
				return nil, fmt.Errorf("startab: line %d: data_%s row has %d values, want %d", lineNo, cur.Name, len(vals), len(cur.Columns))
			}
			cur.Rows = append(cur.Rows, Row(vals))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("startab: %w", err)
	}
	return f, nil
}

// WriteTo writes the canonical text form of f.
func (f *File) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	for _, t := range f.Tables {
		buf.WriteString("data_")
		buf.WriteString(t.Name)
		buf.WriteString("\n\n")
		if t.IsLoop() {
			buf.WriteString("loop_\n")
			for _, c := range t.Columns {
				buf.WriteString("_")
				buf.WriteString(c)
				buf.WriteString("\n")
			}
			for _, r := range t.Rows {
				buf.WriteString(strings.Join(r, " "))
				buf.WriteString("\n")
			}
		} else {
			for _, p := range t.Pairs {
				buf.WriteString("_")
				buf.WriteString(p.Key)
				buf.WriteString(" ")
				buf.WriteString(p.Value)
				buf.WriteString("\n")
			}
		}
		buf.WriteString("\n")
	}
	n, err := w.Write(buf.Bytes())
	return int64(n), err
}

// Marshal returns the canonical encoding of f.
func (f *File) Marshal() []byte {
	var buf bytes.Buffer
	_, _ = f.WriteTo(&buf)
	return buf.Bytes()
}
