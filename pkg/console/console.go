// Package console implements the console formatting surface: ANSI-styled
// value formatting with %s/%d/%i/%f/%o/%O/%c
// specifiers, group-depth indentation, and the label-keyed counter/timer
// state console methods share.
//
// TTY-awareness uses golang.org/x/term.IsTerminal, checked against the
// configured output file descriptor before emitting escape codes — the
// explicit version of a check a comparable logger already approximates
// informally for human-readable output.
package console

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/andromeda-rt/andromeda/internal/errs"
)

// cssANSIFrame is one entry of the %c CSS-to-ANSI style stack: the ANSI
// sequence one %c pushed. Frames are never popped: a later %c writes a
// reset followed by its own sequence (the previous style is not
// restored), and a non-empty stack ends the string with a reset.
type cssANSIFrame struct {
	sequence string
}

// Console holds the per-runtime indentation depth and label-keyed state
// (counters, timers)
type Console struct {
	mu sync.Mutex
	out io.Writer
	errOut io.Writer
	isTTY bool
	depth int
	counters map[string]int64
	timers map[string]time.Time
}

// New constructs a Console writing to out/errOut; isTTY is computed from
// out's file descriptor when it is an *os.File.
func New(out, errOut io.Writer) *Console {
	isTTY := false
	if f, ok := out.(*os.File); ok {
		isTTY = term.IsTerminal(int(f.Fd()))
	}
	return &Console{
		out: out, errOut: errOut, isTTY: isTTY,
		counters: make(map[string]int64),
		timers: make(map[string]time.Time),
	}
}

// cssToANSI maps a small set of CSS declarations %c accepts to ANSI SGR
// codes; unrecognized declarations are ignored, matching the DOM
// console's lenient parsing.
func cssToANSI(css string) string {
	var codes []string
	for _, decl := range strings.Split(css, ";") {
		decl = strings.TrimSpace(decl)
		parts := strings.SplitN(decl, ":", 2)
		if len(parts) != 2 {
			continue
		}
		prop := strings.TrimSpace(parts[0])
		val := strings.TrimSpace(parts[1])
		switch prop {
		case "color":
			if code, ok := colorCodes[val]; ok {
				codes = append(codes, code)
			}
		case "font-weight":
			if val == "bold" {
				codes = append(codes, "1")
			}
		case "font-style":
			if val == "italic" {
				codes = append(codes, "3")
			}
		case "text-decoration":
			if val == "underline" {
				codes = append(codes, "4")
			}
		}
	}
	if len(codes) == 0 {
		return ""
	}
	return "\x1b[" + strings.Join(codes, ";") + "m"
}

var colorCodes = map[string]string{
	"black": "30", "red": "31", "green": "32", "yellow": "33",
	"blue": "34", "magenta": "35", "cyan": "36", "white": "37",
}

const ansiReset = "\x1b[0m"

// Format renders args against template, expanding %s/%d/%i/%f/%o/%O/%c
// specifiers in order and appending any unconsumed args space-separated,
// the same loose arity the DOM console.log contract uses.
func (c *Console) Format(template string, args []any) string {
	var b strings.Builder
	argIdx := 0
	var styleStack []cssANSIFrame
	next := func() (any, bool) {
		if argIdx >= len(args) {
			return nil, false
		}
		v := args[argIdx]
		argIdx++
		return v, true
	}

	i := 0
	for i < len(template) {
		if template[i] != '%' || i+1 >= len(template) {
			b.WriteByte(template[i])
			i++
			continue
		}
		spec := template[i+1]
		switch spec {
		case 's':
			if v, ok := next(); ok {
				fmt.Fprintf(&b, "%v", v)
			} else {
				b.WriteString("%s")
			}
		case 'd', 'i':
			if v, ok := next(); ok {
				fmt.Fprintf(&b, "%d", toInt(v))
			} else {
				b.WriteByte('%')
				b.WriteByte(spec)
			}
		case 'f':
			if v, ok := next(); ok {
				fmt.Fprintf(&b, "%v", toFloat(v))
			} else {
				b.WriteString("%f")
			}
		case 'o', 'O':
			if v, ok := next(); ok {
				fmt.Fprintf(&b, "%+v", v)
			} else {
				b.WriteByte('%')
				b.WriteByte(spec)
			}
		case 'c':
			if v, ok := next(); ok {
				if c.isTTY {
					css, _ := v.(string)
					seq := cssToANSI(css)
					if len(styleStack) > 0 {
						b.WriteString(ansiReset)
					}
					styleStack = append(styleStack, cssANSIFrame{sequence: seq})
					b.WriteString(seq)
				}
			}
		case '%':
			b.WriteByte('%')
		default:
			b.WriteByte('%')
			b.WriteByte(spec)
		}
		i += 2
	}
	for argIdx < len(args) {
		b.WriteByte(' ')
		fmt.Fprintf(&b, "%v", args[argIdx])
		argIdx++
	}
	if len(styleStack) > 0 && c.isTTY {
		b.WriteString(ansiReset)
	}
	return b.String()
}

func toInt(v any) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	default:
		return 0
	}
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}

// Log writes formatted output to stdout at the current indentation
// depth.
func (c *Console) Log(template string, args []any) {
	c.write(c.out, template, args)
}

// Error writes formatted output to stderr at the current indentation
// depth.
func (c *Console) Error(template string, args []any) {
	c.write(c.errOut, template, args)
}

func (c *Console) write(w io.Writer, template string, args []any) {
	c.mu.Lock()
	indent := strings.Repeat(" ", c.depth)
	c.mu.Unlock()
	fmt.Fprintln(w, indent+c.Format(template, args))
}

// GroupStart increases indentation depth for subsequent log calls.
func (c *Console) GroupStart() {
	c.mu.Lock()
	c.depth++
	c.mu.Unlock()
}

// GroupEnd decreases indentation depth, floored at zero.
func (c *Console) GroupEnd() {
	c.mu.Lock()
	if c.depth > 0 {
		c.depth--
	}
	c.mu.Unlock()
}

// Clear resets indentation depth; it does not clear counters/timers.
func (c *Console) Clear() {
	c.mu.Lock()
	c.depth = 0
	c.mu.Unlock()
}

// Count increments label's counter and returns the label plus new count
// formatted as console.count's output.
func (c *Console) Count(label string) string {
	if label == "" {
		label = "default"
	}
	c.mu.Lock()
	c.counters[label]++
	n := c.counters[label]
	c.mu.Unlock()
	return label + ": " + strconv.FormatInt(n, 10)
}

// CountReset zeroes label's counter; an unknown label surfaces a warning
// string rather than raising.
func (c *Console) CountReset(label string) (warning string) {
	if label == "" {
		label = "default"
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.counters[label]; !ok {
		return "Count for '" + label + "' does not exist"
	}
	c.counters[label] = 0
	return ""
}

// TimeStart records the start time for label.
func (c *Console) TimeStart(label string) {
	if label == "" {
		label = "default"
	}
	c.mu.Lock()
	c.timers[label] = time.Now()
	c.mu.Unlock()
}

// TimeLog returns the elapsed duration for label since TimeStart, or a
// warning if label is unknown.
func (c *Console) TimeLog(label string) (elapsed time.Duration, warning string) {
	if label == "" {
		label = "default"
	}
	c.mu.Lock()
	start, ok := c.timers[label]
	c.mu.Unlock()
	if !ok {
		return 0, "Timer '" + label + "' does not exist"
	}
	return time.Since(start), ""
}

// TimeEnd returns the elapsed duration for label and removes its entry.
func (c *Console) TimeEnd(label string) (elapsed time.Duration, warning string) {
	if label == "" {
		label = "default"
	}
	c.mu.Lock()
	start, ok := c.timers[label]
	if ok {
		delete(c.timers, label)
	}
	c.mu.Unlock()
	if !ok {
		return 0, "Timer '" + label + "' does not exist"
	}
	return time.Since(start), ""
}

// Table renders rows (each a map of column name to value) as a simple
// fixed-width text table, approximating console.table's rendering
// without a GUI.
func (c *Console) Table(rows []map[string]any, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", errs.New(errs.InvalidInput, "table requires at least one column")
	}
	widths := make([]int, len(columns))
	for i, col := range columns {
		widths[i] = len(col)
	}
	cellStrings := make([][]string, len(rows))
	for r, row := range rows {
		cellStrings[r] = make([]string, len(columns))
		for i, col := range columns {
			s := fmt.Sprintf("%v", row[col])
			cellStrings[r][i] = s
			if len(s) > widths[i] {
				widths[i] = len(s)
			}
		}
	}
	var b strings.Builder
	writeRow := func(cells []string) {
		for i, cell := range cells {
			fmt.Fprintf(&b, "| %-*s ", widths[i], cell)
		}
		b.WriteString("|\n")
	}
	writeRow(columns)
	for i := range columns {
		b.WriteString("|" + strings.Repeat("-", widths[i]+2))
	}
	b.WriteString("|\n")
	for _, cells := range cellStrings {
		writeRow(cells)
	}
	return b.String(), nil
}
