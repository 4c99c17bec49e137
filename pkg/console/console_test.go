package console

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatSpecifiers(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	out := c.Format("%s has %d items at %f avg", []any{"cart", 3, 1.5})
	assert.Equal(t, "cart has 3 items at 1.5 avg", out)
}

func TestFormatExtraArgsAppended(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	out := c.Format("%s", []any{"a", "b"})
	assert.Equal(t, "a b", out)
}

func TestGroupIndentation(t *testing.T) {
	var buf bytes.Buffer
	c := New(&buf, &bytes.Buffer{})
	c.Log("top", nil)
	c.GroupStart()
	c.Log("nested", nil)
	c.GroupEnd()
	c.Log("top again", nil)

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "top", lines[0])
	assert.Equal(t, " nested", lines[1])
	assert.Equal(t, "top again", lines[2])
}

func TestCountIncrementsPerLabel(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	assert.Equal(t, "x: 1", c.Count("x"))
	assert.Equal(t, "x: 2", c.Count("x"))
	assert.Equal(t, "y: 1", c.Count("y"))
}

func TestCountResetUnknownLabelWarnsWithoutError(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	warning := c.CountReset("never-counted")
	assert.Contains(t, warning, "does not exist")
}

func TestTimeEndUnknownLabelWarns(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	_, warning := c.TimeEnd("missing")
	assert.Contains(t, warning, "does not exist")
}

func TestTimeStartThenEndSucceeds(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	c.TimeStart("op")
	_, warning := c.TimeEnd("op")
	assert.Empty(t, warning)
}

func TestTableRendersHeaderAndRows(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	out, err := c.Table([]map[string]any{{"name": "a", "age": 1}}, []string{"name", "age"})
	require.NoError(t, err)
	assert.Contains(t, out, "name")
	assert.Contains(t, out, "age")
	assert.Contains(t, out, "a")
}

func TestCSSToANSIIgnoredWhenNotTTY(t *testing.T) {
	c := New(&bytes.Buffer{}, &bytes.Buffer{})
	out := c.Format("%cstyled", []any{"color: red"})
	assert.Equal(t, "styled", out)
}
