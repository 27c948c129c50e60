package cmdtable

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTableIsSorted(t *testing.T) {
	assert.True(t, sort.SliceIsSorted(Table, func(i, j int) bool { return Table[i].Body < Table[j].Body }))
}

func TestLookupKnown(t *testing.T) {
	d, ok := Lookup("+USOCR")
	assert.True(t, ok)
	assert.Equal(t, ParamThenOK, d.Shape)
	assert.True(t, d.CanResponse)
	assert.False(t, d.CanURC)
}

func TestLookupUnknown(t *testing.T) {
	_, ok := Lookup("+NOSUCHCMD")
	assert.False(t, ok)
}

func TestLookupLineSplitsBodyAndArgs(t *testing.T) {
	d, arg, ok := LookupLine("+USOCR: 0")
	assert.True(t, ok)
	assert.Equal(t, "+USOCR", d.Body)
	assert.Equal(t, "0", arg)
}

func TestLookupLineURCOnly(t *testing.T) {
	d, _, ok := LookupLine("+UUSOCL: 2")
	assert.True(t, ok)
	assert.True(t, d.CanURC)
	assert.False(t, d.CanResponse)
}

func TestLookupLineUnknownBody(t *testing.T) {
	_, _, ok := LookupLine("+BOGUS: 1")
	assert.False(t, ok)
}
