package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTable = FieldTable{
	{Key: "fullName", Label: "Nome Completo"},
	{Key: "numberOfChildren", Label: "Número de Filhos"},
	{Key: "functionalStatus", Label: "Situação Funcional"},
}

func TestDiffNormalizesTypes(t *testing.T) {
	five := 5
	before := Snapshot{"numberOfChildren": "5", "fullName": nil}
	after := Snapshot{"numberOfChildren": &five, "fullName": ""}
	assert.Empty(t, Diff(before, after, testTable))
}

func TestDiffReportsLabelsInTableOrder(t *testing.T) {
	before := Snapshot{
		"functionalStatus": "Ativo",
		"fullName":         "Ana",
		"updatedAt":        time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		"unlisted":         1,
	}
	after := Snapshot{
		"functionalStatus": "Licença",
		"fullName":         "Ana Maria",
		"updatedAt":        time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC),
		"unlisted":         2,
	}
	changes := Diff(before, after, testTable, "updatedAt")
	require.Len(t, changes, 3)
	assert.Equal(t, "Nome Completo", changes[0].Label)
	assert.Equal(t, "Situação Funcional", changes[1].Label)
	assert.Equal(t, "Ativo", changes[1].OldValue)
	assert.Equal(t, "Licença", changes[1].NewValue)
	assert.Equal(t, "unlisted", changes[2].Label)
}

func TestDiffIgnoresKeysMissingFromAfter(t *testing.T) {
	changes := Diff(Snapshot{"fullName": "A"}, Snapshot{}, testTable)
	assert.Empty(t, changes)
}

func TestStringify(t *testing.T) {
	var nilInt *int
	d := time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{true, "true"},
		{false, "false"},
		{3, "3"},
		{int64(7), "7"},
		{nilInt, ""},
		{d, "1990-05-17"},
		{&d, "1990-05-17"},
		{2.5, "2.5"},
		{"x", "x"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Stringify(c.in), "input %#v", c.in)
	}
}
