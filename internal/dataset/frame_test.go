package dataset

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const salesCSV = `region,units,price,returned
north,12,9.99,false
south,7,12.50,true
east,31,4.25,false
`

func TestReadCSVInfersTypes(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)

	assert.Equal(t, "sales", frame.Name)
	assert.Equal(t, 3, frame.RowCount())
	assert.Equal(t, []Column{
		{Name: "region", Type: TypeString},
		{Name: "units", Type: TypeInteger},
		{Name: "price", Type: TypeFloat},
		{Name: "returned", Type: TypeBoolean},
	}, frame.Schema())

	assert.Equal(t, int64(12), frame.Rows[0][1])
	assert.Equal(t, 12.5, frame.Rows[1][2])
	assert.Equal(t, true, frame.Rows[1][3])
}

func TestReadCSVMixedColumnFallsBackToString(t *testing.T) {
	// Boolean is not a widening of float: a column mixing the two must end
	// as string, with every cell kept verbatim.
	frame, err := ReadCSV(strings.NewReader("measure\n1.5\ntrue\n"), "mixed")
	require.NoError(t, err)

	require.Equal(t, []Column{{Name: "measure", Type: TypeString}}, frame.Schema())
	assert.Equal(t, "1.5", frame.Rows[0][0])
	assert.Equal(t, "true", frame.Rows[1][0])
}

func TestSignatureDeterministic(t *testing.T) {
	a, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)
	b, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)

	assert.Equal(t, a.Signature(), b.Signature())
}

func TestSignatureChangesWithSchema(t *testing.T) {
	a, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)

	changed := `region,units,price
north,12,9.99
`
	b, err := ReadCSV(strings.NewReader(changed), "sales")
	require.NoError(t, err)

	assert.NotEqual(t, a.Signature(), b.Signature())
}

func TestSignatureIgnoresRowData(t *testing.T) {
	a, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)

	oneRow := `region,units,price,returned
west,1,2.00,true
`
	b, err := ReadCSV(strings.NewReader(oneRow), "sales")
	require.NoError(t, err)

	assert.Equal(t, a.Signature(), b.Signature())
}

func TestPreviewBounded(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)

	preview := frame.Preview(2)
	assert.Contains(t, preview, "region | units | price | returned")
	assert.Contains(t, preview, "north")
	assert.Contains(t, preview, "south")
	assert.NotContains(t, preview, "east")
	assert.Contains(t, preview, "... and 1 more rows")
}

func TestPreviewAllRows(t *testing.T) {
	frame, err := ReadCSV(strings.NewReader(salesCSV), "sales")
	require.NoError(t, err)

	preview := frame.Preview(0)
	assert.Contains(t, preview, "east")
	assert.NotContains(t, preview, "more rows")
}

func TestEmptyColumnFallsBackToString(t *testing.T) {
	csv := `id,notes
1,
2,
`
	frame, err := ReadCSV(strings.NewReader(csv), "t")
	require.NoError(t, err)
	assert.Equal(t, TypeString, frame.Columns[1].Type)
	assert.Nil(t, frame.Rows[0][1])
}
