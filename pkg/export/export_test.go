package export

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDataset() Dataset {
	return Dataset{
		Title:   "Englisch B1",
		Headers: []string{"Name", "Mail"},
		Rows: []map[string]string{
			{"Name": "Jürgen Müller", "Mail": "jm@example.org"},
			{"Name": "Ada Lovelace"},
		},
	}
}

func TestCSVExporterRender(t *testing.T) {
	out, err := NewCSVExporter().Render(sampleDataset())
	require.NoError(t, err)
	assert.Equal(t, "Name;Mail\nJürgen Müller;jm@example.org\nAda Lovelace;\n", string(out))

	_, err = NewCSVExporter().Render(Dataset{})
	assert.ErrorIs(t, err, ErrNoColumns)
}

func TestCSVExporterFooter(t *testing.T) {
	data := sampleDataset()
	data.Footer = map[string]string{"Name": "Total"}
	out, err := NewCSVExporter().Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(out, []byte("Ada Lovelace;\nTotal;\n")))
}

func TestPDFExporterRender(t *testing.T) {
	data := sampleDataset()
	data.Footer = map[string]string{"Name": "Total"}
	out, err := NewPDFExporter().Render(data)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(out, []byte("%PDF")))
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)

	f, err = ParseFormat(" PDF ")
	require.NoError(t, err)
	assert.Equal(t, FormatPDF, f)
	assert.Equal(t, ".pdf", f.Extension())
	assert.Equal(t, "application/pdf", f.ContentType())

	_, err = ParseFormat("xlsx")
	assert.Error(t, err)
}

func TestRendererDispatches(t *testing.T) {
	r := NewRenderer()
	out, err := r.Render(FormatCSV, sampleDataset())
	require.NoError(t, err)
	assert.Contains(t, string(out), "Name;Mail")

	_, err = r.Render(Format("xml"), sampleDataset())
	assert.Error(t, err)
}
