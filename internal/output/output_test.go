package output

import (
	"bytes"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeCopyValue(t *testing.T) {
	s := "x"
	var nilStr *string
	id := uuid.MustParse("0f8fad5b-d9cb-469f-a165-70867728950e")

	tests := []struct {
		in   any
		want string
	}{
		{nil, `\N`},
		{nilStr, `\N`},
		{&s, "x"},
		{true, "t"},
		{int32(7), "7"},
		{int64(9000000000), "9000000000"},
		{1.5, "1.5"},
		{time.Date(2015, 3, 7, 10, 0, 0, 0, time.UTC), "2015-03-07 10:00:00"},
		{id, "0f8fad5b-d9cb-469f-a165-70867728950e"},
		{"a\tb\\c\nd", `a\tb\\c\nd`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, EscapeCopyValue(tt.in))
	}
}

func TestEscapeLiteral(t *testing.T) {
	assert.Equal(t, `'O''Brien'`, EscapeLiteral("O'Brien"))
}

func TestWriterScript(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	require.NoError(t, w.WriteHeader())
	require.NoError(t, w.WriteStatement(`CREATE SCHEMA IF NOT EXISTS "acme";`))
	require.NoError(t, w.WriteTableData("acme", "order", []string{"id", "document_id"}, [][]any{
		{int32(1), "d1"},
		{int32(2), nil},
	}))
	require.NoError(t, w.WriteTableData("acme", "empty", []string{"id"}, nil))
	require.NoError(t, w.WriteFooter())

	want := "BEGIN;\n\n" +
		"CREATE SCHEMA IF NOT EXISTS \"acme\";\n\n" +
		"COPY \"acme\".\"order\" (\"id\", \"document_id\") FROM stdin;\n" +
		"1\td1\n" +
		"2\t\\N\n" +
		"\\.\n\n" +
		"COMMIT;\n"
	assert.Equal(t, want, buf.String())
}
