package ingest_test

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/require"

	"aev/internal/domain"
	"aev/internal/ingest"
)

func builderSchema() domain.Schema {
	return domain.Schema{
		Name: "b",
		Fields: []domain.FieldSpec{
			{Name: "id", Type: domain.TypeUint64, RecordID: true},
			{Name: "user", Type: domain.TypeString, Path: []string{"u"}, Nullable: true, Default: domain.DefaultNull},
		},
	}
}

func TestBuilderAlignment(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())

	b, err := ingest.NewBuilder(builderSchema(), mem)
	require.NoError(t, err)

	require.NoError(t, b.Append(domain.Row{domain.UintValue(1), domain.StringValue("alice")}))
	require.NoError(t, b.Append(domain.Row{domain.UintValue(2), domain.NullValue(domain.TypeString)}))
	require.NoError(t, b.Append(domain.Row{domain.UintValue(3), domain.StringValue("")}))
	require.Equal(t, 3, b.Rows())

	tbl, err := b.Finish()
	require.NoError(t, err)
	require.Equal(t, 3, tbl.NumRows())
	for i := 0; i < tbl.NumCols(); i++ {
		require.Equal(t, 3, tbl.Column(i).Len())
	}
	require.Equal(t, 1, tbl.Column(1).NullN())
	require.Equal(t, domain.StringValue(""), tbl.Value(1, 2), "empty string is not null")
}

func TestBuilderRejectsBadRows(t *testing.T) {
	b, err := ingest.NewBuilder(builderSchema(), nil)
	require.NoError(t, err)

	require.Error(t, b.Append(domain.Row{domain.UintValue(1)}))
	require.Error(t, b.Append(domain.Row{domain.StringValue("x"), domain.StringValue("y")}))
	require.Equal(t, 0, b.Rows(), "rejected rows leave no partial columns")

	tbl, err := b.Finish()
	require.NoError(t, err)
	require.Equal(t, 0, tbl.NumRows())
}

func TestBuilderIsSingleUse(t *testing.T) {
	b, err := ingest.NewBuilder(builderSchema(), nil)
	require.NoError(t, err)

	_, err = b.Finish()
	require.NoError(t, err)

	_, err = b.Finish()
	require.Error(t, err)
	require.Error(t, b.Append(domain.Row{domain.UintValue(1), domain.StringValue("a")}))
}
