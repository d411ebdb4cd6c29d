package sqlcheck

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Valid(t *testing.T) {
	for _, q := range []string{
		`SELECT "Id", "ClassId" FROM "ts_Element" WHERE "Id" = ?`,
		`INSERT INTO "ts_Element" ("Id", "Code") VALUES (?, ?)`,
		`DELETE FROM "ts_Element" WHERE "ClassId" = 2`,
	} {
		assert.NoError(t, Validate(q), q)
	}
}

func TestValidate_Broken(t *testing.T) {
	err := Validate(`SELEC "Id" FROM`)
	require.Error(t, err)
	var se *SyntaxError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, `SELEC "Id" FROM`, se.SQL)
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, `SELECT NULL, '?', "a?b" WHERE x = NULL`,
		placeholders(`SELECT ?, '?', "a?b" WHERE x = ?`))
}
