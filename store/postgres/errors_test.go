package postgres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/examcache"
)

func TestMapErr(t *testing.T) {
	assert.NoError(t, mapErr(nil))
	assert.ErrorIs(t, mapErr(fmt.Errorf("scan: %w", pgx.ErrNoRows)), examcache.ErrNotFound)

	dup := &pgconn.PgError{Code: pgerrcode.UniqueViolation, ConstraintName: "users_name_live_key"}
	err := mapErr(fmt.Errorf("exec: %w", dup))
	assert.ErrorIs(t, err, examcache.ErrConflict)
	var pg *pgconn.PgError
	require.ErrorAs(t, err, &pg)
	assert.Equal(t, "users_name_live_key", pg.ConstraintName)
	assert.Contains(t, err.Error(), "users_name_live_key")

	fk := &pgconn.PgError{Code: pgerrcode.ForeignKeyViolation, ConstraintName: "exam_questions_exam_id_fkey"}
	err = mapErr(fk)
	assert.ErrorIs(t, err, examcache.ErrNotFound)
	assert.False(t, errors.Is(err, examcache.ErrConflict))
	assert.Contains(t, err.Error(), "exam_questions_exam_id_fkey")

	other := &pgconn.PgError{Code: pgerrcode.CheckViolation}
	assert.False(t, errors.Is(mapErr(other), examcache.ErrConflict))
	assert.Same(t, other, mapErr(other))
}

func TestMigrationNamesSorted(t *testing.T) {
	names, err := migrationNames(migrationFiles)
	require.NoError(t, err)
	require.NotEmpty(t, names)
	assert.Equal(t, "0001_users.sql", names[0])
	for i := 1; i < len(names); i++ {
		assert.Less(t, names[i-1], names[i])
	}
}
