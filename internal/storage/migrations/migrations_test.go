package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitStatements(t *testing.T) {
	input := `-- header comment
CREATE TABLE a (x UInt8) ENGINE = Memory;

-- second
CREATE TABLE b (y String) ENGINE = Memory;
`
	stmts := splitStatements(input)
	require.Len(t, stmts, 2)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE a"))
	assert.True(t, strings.HasPrefix(stmts[1], "CREATE TABLE b"))
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT 'a''b' FROM t;`))
	assert.NoError(t, validateNoSemicolonInStrings(`SELECT toDateTime64(0, 3, 'UTC');`))
	assert.Error(t, validateNoSemicolonInStrings(`SELECT 'a;b' FROM t;`))
}

func TestLoad(t *testing.T) {
	pg, err := Load(Postgres)
	require.NoError(t, err)
	require.NotEmpty(t, pg)
	assert.Equal(t, "001_audit.sql", pg[0].Version)
	assert.Len(t, pg[0].Statements, 1, "postgres files run as one batch")

	ch, err := Load(Clickhouse)
	require.NoError(t, err)
	require.NotEmpty(t, ch)
	assert.Equal(t, "001_executions.sql", ch[0].Version)
	assert.Len(t, ch[0].Statements, 3)
	for _, stmt := range ch[0].Statements {
		assert.NotContains(t, stmt, ";")
		assert.NotContains(t, stmt, "--")
	}

	_, err = Load("sqlite")
	assert.Error(t, err)
}

type fakeTarget struct {
	applied  map[string]bool
	ran      []string
	failOn   string
	prepared bool
}

func (f *fakeTarget) Prepare(context.Context) error {
	f.prepared = true
	return nil
}

func (f *fakeTarget) Applied(context.Context) (map[string]bool, error) {
	return f.applied, nil
}

func (f *fakeTarget) Apply(_ context.Context, m Migration) error {
	if m.Version == f.failOn {
		return errors.New("syntax error")
	}
	f.ran = append(f.ran, m.Version)
	return nil
}

func TestRun_AppliesPending(t *testing.T) {
	target := &fakeTarget{applied: map[string]bool{}}

	ran, err := Run(context.Background(), Postgres, target, nil)
	require.NoError(t, err)
	assert.True(t, target.prepared)
	assert.Equal(t, []string{"001_audit.sql"}, ran)
	assert.Equal(t, ran, target.ran)
}

func TestRun_SkipsApplied(t *testing.T) {
	target := &fakeTarget{applied: map[string]bool{"001_executions.sql": true}}

	ran, err := Run(context.Background(), Clickhouse, target, nil)
	require.NoError(t, err)
	assert.Empty(t, ran)
	assert.Empty(t, target.ran)
}

func TestRun_StopsOnFailure(t *testing.T) {
	target := &fakeTarget{applied: map[string]bool{}, failOn: "001_audit.sql"}

	_, err := Run(context.Background(), Postgres, target, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "001_audit.sql")
}
