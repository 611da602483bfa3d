package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveStatementTimeoutMS(t *testing.T) {
	tests := []struct {
		name    string
		in      int
		want    int
		wantErr bool
	}{
		{name: "zero selects default", in: 0, want: defaultStatementTimeoutMS},
		{name: "explicit value", in: 45000, want: 45000},
		{name: "upper bound", in: maxStatementTimeoutMS, want: maxStatementTimeoutMS},
		{name: "negative", in: -1, wantErr: true},
		{name: "above bound", in: maxStatementTimeoutMS + 1, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveStatementTimeoutMS(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "out of allowed range")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAppendStatementTimeout(t *testing.T) {
	assert.Equal(t,
		"postgres://u@h/db?options=-c%20statement_timeout%3D5000",
		appendStatementTimeout("postgres://u@h/db", 5000))
	assert.Equal(t,
		"postgres://u@h/db?sslmode=disable&options=-c%20statement_timeout%3D5000",
		appendStatementTimeout("postgres://u@h/db?sslmode=disable", 5000))
}

func TestRunMigrations_EmptyDir(t *testing.T) {
	// Fails before touching the connection.
	db := &DB{}
	err := db.RunMigrations(context.Background(), t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no migrations found")
}
