package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchemaCmd_Prints(t *testing.T) {
	t.Chdir(t.TempDir())
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"schema", "--log-level", "error"})

	require.NoError(t, root.ExecuteContext(context.Background()))
	assert.Contains(t, out.String(), "type <Source> {")
	assert.Contains(t, out.String(), "<unique_name>")
}

func TestServeCmd_RequiresSecret(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INVENTORY_AUTH_JWT_SECRET", "")
	root := newRootCmd()
	root.SetArgs([]string{"serve", "--memory"})
	root.SetErr(&bytes.Buffer{})

	err := root.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret")
}
