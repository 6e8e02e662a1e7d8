package main

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"thumbnail-service/internal/logging"
	"thumbnail-service/internal/models"
	"thumbnail-service/internal/store"
)

func TestListAndReset(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewFileSystem(t.TempDir(), logging.Discard())
	require.NoError(t, err)

	id, err := st.Enqueue(ctx, []byte("img"))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, run(ctx, st, []string{"list"}, &out))
	assert.Contains(t, out.String(), "Processing (1)\n  "+id+"\n")
	assert.Contains(t, out.String(), "Succeeded (0)")

	out.Reset()
	require.NoError(t, run(ctx, st, []string{"list", "-json"}, &out))
	var groups models.StatusGroups
	require.NoError(t, json.Unmarshal(out.Bytes(), &groups))
	assert.Equal(t, []string{id}, groups[models.StatusProcessing])

	assert.Error(t, run(ctx, st, []string{"reset"}, &out))
	status, err := st.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, status)

	require.NoError(t, run(ctx, st, []string{"reset", "-yes"}, &out))
	status, err = st.StatusOf(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusNotFound, status)
}

func TestUsage(t *testing.T) {
	st, err := store.NewFileSystem(t.TempDir(), logging.Discard())
	require.NoError(t, err)
	var out bytes.Buffer
	assert.ErrorIs(t, run(context.Background(), st, nil, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), st, []string{"drop"}, &out), errUsage)
	assert.ErrorIs(t, run(context.Background(), st, []string{"list", "-bogus"}, &out), errUsage)
}
