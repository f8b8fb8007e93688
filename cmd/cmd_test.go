package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurou927/xmlshred/internal/config"
	"github.com/hurou927/xmlshred/internal/names"
)

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "xmlshred.yaml")
	require.NoError(t, writeDefaultConfig(path, false))

	err := writeDefaultConfig(path, false)
	assert.ErrorIs(t, err, os.ErrExist)
	assert.NoError(t, writeDefaultConfig(path, true))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "hierarchical", cfg.Model.Kind)
}

func TestEngineOptions(t *testing.T) {
	cfg := config.Default()
	cfg.Model.Kind = "key-value"
	cfg.Model.NamePolicy = "truncate"
	cfg.Source.Provider = "acme"

	opts := engineOptions(cfg, nil, nil, nil)
	assert.Equal(t, "key-value", opts.Model)
	assert.Equal(t, names.Truncate, opts.NamePolicy)
	assert.Equal(t, 63, opts.MaxNameLength)
	assert.Equal(t, "acme", opts.Provider)
	assert.True(t, opts.UseForeignKeys)
}

func TestLoadConfigsAppliesOverrides(t *testing.T) {
	t.Setenv("XMLSHRED_SOURCE_FOLDER", "/data/xml")
	path := filepath.Join(t.TempDir(), "a.yaml")
	require.NoError(t, os.WriteFile(path, []byte("repository:\n  user: shredder\n"), 0o644))

	cfgs, err := loadConfigs([]string{path}, config.NewViper())
	require.NoError(t, err)
	require.Len(t, cfgs, 1)
	assert.Equal(t, "/data/xml", cfgs[0].Source.Folder)
	assert.NoError(t, cfgs[0].ValidateForShred())
}

func TestRunAllKeepsOtherJobsRunning(t *testing.T) {
	failed := make(chan struct{})
	var otherErr error
	err := runAll(context.Background(), 2, func(ctx context.Context, i int) error {
		if i == 0 {
			defer close(failed)
			return errors.New("repository unreachable")
		}
		<-failed
		otherErr = ctx.Err()
		return nil
	})
	assert.EqualError(t, err, "repository unreachable")
	assert.NoError(t, otherErr)
}
