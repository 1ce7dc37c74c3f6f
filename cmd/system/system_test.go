package system

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenDocs_WritesCommandTree(t *testing.T) {
	dir := t.TempDir()
	root := &cobra.Command{Use: "keystone"}
	root.AddCommand(NewSystemCommand())
	root.SetArgs([]string{"system", "gendocs", "--outdir", dir})

	require.NoError(t, root.Execute())

	for _, name := range []string{"keystone_system.md", "keystone_system_migrate.md", "keystone_system_migrate_down.md"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestMigrateDown_StepsFlag(t *testing.T) {
	down := newMigrateDownCommand()
	steps, err := down.Flags().GetInt("steps")
	require.NoError(t, err)
	assert.Equal(t, 1, steps)
}
