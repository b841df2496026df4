package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeRoot runs a fresh root command so flag state cannot leak
// between cases.
func executeRoot(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), errOut.String(), err
}

func TestBadInvocations(t *testing.T) {
	t.Run("missing master role", func(t *testing.T) {
		_, _, err := executeRoot(t, "list_buckets")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "master-role")
	})

	t.Run("missing payload", func(t *testing.T) {
		_, _, err := executeRoot(t, "-r", "OrgAccessRole")
		require.Error(t, err)
	})

	t.Run("unknown payload lists known ones", func(t *testing.T) {
		_, _, err := executeRoot(t, "-r", "OrgAccessRole", "no_such_payload")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no_such_payload")
		assert.Contains(t, err.Error(), "list_buckets")
	})

	t.Run("unknown service", func(t *testing.T) {
		_, _, err := executeRoot(t, "-r", "OrgAccessRole", "--service", "nosuchservice", "list_buckets")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown service")
	})

	t.Run("regions and service are exclusive", func(t *testing.T) {
		_, _, err := executeRoot(t, "-r", "OrgAccessRole",
			"--regions", "us-east-1", "--service", "iam", "list_buckets")
		require.Error(t, err)
	})

	t.Run("missing plugin file", func(t *testing.T) {
		_, _, err := executeRoot(t, "-r", "OrgAccessRole",
			"-f", "/does/not/exist.so", "list_buckets")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "payload plugin")
	})

	t.Run("bad format", func(t *testing.T) {
		_, _, err := executeRoot(t, "-r", "OrgAccessRole", "--format", "xml", "list_buckets")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid format")
	})
}

func TestVersionFlag(t *testing.T) {
	out, _, err := executeRoot(t, "-V")
	require.NoError(t, err)
	assert.Contains(t, out, "orgcrawler")
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []string{"b", "c"}, intersect([]string{"a", "b", "c"}, []string{"c", "b", "d"}))
	assert.Empty(t, intersect([]string{"a"}, []string{"b"}))
}

func TestLongHelpListsBuiltins(t *testing.T) {
	help := longHelp()
	assert.Contains(t, help, "list_buckets")
	assert.Contains(t, help, "set_account_alias")
}
