package payloads

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/orgcrawler/pkg/crawler"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

func TestRegistry(t *testing.T) {
	names := Names()
	assert.True(t, sort.StringsAreSorted(names))
	assert.Contains(t, names, "list_buckets")
	assert.Contains(t, names, "set_account_alias")

	payload, err := Get("list_iam_users")
	require.NoError(t, err)
	assert.Equal(t, "list_iam_users", payload.Name)
	assert.NotNil(t, payload.Call)

	_, err = Get("no_such_payload")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_payload")
	assert.Contains(t, err.Error(), "list_buckets")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	noop := func(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
		return nil, nil
	}
	Register("duplicate_probe", noop)
	assert.Panics(t, func() { Register("duplicate_probe", noop) })
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want crawler.Args
	}{
		{
			name: "empty",
			raw:  nil,
			want: crawler.Args{Named: map[string]string{}},
		},
		{
			name: "positional only",
			raw:  []string{"one", "two"},
			want: crawler.Args{Positional: []string{"one", "two"}, Named: map[string]string{}},
		},
		{
			name: "named only",
			raw:  []string{"bucket=logs", "prefix=2024/"},
			want: crawler.Args{Named: map[string]string{"bucket": "logs", "prefix": "2024/"}},
		},
		{
			name: "mixed",
			raw:  []string{"first", "mode=fast", "last"},
			want: crawler.Args{Positional: []string{"first", "last"}, Named: map[string]string{"mode": "fast"}},
		},
		{
			name: "value containing equals",
			raw:  []string{"query=a=b"},
			want: crawler.Args{Named: map[string]string{"query": "a=b"}},
		},
		{
			name: "leading equals stays positional",
			raw:  []string{"=oops"},
			want: crawler.Args{Positional: []string{"=oops"}, Named: map[string]string{}},
		},
		{
			name: "empty value",
			raw:  []string{"flag="},
			want: crawler.Args{Named: map[string]string{"flag": ""}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseArgs(tt.raw))
		})
	}
}

func TestPluginName(t *testing.T) {
	assert.Equal(t, "list_widgets", pluginName("/tmp/builds/list_widgets.so"))
	assert.Equal(t, "probe", pluginName("probe"))
}
