package orgs_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/mockorg"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

const accessRole = "OrgAccessRole"

func newTestOrg(t *testing.T, cacheDir string, opts ...orgs.Option) *orgs.Organization {
	t.Helper()
	base := []orgs.Option{
		orgs.WithCacheDir(cacheDir),
		orgs.WithRetry(4, time.Millisecond),
	}
	return orgs.New(mockorg.MasterAccountID, accessRole, append(base, opts...)...)
}

func loadOrg(t *testing.T, spec string) (*orgs.Organization, *mockorg.Server) {
	t.Helper()
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(spec))
	org := newTestOrg(t, t.TempDir())
	require.NoError(t, org.Load(context.Background(), server))
	return org, server
}

func TestLoadSimpleOrg(t *testing.T) {
	org, server := loadOrg(t, mockorg.SimpleOrgSpec)

	assert.Equal(t, server.OrgID(), org.ID)
	assert.Equal(t, server.RootID(), org.RootID)
	assert.Equal(t, mockorg.MasterAccountID, org.MasterAccountID)
	assert.Len(t, org.Accounts, 3)
	assert.Len(t, org.OrgUnits, 6)
	assert.Len(t, org.Policies, 3)

	names := org.ListAccountsByName()
	sort.Strings(names)
	assert.Equal(t, []string{"account01", "account02", "account03"}, names)

	account01 := org.GetAccount("account01")
	require.NotNil(t, account01)
	assert.Equal(t, "account01@example.org", account01.Email)
	assert.Equal(t, org.RootID, account01.ParentID)
	require.Len(t, account01.AttachedPolicyIDs, 1)

	policies := org.GetPoliciesForTarget("account01")
	require.Len(t, policies, 1)
	assert.Equal(t, "policy02", policies[0].Name)

	ou01 := org.GetOrgUnit("ou01")
	sub := org.GetOrgUnit("ou01-sub0")
	require.NotNil(t, ou01)
	require.NotNil(t, sub)
	assert.Equal(t, ou01.ID, sub.ParentID)
}

func TestLoadInvariants(t *testing.T) {
	for _, tc := range []struct {
		name string
		spec string
	}{
		{"simple", mockorg.SimpleOrgSpec},
		{"complex", mockorg.ComplexOrgSpec},
	} {
		t.Run(tc.name, func(t *testing.T) {
			org, _ := loadOrg(t, tc.spec)

			ouIDs := map[string]bool{}
			for _, ou := range org.OrgUnits {
				ouIDs[ou.ID] = true
			}
			accountIDs := map[string]bool{}
			for _, account := range org.Accounts {
				accountIDs[account.ID] = true
			}
			policyIDs := map[string]bool{}
			for _, policy := range org.Policies {
				policyIDs[policy.ID] = true
			}

			for _, account := range org.Accounts {
				assert.True(t, account.ParentID == org.RootID || ouIDs[account.ParentID],
					"account %s has parent %s outside the tree", account.Name, account.ParentID)
				for _, id := range account.AttachedPolicyIDs {
					assert.True(t, policyIDs[id])
				}
			}

			for _, ou := range org.OrgUnits {
				for _, id := range ou.AttachedPolicyIDs {
					assert.True(t, policyIDs[id])
				}
				current := ou
				steps := 0
				for current.ParentID != org.RootID {
					parent := org.GetOrgUnit(current.ParentID)
					require.NotNil(t, parent, "ou %s has dangling parent %s", current.Name, current.ParentID)
					current = parent
					steps++
					require.LessOrEqual(t, steps, len(org.OrgUnits), "parent chain does not terminate")
				}
			}

			for _, policy := range org.Policies {
				for _, target := range policy.Targets {
					valid := target.TargetID == org.RootID || ouIDs[target.TargetID] || accountIDs[target.TargetID]
					assert.True(t, valid, "policy %s targets unknown id %s", policy.Name, target.TargetID)
				}
			}
		})
	}
}

func TestListAccountsInOURecursive(t *testing.T) {
	org, _ := loadOrg(t, mockorg.ComplexOrgSpec)

	assert.Len(t, org.Accounts, 13)
	assert.Len(t, org.ListAccountsInOURecursive("ou02"), 5)
	assert.Len(t, org.ListAccountsInOURecursive("ou02-1"), 1)

	all := org.ListAccountsInOURecursive("root")
	assert.Len(t, all, len(org.Accounts), "recursion from the root reaches every account")
}

func TestAccountsForPolicyRecursive(t *testing.T) {
	org, _ := loadOrg(t, mockorg.ComplexOrgSpec)

	names := []string{}
	for _, account := range org.GetAccountsForPolicyRecursive("policy05") {
		names = append(names, account.Name)
	}
	assert.ElementsMatch(t, []string{"account07", "account09", "account10"}, names)

	allTargeted := org.GetAccountsForPolicyRecursive("policy01")
	assert.Len(t, allTargeted, len(org.Accounts), "a root policy applies to every account")
}

func TestQueries(t *testing.T) {
	org, _ := loadOrg(t, mockorg.SimpleOrgSpec)

	account01 := org.GetAccount("account01")
	require.NotNil(t, account01)

	t.Run("identifier forms", func(t *testing.T) {
		assert.Equal(t, account01, org.GetAccount(account01.ID))
		assert.Equal(t, account01, org.GetAccount(account01))
		assert.Nil(t, org.GetAccount("no-such-account"))
	})

	t.Run("alias resolution", func(t *testing.T) {
		account01.Aliases = []string{"prod-main"}
		defer func() { account01.Aliases = nil }()
		assert.Equal(t, account01, org.GetAccount("prod-main"))
	})

	t.Run("name id inversion", func(t *testing.T) {
		for _, name := range org.ListAccountsByName() {
			id := org.GetAccountIDByName(name)
			require.NotEmpty(t, id)
			assert.Equal(t, name, org.GetAccountNameByID(id))
		}
		assert.Empty(t, org.GetAccountIDByName("blee"))
	})

	t.Run("org unit resolution", func(t *testing.T) {
		ou01 := org.GetOrgUnit("ou01")
		require.NotNil(t, ou01)
		assert.Equal(t, ou01.ID, org.GetOrgUnitID("ou01"))
		assert.Equal(t, org.RootID, org.GetOrgUnitID("root"))
		assert.Equal(t, org.RootID, org.GetOrgUnitID(org.RootID))
		assert.Nil(t, org.GetOrgUnit("root"), "the root is not an OU object")
		assert.Empty(t, org.GetOrgUnitID("no-such-ou"))
	})

	t.Run("ou listings", func(t *testing.T) {
		assert.Len(t, org.ListOrgUnitsInOU("root"), 3)
		assert.Len(t, org.ListOrgUnitsInOU("ou01"), 1)
		assert.Len(t, org.ListOrgUnitsInOURecursive("root"), 6)
		assert.Len(t, org.ListAccountsInOU("root"), 3)
		assert.Empty(t, org.ListAccountsInOU("ou01"))
	})

	t.Run("policy resolution", func(t *testing.T) {
		policy01 := org.GetPolicy("policy01")
		require.NotNil(t, policy01)
		assert.Equal(t, policy01.ID, org.GetPolicyIDByName("policy01"))
		assert.Equal(t, "policy01", org.GetPolicyNameByID(policy01.ID))
		assert.Nil(t, org.GetPolicy("blee"))
	})

	t.Run("missing inputs yield empty collections", func(t *testing.T) {
		assert.Empty(t, org.ListAccountsInOU("blee"))
		assert.Empty(t, org.ListAccountsInOURecursive("blee"))
		assert.Empty(t, org.GetTargetsForPolicy("blee"))
		assert.Empty(t, org.GetPoliciesForTarget("blee"))
		assert.Empty(t, org.GetAccountsForPolicyRecursive("blee"))
	})
}

func TestPolicyTargetQueries(t *testing.T) {
	org, _ := loadOrg(t, mockorg.SimpleOrgSpec)

	targets := org.GetTargetsForPolicy("policy01")
	require.Len(t, targets, 1)
	assert.Equal(t, org.RootID, targets[0].TargetID)
	assert.Equal(t, orgs.TargetRoot, targets[0].Type)

	rootPolicies := org.GetPoliciesForTarget("root")
	require.Len(t, rootPolicies, 1)
	assert.Equal(t, "policy01", rootPolicies[0].Name)

	ouPolicies := org.GetPoliciesForTarget("ou01")
	require.Len(t, ouPolicies, 1)
	assert.Equal(t, "policy03", ouPolicies[0].Name)
}

func TestCacheRoundTrip(t *testing.T) {
	cacheDir := t.TempDir()
	ctx := context.Background()
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(mockorg.SimpleOrgSpec))

	first := newTestOrg(t, cacheDir)
	require.NoError(t, first.Load(ctx, server))
	firstDump, err := json.Marshal(first.Dump())
	require.NoError(t, err)

	// the fresh cache must mask this live change
	_, err = server.CreateAccount(ctx, &organizations.CreateAccountInput{
		AccountName: aws.String("account04"),
		Email:       aws.String("account04@example.org"),
	})
	require.NoError(t, err)

	second := newTestOrg(t, cacheDir)
	require.NoError(t, second.Load(ctx, server))
	assert.Len(t, second.Accounts, 3)

	secondDump, err := json.Marshal(second.Dump())
	require.NoError(t, err)
	assert.JSONEq(t, string(firstDump), string(secondDump))
}

func TestCacheStaleness(t *testing.T) {
	cacheDir := t.TempDir()
	ctx := context.Background()
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(mockorg.SimpleOrgSpec))

	first := newTestOrg(t, cacheDir, orgs.WithCacheMaxAge(time.Hour))
	require.NoError(t, first.Load(ctx, server))

	_, err := server.CreateAccount(ctx, &organizations.CreateAccountInput{
		AccountName: aws.String("account04"),
		Email:       aws.String("account04@example.org"),
	})
	require.NoError(t, err)

	cachePath := filepath.Join(cacheDir, "cache_file-"+mockorg.MasterAccountID)
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(cachePath, old, old))

	second := newTestOrg(t, cacheDir, orgs.WithCacheMaxAge(time.Hour))
	require.NoError(t, second.Load(ctx, server))
	assert.Len(t, second.Accounts, 4, "a stale cache must trigger live rediscovery")
}

func TestDumpExcludesCredentials(t *testing.T) {
	org, _ := loadOrg(t, mockorg.SimpleOrgSpec)
	org.Accounts[0].Credentials = awsauth.Credentials{
		AccessKeyID:     "ASIA112233000001",
		SecretAccessKey: "very-secret",
		SessionToken:    "session-token",
	}

	content, err := json.Marshal(org.Dump())
	require.NoError(t, err)
	assert.NotContains(t, string(content), "very-secret")
	assert.NotContains(t, string(content), "credentials")
}

func TestLoadRetriesThrottling(t *testing.T) {
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(mockorg.SimpleOrgSpec))
	server.ThrottleNext(3)

	org := newTestOrg(t, t.TempDir())
	require.NoError(t, org.Load(context.Background(), server))
	assert.Len(t, org.Accounts, 3)
}

func TestLoadSurfacesExhaustedRetries(t *testing.T) {
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(mockorg.SimpleOrgSpec))
	server.ThrottleNext(10)

	org := orgs.New(mockorg.MasterAccountID, accessRole,
		orgs.WithCacheDir(t.TempDir()),
		orgs.WithRetry(2, time.Millisecond))
	err := org.Load(context.Background(), server)
	require.Error(t, err)
	assert.True(t, awsauth.IsThrottled(err))
}

func TestLoadDropsIncompleteAccounts(t *testing.T) {
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(mockorg.SimpleOrgSpec))
	server.AddIncompleteAccount()

	org := newTestOrg(t, t.TempDir())
	require.NoError(t, org.Load(context.Background(), server))
	assert.Len(t, org.Accounts, 3, "nameless accounts are still provisioning and are skipped")
}

func TestClearCache(t *testing.T) {
	cacheDir := t.TempDir()
	server := mockorg.NewServer(mockorg.MasterAccountID)
	require.NoError(t, server.Populate(mockorg.SimpleOrgSpec))

	org := newTestOrg(t, cacheDir)
	require.NoError(t, org.Load(context.Background(), server))

	cachePath := filepath.Join(cacheDir, "cache_file-"+mockorg.MasterAccountID)
	_, err := os.Stat(cachePath)
	require.NoError(t, err)

	require.NoError(t, org.ClearCache())
	_, err = os.Stat(cachePath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, org.ClearCache(), "clearing an absent cache is not an error")
}
