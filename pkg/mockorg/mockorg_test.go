package mockorg

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
)

func TestAccountSpecForms(t *testing.T) {
	var spec OrgSpec
	require.NoError(t, yaml.Unmarshal([]byte(SimpleOrgSpec), &spec))

	require.Len(t, spec.Root.Accounts, 3)
	assert.Equal(t, "account01", spec.Root.Accounts[0].Name)
	assert.Equal(t, []string{"policy02"}, spec.Root.Accounts[0].Policies)
	assert.Equal(t, "account02", spec.Root.Accounts[1].Name)
	assert.Empty(t, spec.Root.Accounts[1].Policies)
}

func TestPopulateSimpleOrg(t *testing.T) {
	server := NewServer(MasterAccountID)
	require.NoError(t, server.Populate(SimpleOrgSpec))

	assert.Len(t, server.accounts, 3)
	assert.Len(t, server.ous, 6)
	assert.Len(t, server.policies, 3)

	var names []string
	var token *string
	pages := 0
	for {
		output, err := server.ListAccounts(context.Background(), &organizations.ListAccountsInput{NextToken: token})
		require.NoError(t, err)
		pages++
		for _, entry := range output.Accounts {
			names = append(names, aws.ToString(entry.Name))
		}
		if output.NextToken == nil {
			break
		}
		token = output.NextToken
	}
	assert.ElementsMatch(t, []string{"account01", "account02", "account03"}, names)
	assert.Equal(t, 2, pages, "three accounts should span two pages")
}

func TestPopulateComplexOrg(t *testing.T) {
	server := NewServer(MasterAccountID)
	require.NoError(t, server.Populate(ComplexOrgSpec))

	assert.Len(t, server.accounts, 13)
	assert.Len(t, server.ous, 6)
	assert.Len(t, server.policies, 6)

	var policy05 *serverPolicy
	for _, policy := range server.policies {
		if policy.name == "policy05" {
			policy05 = policy
		}
	}
	require.NotNil(t, policy05)
	assert.Len(t, policy05.targets, 2, "policy05 attaches to an OU and an account")
}

func TestAssumeRole(t *testing.T) {
	server := NewServer(MasterAccountID)
	require.NoError(t, server.Populate(SimpleOrgSpec))
	ctx := context.Background()

	accountID := server.accounts[0].id
	output, err := server.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String("arn:aws:iam::" + accountID + ":role/OrgAccessRole"),
		RoleSessionName: aws.String(accountID + "-OrgAccessRole"),
	})
	require.NoError(t, err)
	assert.Equal(t, "ASIA"+accountID, aws.ToString(output.Credentials.AccessKeyId))

	_, err = server.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String("arn:aws:iam::999999999999:role/OrgAccessRole"),
		RoleSessionName: aws.String("unknown"),
	})
	require.Error(t, err)
	assert.True(t, awsauth.IsAccessDenied(err))

	server.DenyAssumeRole(accountID)
	_, err = server.AssumeRole(ctx, &sts.AssumeRoleInput{
		RoleArn:         aws.String("arn:aws:iam::" + accountID + ":role/OrgAccessRole"),
		RoleSessionName: aws.String("denied"),
	})
	require.Error(t, err)
	assert.True(t, awsauth.IsAccessDenied(err))
}

func TestThrottleNext(t *testing.T) {
	server := NewServer(MasterAccountID)
	server.ThrottleNext(2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := server.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
		require.Error(t, err)
		assert.True(t, awsauth.IsThrottled(err))
	}
	_, err := server.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	assert.NoError(t, err)
}
