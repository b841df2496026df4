package awsauth

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	orgtypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSTS struct {
	account      string
	throttleLeft int
	denyRoleARN  string
	calls        int
	lastInput    *sts.AssumeRoleInput
}

func (f *fakeSTS) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	f.calls++
	f.lastInput = params
	if f.throttleLeft > 0 {
		f.throttleLeft--
		return nil, &smithy.GenericAPIError{Code: "Throttling", Message: "rate exceeded"}
	}
	if f.denyRoleARN != "" && aws.ToString(params.RoleArn) == f.denyRoleARN {
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "not authorized"}
	}
	return &sts.AssumeRoleOutput{
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("AKIA-" + aws.ToString(params.RoleSessionName)),
			SecretAccessKey: aws.String("secret"),
			SessionToken:    aws.String("token"),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

func (f *fakeSTS) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(f.account),
		Arn:     aws.String(fmt.Sprintf("arn:aws:iam::%s:user/tester", f.account)),
	}, nil
}

type fakeOrgDescriber struct {
	masterID string
}

func (f *fakeOrgDescriber) DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error) {
	return &organizations.DescribeOrganizationOutput{
		Organization: &orgtypes.Organization{
			MasterAccountId: aws.String(f.masterID),
		},
	}, nil
}

func TestRoleARNAndSessionName(t *testing.T) {
	tests := []struct {
		name        string
		accountID   string
		roleName    string
		wantARN     string
		wantSession string
	}{
		{
			name:        "plain role",
			accountID:   "123456789012",
			roleName:    "myrole",
			wantARN:     "arn:aws:iam::123456789012:role/myrole",
			wantSession: "123456789012-myrole",
		},
		{
			name:        "role with path",
			accountID:   "112233445566",
			roleName:    "admins/ops-role",
			wantARN:     "arn:aws:iam::112233445566:role/admins/ops-role",
			wantSession: "112233445566-ops-role",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantARN, RoleARN(tt.accountID, tt.roleName))
			assert.Equal(t, tt.wantSession, SessionName(tt.accountID, tt.roleName))
		})
	}
}

func TestAssumeRole(t *testing.T) {
	client := &fakeSTS{account: "123456789012"}
	broker := NewBroker(client)

	creds, err := broker.AssumeRole(context.Background(), "112233445566", "myrole")
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:iam::112233445566:role/myrole", aws.ToString(client.lastInput.RoleArn))
	assert.Equal(t, "112233445566-myrole", aws.ToString(client.lastInput.RoleSessionName))
	assert.False(t, creds.Empty())
	assert.Equal(t, "AKIA-112233445566-myrole", creds.AccessKeyID)
	assert.Equal(t, "secret", creds.SecretAccessKey)
	assert.Equal(t, "token", creds.SessionToken)
	assert.False(t, creds.Expiration.IsZero())
}

func TestAssumeRoleRetriesThrottling(t *testing.T) {
	client := &fakeSTS{account: "123456789012", throttleLeft: 2}
	broker := NewBroker(client, WithRetry(4, time.Millisecond))

	creds, err := broker.AssumeRole(context.Background(), "112233445566", "myrole")
	require.NoError(t, err)
	assert.False(t, creds.Empty())
	assert.Equal(t, 3, client.calls)
}

func TestAssumeRoleExhaustsRetryBudget(t *testing.T) {
	client := &fakeSTS{account: "123456789012", throttleLeft: 10}
	broker := NewBroker(client, WithRetry(2, time.Millisecond))

	_, err := broker.AssumeRole(context.Background(), "112233445566", "myrole")
	require.Error(t, err)
	assert.True(t, IsThrottled(err))
	assert.Equal(t, 3, client.calls)
}

func TestAssumeRoleAccessDenied(t *testing.T) {
	client := &fakeSTS{
		account:     "123456789012",
		denyRoleARN: "arn:aws:iam::999999999999:role/myrole",
	}
	broker := NewBroker(client)

	_, err := broker.AssumeRole(context.Background(), "999999999999", "myrole")
	require.Error(t, err)
	assert.True(t, IsAccessDenied(err))
	assert.False(t, IsThrottled(err))
}

func TestCallerAccountID(t *testing.T) {
	broker := NewBroker(&fakeSTS{account: "123456789012"})
	id, err := broker.CallerAccountID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id)
}

func TestDiscoverMasterAccountID(t *testing.T) {
	broker := NewBroker(&fakeSTS{account: "210987654321"})
	describer := &fakeOrgDescriber{masterID: "123456789012"}

	id, err := broker.DiscoverMasterAccountID(context.Background(), "myrole", func(creds Credentials) OrganizationDescriber {
		assert.False(t, creds.Empty())
		return describer
	})
	require.NoError(t, err)
	assert.Equal(t, "123456789012", id)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		denied   bool
		expired  bool
		throttle bool
	}{
		{
			name:   "access denied",
			err:    &smithy.GenericAPIError{Code: "AccessDeniedException"},
			denied: true,
		},
		{
			name:    "expired token",
			err:     &smithy.GenericAPIError{Code: "ExpiredToken"},
			expired: true,
		},
		{
			name:     "throttled",
			err:      &smithy.GenericAPIError{Code: "TooManyRequestsException"},
			throttle: true,
		},
		{
			name:   "wrapped access denied",
			err:    fmt.Errorf("assume role: %w", &smithy.GenericAPIError{Code: "AccessDenied"}),
			denied: true,
		},
		{
			name: "plain error",
			err:  fmt.Errorf("connection reset"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.denied, IsAccessDenied(tt.err))
			assert.Equal(t, tt.expired, IsExpiredToken(tt.err))
			assert.Equal(t, tt.throttle, IsThrottled(tt.err))
		})
	}
}

func TestRetryThrottledStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := RetryThrottled(ctx, 4, time.Minute, func() error {
		calls++
		return &smithy.GenericAPIError{Code: "Throttling"}
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestConfigFor(t *testing.T) {
	base := aws.Config{Region: "us-east-1"}
	creds := Credentials{
		AccessKeyID:     "AKIAEXAMPLE",
		SecretAccessKey: "secret",
		SessionToken:    "token",
	}

	cfg := ConfigFor(base, "us-west-2", creds)
	assert.Equal(t, "us-west-2", cfg.Region)
	assert.Equal(t, "us-east-1", base.Region)

	got, err := cfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "AKIAEXAMPLE", got.AccessKeyID)
	assert.Equal(t, "secret", got.SecretAccessKey)
	assert.Equal(t, "token", got.SessionToken)
}
