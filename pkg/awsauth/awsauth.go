// Package awsauth mints the short-lived per-account credentials the rest
// of the system runs on. Everything here goes through an STS client subset
// so tests can substitute an in-memory implementation.
package awsauth

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

const (
	// DefaultRetryCap bounds throttle retries on STS calls.
	DefaultRetryCap = 4

	// DefaultRetryWait is the pause between throttle retries.
	DefaultRetryWait = time.Second
)

// Credentials is the opaque bundle returned by an assume-role exchange.
// It is never serialized; cached organization dumps carry empty bundles.
type Credentials struct {
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string
	Expiration      time.Time
}

// Empty reports whether the bundle carries no usable key material.
func (c Credentials) Empty() bool {
	return c.AccessKeyID == "" && c.SecretAccessKey == "" && c.SessionToken == ""
}

// STSAPI is the subset of the STS client the broker uses.
type STSAPI interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// OrganizationDescriber is the slice of the Organizations API needed for
// master account discovery.
type OrganizationDescriber interface {
	DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
}

// Broker exchanges the caller's identity for per-account role credentials.
type Broker struct {
	client    STSAPI
	retryCap  int
	retryWait time.Duration
	logger    *slog.Logger
}

// Option configures a Broker.
type Option func(*Broker)

// WithRetry overrides the throttle retry budget and pause.
func WithRetry(cap int, wait time.Duration) Option {
	return func(b *Broker) {
		b.retryCap = cap
		b.retryWait = wait
	}
}

// WithLogger overrides the broker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		b.logger = logger
	}
}

// NewBroker returns a Broker backed by the given STS client.
func NewBroker(client STSAPI, opts ...Option) *Broker {
	b := &Broker{
		client:    client,
		retryCap:  DefaultRetryCap,
		retryWait: DefaultRetryWait,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// RoleARN builds the canonical ARN for a named role in an account.
func RoleARN(accountID, roleName string) string {
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", accountID, roleName)
}

// SessionName derives the role session name for an assume-role exchange:
// the account id joined to the last path segment of the role name.
func SessionName(accountID, roleName string) string {
	return fmt.Sprintf("%s-%s", accountID, path.Base(roleName))
}

// AssumeRole assumes roleName in the target account and returns its
// temporary credentials. Throttled requests are retried per the broker's
// retry budget; all other failures propagate to the caller, which can
// classify them with IsAccessDenied and friends.
func (b *Broker) AssumeRole(ctx context.Context, accountID, roleName string) (Credentials, error) {
	roleARN := RoleARN(accountID, roleName)
	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(roleARN),
		RoleSessionName: aws.String(SessionName(accountID, roleName)),
	}

	var output *sts.AssumeRoleOutput
	err := RetryThrottled(ctx, b.retryCap, b.retryWait, func() error {
		var err error
		output, err = b.client.AssumeRole(ctx, input)
		return err
	})
	if err != nil {
		return Credentials{}, fmt.Errorf("assume role %s: %w", roleARN, err)
	}

	creds := output.Credentials
	bundle := Credentials{
		AccessKeyID:     aws.ToString(creds.AccessKeyId),
		SecretAccessKey: aws.ToString(creds.SecretAccessKey),
		SessionToken:    aws.ToString(creds.SessionToken),
	}
	if creds.Expiration != nil {
		bundle.Expiration = *creds.Expiration
	}
	b.logger.Debug("assumed role", "arn", roleARN, "expires", bundle.Expiration)
	return bundle, nil
}

// CallerAccountID returns the account id of the broker's own identity.
func (b *Broker) CallerAccountID(ctx context.Context) (string, error) {
	output, err := b.client.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("get caller identity: %w", err)
	}
	return aws.ToString(output.Account), nil
}

// DiscoverMasterAccountID resolves the organization's management account:
// learn the caller's own account, assume roleName there, and ask the
// Organizations service who owns the organization. newClient builds an
// organization client from the assumed credentials.
func (b *Broker) DiscoverMasterAccountID(ctx context.Context, roleName string, newClient func(Credentials) OrganizationDescriber) (string, error) {
	accountID, err := b.CallerAccountID(ctx)
	if err != nil {
		return "", err
	}

	creds, err := b.AssumeRole(ctx, accountID, roleName)
	if err != nil {
		return "", err
	}

	output, err := newClient(creds).DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
	if err != nil {
		return "", fmt.Errorf("describe organization: %w", err)
	}
	return aws.ToString(output.Organization.MasterAccountId), nil
}
