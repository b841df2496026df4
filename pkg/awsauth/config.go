package awsauth

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"

	"github.com/praetorian-inc/orgcrawler/internal/logs"
)

// ConfigOptions selects how the base AWS config is loaded.
type ConfigOptions struct {
	// Region for API calls. Empty falls through to the shared config chain.
	Region string

	// Profile names a shared config profile. Empty uses the default chain.
	Profile string

	// Debug turns on SDK wire logging through the process logger.
	Debug bool
}

// LoadConfig builds the base AWS config from the default credential chain,
// with adaptive retry mode and optional wire logging.
func LoadConfig(ctx context.Context, opts ConfigOptions) (aws.Config, error) {
	loadOpts := []func(*config.LoadOptions) error{
		config.WithRetryMode(aws.RetryModeAdaptive),
	}
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	if opts.Profile != "" {
		loadOpts = append(loadOpts, config.WithSharedConfigProfile(opts.Profile))
	}
	if opts.Debug {
		loadOpts = append(loadOpts,
			config.WithClientLogMode(aws.LogRetries|aws.LogRequest),
			config.WithLogger(logs.SDKLogger()),
		)
	}
	return config.LoadDefaultConfig(ctx, loadOpts...)
}

// ConfigFor derives a per-account config from the base one, swapping in
// assumed-role credentials and an optional region. The base config is not
// modified; payloads build their service clients from the copy.
func ConfigFor(base aws.Config, region string, creds Credentials) aws.Config {
	cfg := base.Copy()
	if region != "" {
		cfg.Region = region
	}
	cfg.Credentials = credentials.NewStaticCredentialsProvider(
		creds.AccessKeyID, creds.SecretAccessKey, creds.SessionToken)
	return cfg
}
