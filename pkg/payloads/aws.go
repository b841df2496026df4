package payloads

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudformation"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatchlogs"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/crawler"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

func init() {
	Register("set_account_alias", SetAccountAlias)
	Register("get_account_aliases", GetAccountAliases)
	Register("list_iam_users", ListIAMUsers)
	Register("list_buckets", ListBuckets)
	Register("list_ec2_instances", ListEC2Instances)
	Register("list_lambda_functions", ListLambdaFunctions)
	Register("list_sns_topics", ListSNSTopics)
	Register("list_sqs_queues", ListSQSQueues)
	Register("list_secrets", ListSecrets)
	Register("list_log_groups", ListLogGroups)
	Register("list_rds_instances", ListRDSInstances)
	Register("list_stacks", ListStacks)
	Register("list_kms_keys", ListKMSKeys)
}

// config builds a per-account client configuration for one task from the
// credentials the crawler loaded.
func config(region string, account *orgs.Account) aws.Config {
	return awsauth.ConfigFor(aws.Config{}, region, account.Credentials)
}

// SetAccountAlias assigns the first positional argument as the account
// alias, defaulting to "alias-<account name>".
func SetAccountAlias(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	alias := "alias-" + account.Name
	if len(args.Positional) > 0 {
		alias = args.Positional[0]
	}
	client := iam.NewFromConfig(config(region, account))
	_, err := client.CreateAccountAlias(ctx, &iam.CreateAccountAliasInput{
		AccountAlias: aws.String(alias),
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"Alias": []string{alias}}, nil
}

// GetAccountAliases reads back the account's alias list.
func GetAccountAliases(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := iam.NewFromConfig(config(region, account))
	output, err := client.ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
	if err != nil {
		return nil, err
	}
	return map[string]any{"Aliases": output.AccountAliases}, nil
}

func ListIAMUsers(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := iam.NewFromConfig(config(region, account))
	var users []string
	paginator := iam.NewListUsersPaginator(client, &iam.ListUsersInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, user := range page.Users {
			users = append(users, aws.ToString(user.UserName))
		}
	}
	return map[string]any{"Users": users}, nil
}

func ListBuckets(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := s3.NewFromConfig(config(region, account))
	output, err := client.ListBuckets(ctx, &s3.ListBucketsInput{})
	if err != nil {
		return nil, err
	}
	var buckets []string
	for _, bucket := range output.Buckets {
		buckets = append(buckets, aws.ToString(bucket.Name))
	}
	return map[string]any{"Buckets": buckets}, nil
}

func ListEC2Instances(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := ec2.NewFromConfig(config(region, account))
	var instances []string
	paginator := ec2.NewDescribeInstancesPaginator(client, &ec2.DescribeInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, reservation := range page.Reservations {
			for _, instance := range reservation.Instances {
				instances = append(instances, aws.ToString(instance.InstanceId))
			}
		}
	}
	return map[string]any{"Instances": instances}, nil
}

func ListLambdaFunctions(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := lambda.NewFromConfig(config(region, account))
	var functions []string
	paginator := lambda.NewListFunctionsPaginator(client, &lambda.ListFunctionsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, function := range page.Functions {
			functions = append(functions, aws.ToString(function.FunctionName))
		}
	}
	return map[string]any{"Functions": functions}, nil
}

func ListSNSTopics(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := sns.NewFromConfig(config(region, account))
	var topics []string
	paginator := sns.NewListTopicsPaginator(client, &sns.ListTopicsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, topic := range page.Topics {
			topics = append(topics, aws.ToString(topic.TopicArn))
		}
	}
	return map[string]any{"Topics": topics}, nil
}

func ListSQSQueues(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := sqs.NewFromConfig(config(region, account))
	var queues []string
	paginator := sqs.NewListQueuesPaginator(client, &sqs.ListQueuesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		queues = append(queues, page.QueueUrls...)
	}
	return map[string]any{"Queues": queues}, nil
}

func ListSecrets(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := secretsmanager.NewFromConfig(config(region, account))
	var secrets []string
	paginator := secretsmanager.NewListSecretsPaginator(client, &secretsmanager.ListSecretsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, secret := range page.SecretList {
			secrets = append(secrets, aws.ToString(secret.Name))
		}
	}
	return map[string]any{"Secrets": secrets}, nil
}

func ListLogGroups(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := cloudwatchlogs.NewFromConfig(config(region, account))
	var groups []string
	paginator := cloudwatchlogs.NewDescribeLogGroupsPaginator(client, &cloudwatchlogs.DescribeLogGroupsInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, group := range page.LogGroups {
			groups = append(groups, aws.ToString(group.LogGroupName))
		}
	}
	return map[string]any{"LogGroups": groups}, nil
}

func ListRDSInstances(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := rds.NewFromConfig(config(region, account))
	var instances []string
	paginator := rds.NewDescribeDBInstancesPaginator(client, &rds.DescribeDBInstancesInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, instance := range page.DBInstances {
			instances = append(instances, aws.ToString(instance.DBInstanceIdentifier))
		}
	}
	return map[string]any{"DBInstances": instances}, nil
}

func ListStacks(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := cloudformation.NewFromConfig(config(region, account))
	var stacks []string
	paginator := cloudformation.NewDescribeStacksPaginator(client, &cloudformation.DescribeStacksInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, stack := range page.Stacks {
			stacks = append(stacks, aws.ToString(stack.StackName))
		}
	}
	return map[string]any{"Stacks": stacks}, nil
}

func ListKMSKeys(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
	client := kms.NewFromConfig(config(region, account))
	var keys []string
	paginator := kms.NewListKeysPaginator(client, &kms.ListKeysInput{})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, key := range page.Keys {
			keys = append(keys, aws.ToString(key.KeyId))
		}
	}
	return map[string]any{"Keys": keys}, nil
}
