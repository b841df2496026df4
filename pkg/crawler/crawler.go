// Package crawler fans payload functions out across the accounts and
// regions of a loaded organization, assuming a role in each account and
// collecting per-task results into execution records.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
	"github.com/praetorian-inc/orgcrawler/pkg/pool"
	"github.com/praetorian-inc/orgcrawler/pkg/regions"
)

// DefaultRegion hosts payloads that target global services.
const DefaultRegion = "us-east-1"

var (
	// ErrInvalidAccount reports an account selector that resolves to
	// nothing in the organization.
	ErrInvalidAccount = errors.New("invalid account")

	// ErrInvalidRegion reports a region selector outside the provider's
	// region set.
	ErrInvalidRegion = errors.New("invalid region")
)

// Args carries payload arguments: positional values in order plus named
// key=value pairs.
type Args struct {
	Positional []string
	Named      map[string]string
}

// PayloadFunc runs once per (account, region) task. The account is read
// only; implementations must not mutate it or the crawler.
type PayloadFunc func(ctx context.Context, region string, account *orgs.Account, args Args) (any, error)

// Payload pairs a callable with the name executions report it under.
type Payload struct {
	Name string
	Call PayloadFunc
}

// AccountAliasLister is the IAM client subset alias loading consumes.
type AccountAliasLister interface {
	ListAccountAliases(ctx context.Context, params *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error)
}

// Crawler executes payloads across a selection of accounts and regions.
// It holds a non-owning reference to its organization and never mutates
// the organization graph.
type Crawler struct {
	org        *orgs.Organization
	accessRole string
	accounts   []*orgs.Account
	regions    []string

	awsCfg         aws.Config
	broker         *awsauth.Broker
	defaultRegion  string
	logger         *slog.Logger
	newAliasLister func(account *orgs.Account) AccountAliasLister

	// Executions accumulates completed payload runs in program order.
	Executions []*Execution
}

// Option adjusts crawler construction. Options apply in order, so
// selections that depend on another option (WithRegions after
// WithDefaultRegion, for example) follow it in the argument list.
type Option func(*Crawler) error

// WithAccessRole overrides the role assumed in each crawled account,
// which defaults to the organization's access role.
func WithAccessRole(role string) Option {
	return func(c *Crawler) error {
		c.accessRole = role
		return nil
	}
}

// WithAccounts narrows the crawl to the given accounts. Selectors may be
// account ids, names, aliases, or *orgs.Account values.
func WithAccounts(selectors ...any) Option {
	return func(c *Crawler) error {
		accounts, err := c.resolveAccounts(selectors)
		if err != nil {
			return err
		}
		c.accounts = accounts
		return nil
	}
}

// WithRegions narrows the crawl to the given regions. The single literal
// GLOBAL selects the crawler's default region.
func WithRegions(selectors ...string) Option {
	return func(c *Crawler) error {
		resolved, err := c.resolveRegions(selectors)
		if err != nil {
			return err
		}
		c.regions = resolved
		return nil
	}
}

// WithDefaultRegion overrides the region GLOBAL resolves to.
func WithDefaultRegion(region string) Option {
	return func(c *Crawler) error {
		if !regions.IsRegion(region) {
			return fmt.Errorf("%w: %s", ErrInvalidRegion, region)
		}
		c.defaultRegion = region
		return nil
	}
}

// WithAWSConfig supplies the base client configuration used when the
// crawler constructs provider clients of its own.
func WithAWSConfig(cfg aws.Config) Option {
	return func(c *Crawler) error {
		c.awsCfg = cfg
		return nil
	}
}

// WithBroker substitutes the credential broker, which otherwise wraps an
// STS client built from the crawler's client configuration.
func WithBroker(broker *awsauth.Broker) Option {
	return func(c *Crawler) error {
		c.broker = broker
		return nil
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(c *Crawler) error {
		c.logger = logger
		return nil
	}
}

// WithAliasLister substitutes the factory for per-account IAM clients
// used by LoadAccountAliases. Tests use it to avoid live calls.
func WithAliasLister(factory func(account *orgs.Account) AccountAliasLister) Option {
	return func(c *Crawler) error {
		c.newAliasLister = factory
		return nil
	}
}

// New builds a crawler over org. Without options it selects every
// account in the organization and the provider's full compute region
// set, and assumes the organization's access role in each account.
func New(org *orgs.Organization, opts ...Option) (*Crawler, error) {
	if org == nil {
		return nil, errors.New("organization is required")
	}
	c := &Crawler{
		org:           org,
		accessRole:    org.AccessRole,
		accounts:      append([]*orgs.Account{}, org.Accounts...),
		regions:       regions.All(),
		defaultRegion: DefaultRegion,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	if c.broker == nil {
		c.broker = awsauth.NewBroker(sts.NewFromConfig(c.awsCfg))
	}
	return c, nil
}

// Accounts returns the current account selection.
func (c *Crawler) Accounts() []*orgs.Account { return c.accounts }

// Regions returns the current region selection.
func (c *Crawler) Regions() []string { return c.regions }

// AccessRole returns the role assumed in each crawled account.
func (c *Crawler) AccessRole() string { return c.accessRole }

// Organization returns the organization the crawler operates on.
func (c *Crawler) Organization() *orgs.Organization { return c.org }

func (c *Crawler) resolveAccounts(selectors []any) ([]*orgs.Account, error) {
	accounts := []*orgs.Account{}
	for _, selector := range selectors {
		account := c.org.GetAccount(selector)
		if account == nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidAccount, selector)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (c *Crawler) resolveRegions(selectors []string) ([]string, error) {
	if len(selectors) == 0 {
		return regions.All(), nil
	}
	if len(selectors) == 1 && selectors[0] == regions.Global {
		return []string{c.defaultRegion}, nil
	}
	resolved := []string{}
	for _, region := range selectors {
		if !regions.IsRegion(region) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidRegion, region)
		}
		resolved = append(resolved, region)
	}
	return resolved, nil
}

// UpdateAccounts replaces the account selection. No selectors empties the
// selection, the single literal "ALL" restores every organization
// account, and anything else resolves as in WithAccounts.
func (c *Crawler) UpdateAccounts(selectors ...any) error {
	if len(selectors) == 0 || (len(selectors) == 1 && selectors[0] == nil) {
		c.accounts = []*orgs.Account{}
		return nil
	}
	if len(selectors) == 1 {
		if v, ok := selectors[0].(string); ok && v == "ALL" {
			c.accounts = append([]*orgs.Account{}, c.org.Accounts...)
			return nil
		}
	}
	accounts, err := c.resolveAccounts(selectors)
	if err != nil {
		return err
	}
	c.accounts = accounts
	return nil
}

// UpdateRegions replaces the region selection. No selectors or the
// single literal "ALL" restores the full compute region set.
func (c *Crawler) UpdateRegions(selectors ...string) error {
	if len(selectors) == 1 && selectors[0] == "ALL" {
		c.regions = regions.All()
		return nil
	}
	resolved, err := c.resolveRegions(selectors)
	if err != nil {
		return err
	}
	c.regions = resolved
	return nil
}

// LoadAccountCredentials assumes the access role in every selected
// account in parallel. A failing account does not interrupt its peers;
// after the pool drains, the first failure is reported with its account
// name. Accounts that succeeded keep their credentials either way.
func (c *Crawler) LoadAccountCredentials(ctx context.Context) error {
	type failure struct {
		account *orgs.Account
		err     error
	}
	var mu sync.Mutex
	var failures []failure

	pool.Run(c.accounts, len(c.accounts), func(account *orgs.Account) {
		creds, err := c.broker.AssumeRole(ctx, account.ID, c.accessRole)
		if err != nil {
			mu.Lock()
			failures = append(failures, failure{account: account, err: err})
			mu.Unlock()
			return
		}
		account.Credentials = creds
	})

	if len(failures) > 0 {
		first := failures[0]
		return fmt.Errorf("loading credentials for %d of %d accounts failed, first was %s: %w",
			len(failures), len(c.accounts), first.account.Name, first.err)
	}
	return nil
}

func (c *Crawler) aliasLister(account *orgs.Account) AccountAliasLister {
	if c.newAliasLister != nil {
		return c.newAliasLister(account)
	}
	cfg := awsauth.ConfigFor(c.awsCfg, c.defaultRegion, account.Credentials)
	return iam.NewFromConfig(cfg)
}

// LoadAccountAliases fills each selected account's alias list from the
// provider using the account's own credentials, so identifier resolution
// by alias works. Credentials must be loaded first.
func (c *Crawler) LoadAccountAliases(ctx context.Context) error {
	type failure struct {
		account *orgs.Account
		err     error
	}
	var mu sync.Mutex
	var failures []failure

	pool.Run(c.accounts, len(c.accounts), func(account *orgs.Account) {
		output, err := c.aliasLister(account).ListAccountAliases(ctx, &iam.ListAccountAliasesInput{})
		if err != nil {
			mu.Lock()
			failures = append(failures, failure{account: account, err: err})
			mu.Unlock()
			return
		}
		account.Aliases = output.AccountAliases
	})

	if len(failures) > 0 {
		first := failures[0]
		return fmt.Errorf("loading aliases for %d of %d accounts failed, first was %s: %w",
			len(failures), len(c.accounts), first.account.Name, first.err)
	}
	return nil
}

type task struct {
	account *orgs.Account
	region  string
}

type executeConfig struct {
	args    Args
	workers int
}

// ExecuteOption adjusts a single Execute call.
type ExecuteOption func(*executeConfig)

// WithPayloadArgs passes positional and named arguments through to the
// payload.
func WithPayloadArgs(args Args) ExecuteOption {
	return func(cfg *executeConfig) { cfg.args = args }
}

// WithWorkerCount overrides the pool size, which defaults to the number
// of selected accounts.
func WithWorkerCount(n int) ExecuteOption {
	return func(cfg *executeConfig) { cfg.workers = n }
}

// Execute fans payload out over the selected (account, region) matrix
// and appends the completed record to Executions. A payload failure is
// captured on its response without interrupting other tasks; the
// execution's Errors flag reports whether any occurred.
func (c *Crawler) Execute(ctx context.Context, payload Payload, opts ...ExecuteOption) (*Execution, error) {
	if payload.Call == nil {
		return nil, errors.New("payload has no callable")
	}
	cfg := executeConfig{workers: len(c.accounts)}
	for _, opt := range opts {
		opt(&cfg)
	}

	execution := &Execution{
		PayloadName: payload.Name,
		ExecutionID: uuid.NewString(),
		Responses:   []*Response{},
	}

	tasks := make([]task, 0, len(c.accounts)*len(c.regions))
	for _, account := range c.accounts {
		for _, region := range c.regions {
			tasks = append(tasks, task{account: account, region: region})
		}
	}

	c.logger.Debug("executing payload",
		"payload", payload.Name,
		"accounts", len(c.accounts),
		"regions", len(c.regions),
		"workers", cfg.workers)

	execution.Timer.Start()
	pool.Run(tasks, cfg.workers, func(t task) {
		response := &Response{Region: t.region, Account: t.account}
		response.Timer.Start()
		output, err := c.runPayload(ctx, payload, t, cfg.args)
		response.Timer.Stop()
		if err != nil {
			response.ErrorInfo = &PayloadError{
				PayloadName: payload.Name,
				Account:     t.account.Name,
				Region:      t.region,
				Message:     err.Error(),
			}
		} else {
			response.PayloadOutput = output
		}
		execution.appendResponse(response)
	})
	execution.Timer.Stop()

	c.Executions = append(c.Executions, execution)
	if execution.Errors {
		c.logger.Error("payload execution finished with errors",
			"payload", payload.Name,
			"errors", execution.ErrorCount(),
			"responses", len(execution.Responses))
	}
	return execution, nil
}

// runPayload isolates one payload call, converting a panic into an error
// so a misbehaving payload cannot take down its worker.
func (c *Crawler) runPayload(ctx context.Context, payload Payload, t task, args Args) (output any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("payload panic: %v", r)
		}
	}()
	return payload.Call(ctx, t.region, t.account, args)
}
