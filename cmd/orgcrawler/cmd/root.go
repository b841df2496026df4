package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/praetorian-inc/orgcrawler/internal/cli"
	"github.com/praetorian-inc/orgcrawler/internal/message"
	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/crawler"
	"github.com/praetorian-inc/orgcrawler/pkg/payloads"
	"github.com/praetorian-inc/orgcrawler/pkg/regions"
	"github.com/praetorian-inc/orgcrawler/version"
)

var (
	cfgFile     string
	masterRole  string
	accountRole string
	accountFlag []string
	regionFlag  []string
	serviceFlag string
	payloadFile string
	enabledOnly bool
	maxWorkers  int
	flags       cli.Flags
)

var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgcrawler PAYLOAD [ARG...]",
		Short: "Run payloads across the accounts and regions of an AWS Organization",
		Long:  longHelp(),
		Example: `  orgcrawler -r OrgAuditor list_buckets
  orgcrawler -r OrgAuditor -a MemberAuditor --accounts account01,account04 list_iam_users
  orgcrawler -r OrgAuditor --service iam set_account_alias
  orgcrawler -r OrgAuditor -f ./mypayload.so mypayload key=value`,
		Args:          cobra.MinimumNArgs(1),
		Version:       version.FullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.ApplyConfig(cmd)
			cli.Setup(flags)
		},
		RunE: runCrawl,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orgcrawler.yaml)")
	cmd.PersistentFlags().StringVarP(&masterRole, "master-role", "r", "", "IAM role for organization access in the management account")
	cmd.PersistentFlags().StringVarP(&accountRole, "account-role", "a", "", "IAM role assumed in each crawled account (defaults to the master role)")
	cmd.PersistentFlags().StringSliceVar(&accountFlag, "accounts", nil, "crawl only these accounts (ids, names, or aliases)")
	cmd.PersistentFlags().StringSliceVar(&regionFlag, "regions", nil, "crawl only these regions")
	cmd.PersistentFlags().StringVar(&serviceFlag, "service", "", "crawl the regions offering this service")
	cmd.PersistentFlags().StringVarP(&payloadFile, "payload-file", "f", "", "load payloads from a Go plugin before resolving PAYLOAD")
	cmd.PersistentFlags().BoolVar(&enabledOnly, "enabled-regions-only", false, "drop regions the organization has not enabled")
	cmd.PersistentFlags().IntVar(&maxWorkers, "max-workers", 0, "execution pool size (defaults to one worker per selected account)")
	cmd.PersistentFlags().StringVar(&flags.Format, "format", "json", "output format, json or yaml")
	cmd.Flags().BoolP("version", "V", false, "print version and exit")
	cli.Bind(cmd, &flags)
	cmd.MarkPersistentFlagRequired("master-role")
	cmd.MarkFlagsMutuallyExclusive("regions", "service")
	return cmd
}

// Execute runs the root command. This is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		message.Error("%s", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
}

// initConfig reads in the config file and environment if set.
func initConfig() {
	cli.InitConfig(cfgFile)
}

func runCrawl(cmd *cobra.Command, args []string) error {
	if err := flags.Validate(); err != nil {
		return usageError(cmd, "%s", err)
	}

	if payloadFile != "" {
		loaded, err := payloads.LoadPlugin(payloadFile)
		if err != nil {
			return err
		}
		message.Info("loaded payloads from %s: %s", payloadFile, strings.Join(loaded, ", "))
	}
	payload, err := payloads.Get(args[0])
	if err != nil {
		return err
	}
	payloadArgs := payloads.ParseArgs(args[1:])

	regionList := regionFlag
	if serviceFlag != "" {
		regionList, err = regions.ForService(serviceFlag)
		if err != nil {
			return err
		}
	}

	ctx := cmd.Context()
	session, err := cli.Connect(ctx, flags, masterRole)
	if err != nil {
		return err
	}
	if err := session.Load(ctx, flags.NoCache); err != nil {
		return err
	}
	message.Info("organization %s: %d accounts, %d org units, %d policies",
		session.Org.ID, len(session.Org.Accounts), len(session.Org.OrgUnits), len(session.Org.Policies))

	role := accountRole
	if role == "" {
		role = masterRole
	}
	opts := []crawler.Option{
		crawler.WithAWSConfig(session.Config),
		crawler.WithBroker(session.Broker),
		crawler.WithAccessRole(role),
	}
	if region := viper.GetString("default_region"); region != "" {
		opts = append(opts, crawler.WithDefaultRegion(region))
	}
	if len(accountFlag) > 0 && !(len(accountFlag) == 1 && accountFlag[0] == "ALL") {
		selectors := make([]any, len(accountFlag))
		for i, selector := range accountFlag {
			selectors[i] = selector
		}
		opts = append(opts, crawler.WithAccounts(selectors...))
	}
	if len(regionList) > 0 {
		opts = append(opts, crawler.WithRegions(regionList...))
	}
	c, err := crawler.New(session.Org, opts...)
	if err != nil {
		return err
	}

	if enabledOnly {
		if err := narrowToEnabledRegions(ctx, session, c); err != nil {
			return err
		}
	}

	if err := c.LoadAccountCredentials(ctx); err != nil {
		return err
	}

	message.Info("running payload %s across %d accounts and %d regions",
		payload.Name, len(c.Accounts()), len(c.Regions()))

	execOpts := []crawler.ExecuteOption{crawler.WithPayloadArgs(payloadArgs)}
	if maxWorkers > 0 {
		execOpts = append(execOpts, crawler.WithWorkerCount(maxWorkers))
	}
	execution, err := c.Execute(ctx, payload, execOpts...)
	if err != nil {
		return err
	}

	out, err := cli.Render(crawler.FormatResponses(execution), flags)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))

	if execution.Errors {
		return fmt.Errorf("payload %s failed in %d of %d tasks, first: %w",
			payload.Name, execution.ErrorCount(), len(execution.Responses), execution.FirstError())
	}
	message.Success("payload %s completed %d tasks in %.2fs",
		payload.Name, len(execution.Responses), execution.Timer.ElapsedTime)
	return nil
}

// narrowToEnabledRegions drops selected regions the organization has not
// enabled, so the crawl skips guaranteed auth failures in opt-in regions.
func narrowToEnabledRegions(ctx context.Context, session *cli.Session, c *crawler.Crawler) error {
	creds, err := session.Broker.AssumeRole(ctx, session.Org.MasterAccountID, c.AccessRole())
	if err != nil {
		return err
	}
	enabled, err := regions.Enabled(ctx, awsauth.ConfigFor(session.Config, flags.Region, creds))
	if err != nil {
		return err
	}
	selection := intersect(c.Regions(), enabled)
	if len(selection) == 0 {
		return errors.New("no selected region is enabled for the organization")
	}
	if dropped := len(c.Regions()) - len(selection); dropped > 0 {
		message.Warning("skipping %d selected regions the organization has not enabled", dropped)
	}
	return c.UpdateRegions(selection...)
}

func intersect(a, b []string) []string {
	keep := make(map[string]bool, len(b))
	for _, v := range b {
		keep[v] = true
	}
	out := []string{}
	for _, v := range a {
		if keep[v] {
			out = append(out, v)
		}
	}
	return out
}

// usageError prints usage to stderr and returns the underlying problem,
// so bad invocations exit 1 with context.
func usageError(cmd *cobra.Command, format string, args ...any) error {
	fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
	return fmt.Errorf(format, args...)
}

func longHelp() string {
	return `Run a payload function across the accounts and regions of an AWS
Organization. The crawler assumes the account role in every selected
account, fans the payload out over the (account, region) matrix, and
reports the collected outputs grouped by account.

Trailing arguments of the form key=value reach the payload as named
arguments; anything else is passed through positionally.

Built-in payloads:
  ` + strings.Join(payloads.Names(), "\n  ")
}
