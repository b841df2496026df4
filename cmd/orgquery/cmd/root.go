package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/praetorian-inc/orgcrawler/internal/cli"
	"github.com/praetorian-inc/orgcrawler/internal/message"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
	"github.com/praetorian-inc/orgcrawler/version"
)

var (
	cfgFile string
	role    string
	flags   cli.Flags
)

// zeroArgQueries maps the commands that take no argument onto the
// organization query surface.
var zeroArgQueries = map[string]func(org *orgs.Organization) any{
	"dump":                  func(org *orgs.Organization) any { return org.Dump() },
	"dump_accounts":         func(org *orgs.Organization) any { return org.DumpAccounts() },
	"dump_org_units":        func(org *orgs.Organization) any { return org.DumpOrgUnits() },
	"dump_policies":         func(org *orgs.Organization) any { return org.DumpPolicies() },
	"list_accounts_by_name": func(org *orgs.Organization) any { return org.ListAccountsByName() },
	"list_accounts_by_id":   func(org *orgs.Organization) any { return org.ListAccountsByID() },
	"list_org_units_by_name": func(org *orgs.Organization) any {
		return org.ListOrgUnitsByName()
	},
	"list_org_units_by_id":  func(org *orgs.Organization) any { return org.ListOrgUnitsByID() },
	"list_policies_by_name": func(org *orgs.Organization) any { return org.ListPoliciesByName() },
	"list_policies_by_id":   func(org *orgs.Organization) any { return org.ListPoliciesByID() },
}

// oneArgQueries maps the commands that take exactly one argument, an
// account, OU, or policy identifier.
var oneArgQueries = map[string]func(org *orgs.Organization, arg string) any{
	"get_account":            func(org *orgs.Organization, arg string) any { return org.GetAccount(arg) },
	"get_account_id_by_name": func(org *orgs.Organization, arg string) any { return org.GetAccountIDByName(arg) },
	"get_account_name_by_id": func(org *orgs.Organization, arg string) any { return org.GetAccountNameByID(arg) },
	"get_org_unit":           func(org *orgs.Organization, arg string) any { return org.GetOrgUnit(arg) },
	"get_org_unit_id":        func(org *orgs.Organization, arg string) any { return org.GetOrgUnitID(arg) },
	"list_accounts_in_ou":    func(org *orgs.Organization, arg string) any { return org.ListAccountsInOU(arg) },
	"list_accounts_in_ou_recursive": func(org *orgs.Organization, arg string) any {
		return org.ListAccountsInOURecursive(arg)
	},
	"list_org_units_in_ou": func(org *orgs.Organization, arg string) any { return org.ListOrgUnitsInOU(arg) },
	"list_org_units_in_ou_recursive": func(org *orgs.Organization, arg string) any {
		return org.ListOrgUnitsInOURecursive(arg)
	},
	"get_policy":             func(org *orgs.Organization, arg string) any { return org.GetPolicy(arg) },
	"get_policy_id_by_name":  func(org *orgs.Organization, arg string) any { return org.GetPolicyIDByName(arg) },
	"get_policy_name_by_id":  func(org *orgs.Organization, arg string) any { return org.GetPolicyNameByID(arg) },
	"get_targets_for_policy": func(org *orgs.Organization, arg string) any { return org.GetTargetsForPolicy(arg) },
	"get_policies_for_target": func(org *orgs.Organization, arg string) any {
		return org.GetPoliciesForTarget(arg)
	},
	"get_accounts_for_policy_recursive": func(org *orgs.Organization, arg string) any {
		return org.GetAccountsForPolicyRecursive(arg)
	},
}

// rootCmd is the whole query surface: one command dispatching on its
// first positional argument.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orgquery COMMAND [ARG]",
		Short: "Query the accounts, OUs, and policies of an AWS Organization",
		Long: `Query the accounts, organizational units, and service control policies
of an AWS Organization. The organization is read from a local cache when
one is fresh and discovered live through the provider otherwise.

` + commandHelp(),
		Example: `  orgquery -r OrgAuditor dump_accounts
  orgquery -r OrgAuditor get_account account01 --format yaml
  orgquery -r OrgAuditor --jq '.[].name' dump_accounts`,
		Args:          cobra.RangeArgs(1, 2),
		Version:       version.FullVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cli.ApplyConfig(cmd)
			cli.Setup(flags)
		},
		RunE: runQuery,
	}

	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.orgcrawler.yaml)")
	cmd.PersistentFlags().StringVarP(&role, "role", "r", "", "IAM role for organization access")
	cmd.PersistentFlags().StringVarP(&flags.Format, "format", "f", "json", "output format, json or yaml")
	cmd.Flags().BoolP("version", "V", false, "print version and exit")
	cli.Bind(cmd, &flags)
	cmd.MarkPersistentFlagRequired("role")
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

func runQuery(cmd *cobra.Command, args []string) error {
	if err := flags.Validate(); err != nil {
		return usageError(cmd, "%s", err)
	}

	command := args[0]
	zeroFn, isZero := zeroArgQueries[command]
	oneFn, isOne := oneArgQueries[command]

	switch {
	case command == "clear_cache" || isZero:
		if len(args) != 1 {
			return usageError(cmd, "command %s takes no argument", command)
		}
	case isOne:
		if len(args) != 2 {
			return usageError(cmd, "command %s requires exactly one argument", command)
		}
	default:
		return usageError(cmd, "unknown command %q", command)
	}

	ctx := cmd.Context()
	session, err := cli.Connect(ctx, flags, role)
	if err != nil {
		return err
	}

	if command == "clear_cache" {
		return session.Org.ClearCache()
	}

	if err := session.Load(ctx, flags.NoCache); err != nil {
		return err
	}

	var result any
	if isZero {
		result = zeroFn(session.Org)
	} else {
		result = oneFn(session.Org, args[1])
	}

	out, err := cli.Render(result, flags)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

// usageError prints usage to stderr and returns the underlying problem,
// so bad invocations exit 1 with context.
func usageError(cmd *cobra.Command, format string, args ...any) error {
	fmt.Fprint(cmd.ErrOrStderr(), cmd.UsageString())
	return fmt.Errorf(format, args...)
}

func commandHelp() string {
	var b strings.Builder
	b.WriteString("Commands taking no argument:\n")
	for _, name := range sortedKeys(zeroArgQueries) {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	b.WriteString("  clear_cache\n")
	b.WriteString("\nCommands taking one argument:\n")
	for _, name := range sortedKeys(oneArgQueries) {
		fmt.Fprintf(&b, "  %s\n", name)
	}
	return b.String()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
