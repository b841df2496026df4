// Package cli carries the plumbing shared by the orgquery and orgcrawler
// commands: common flags, config file overlay, logging setup, provider
// session bootstrap, and result rendering.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/praetorian-inc/orgcrawler/internal/jq"
	"github.com/praetorian-inc/orgcrawler/internal/logs"
	"github.com/praetorian-inc/orgcrawler/internal/message"
	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

// Flags are the options both binaries share. Format is registered by each
// root command itself because the shorthand differs between them.
type Flags struct {
	Profile     string
	Region      string
	Debug       int
	Quiet       bool
	NoColor     bool
	Format      string
	JQ          string
	CacheDir    string
	CacheMaxAge time.Duration
	NoCache     bool
}

// Bind registers the shared flags on cmd.
func Bind(cmd *cobra.Command, f *Flags) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&f.Profile, "profile", "", "AWS shared config profile for the caller's credentials")
	flags.StringVar(&f.Region, "region", "", "region for provider API calls")
	flags.CountVarP(&f.Debug, "debug", "d", "increase log verbosity, repeatable")
	flags.BoolVarP(&f.Quiet, "quiet", "q", false, "suppress status messages")
	flags.BoolVar(&f.NoColor, "no-color", false, "disable colored output")
	flags.StringVar(&f.JQ, "jq", "", "filter JSON results through a jq expression")
	flags.StringVar(&f.CacheDir, "cache-dir", "", "override the organization cache directory")
	flags.DurationVar(&f.CacheMaxAge, "cache-max-age", 0, "how long a cached organization stays fresh")
	flags.BoolVar(&f.NoCache, "no-cache", false, "discover live even when the cache is fresh")
}

// Validate rejects flag combinations the render path cannot honor.
func (f Flags) Validate() error {
	switch f.Format {
	case "json", "yaml":
	default:
		return fmt.Errorf("invalid format %q, want json or yaml", f.Format)
	}
	if f.JQ != "" && f.Format != "json" {
		return errors.New("the jq filter applies to json output only")
	}
	return nil
}

// Setup installs process logging and messaging per the common flags.
// Debug sessions on a terminal get the readable console handler; every
// other configuration logs structured JSON to standard error.
func Setup(f Flags) {
	if f.Debug >= 2 && isatty.IsTerminal(os.Stderr.Fd()) {
		slog.SetDefault(logs.ConsoleLogger(logs.Level(f.Debug)))
	} else {
		logs.Init(f.Debug)
	}
	message.SetQuiet(f.Quiet)
	message.SetNoColor(f.NoColor)
}

// InitConfig points viper at the explicit config file, or at
// $HOME/.orgcrawler.yaml when none is given.
func InitConfig(cfgFile string) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".orgcrawler")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		message.Info("Using config file: %s", viper.ConfigFileUsed())
	}
}

// ApplyConfig overlays config file values onto every flag the command
// line left untouched, so explicit flags keep precedence over the file.
func ApplyConfig(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(flag *pflag.Flag) {
		if err := viper.BindPFlag(flag.Name, flag); err != nil {
			return
		}
		if !flag.Changed && viper.IsSet(flag.Name) {
			_ = cmd.Flags().Set(flag.Name, fmt.Sprintf("%v", viper.Get(flag.Name)))
		}
	})
}

// Session carries the provider handles a command run works through.
type Session struct {
	Config aws.Config
	Broker *awsauth.Broker
	Org    *orgs.Organization
}

// Connect builds the caller's base AWS config, resolves the management
// account through role, and returns a session whose organization is ready
// to Load.
func Connect(ctx context.Context, f Flags, role string) (*Session, error) {
	cfg, err := awsauth.LoadConfig(ctx, awsauth.ConfigOptions{
		Region:  f.Region,
		Profile: f.Profile,
		Debug:   f.Debug >= 2,
	})
	if err != nil {
		return nil, fmt.Errorf("loading AWS config: %w", err)
	}

	broker := awsauth.NewBroker(sts.NewFromConfig(cfg))
	masterID, err := broker.DiscoverMasterAccountID(ctx, role, func(creds awsauth.Credentials) awsauth.OrganizationDescriber {
		return organizations.NewFromConfig(awsauth.ConfigFor(cfg, f.Region, creds))
	})
	if err != nil {
		return nil, err
	}

	opts := []orgs.Option{}
	if f.CacheDir != "" {
		opts = append(opts, orgs.WithCacheDir(f.CacheDir))
	}
	if f.CacheMaxAge > 0 {
		opts = append(opts, orgs.WithCacheMaxAge(f.CacheMaxAge))
	}
	return &Session{
		Config: cfg,
		Broker: broker,
		Org:    orgs.New(masterID, role, opts...),
	}, nil
}

// Load populates the session's organization, from cache when permitted.
func (s *Session) Load(ctx context.Context, refresh bool) error {
	api, err := s.OrganizationsClient(ctx)
	if err != nil {
		return err
	}
	if refresh {
		return s.Org.Refresh(ctx, api)
	}
	return s.Org.Load(ctx, api)
}

// OrganizationsClient assumes the organization's access role in the
// management account and returns a client bound to those credentials.
func (s *Session) OrganizationsClient(ctx context.Context) (*organizations.Client, error) {
	creds, err := s.Broker.AssumeRole(ctx, s.Org.MasterAccountID, s.Org.AccessRole)
	if err != nil {
		return nil, err
	}
	return organizations.NewFromConfig(awsauth.ConfigFor(s.Config, s.Config.Region, creds)), nil
}

// Render marshals result per the format flags, applying the jq filter to
// JSON output.
func Render(result any, f Flags) ([]byte, error) {
	if f.Format == "yaml" {
		return yaml.Marshal(result)
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, err
	}
	if f.JQ != "" {
		return jq.PerformJqQuery(out, f.JQ)
	}
	return out, nil
}
