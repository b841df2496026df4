package mockorg

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/smithy-go"

	"github.com/praetorian-inc/orgcrawler/pkg/crawler"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

// AliasStore fakes the provider's per-account alias state so alias
// payloads and alias loading run without live calls.
type AliasStore struct {
	mu      sync.Mutex
	aliases map[string][]string
}

func NewAliasStore() *AliasStore {
	return &AliasStore{aliases: map[string][]string{}}
}

// Aliases returns the aliases recorded for an account id.
func (s *AliasStore) Aliases(accountID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.aliases[accountID]...)
}

// SetAccountAlias returns a payload that assigns "alias-<account name>"
// to each account it visits.
func (s *AliasStore) SetAccountAlias() crawler.Payload {
	return crawler.Payload{
		Name: "set_account_alias",
		Call: func(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.aliases[account.ID] = []string{"alias-" + account.Name}
			return nil, nil
		},
	}
}

// GetAccountAliases returns a payload that reads back the aliases
// recorded for each account.
func (s *AliasStore) GetAccountAliases() crawler.Payload {
	return crawler.Payload{
		Name: "get_account_aliases",
		Call: func(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
			return map[string]any{"Aliases": s.Aliases(account.ID)}, nil
		},
	}
}

// Lister adapts the store to the IAM alias listing interface for one
// account, for use with crawler.WithAliasLister.
func (s *AliasStore) Lister(account *orgs.Account) crawler.AccountAliasLister {
	return aliasLister{store: s, accountID: account.ID}
}

type aliasLister struct {
	store     *AliasStore
	accountID string
}

func (l aliasLister) ListAccountAliases(ctx context.Context, params *iam.ListAccountAliasesInput, optFns ...func(*iam.Options)) (*iam.ListAccountAliasesOutput, error) {
	return &iam.ListAccountAliasesOutput{AccountAliases: l.store.Aliases(l.accountID)}, nil
}

// FailOnAccount returns a payload that fails for the named account and
// succeeds everywhere else.
func FailOnAccount(name string) crawler.Payload {
	return crawler.Payload{
		Name: "fail_on_account",
		Call: func(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
			if account.Name == name {
				return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: "mock payload failure in " + name}
			}
			return map[string]any{"Checked": []string{account.ID}}, nil
		},
	}
}

// EchoArgs returns a payload that reports the arguments it received,
// used to verify argument plumbing.
func EchoArgs() crawler.Payload {
	return crawler.Payload{
		Name: "echo_args",
		Call: func(ctx context.Context, region string, account *orgs.Account, args crawler.Args) (any, error) {
			return map[string]any{
				"positional": args.Positional,
				"named":      args.Named,
			}, nil
		},
	}
}
