package orgs

import (
	"context"
	"fmt"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	awstypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/pool"
)

// OrganizationsAPI is the subset of the Organizations client the loader
// calls. The real client satisfies it; tests substitute an in-memory
// implementation.
type OrganizationsAPI interface {
	DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error)
	ListRoots(ctx context.Context, params *organizations.ListRootsInput, optFns ...func(*organizations.Options)) (*organizations.ListRootsOutput, error)
	ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error)
	ListParents(ctx context.Context, params *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error)
	ListOrganizationalUnitsForParent(ctx context.Context, params *organizations.ListOrganizationalUnitsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListOrganizationalUnitsForParentOutput, error)
	ListPolicies(ctx context.Context, params *organizations.ListPoliciesInput, optFns ...func(*organizations.Options)) (*organizations.ListPoliciesOutput, error)
	ListPoliciesForTarget(ctx context.Context, params *organizations.ListPoliciesForTargetInput, optFns ...func(*organizations.Options)) (*organizations.ListPoliciesForTargetOutput, error)
	ListTargetsForPolicy(ctx context.Context, params *organizations.ListTargetsForPolicyInput, optFns ...func(*organizations.Options)) (*organizations.ListTargetsForPolicyOutput, error)
}

// Load populates the organization from a fresh cache when one exists, and
// from live discovery otherwise. Cache problems are recovered silently by
// falling through to discovery.
func (org *Organization) Load(ctx context.Context, api OrganizationsAPI) error {
	dump, err := org.readCache()
	if err == nil {
		org.restore(dump)
		org.logger.Debug("organization loaded from cache", "file", org.cachePath())
		return nil
	}
	org.logger.Debug("cache unusable, discovering live", "reason", err)
	return org.Refresh(ctx, api)
}

// Refresh discovers the organization live and rewrites the cache. The
// graph is rebuilt from scratch; a failed refresh leaves it partially
// populated, so callers should discard the organization on error.
func (org *Organization) Refresh(ctx context.Context, api OrganizationsAPI) error {
	org.Accounts = nil
	org.OrgUnits = nil
	org.Policies = nil

	if err := org.loadOrganization(ctx, api); err != nil {
		return err
	}
	if err := org.loadAccounts(ctx, api); err != nil {
		return err
	}
	if err := org.loadOrgUnits(ctx, api, org.RootID); err != nil {
		return err
	}
	if err := org.loadPolicies(ctx, api); err != nil {
		return err
	}
	org.logger.Info("organization discovered",
		"id", org.ID,
		"accounts", len(org.Accounts),
		"org_units", len(org.OrgUnits),
		"policies", len(org.Policies))

	if err := org.writeCache(); err != nil {
		org.logger.Warn("failed to write organization cache", "error", err)
	}
	return nil
}

func (org *Organization) retry(ctx context.Context, call func() error) error {
	return awsauth.RetryThrottled(ctx, org.RetryCap, org.RetryWait, call)
}

func (org *Organization) loadOrganization(ctx context.Context, api OrganizationsAPI) error {
	var described *organizations.DescribeOrganizationOutput
	err := org.retry(ctx, func() error {
		var err error
		described, err = api.DescribeOrganization(ctx, &organizations.DescribeOrganizationInput{})
		return err
	})
	if err != nil {
		return fmt.Errorf("describe organization: %w", err)
	}
	org.ID = aws.ToString(described.Organization.Id)

	var roots []awstypes.Root
	var nextToken *string
	for {
		input := &organizations.ListRootsInput{}
		if nextToken != nil {
			input.NextToken = nextToken
		}
		var output *organizations.ListRootsOutput
		err := org.retry(ctx, func() error {
			var err error
			output, err = api.ListRoots(ctx, input)
			return err
		})
		if err != nil {
			return fmt.Errorf("list roots: %w", err)
		}
		roots = append(roots, output.Roots...)
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}
	if len(roots) == 0 {
		return fmt.Errorf("organization %s has no root", org.ID)
	}
	org.RootID = aws.ToString(roots[0].Id)
	return nil
}

func (org *Organization) loadAccounts(ctx context.Context, api OrganizationsAPI) error {
	var listed []awstypes.Account
	var nextToken *string
	for {
		input := &organizations.ListAccountsInput{}
		if nextToken != nil {
			input.NextToken = nextToken
		}
		var output *organizations.ListAccountsOutput
		err := org.retry(ctx, func() error {
			var err error
			output, err = api.ListAccounts(ctx, input)
			return err
		})
		if err != nil {
			return fmt.Errorf("list accounts: %w", err)
		}
		listed = append(listed, output.Accounts...)
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	// Entries without a name are accounts the provider has not finished
	// creating yet.
	var pending []awstypes.Account
	for _, entry := range listed {
		if entry.Name != nil {
			pending = append(pending, entry)
		}
	}

	var mu sync.Mutex
	var errs []error
	pool.Run(pending, len(pending), func(entry awstypes.Account) {
		account, err := org.describeAccount(ctx, api, entry)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		org.Accounts = append(org.Accounts, account)
	})
	if len(errs) > 0 {
		return fmt.Errorf("discovering %d of %d accounts failed: %w", len(errs), len(pending), errs[0])
	}
	return nil
}

func (org *Organization) describeAccount(ctx context.Context, api OrganizationsAPI, entry awstypes.Account) (*Account, error) {
	id := aws.ToString(entry.Id)

	var parents *organizations.ListParentsOutput
	err := org.retry(ctx, func() error {
		var err error
		parents, err = api.ListParents(ctx, &organizations.ListParentsInput{
			ChildId: aws.String(id),
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("list parents for account %s: %w", id, err)
	}
	if len(parents.Parents) == 0 {
		return nil, fmt.Errorf("account %s has no parent", id)
	}

	policyIDs, err := org.attachedPolicyIDs(ctx, api, id)
	if err != nil {
		return nil, err
	}

	return &Account{
		OrgObject: org.newOrgObject(aws.ToString(entry.Name), id, aws.ToString(parents.Parents[0].Id), policyIDs),
		Email:     aws.ToString(entry.Email),
	}, nil
}

func (org *Organization) attachedPolicyIDs(ctx context.Context, api OrganizationsAPI, targetID string) ([]string, error) {
	var ids []string
	var nextToken *string
	for {
		input := &organizations.ListPoliciesForTargetInput{
			TargetId: aws.String(targetID),
			Filter:   awstypes.PolicyTypeServiceControlPolicy,
		}
		if nextToken != nil {
			input.NextToken = nextToken
		}
		var output *organizations.ListPoliciesForTargetOutput
		err := org.retry(ctx, func() error {
			var err error
			output, err = api.ListPoliciesForTarget(ctx, input)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list policies for target %s: %w", targetID, err)
		}
		for _, policy := range output.Policies {
			ids = append(ids, aws.ToString(policy.Id))
		}
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}
	return ids, nil
}

// loadOrgUnits walks the tree below parentID depth first, appending each
// OU before descending into it.
func (org *Organization) loadOrgUnits(ctx context.Context, api OrganizationsAPI, parentID string) error {
	var children []awstypes.OrganizationalUnit
	var nextToken *string
	for {
		input := &organizations.ListOrganizationalUnitsForParentInput{
			ParentId: aws.String(parentID),
		}
		if nextToken != nil {
			input.NextToken = nextToken
		}
		var output *organizations.ListOrganizationalUnitsForParentOutput
		err := org.retry(ctx, func() error {
			var err error
			output, err = api.ListOrganizationalUnitsForParent(ctx, input)
			return err
		})
		if err != nil {
			return fmt.Errorf("list org units for %s: %w", parentID, err)
		}
		children = append(children, output.OrganizationalUnits...)
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	for _, child := range children {
		id := aws.ToString(child.Id)
		policyIDs, err := org.attachedPolicyIDs(ctx, api, id)
		if err != nil {
			return err
		}
		org.OrgUnits = append(org.OrgUnits, &OrgUnit{
			OrgObject: org.newOrgObject(aws.ToString(child.Name), id, parentID, policyIDs),
		})
		if err := org.loadOrgUnits(ctx, api, id); err != nil {
			return err
		}
	}
	return nil
}

func (org *Organization) loadPolicies(ctx context.Context, api OrganizationsAPI) error {
	var summaries []awstypes.PolicySummary
	var nextToken *string
	for {
		input := &organizations.ListPoliciesInput{
			Filter: awstypes.PolicyTypeServiceControlPolicy,
		}
		if nextToken != nil {
			input.NextToken = nextToken
		}
		var output *organizations.ListPoliciesOutput
		err := org.retry(ctx, func() error {
			var err error
			output, err = api.ListPolicies(ctx, input)
			return err
		})
		if err != nil {
			return fmt.Errorf("list policies: %w", err)
		}
		summaries = append(summaries, output.Policies...)
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	var mu sync.Mutex
	var errs []error
	pool.Run(summaries, len(summaries), func(summary awstypes.PolicySummary) {
		policy, err := org.describePolicy(ctx, api, summary)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			errs = append(errs, err)
			return
		}
		org.Policies = append(org.Policies, policy)
	})
	if len(errs) > 0 {
		return fmt.Errorf("discovering %d of %d policies failed: %w", len(errs), len(summaries), errs[0])
	}
	return nil
}

func (org *Organization) describePolicy(ctx context.Context, api OrganizationsAPI, summary awstypes.PolicySummary) (*Policy, error) {
	id := aws.ToString(summary.Id)

	var targets []PolicyTarget
	var nextToken *string
	for {
		input := &organizations.ListTargetsForPolicyInput{
			PolicyId: aws.String(id),
		}
		if nextToken != nil {
			input.NextToken = nextToken
		}
		var output *organizations.ListTargetsForPolicyOutput
		err := org.retry(ctx, func() error {
			var err error
			output, err = api.ListTargetsForPolicy(ctx, input)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("list targets for policy %s: %w", id, err)
		}
		for _, target := range output.Targets {
			targets = append(targets, PolicyTarget{
				TargetID: aws.ToString(target.TargetId),
				Type:     string(target.Type),
				Name:     aws.ToString(target.Name),
				Arn:      aws.ToString(target.Arn),
			})
		}
		if output.NextToken == nil {
			break
		}
		nextToken = output.NextToken
	}

	return &Policy{
		OrgObject: OrgObject{
			OrganizationID:  org.ID,
			MasterAccountID: org.MasterAccountID,
			Name:            aws.ToString(summary.Name),
			ID:              id,
		},
		Targets: targets,
	}, nil
}
