// Package mockorg builds deterministic in-memory organizations for tests.
// A Server stands in for the provider's STS and Organizations endpoints,
// and Populate constructs a tree of accounts, OUs, and policies from a
// YAML spec through the same API surface a live build would use.
package mockorg

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	awstypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	ststypes "github.com/aws/aws-sdk-go-v2/service/sts/types"
	"github.com/aws/smithy-go"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
	"github.com/praetorian-inc/orgcrawler/pkg/orgs"
)

var _ orgs.OrganizationsAPI = (*Server)(nil)
var _ awsauth.STSAPI = (*Server)(nil)
var _ awsauth.OrganizationDescriber = (*Server)(nil)

// pageSize keeps listing pages small so every client runs its pagination
// loop even against tiny test organizations.
const pageSize = 2

type serverAccount struct {
	id       string
	name     string
	email    string
	parentID string
}

type serverOU struct {
	id       string
	name     string
	parentID string
}

type serverPolicy struct {
	id      string
	name    string
	content string
	targets []string
}

// Server is an in-memory organization. It satisfies the STS and
// Organizations client subsets the library consumes, so a Broker or an
// Organization loader can run against it unchanged.
type Server struct {
	mu sync.Mutex

	masterAccountID string
	orgID           string
	rootID          string

	accounts []*serverAccount
	ous      []*serverOU
	policies []*serverPolicy

	nextAccount int
	nextOU      int
	nextPolicy  int

	throttleLeft int
	denyAccounts map[string]bool
	assumedRoles []string
}

// NewServer creates an empty organization owned by masterAccountID.
func NewServer(masterAccountID string) *Server {
	return &Server{
		masterAccountID: masterAccountID,
		orgID:           "o-mockorg0example",
		rootID:          "r-mock",
		denyAccounts:    map[string]bool{},
	}
}

// OrgID returns the organization id the server reports.
func (s *Server) OrgID() string { return s.orgID }

// RootID returns the root id the server reports.
func (s *Server) RootID() string { return s.rootID }

// AssumedRoleARNs returns every role ARN requested through AssumeRole, in
// call order.
func (s *Server) AssumedRoleARNs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string{}, s.assumedRoles...)
}

// ThrottleNext makes the next n Organizations calls fail with a
// throttling error before succeeding again.
func (s *Server) ThrottleNext(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.throttleLeft = n
}

// DenyAssumeRole makes AssumeRole fail with AccessDenied for the given
// account ids.
func (s *Server) DenyAssumeRole(accountIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range accountIDs {
		s.denyAccounts[id] = true
	}
}

func (s *Server) maybeThrottle() error {
	if s.throttleLeft > 0 {
		s.throttleLeft--
		return &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "rate exceeded"}
	}
	return nil
}

// paginate slices items into fixed-size pages addressed by an integer
// offset token.
func paginate[T any](items []T, token *string) ([]T, *string, error) {
	start := 0
	if token != nil {
		var err error
		start, err = strconv.Atoi(*token)
		if err != nil || start < 0 || start > len(items) {
			return nil, nil, &smithy.GenericAPIError{Code: "InvalidInputException", Message: "invalid pagination token"}
		}
	}
	end := start + pageSize
	if end >= len(items) {
		return items[start:], nil, nil
	}
	next := strconv.Itoa(end)
	return items[start:end], &next, nil
}

func (s *Server) findAccount(id string) *serverAccount {
	for _, account := range s.accounts {
		if account.id == id {
			return account
		}
	}
	return nil
}

func (s *Server) findOU(id string) *serverOU {
	for _, ou := range s.ous {
		if ou.id == id {
			return ou
		}
	}
	return nil
}

func (s *Server) findPolicy(id string) *serverPolicy {
	for _, policy := range s.policies {
		if policy.id == id {
			return policy
		}
	}
	return nil
}

func (s *Server) parentExists(id string) bool {
	return id == s.rootID || s.findOU(id) != nil
}

func (s *Server) accountArn(id string) string {
	return fmt.Sprintf("arn:aws:organizations::%s:account/%s/%s", s.masterAccountID, s.orgID, id)
}

func (s *Server) ouArn(id string) string {
	return fmt.Sprintf("arn:aws:organizations::%s:ou/%s/%s", s.masterAccountID, s.orgID, id)
}

func (s *Server) rootArn() string {
	return fmt.Sprintf("arn:aws:organizations::%s:root/%s/%s", s.masterAccountID, s.orgID, s.rootID)
}

func (s *Server) policyArn(id string) string {
	return fmt.Sprintf("arn:aws:organizations::%s:policy/%s/service_control_policy/%s", s.masterAccountID, s.orgID, id)
}

// CreateAccount registers a new account under the root, mirroring the
// provider's behavior of completing account creation synchronously.
func (s *Server) CreateAccount(ctx context.Context, params *organizations.CreateAccountInput, optFns ...func(*organizations.Options)) (*organizations.CreateAccountOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := aws.ToString(params.AccountName)
	if name == "" {
		return nil, &smithy.GenericAPIError{Code: "InvalidInputException", Message: "account name is required"}
	}
	s.nextAccount++
	account := &serverAccount{
		id:       fmt.Sprintf("%012d", 112233000000+s.nextAccount),
		name:     name,
		email:    aws.ToString(params.Email),
		parentID: s.rootID,
	}
	s.accounts = append(s.accounts, account)

	return &organizations.CreateAccountOutput{
		CreateAccountStatus: &awstypes.CreateAccountStatus{
			AccountId:   aws.String(account.id),
			AccountName: aws.String(account.name),
			Id:          aws.String("car-" + account.id),
			State:       awstypes.CreateAccountStateSucceeded,
		},
	}, nil
}

// AddIncompleteAccount registers an account the provider has not finished
// creating. It appears in listings without a name.
func (s *Server) AddIncompleteAccount() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAccount++
	account := &serverAccount{
		id:       fmt.Sprintf("%012d", 112233000000+s.nextAccount),
		parentID: s.rootID,
	}
	s.accounts = append(s.accounts, account)
	return account.id
}

func (s *Server) MoveAccount(ctx context.Context, params *organizations.MoveAccountInput, optFns ...func(*organizations.Options)) (*organizations.MoveAccountOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	account := s.findAccount(aws.ToString(params.AccountId))
	if account == nil {
		return nil, &smithy.GenericAPIError{Code: "AccountNotFoundException", Message: "no such account"}
	}
	destination := aws.ToString(params.DestinationParentId)
	if !s.parentExists(destination) {
		return nil, &smithy.GenericAPIError{Code: "DestinationParentNotFoundException", Message: "no such parent"}
	}
	if account.parentID != aws.ToString(params.SourceParentId) {
		return nil, &smithy.GenericAPIError{Code: "AccountNotFoundException", Message: "account is not under the source parent"}
	}
	account.parentID = destination
	return &organizations.MoveAccountOutput{}, nil
}

func (s *Server) CreateOrganizationalUnit(ctx context.Context, params *organizations.CreateOrganizationalUnitInput, optFns ...func(*organizations.Options)) (*organizations.CreateOrganizationalUnitOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parentID := aws.ToString(params.ParentId)
	if !s.parentExists(parentID) {
		return nil, &smithy.GenericAPIError{Code: "ParentNotFoundException", Message: "no such parent"}
	}
	s.nextOU++
	ou := &serverOU{
		id:       fmt.Sprintf("ou-mock-%08d", s.nextOU),
		name:     aws.ToString(params.Name),
		parentID: parentID,
	}
	s.ous = append(s.ous, ou)

	return &organizations.CreateOrganizationalUnitOutput{
		OrganizationalUnit: &awstypes.OrganizationalUnit{
			Arn:  aws.String(s.ouArn(ou.id)),
			Id:   aws.String(ou.id),
			Name: aws.String(ou.name),
		},
	}, nil
}

func (s *Server) CreatePolicy(ctx context.Context, params *organizations.CreatePolicyInput, optFns ...func(*organizations.Options)) (*organizations.CreatePolicyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextPolicy++
	policy := &serverPolicy{
		id:      fmt.Sprintf("p-%08d", s.nextPolicy),
		name:    aws.ToString(params.Name),
		content: aws.ToString(params.Content),
	}
	s.policies = append(s.policies, policy)

	return &organizations.CreatePolicyOutput{
		Policy: &awstypes.Policy{
			Content: aws.String(policy.content),
			PolicySummary: &awstypes.PolicySummary{
				Arn:  aws.String(s.policyArn(policy.id)),
				Id:   aws.String(policy.id),
				Name: aws.String(policy.name),
				Type: awstypes.PolicyTypeServiceControlPolicy,
			},
		},
	}, nil
}

func (s *Server) AttachPolicy(ctx context.Context, params *organizations.AttachPolicyInput, optFns ...func(*organizations.Options)) (*organizations.AttachPolicyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	policy := s.findPolicy(aws.ToString(params.PolicyId))
	if policy == nil {
		return nil, &smithy.GenericAPIError{Code: "PolicyNotFoundException", Message: "no such policy"}
	}
	targetID := aws.ToString(params.TargetId)
	if targetID != s.rootID && s.findOU(targetID) == nil && s.findAccount(targetID) == nil {
		return nil, &smithy.GenericAPIError{Code: "TargetNotFoundException", Message: "no such target"}
	}
	for _, attached := range policy.targets {
		if attached == targetID {
			return nil, &smithy.GenericAPIError{Code: "DuplicatePolicyAttachmentException", Message: "policy already attached"}
		}
	}
	policy.targets = append(policy.targets, targetID)
	return &organizations.AttachPolicyOutput{}, nil
}

func (s *Server) DescribeOrganization(ctx context.Context, params *organizations.DescribeOrganizationInput, optFns ...func(*organizations.Options)) (*organizations.DescribeOrganizationOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}
	return &organizations.DescribeOrganizationOutput{
		Organization: &awstypes.Organization{
			Arn:              aws.String(fmt.Sprintf("arn:aws:organizations::%s:organization/%s", s.masterAccountID, s.orgID)),
			FeatureSet:       awstypes.OrganizationFeatureSetAll,
			Id:               aws.String(s.orgID),
			MasterAccountArn: aws.String(s.accountArn(s.masterAccountID)),
			MasterAccountId:  aws.String(s.masterAccountID),
		},
	}, nil
}

func (s *Server) ListRoots(ctx context.Context, params *organizations.ListRootsInput, optFns ...func(*organizations.Options)) (*organizations.ListRootsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}
	return &organizations.ListRootsOutput{
		Roots: []awstypes.Root{{
			Arn:  aws.String(s.rootArn()),
			Id:   aws.String(s.rootID),
			Name: aws.String("Root"),
			PolicyTypes: []awstypes.PolicyTypeSummary{{
				Status: awstypes.PolicyTypeStatusEnabled,
				Type:   awstypes.PolicyTypeServiceControlPolicy,
			}},
		}},
	}, nil
}

func (s *Server) ListAccounts(ctx context.Context, params *organizations.ListAccountsInput, optFns ...func(*organizations.Options)) (*organizations.ListAccountsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}

	page, next, err := paginate(s.accounts, params.NextToken)
	if err != nil {
		return nil, err
	}
	output := &organizations.ListAccountsOutput{NextToken: next}
	for _, account := range page {
		entry := awstypes.Account{
			Arn:    aws.String(s.accountArn(account.id)),
			Email:  aws.String(account.email),
			Id:     aws.String(account.id),
			Status: awstypes.AccountStatusActive,
		}
		if account.name != "" {
			entry.Name = aws.String(account.name)
		}
		output.Accounts = append(output.Accounts, entry)
	}
	return output, nil
}

func (s *Server) ListParents(ctx context.Context, params *organizations.ListParentsInput, optFns ...func(*organizations.Options)) (*organizations.ListParentsOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}

	childID := aws.ToString(params.ChildId)
	parentID := ""
	if account := s.findAccount(childID); account != nil {
		parentID = account.parentID
	} else if ou := s.findOU(childID); ou != nil {
		parentID = ou.parentID
	} else {
		return nil, &smithy.GenericAPIError{Code: "ChildNotFoundException", Message: "no such child"}
	}

	parentType := awstypes.ParentTypeOrganizationalUnit
	if parentID == s.rootID {
		parentType = awstypes.ParentTypeRoot
	}
	return &organizations.ListParentsOutput{
		Parents: []awstypes.Parent{{Id: aws.String(parentID), Type: parentType}},
	}, nil
}

func (s *Server) ListOrganizationalUnitsForParent(ctx context.Context, params *organizations.ListOrganizationalUnitsForParentInput, optFns ...func(*organizations.Options)) (*organizations.ListOrganizationalUnitsForParentOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}

	parentID := aws.ToString(params.ParentId)
	if !s.parentExists(parentID) {
		return nil, &smithy.GenericAPIError{Code: "ParentNotFoundException", Message: "no such parent"}
	}
	var children []*serverOU
	for _, ou := range s.ous {
		if ou.parentID == parentID {
			children = append(children, ou)
		}
	}

	page, next, err := paginate(children, params.NextToken)
	if err != nil {
		return nil, err
	}
	output := &organizations.ListOrganizationalUnitsForParentOutput{NextToken: next}
	for _, ou := range page {
		output.OrganizationalUnits = append(output.OrganizationalUnits, awstypes.OrganizationalUnit{
			Arn:  aws.String(s.ouArn(ou.id)),
			Id:   aws.String(ou.id),
			Name: aws.String(ou.name),
		})
	}
	return output, nil
}

func (s *Server) policySummary(policy *serverPolicy) awstypes.PolicySummary {
	return awstypes.PolicySummary{
		Arn:        aws.String(s.policyArn(policy.id)),
		AwsManaged: false,
		Id:         aws.String(policy.id),
		Name:       aws.String(policy.name),
		Type:       awstypes.PolicyTypeServiceControlPolicy,
	}
}

func (s *Server) ListPolicies(ctx context.Context, params *organizations.ListPoliciesInput, optFns ...func(*organizations.Options)) (*organizations.ListPoliciesOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}

	page, next, err := paginate(s.policies, params.NextToken)
	if err != nil {
		return nil, err
	}
	output := &organizations.ListPoliciesOutput{NextToken: next}
	for _, policy := range page {
		output.Policies = append(output.Policies, s.policySummary(policy))
	}
	return output, nil
}

func (s *Server) ListPoliciesForTarget(ctx context.Context, params *organizations.ListPoliciesForTargetInput, optFns ...func(*organizations.Options)) (*organizations.ListPoliciesForTargetOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}

	targetID := aws.ToString(params.TargetId)
	if targetID != s.rootID && s.findOU(targetID) == nil && s.findAccount(targetID) == nil {
		return nil, &smithy.GenericAPIError{Code: "TargetNotFoundException", Message: "no such target"}
	}
	var attached []*serverPolicy
	for _, policy := range s.policies {
		for _, target := range policy.targets {
			if target == targetID {
				attached = append(attached, policy)
				break
			}
		}
	}

	page, next, err := paginate(attached, params.NextToken)
	if err != nil {
		return nil, err
	}
	output := &organizations.ListPoliciesForTargetOutput{NextToken: next}
	for _, policy := range page {
		output.Policies = append(output.Policies, s.policySummary(policy))
	}
	return output, nil
}

func (s *Server) ListTargetsForPolicy(ctx context.Context, params *organizations.ListTargetsForPolicyInput, optFns ...func(*organizations.Options)) (*organizations.ListTargetsForPolicyOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.maybeThrottle(); err != nil {
		return nil, err
	}

	policy := s.findPolicy(aws.ToString(params.PolicyId))
	if policy == nil {
		return nil, &smithy.GenericAPIError{Code: "PolicyNotFoundException", Message: "no such policy"}
	}

	page, next, err := paginate(policy.targets, params.NextToken)
	if err != nil {
		return nil, err
	}
	output := &organizations.ListTargetsForPolicyOutput{NextToken: next}
	for _, targetID := range page {
		summary := awstypes.PolicyTargetSummary{TargetId: aws.String(targetID)}
		switch {
		case targetID == s.rootID:
			summary.Arn = aws.String(s.rootArn())
			summary.Name = aws.String("Root")
			summary.Type = awstypes.TargetTypeRoot
		case s.findOU(targetID) != nil:
			summary.Arn = aws.String(s.ouArn(targetID))
			summary.Name = aws.String(s.findOU(targetID).name)
			summary.Type = awstypes.TargetTypeOrganizationalUnit
		default:
			summary.Arn = aws.String(s.accountArn(targetID))
			summary.Name = aws.String(s.findAccount(targetID).name)
			summary.Type = awstypes.TargetTypeAccount
		}
		output.Targets = append(output.Targets, summary)
	}
	return output, nil
}

func accountIDFromRoleArn(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) != 6 || !strings.HasPrefix(parts[5], "role/") {
		return ""
	}
	return parts[4]
}

// AssumeRole hands out deterministic per-account credentials. Accounts
// registered through DenyAssumeRole fail with AccessDenied, as does any
// account the organization does not contain.
func (s *Server) AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	roleArn := aws.ToString(params.RoleArn)
	s.assumedRoles = append(s.assumedRoles, roleArn)

	accountID := accountIDFromRoleArn(roleArn)
	known := accountID == s.masterAccountID || s.findAccount(accountID) != nil
	if !known || s.denyAccounts[accountID] {
		return nil, &smithy.GenericAPIError{Code: "AccessDenied", Message: fmt.Sprintf("not authorized to assume %s", roleArn)}
	}

	sessionName := aws.ToString(params.RoleSessionName)
	return &sts.AssumeRoleOutput{
		AssumedRoleUser: &ststypes.AssumedRoleUser{
			Arn:           aws.String(roleArn + "/" + sessionName),
			AssumedRoleId: aws.String("AROAMOCK:" + sessionName),
		},
		Credentials: &ststypes.Credentials{
			AccessKeyId:     aws.String("ASIA" + accountID),
			SecretAccessKey: aws.String("mock-secret-" + accountID),
			SessionToken:    aws.String("mock-session-" + accountID),
			Expiration:      aws.Time(time.Now().Add(time.Hour)),
		},
	}, nil
}

func (s *Server) GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &sts.GetCallerIdentityOutput{
		Account: aws.String(s.masterAccountID),
		Arn:     aws.String(fmt.Sprintf("arn:aws:iam::%s:user/mock", s.masterAccountID)),
		UserId:  aws.String("AIDAMOCK"),
	}, nil
}
