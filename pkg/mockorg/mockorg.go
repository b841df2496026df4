package mockorg

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/organizations"
	awstypes "github.com/aws/aws-sdk-go-v2/service/organizations/types"
	"gopkg.in/yaml.v3"
)

// MasterAccountID is the account id tests conventionally hand to
// NewServer.
const MasterAccountID = "123456789012"

const allowAllPolicy = `{"Version": "2012-10-17", "Statement": [{"Effect": "Allow", "Action": "*", "Resource": "*"}]}`

// SimpleOrgSpec describes a small organization: three accounts at the
// root, three OU branches one level deep, and three policies attached at
// the root, an account, and an OU.
const SimpleOrgSpec = `
root:
  accounts:
    - name: account01
      policies:
        - policy02
    - account02
    - account03
  policies:
    - policy01
  org_units:
    - name: ou01
      policies:
        - policy03
      org_units:
        - name: ou01-sub0
    - name: ou02
      org_units:
        - name: ou02-sub0
    - name: ou03
      org_units:
        - name: ou03-sub0
`

// ComplexOrgSpec describes a deeper organization: thirteen accounts
// spread over two OU branches with nested children, and six policies
// including one attached to both an OU and an account.
const ComplexOrgSpec = `
root:
  accounts:
    - name: account01
      policies:
        - policy02
    - account02
    - account03
  policies:
    - policy01
  org_units:
    - name: ou01
      accounts:
        - account04
      policies:
        - policy03
      org_units:
        - name: ou01-1
          accounts:
            - account05
            - account06
        - name: ou01-2
          accounts:
            - account09
            - account10
          policies:
            - policy05
    - name: ou02
      accounts:
        - name: account07
          policies:
            - policy05
        - account08
      policies:
        - policy04
      org_units:
        - name: ou02-1
          accounts:
            - account11
        - name: ou02-2
          accounts:
            - account12
            - account13
          policies:
            - policy06
`

// OrgSpec is the declarative form of a test organization.
type OrgSpec struct {
	Root OUSpec `yaml:"root"`
}

// OUSpec describes one container in the tree. The root uses the same
// shape with its name ignored.
type OUSpec struct {
	Name     string        `yaml:"name"`
	Accounts []AccountSpec `yaml:"accounts"`
	Policies []string      `yaml:"policies"`
	OrgUnits []OUSpec      `yaml:"org_units"`
}

// AccountSpec names an account and the policies attached to it. In YAML
// it may be a bare string when no policies apply.
type AccountSpec struct {
	Name     string   `yaml:"name"`
	Policies []string `yaml:"policies"`
}

func (a *AccountSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		a.Name = value.Value
		return nil
	}
	type plain AccountSpec
	var decoded plain
	if err := value.Decode(&decoded); err != nil {
		return err
	}
	*a = AccountSpec(decoded)
	return nil
}

// Populate builds the organization described by spec: OUs are created
// depth first, accounts are created and moved under their parent, and
// each policy is created once then attached everywhere the spec names
// it. Policy content is a fixed allow-all statement.
func (s *Server) Populate(spec string) error {
	var parsed OrgSpec
	if err := yaml.Unmarshal([]byte(spec), &parsed); err != nil {
		return fmt.Errorf("parse org spec: %w", err)
	}
	return s.populate(context.Background(), s.rootID, parsed.Root, map[string]string{})
}

func (s *Server) populate(ctx context.Context, parentID string, node OUSpec, policyIDs map[string]string) error {
	for _, policyName := range node.Policies {
		if err := s.attachNamedPolicy(ctx, policyName, parentID, policyIDs); err != nil {
			return err
		}
	}

	for _, accountSpec := range node.Accounts {
		created, err := s.CreateAccount(ctx, &organizations.CreateAccountInput{
			AccountName: aws.String(accountSpec.Name),
			Email:       aws.String(accountSpec.Name + "@example.org"),
		})
		if err != nil {
			return fmt.Errorf("create account %s: %w", accountSpec.Name, err)
		}
		accountID := aws.ToString(created.CreateAccountStatus.AccountId)
		if parentID != s.rootID {
			_, err := s.MoveAccount(ctx, &organizations.MoveAccountInput{
				AccountId:           aws.String(accountID),
				SourceParentId:      aws.String(s.rootID),
				DestinationParentId: aws.String(parentID),
			})
			if err != nil {
				return fmt.Errorf("move account %s: %w", accountSpec.Name, err)
			}
		}
		for _, policyName := range accountSpec.Policies {
			if err := s.attachNamedPolicy(ctx, policyName, accountID, policyIDs); err != nil {
				return err
			}
		}
	}

	for _, child := range node.OrgUnits {
		created, err := s.CreateOrganizationalUnit(ctx, &organizations.CreateOrganizationalUnitInput{
			Name:     aws.String(child.Name),
			ParentId: aws.String(parentID),
		})
		if err != nil {
			return fmt.Errorf("create org unit %s: %w", child.Name, err)
		}
		if err := s.populate(ctx, aws.ToString(created.OrganizationalUnit.Id), child, policyIDs); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) attachNamedPolicy(ctx context.Context, name, targetID string, policyIDs map[string]string) error {
	id, ok := policyIDs[name]
	if !ok {
		created, err := s.CreatePolicy(ctx, &organizations.CreatePolicyInput{
			Content:     aws.String(allowAllPolicy),
			Description: aws.String("Mock service control policy"),
			Name:        aws.String(name),
			Type:        awstypes.PolicyTypeServiceControlPolicy,
		})
		if err != nil {
			return fmt.Errorf("create policy %s: %w", name, err)
		}
		id = aws.ToString(created.Policy.PolicySummary.Id)
		policyIDs[name] = id
	}
	_, err := s.AttachPolicy(ctx, &organizations.AttachPolicyInput{
		PolicyId: aws.String(id),
		TargetId: aws.String(targetID),
	})
	if err != nil {
		return fmt.Errorf("attach policy %s to %s: %w", name, targetID, err)
	}
	return nil
}
