package orgs

import "slices"

// Policy target types as the provider reports them.
const (
	TargetRoot    = "ROOT"
	TargetOrgUnit = "ORGANIZATIONAL_UNIT"
	TargetAccount = "ACCOUNT"
)

// Queries are linear scans over the loaded graph. They never mutate the
// organization and never fail: unresolvable identifiers yield nil, an
// empty string, or an empty collection.

// GetAccount resolves identifier to an account. It accepts an *Account,
// an account id, an account name, or one of the account's aliases.
func (org *Organization) GetAccount(identifier any) *Account {
	switch v := identifier.(type) {
	case *Account:
		return v
	case string:
		for _, account := range org.Accounts {
			if account.ID == v || account.Name == v || slices.Contains(account.Aliases, v) {
				return account
			}
		}
	}
	return nil
}

// GetOrgUnit resolves identifier to an organizational unit by object, id,
// or name. The root is not an OU object and never resolves here.
func (org *Organization) GetOrgUnit(identifier any) *OrgUnit {
	switch v := identifier.(type) {
	case *OrgUnit:
		return v
	case string:
		for _, ou := range org.OrgUnits {
			if ou.ID == v || ou.Name == v {
				return ou
			}
		}
	}
	return nil
}

// GetOrgUnitID resolves identifier to an OU id. The literal "root" and the
// organization's root id both resolve to the root id, so every container
// in the tree can be named the same way.
func (org *Organization) GetOrgUnitID(identifier any) string {
	if v, ok := identifier.(string); ok {
		if v == "root" || v == org.RootID {
			return org.RootID
		}
	}
	if ou := org.GetOrgUnit(identifier); ou != nil {
		return ou.ID
	}
	return ""
}

// GetPolicy resolves identifier to a policy by object, id, or name.
func (org *Organization) GetPolicy(identifier any) *Policy {
	switch v := identifier.(type) {
	case *Policy:
		return v
	case string:
		for _, policy := range org.Policies {
			if policy.ID == v || policy.Name == v {
				return policy
			}
		}
	}
	return nil
}

func (org *Organization) ListAccountsByName() []string {
	names := []string{}
	for _, account := range org.Accounts {
		names = append(names, account.Name)
	}
	return names
}

func (org *Organization) ListAccountsByID() []string {
	ids := []string{}
	for _, account := range org.Accounts {
		ids = append(ids, account.ID)
	}
	return ids
}

func (org *Organization) ListOrgUnitsByName() []string {
	names := []string{}
	for _, ou := range org.OrgUnits {
		names = append(names, ou.Name)
	}
	return names
}

func (org *Organization) ListOrgUnitsByID() []string {
	ids := []string{}
	for _, ou := range org.OrgUnits {
		ids = append(ids, ou.ID)
	}
	return ids
}

func (org *Organization) ListPoliciesByName() []string {
	names := []string{}
	for _, policy := range org.Policies {
		names = append(names, policy.Name)
	}
	return names
}

func (org *Organization) ListPoliciesByID() []string {
	ids := []string{}
	for _, policy := range org.Policies {
		ids = append(ids, policy.ID)
	}
	return ids
}

func (org *Organization) GetAccountIDByName(name string) string {
	for _, account := range org.Accounts {
		if account.Name == name {
			return account.ID
		}
	}
	return ""
}

func (org *Organization) GetAccountNameByID(id string) string {
	for _, account := range org.Accounts {
		if account.ID == id {
			return account.Name
		}
	}
	return ""
}

func (org *Organization) GetPolicyIDByName(name string) string {
	for _, policy := range org.Policies {
		if policy.Name == name {
			return policy.ID
		}
	}
	return ""
}

func (org *Organization) GetPolicyNameByID(id string) string {
	for _, policy := range org.Policies {
		if policy.ID == id {
			return policy.Name
		}
	}
	return ""
}

// ListAccountsInOU returns the accounts parented directly by the named
// container, which may be an OU or the root.
func (org *Organization) ListAccountsInOU(identifier any) []*Account {
	accounts := []*Account{}
	parentID := org.GetOrgUnitID(identifier)
	if parentID == "" {
		return accounts
	}
	for _, account := range org.Accounts {
		if account.ParentID == parentID {
			accounts = append(accounts, account)
		}
	}
	return accounts
}

// ListOrgUnitsInOU returns the OUs parented directly by the named
// container.
func (org *Organization) ListOrgUnitsInOU(identifier any) []*OrgUnit {
	ous := []*OrgUnit{}
	parentID := org.GetOrgUnitID(identifier)
	if parentID == "" {
		return ous
	}
	for _, ou := range org.OrgUnits {
		if ou.ParentID == parentID {
			ous = append(ous, ou)
		}
	}
	return ous
}

// ListOrgUnitsInOURecursive returns every OU beneath the named container
// in depth first order. The parent tree invariant guarantees termination.
func (org *Organization) ListOrgUnitsInOURecursive(identifier any) []*OrgUnit {
	ous := []*OrgUnit{}
	parentID := org.GetOrgUnitID(identifier)
	if parentID == "" {
		return ous
	}
	var walk func(parentID string)
	walk = func(parentID string) {
		for _, ou := range org.OrgUnits {
			if ou.ParentID == parentID {
				ous = append(ous, ou)
				walk(ou.ID)
			}
		}
	}
	walk(parentID)
	return ous
}

// ListAccountsInOURecursive returns every account beneath the named
// container, including those in nested OUs.
func (org *Organization) ListAccountsInOURecursive(identifier any) []*Account {
	accounts := []*Account{}
	parentID := org.GetOrgUnitID(identifier)
	if parentID == "" {
		return accounts
	}
	accounts = append(accounts, org.ListAccountsInOU(parentID)...)
	for _, ou := range org.ListOrgUnitsInOURecursive(parentID) {
		accounts = append(accounts, org.ListAccountsInOU(ou.ID)...)
	}
	return accounts
}

// GetTargetsForPolicy returns the target records of the named policy.
func (org *Organization) GetTargetsForPolicy(identifier any) []PolicyTarget {
	policy := org.GetPolicy(identifier)
	if policy == nil {
		return []PolicyTarget{}
	}
	return policy.Targets
}

// GetPoliciesForTarget returns the policies attached directly to the named
// account, OU, or root.
func (org *Organization) GetPoliciesForTarget(identifier any) []*Policy {
	if account := org.GetAccount(identifier); account != nil {
		return org.policiesByID(account.AttachedPolicyIDs)
	}
	if ou := org.GetOrgUnit(identifier); ou != nil {
		return org.policiesByID(ou.AttachedPolicyIDs)
	}

	// The root carries no attached policy list of its own, so its
	// attachments come from the policy target records.
	policies := []*Policy{}
	if v, ok := identifier.(string); ok && (v == "root" || v == org.RootID) {
		for _, policy := range org.Policies {
			for _, target := range policy.Targets {
				if target.TargetID == org.RootID {
					policies = append(policies, policy)
					break
				}
			}
		}
	}
	return policies
}

func (org *Organization) policiesByID(ids []string) []*Policy {
	policies := []*Policy{}
	for _, id := range ids {
		if policy := org.GetPolicy(id); policy != nil {
			policies = append(policies, policy)
		}
	}
	return policies
}

// GetAccountsForPolicyRecursive returns every account the named policy
// applies to. Account targets contribute themselves; root and OU targets
// contribute every account beneath them. Duplicates are removed.
func (org *Organization) GetAccountsForPolicyRecursive(identifier any) []*Account {
	accounts := []*Account{}
	policy := org.GetPolicy(identifier)
	if policy == nil {
		return accounts
	}
	for _, target := range policy.Targets {
		switch target.Type {
		case TargetAccount:
			if account := org.GetAccount(target.TargetID); account != nil {
				accounts = append(accounts, account)
			}
		case TargetRoot, TargetOrgUnit:
			accounts = append(accounts, org.ListAccountsInOURecursive(target.TargetID)...)
		}
	}

	seen := make(map[string]bool, len(accounts))
	unique := []*Account{}
	for _, account := range accounts {
		if seen[account.ID] {
			continue
		}
		seen[account.ID] = true
		unique = append(unique, account)
	}
	return unique
}
