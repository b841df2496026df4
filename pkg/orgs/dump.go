package orgs

import "github.com/praetorian-inc/orgcrawler/pkg/awsauth"

// Dump is the serializable form of an Organization. Account credentials
// and other transient state never appear in it, so a dump is safe to
// persist or print.
type Dump struct {
	ID              string     `json:"id" yaml:"id"`
	MasterAccountID string     `json:"master_account_id" yaml:"master_account_id"`
	AccessRole      string     `json:"access_role" yaml:"access_role"`
	RootID          string     `json:"root_id" yaml:"root_id"`
	Accounts        []*Account `json:"accounts" yaml:"accounts"`
	OrgUnits        []*OrgUnit `json:"org_units" yaml:"org_units"`
	Policies        []*Policy  `json:"policies" yaml:"policies"`
}

// Dump captures the organization's plain data. Callers treat the result
// as read only.
func (org *Organization) Dump() *Dump {
	return &Dump{
		ID:              org.ID,
		MasterAccountID: org.MasterAccountID,
		AccessRole:      org.AccessRole,
		RootID:          org.RootID,
		Accounts:        org.Accounts,
		OrgUnits:        org.OrgUnits,
		Policies:        org.Policies,
	}
}

// restore rebuilds the organization graph from a dump. Credentials are
// reset to empty regardless of what the dump carried.
func (org *Organization) restore(dump *Dump) {
	org.ID = dump.ID
	org.RootID = dump.RootID
	org.Accounts = dump.Accounts
	org.OrgUnits = dump.OrgUnits
	org.Policies = dump.Policies
	for _, account := range org.Accounts {
		account.Credentials = awsauth.Credentials{}
	}
}

// DumpAccounts returns every account in the organization.
func (org *Organization) DumpAccounts() []*Account {
	return org.Accounts
}

// DumpOrgUnits returns every organizational unit in the organization.
func (org *Organization) DumpOrgUnits() []*OrgUnit {
	return org.OrgUnits
}

// DumpPolicies returns every service control policy in the organization.
func (org *Organization) DumpPolicies() []*Policy {
	return org.Policies
}
