// Package orgs models an AWS Organization: the tree of accounts,
// organizational units, and service control policies reachable from the
// management account, discovered live or restored from a local cache.
package orgs

import (
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/praetorian-inc/orgcrawler/pkg/awsauth"
)

const (
	// DefaultCacheMaxAge is how long a cache file stays fresh.
	DefaultCacheMaxAge = 60 * time.Minute

	cacheDirName    = ".orgcrawler-cache"
	cacheFilePrefix = "cache_file-"
)

// OrgObject carries the attributes shared by every node in the
// organization graph. Node types embed it by value; there is no runtime
// dispatch over a common interface.
type OrgObject struct {
	OrganizationID    string   `json:"organization_id" yaml:"organization_id"`
	MasterAccountID   string   `json:"master_account_id" yaml:"master_account_id"`
	Name              string   `json:"name" yaml:"name"`
	ID                string   `json:"id" yaml:"id"`
	ParentID          string   `json:"parent_id" yaml:"parent_id"`
	AttachedPolicyIDs []string `json:"attached_policy_ids" yaml:"attached_policy_ids"`
}

// Account is a member account. Credentials are populated in memory by the
// credential broker and never serialized.
type Account struct {
	OrgObject `yaml:",inline"`

	Email       string              `json:"email" yaml:"email"`
	Aliases     []string            `json:"aliases" yaml:"aliases"`
	Credentials awsauth.Credentials `json:"-" yaml:"-"`
}

// OrgUnit is a named grouping node. Its parent is the root or another OU;
// the root itself is represented only by Organization.RootID.
type OrgUnit struct {
	OrgObject `yaml:",inline"`
}

// PolicyTarget records one attachment of a policy.
type PolicyTarget struct {
	TargetID string `json:"target_id" yaml:"target_id"`
	Type     string `json:"type" yaml:"type"`
	Name     string `json:"name" yaml:"name"`
	Arn      string `json:"arn" yaml:"arn"`
}

// Policy is a service control policy and its attachments.
type Policy struct {
	OrgObject `yaml:",inline"`

	Targets []PolicyTarget `json:"targets" yaml:"targets"`
}

// Organization is the root aggregate. It is mutated only by Load/Refresh
// and treated as read-only afterwards; concurrent loads are not supported.
type Organization struct {
	MasterAccountID string
	AccessRole      string

	// ID and RootID are provider-assigned ("o-", "r-" prefixes). Only the
	// first root reported by the provider is used; AWS organizations have
	// exactly one.
	ID     string
	RootID string

	Accounts []*Account
	OrgUnits []*OrgUnit
	Policies []*Policy

	// Cache configuration. Tests point CacheDir at a scratch directory.
	CacheDir    string
	CacheFile   string
	CacheMaxAge time.Duration

	// Throttle retry budget for discovery pagination.
	RetryCap  int
	RetryWait time.Duration

	logger *slog.Logger
}

// Option configures an Organization.
type Option func(*Organization)

// WithCacheDir overrides the cache directory.
func WithCacheDir(dir string) Option {
	return func(org *Organization) { org.CacheDir = dir }
}

// WithCacheFile overrides the cache file name.
func WithCacheFile(name string) Option {
	return func(org *Organization) { org.CacheFile = name }
}

// WithCacheMaxAge overrides how long a cache file stays fresh.
func WithCacheMaxAge(age time.Duration) Option {
	return func(org *Organization) { org.CacheMaxAge = age }
}

// WithRetry overrides the throttle retry budget for discovery calls.
func WithRetry(cap int, wait time.Duration) Option {
	return func(org *Organization) {
		org.RetryCap = cap
		org.RetryWait = wait
	}
}

// WithLogger overrides the organization's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(org *Organization) { org.logger = logger }
}

// New returns an Organization rooted at the given management account,
// ready to Load.
func New(masterAccountID, accessRole string, opts ...Option) *Organization {
	org := &Organization{
		MasterAccountID: masterAccountID,
		AccessRole:      accessRole,
		CacheDir:        DefaultCacheDir(),
		CacheFile:       cacheFilePrefix + masterAccountID,
		CacheMaxAge:     DefaultCacheMaxAge,
		RetryCap:        awsauth.DefaultRetryCap,
		RetryWait:       awsauth.DefaultRetryWait,
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(org)
	}
	return org
}

// DefaultCacheDir is the per-user cache location.
func DefaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return cacheDirName
	}
	return filepath.Join(home, cacheDirName)
}

func (org *Organization) newOrgObject(name, id, parentID string, policyIDs []string) OrgObject {
	return OrgObject{
		OrganizationID:    org.ID,
		MasterAccountID:   org.MasterAccountID,
		Name:              name,
		ID:                id,
		ParentID:          parentID,
		AttachedPolicyIDs: policyIDs,
	}
}
