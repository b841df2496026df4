// Package regions answers which AWS regions a service call can fan out to.
// The catalog is static endpoint data; Enabled consults the live account.
package regions

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Global is the catalog's marker for services with no regional endpoints.
// Callers map it onto a single canonical region before issuing requests.
const Global = "GLOBAL"

// ErrInvalidService reports a service name missing from the catalog.
var ErrInvalidService = errors.New("unknown service")

var standardRegions = []string{
	"us-east-2",
	"us-east-1",
	"us-west-1",
	"us-west-2",
	"af-south-1",
	"ap-east-1",
	"ap-south-2",
	"ap-southeast-3",
	"ap-southeast-4",
	"ap-south-1",
	"ap-northeast-3",
	"ap-northeast-2",
	"ap-southeast-1",
	"ap-southeast-2",
	"ap-northeast-1",
	"ca-central-1",
	"ca-west-1",
	"eu-central-1",
	"eu-west-1",
	"eu-west-2",
	"eu-south-1",
	"eu-west-3",
	"eu-south-2",
	"eu-north-1",
	"eu-central-2",
	"il-central-1",
	"me-south-1",
	"me-central-1",
	"sa-east-1",
}

// serviceRegions maps a service name to the regions where it has
// endpoints. A nil entry means the service is global.
var serviceRegions = map[string][]string{
	"account":        nil,
	"budgets":        nil,
	"cloudfront":     nil,
	"iam":            nil,
	"organizations":  nil,
	"route53":        nil,
	"shield":         nil,
	"sts":            standardRegions,
	"cloudformation": standardRegions,
	"cloudtrail":     standardRegions,
	"cloudwatch":     standardRegions,
	"config":         standardRegions,
	"dynamodb":       standardRegions,
	"ec2":            standardRegions,
	"ecs":            standardRegions,
	"eks":            standardRegions,
	"kms":            standardRegions,
	"lambda":         standardRegions,
	"logs":           standardRegions,
	"rds":            standardRegions,
	"s3":             standardRegions,
	"secretsmanager": standardRegions,
	"sns":            standardRegions,
	"sqs":            standardRegions,
	"ssm":            standardRegions,
}

// ForService returns the ordered list of regions offering the named
// service. Services with no regional endpoints yield the single Global
// marker. Unknown services fail with ErrInvalidService.
func ForService(name string) ([]string, error) {
	regions, ok := serviceRegions[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidService, name)
	}
	if len(regions) == 0 {
		return []string{Global}, nil
	}
	return slices.Clone(regions), nil
}

// All returns the broadest region list, the one backing the general
// compute service.
func All() []string {
	regions, _ := ForService("ec2")
	return regions
}

// IsRegion reports whether name is a known region identifier.
func IsRegion(name string) bool {
	return slices.Contains(standardRegions, name)
}
