package regions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/account"
	accounttypes "github.com/aws/aws-sdk-go-v2/service/account/types"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	u "github.com/mpvl/unique"
)

// Enabled returns the regions actually enabled in the calling account,
// sorted. Opt-in regions an account never enabled are excluded, which
// spares a crawl from guaranteed auth failures there. Resolution is
// tiered: the Account API, then EC2 DescribeRegions, then the static
// catalog.
func Enabled(ctx context.Context, cfg aws.Config) ([]string, error) {
	regions, err := enabledFromAccountAPI(ctx, cfg)
	if err == nil && len(regions) > 0 {
		slog.Debug("retrieved enabled regions from account API", "count", len(regions))
		return sorted(regions), nil
	}
	slog.Debug("account API region listing failed, trying EC2", "error", err)

	regions, err = enabledFromEC2(ctx, cfg)
	if err == nil && len(regions) > 0 {
		slog.Debug("retrieved enabled regions from EC2 API", "count", len(regions))
		return sorted(regions), nil
	}
	slog.Debug("EC2 region listing failed, using static catalog", "error", err)

	return sorted(All()), nil
}

func enabledFromAccountAPI(ctx context.Context, cfg aws.Config) ([]string, error) {
	var regions []string

	client := account.NewFromConfig(cfg)
	paginator := account.NewListRegionsPaginator(client, &account.ListRegionsInput{
		RegionOptStatusContains: []accounttypes.RegionOptStatus{
			accounttypes.RegionOptStatusEnabled,
			accounttypes.RegionOptStatusEnabledByDefault,
		},
	})

	for paginator.HasMorePages() {
		result, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list regions from account API: %w", err)
		}
		for _, region := range result.Regions {
			if region.RegionName != nil {
				regions = append(regions, *region.RegionName)
			}
		}
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("no enabled regions found from account API")
	}
	return regions, nil
}

func enabledFromEC2(ctx context.Context, cfg aws.Config) ([]string, error) {
	var regions []string

	client := ec2.NewFromConfig(cfg)
	result, err := client.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("failed to describe regions from EC2 API: %w", err)
	}

	for _, region := range result.Regions {
		if region.RegionName != nil {
			regions = append(regions, *region.RegionName)
		}
	}

	if len(regions) == 0 {
		return nil, fmt.Errorf("no regions found from EC2 API")
	}
	return regions, nil
}

func sorted(regions []string) []string {
	r := u.StringSlice{P: &regions}
	u.Sort(r)
	u.Strings(r.P)
	return regions
}
