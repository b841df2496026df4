package regions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestForService(t *testing.T) {
	tests := []struct {
		name       string
		service    string
		wantGlobal bool
		wantErr    bool
	}{
		{name: "regional service", service: "ec2"},
		{name: "regional service upper case", service: "S3"},
		{name: "global service", service: "iam", wantGlobal: true},
		{name: "global service route53", service: "route53", wantGlobal: true},
		{name: "unknown service", service: "blee", wantErr: true},
		{name: "empty service", service: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ForService(tt.service)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidService)
				return
			}
			require.NoError(t, err)
			if tt.wantGlobal {
				assert.Equal(t, []string{Global}, got)
			} else {
				assert.NotEmpty(t, got)
				assert.NotContains(t, got, Global)
				assert.Contains(t, got, "us-east-1")
			}
		})
	}
}

func TestAllMatchesComputeService(t *testing.T) {
	fromService, err := ForService("ec2")
	require.NoError(t, err)
	assert.Equal(t, fromService, All())
}

func TestForServiceReturnsCopy(t *testing.T) {
	first, err := ForService("ec2")
	require.NoError(t, err)
	first[0] = "mutated"

	second, err := ForService("ec2")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", second[0])
}

func TestIsRegion(t *testing.T) {
	assert.True(t, IsRegion("us-east-1"))
	assert.True(t, IsRegion("eu-west-2"))
	assert.False(t, IsRegion("mars-central-1"))
	assert.False(t, IsRegion(Global))
	assert.False(t, IsRegion(""))
}
