package redis

import (
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptions_RedactsPassword(t *testing.T) {
	o := NewOptions()
	o.Password = "s3cret"

	data, err := o.MarshalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(data), "s3cret")
	assert.Contains(t, string(data), redactedPassword)
	assert.False(t, strings.Contains(o.String(), "s3cret"))
}

func TestOptions_Flags(t *testing.T) {
	o := NewOptions()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	o.AddFlags(fs, "cache")

	require.NoError(t, fs.Parse([]string{"--cache.redis.host=redis.local", "--cache.redis.port=6380"}))
	assert.Equal(t, "redis.local:6380", o.Addr())
	assert.Empty(t, o.Validate())
}

func TestOptions_ValidatePort(t *testing.T) {
	o := NewOptions()
	o.Port = 0
	assert.Len(t, o.Validate(), 1)
}
