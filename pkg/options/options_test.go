package options

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		name     string
		prefixes []string
		want     string
	}{
		{name: "empty", prefixes: nil, want: ""},
		{name: "single", prefixes: []string{"cache"}, want: "cache."},
		{name: "nested", prefixes: []string{"cache", "redis"}, want: "cache.redis."},
		{name: "already dotted", prefixes: []string{"cache."}, want: "cache."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Join(tt.prefixes...))
		})
	}
}
