package secrets

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDefaultOptions(t *testing.T) {
	opts := defaultOptions()

	assert.Empty(t, opts.region)
	assert.Empty(t, opts.endpoint)
	assert.Equal(t, zerolog.Disabled, opts.logger.GetLevel())
}

func TestApplyOptions(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	tests := []struct {
		name  string
		opts  []Option
		check func(t *testing.T, o *clientOptions)
	}{
		{
			name: "no options",
			opts: nil,
			check: func(t *testing.T, o *clientOptions) {
				assert.Empty(t, o.region)
			},
		},
		{
			name: "region and endpoint",
			opts: []Option{WithRegion("eu-west-1"), WithEndpoint("http://localhost:4566")},
			check: func(t *testing.T, o *clientOptions) {
				assert.Equal(t, "eu-west-1", o.region)
				assert.Equal(t, "http://localhost:4566", o.endpoint)
			},
		},
		{
			name: "later options win",
			opts: []Option{WithRegion("us-east-1"), WithRegion("us-west-2")},
			check: func(t *testing.T, o *clientOptions) {
				assert.Equal(t, "us-west-2", o.region)
			},
		},
		{
			name: "logger",
			opts: []Option{WithLogger(logger)},
			check: func(t *testing.T, o *clientOptions) {
				o.logger.Info().Msg("hello")
				assert.Contains(t, buf.String(), "hello")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := defaultOptions()
			applyOptions(opts, tt.opts)
			tt.check(t, opts)
		})
	}
}
