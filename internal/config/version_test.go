package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckConfigVersion(t *testing.T) {
	tests := []struct {
		name    string
		version string
		wantErr bool
	}{
		{"empty is accepted", "", false},
		{"exact match", "1.0.0", false},
		{"same major newer minor", "1.2.3", false},
		{"abbreviated", "1.0", false},
		{"major mismatch", "2.0.0", true},
		{"not a version", "latest", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckConfigVersion(tt.version)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
