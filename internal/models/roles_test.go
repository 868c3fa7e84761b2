package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRoles(t *testing.T) {
	tests := []struct {
		role      string
		valid     bool
		canManage bool
	}{
		{RoleAdmin, true, true},
		{RolePerformer, true, false},
		{"beta", false, false},
		{"", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.role, func(t *testing.T) {
			err := ValidateRole(tt.role)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
			assert.Equal(t, tt.canManage, CanManageDatabase(tt.role))
		})
	}
}
