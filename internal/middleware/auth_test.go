package middleware

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/magda-bebop/internal/models"
)

const testSecret = "test-secret"

func TestIssueAndParseToken(t *testing.T) {
	token, err := IssueToken(testSecret, "player-1", models.RolePerformer, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(testSecret, token)
	require.NoError(t, err)
	assert.Equal(t, "player-1", claims.Subject)
	assert.Equal(t, models.RolePerformer, claims.Role)

	_, err = ParseToken("wrong-secret", token)
	assert.Error(t, err)
}

func TestIssueTokenErrors(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		role   string
	}{
		{"empty secret", "", models.RoleAdmin},
		{"unknown role", testSecret, "superuser"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := IssueToken(tt.secret, "ops", tt.role, time.Hour)
			assert.Error(t, err)
		})
	}
}

func TestParseExpiredToken(t *testing.T) {
	token, err := IssueToken(testSecret, "ops", models.RoleAdmin, -time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(testSecret, token)
	assert.Error(t, err)
}
