package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReservedLogins_Contains(t *testing.T) {
	r := NewReservedLogins([]string{"admin", "bank"})
	assert.True(t, r.Contains("admin"))
	assert.True(t, r.Contains("bank"))
	assert.False(t, r.Contains("alice"))
}

func TestReservedLogins_Reload(t *testing.T) {
	r := NewReservedLogins([]string{"admin"})
	assert.True(t, r.Contains("admin"))
	assert.False(t, r.Contains("exchange"))

	r.Reload([]string{"exchange"})
	assert.False(t, r.Contains("admin"))
	assert.True(t, r.Contains("exchange"))
}
