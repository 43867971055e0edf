package auth_test

import (
	"testing"

	"github.com/pkg/errors"
	. "github.com/tobsdb/tdb/internal/auth"
	"gotest.tools/assert"
)

func TestUsers(t *testing.T) {
	users := NewUsers()
	u, err := users.Add("tobs", "secret", TdbUserRoleReadWrite)
	assert.NilError(t, err)
	assert.Assert(t, u.Id != "")

	t.Run("validate", func(t *testing.T) {
		assert.Assert(t, users.Validate("tobs", "secret") == u)
		assert.Assert(t, users.Validate("tobs", "wrong") == nil)
		assert.Assert(t, users.Validate("", "") == nil)
	})

	t.Run("duplicate", func(t *testing.T) {
		_, err := users.Add("tobs", "other", TdbUserRoleAdmin)
		assert.Assert(t, errors.Is(err, ErrUserExists))
	})

	t.Run("clearance", func(t *testing.T) {
		assert.Assert(t, u.HasClearance(TdbUserRoleReadOnly))
		assert.Assert(t, u.HasClearance(TdbUserRoleReadWrite))
		assert.Assert(t, !u.HasClearance(TdbUserRoleAdmin))
		assert.NilError(t, users.SetRole("tobs", TdbUserRoleAdmin))
		assert.Assert(t, u.HasClearance(TdbUserRoleAdmin))
	})

	t.Run("delete", func(t *testing.T) {
		assert.NilError(t, users.Delete("tobs"))
		assert.Assert(t, errors.Is(users.Delete("tobs"), ErrUnknownUser))
		assert.Equal(t, users.Len(), 0)
	})
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("readOnly")
	assert.NilError(t, err)
	assert.Equal(t, r, TdbUserRoleReadOnly)

	r, err = ParseRole(float64(0))
	assert.NilError(t, err)
	assert.Equal(t, r, TdbUserRoleAdmin)

	_, err = ParseRole("owner")
	assert.ErrorContains(t, err, "Invalid user role")
	_, err = ParseRole(float64(7))
	assert.ErrorContains(t, err, "Invalid user role")
}
