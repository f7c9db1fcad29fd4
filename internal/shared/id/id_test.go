package id

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRequestID(t *testing.T) {
	rid := NewRequestID()

	assert.True(t, strings.HasPrefix(rid.String(), RequestPrefix+"_"))
	assert.True(t, IsValid(rid.String()))
}

func TestIDsAreUnique(t *testing.T) {
	seen := make(map[InvocationID]bool)
	for i := 0; i < 1000; i++ {
		iid := NewInvocationID()
		require.False(t, seen[iid], "duplicate id %s", iid)
		seen[iid] = true
	}
}

func TestTimestamp(t *testing.T) {
	before := time.Now().Add(-time.Second)
	rid := NewRequestID()

	ts, err := Timestamp(rid.String())
	require.NoError(t, err)
	assert.True(t, ts.After(before))

	_, err = Timestamp("req_not-a-ulid")
	assert.Error(t, err)
	assert.False(t, IsValid("garbage"))
}
