// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package errutil

import (
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// requireOops fails the test unless err is a non-nil oops error.
func requireOops(t *testing.T, err error) oops.OopsError {
	t.Helper()
	require.Error(t, err, "expected an oops error, got nil")
	oopsErr, ok := oops.AsOops(err)
	require.True(t, ok, "expected oops error, got %T: %v", err, err)
	return oopsErr
}

// AssertErrorCode asserts that err is an oops error whose effective code is
// code. oops reports the innermost code in the chain.
func AssertErrorCode(t *testing.T, err error, code string) {
	t.Helper()
	assert.Equal(t, code, requireOops(t, err).Code(), "error: %v", err)
}

// AssertErrorCodeIs asserts the code of err and that it still wraps target,
// as repository errors must for callers that match on sentinels.
func AssertErrorCodeIs(t *testing.T, err error, code string, target error) {
	t.Helper()
	AssertErrorCode(t, err, code)
	assert.ErrorIs(t, err, target)
}

// AssertErrorContext asserts that err carries key with value in its oops
// context, merged across the chain.
func AssertErrorContext(t *testing.T, err error, key string, value any) {
	t.Helper()
	ctx := requireOops(t, err).Context()
	require.Contains(t, ctx, key)
	assert.Equal(t, value, ctx[key])
}
