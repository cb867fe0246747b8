// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 authd Contributors

package errutil_test

import (
	"errors"
	"testing"

	"github.com/samber/oops"

	"github.com/dr3hardware/authd/pkg/errutil"
)

var errMissing = errors.New("missing")

func TestAssertErrorCode_MatchingCode(t *testing.T) {
	err := oops.Code("MY_CODE").Errorf("test error")
	errutil.AssertErrorCode(t, err, "MY_CODE")
}

func TestAssertErrorCode_InnermostCodeWins(t *testing.T) {
	inner := oops.Code("SESSION_NOT_FOUND").Wrap(errMissing)
	err := oops.With("operation", "validate").Wrap(inner)
	errutil.AssertErrorCode(t, err, "SESSION_NOT_FOUND")
}

func TestAssertErrorCodeIs_WrappedSentinel(t *testing.T) {
	err := oops.Code("SESSION_NOT_FOUND").Wrap(errMissing)
	errutil.AssertErrorCodeIs(t, err, "SESSION_NOT_FOUND", errMissing)
}

func TestAssertErrorContext_MatchingKeyValue(t *testing.T) {
	err := oops.With("user_id", "123").Errorf("test error")
	errutil.AssertErrorContext(t, err, "user_id", "123")
}
