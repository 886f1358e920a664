// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 DevkitServer Contributors

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewInvocationID(t *testing.T) {
	id1 := NewInvocationID()
	id2 := NewInvocationID()

	assert.NotEqual(t, id1.String(), id2.String())
	assert.LessOrEqual(t, id1.String(), id2.String(), "ids sort by creation order")
}

func TestNewInvocationID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	for range 1000 {
		id := NewInvocationID().String()
		_, dup := seen[id]
		assert.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}
