// Copyright The Arraymon Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProbe answers per address and counts calls.
type fakeProbe struct {
	down  map[string]bool
	calls map[string]int
}

func newFakeProbe(down ...string) *fakeProbe {
	p := &fakeProbe{down: make(map[string]bool), calls: make(map[string]int)}
	for _, a := range down {
		p.down[a] = true
	}
	return p
}

func (p *fakeProbe) probe(_ context.Context, address string) error {
	p.calls[address]++
	if p.down[address] {
		return errors.New("connection refused")
	}
	return nil
}

func TestNewSelectorBounds(t *testing.T) {
	_, err := NewSelector(nil, nil)
	assert.Error(t, err)

	_, err = NewSelector([]string{"a", "b", "c"}, nil)
	assert.Error(t, err)

	s, err := NewSelector([]string{"a"}, nil)
	require.NoError(t, err)
	assert.Len(t, s.Endpoints(), 1)
}

func TestStablePickIsDeterministic(t *testing.T) {
	addrs := []string{"https://ctrl-a", "https://ctrl-b"}
	first := stablePick(addrs)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, stablePick(addrs))
	}
	// Order of the input slice must not matter.
	assert.Equal(t, first, stablePick([]string{addrs[1], addrs[0]}))
}

func TestPickFailsOverToAlternate(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	p := newFakeProbe("a", "b")
	p.down[s.endpoints[s.preferred].Address] = true
	alternate := s.endpoints[(s.preferred+1)%2].Address
	p.down[alternate] = false

	ep, err := s.Pick(context.Background(), p.probe)
	require.NoError(t, err)
	assert.Equal(t, alternate, ep.Address)
	assert.Equal(t, StateActive, ep.State)

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, alternate, active.Address)
}

func TestPickIsStickyOnceActive(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	p := newFakeProbe()
	first, err := s.Pick(context.Background(), p.probe)
	require.NoError(t, err)

	// Every controller is now healthy; Pick must keep returning the same
	// one without probing again.
	probes := p.calls[first.Address]
	for i := 0; i < 5; i++ {
		ep, err := s.Pick(context.Background(), p.probe)
		require.NoError(t, err)
		assert.Equal(t, first.Address, ep.Address)
	}
	assert.Equal(t, probes, p.calls[first.Address])
}

func TestPickAllDownIsFatal(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	p := newFakeProbe("a", "b")
	_, err = s.Pick(context.Background(), p.probe)
	require.Error(t, err)

	_, ok := s.Active()
	assert.False(t, ok)
	for _, ep := range s.Endpoints() {
		assert.Equal(t, StateFailed, ep.State)
		assert.NotEmpty(t, ep.LastFailureReason)
	}
}

func TestReportFailurePromotesAlternateNextPick(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	p := newFakeProbe()
	first, err := s.Pick(context.Background(), p.probe)
	require.NoError(t, err)
	other := "a"
	if first.Address == "a" {
		other = "b"
	}

	s.ReportFailure(first.Address, "timeout")
	_, ok := s.Active()
	assert.False(t, ok)

	// The failed controller is Degraded, not Failed: probes decide Failed.
	for _, ep := range s.Endpoints() {
		if ep.Address == first.Address {
			assert.Equal(t, StateDegraded, ep.State)
			assert.Equal(t, "timeout", ep.LastFailureReason)
		}
	}

	ep, err := s.Pick(context.Background(), p.probe)
	require.NoError(t, err)
	assert.Equal(t, other, ep.Address)
}

func TestReportSuccessClearsFailureState(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	s.ReportFailure("a", "timeout")
	s.ReportSuccess("a")

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.Address)
	assert.Empty(t, active.LastFailureReason)
	assert.False(t, active.LastSuccess.IsZero())
}

func TestReachableKeepsActiveAndDegradesAlternate(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	p := newFakeProbe()
	first, err := s.Pick(context.Background(), p.probe)
	require.NoError(t, err)

	reachable := s.Reachable(context.Background(), p.probe)
	require.Len(t, reachable, 2)

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, first.Address, active.Address)

	for _, ep := range s.Endpoints() {
		if ep.Address == first.Address {
			assert.Equal(t, StateActive, ep.State)
		} else {
			// A reachable alternate never displaces the active controller.
			assert.Equal(t, StateDegraded, ep.State)
		}
	}
}

func TestReachableWithNoActivePromotesFirstAnswer(t *testing.T) {
	s, err := NewSelector([]string{"a", "b"}, nil)
	require.NoError(t, err)

	p := newFakeProbe("a")
	reachable := s.Reachable(context.Background(), p.probe)
	require.Len(t, reachable, 1)
	assert.Equal(t, "b", reachable[0].Address)

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.Address)
}
