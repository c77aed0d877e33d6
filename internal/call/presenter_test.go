package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var (
	selLocal = testAddr("me", "d0")
	selA     = testAddr("a", "d1")
	selB     = testAddr("b", "d2")
	selC     = testAddr("c", "d3")
)

func selector() PresenterSelector {
	return PresenterSelector{Margin: 0.01, Hold: 2 * time.Second}
}

func baseInput() PresenterInput {
	now := time.Unix(1_700_000_000, 0)
	return PresenterInput{
		Local: selLocal,
		Since: now.Add(-time.Minute),
		Now:   now,
	}
}

func TestPresenterNoRemotesPicksLocal(t *testing.T) {
	in := baseInput()

	got, changed := selector().Select(in)
	assert.Equal(t, selLocal, got)
	assert.True(t, changed)
}

func TestPresenterSingleRemoteAlwaysWins(t *testing.T) {
	in := baseInput()
	in.Current = selLocal
	in.Remotes = []MemberLevel{{Addr: selA, Level: 0}}

	got, changed := selector().Select(in)
	assert.Equal(t, selA, got)
	assert.True(t, changed)
}

func TestPresenterLoudestWins(t *testing.T) {
	in := baseInput()
	in.Current = selLocal
	in.Remotes = []MemberLevel{
		{Addr: selA, Level: 0.10},
		{Addr: selB, Level: 0.12},
		{Addr: selC, Level: 0.50},
	}

	got, changed := selector().Select(in)
	assert.Equal(t, selC, got)
	assert.True(t, changed)
}

func TestPresenterIncumbentHoldsWithinMargin(t *testing.T) {
	in := baseInput()
	in.Current = selA
	in.Remotes = []MemberLevel{
		{Addr: selA, Level: 0.495},
		{Addr: selB, Level: 0.50},
	}

	got, changed := selector().Select(in)
	assert.Equal(t, selA, got, "a 0.005 lead is below the dethrone margin")
	assert.False(t, changed)
}

func TestPresenterChallengerWinsBeyondMargin(t *testing.T) {
	in := baseInput()
	in.Current = selA
	in.Remotes = []MemberLevel{
		{Addr: selA, Level: 0.40},
		{Addr: selB, Level: 0.50},
	}

	got, changed := selector().Select(in)
	assert.Equal(t, selB, got)
	assert.True(t, changed)
}

func TestPresenterPinnedWinsOverLoudness(t *testing.T) {
	in := baseInput()
	in.Current = selB
	in.Pinned = selA
	in.Remotes = []MemberLevel{
		{Addr: selA, Level: 0},
		{Addr: selB, Level: 0.9},
	}

	got, changed := selector().Select(in)
	assert.Equal(t, selA, got)
	assert.True(t, changed)
}

func TestPresenterHoldSuppressesSwitch(t *testing.T) {
	in := baseInput()
	in.Current = selA
	in.Since = in.Now.Add(-time.Second)
	in.Remotes = []MemberLevel{
		{Addr: selA, Level: 0},
		{Addr: selB, Level: 0.9},
	}

	got, changed := selector().Select(in)
	assert.Equal(t, selA, got, "switched one second ago, still in hold")
	assert.False(t, changed)
}

func TestPresenterStableWhenNothingChanges(t *testing.T) {
	in := baseInput()
	in.Current = selLocal

	got, changed := selector().Select(in)
	assert.Equal(t, selLocal, got)
	assert.False(t, changed)
}
