package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatusSets(t *testing.T) {
	assert.True(t, StatusRegistered.Occupying())
	assert.True(t, StatusConfirmed.Occupying())
	assert.True(t, StatusInvitedFromWaitlist.Occupying())
	assert.False(t, StatusWaitlist.Occupying())
	assert.False(t, StatusDeclined.Occupying())

	assert.True(t, StatusWaitlist.Active())
	assert.False(t, StatusCancelledByUser.Active())

	assert.True(t, StatusDeclined.Terminal())
	assert.True(t, StatusAutoDeclined.Terminal())
	assert.True(t, StatusCancelledByUser.Terminal())
	assert.False(t, StatusConfirmed.Terminal())
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to RegistrationStatus
		want     bool
	}{
		{StatusRegistered, StatusConfirmed, true},
		{StatusRegistered, StatusCancelledByUser, true},
		{StatusRegistered, StatusWaitlist, false},
		{StatusWaitlist, StatusInvitedFromWaitlist, true},
		{StatusWaitlist, StatusConfirmed, false},
		{StatusInvitedFromWaitlist, StatusRegistered, true},
		{StatusInvitedFromWaitlist, StatusAutoDeclined, true},
		{StatusConfirmed, StatusDeclined, true},
		{StatusConfirmed, StatusCancelledByUser, true},
		{StatusConfirmed, StatusRegistered, false},
		{StatusDeclined, StatusRegistered, false},
		{StatusAutoDeclined, StatusCancelledByUser, false},
		{StatusCancelledByUser, StatusCancelledByUser, true},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CanTransition(tc.from, tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestTerminalStatusesHaveNoOutgoingTransitions(t *testing.T) {
	terminal := []RegistrationStatus{StatusDeclined, StatusAutoDeclined, StatusCancelledByUser}
	all := []RegistrationStatus{
		StatusRegistered, StatusWaitlist, StatusInvitedFromWaitlist,
		StatusConfirmed, StatusDeclined, StatusAutoDeclined, StatusCancelledByUser,
	}
	for _, from := range terminal {
		for _, to := range all {
			if from == to {
				continue
			}
			assert.False(t, CanTransition(from, to), "%s -> %s must be rejected", from, to)
		}
	}
}

func TestHasExternal(t *testing.T) {
	in := RegistrationInput{CaptainOrSolo: PersonInput{LastName: "Иванов", FirstName: "Иван"}}
	assert.False(t, in.HasExternal())

	in.ExternalMembers = []PersonInput{{LastName: "Петров", FirstName: "Пётр", IsExternal: true}}
	assert.True(t, in.HasExternal())

	in = RegistrationInput{CaptainOrSolo: PersonInput{LastName: "Иванов", FirstName: "Иван", IsExternal: true}}
	assert.True(t, in.HasExternal())
}
