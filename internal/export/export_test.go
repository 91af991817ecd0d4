package export

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

func sampleRegistrations() []*model.Registration {
	teamName := "Сборная"
	teamSize := 2
	series := "4510"
	number := "123456"
	birthDate := time.Date(1999, 1, 15, 0, 0, 0, 0, time.UTC)
	return []*model.Registration{
		{
			ID:      1,
			EventID: 5,
			Status:  model.StatusConfirmed,
			People: []model.RegistrationPerson{
				{Role: model.RoleSolo, LastName: "Иванов", FirstName: "Иван"},
			},
		},
		{
			ID:       2,
			EventID:  5,
			Status:   model.StatusConfirmed,
			TeamName: &teamName,
			TeamSize: &teamSize,
			People: []model.RegistrationPerson{
				{Role: model.RoleCaptain, LastName: "Петров", FirstName: "Пётр"},
				{
					Role: model.RoleExternalMember, LastName: "Смирнов", FirstName: "Олег",
					IsExternal:     true,
					PassportSeries: &series, PassportNumber: &number,
					BirthDate: &birthDate,
				},
			},
		},
		{
			ID:      3,
			EventID: 5,
			Status:  model.StatusWaitlist,
			People: []model.RegistrationPerson{
				{Role: model.RoleSolo, LastName: "Сидоров", FirstName: "Семён"},
			},
		},
	}
}

func TestCSVExpandsTeamsAndFiltersConfirmed(t *testing.T) {
	data, err := CSV(sampleRegistrations(), true)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)

	// Header plus one solo row plus two team rows; the waitlisted one is out.
	require.Len(t, records, 4)
	assert.Equal(t, csvHeader, records[0])
	assert.Equal(t, "1", records[1][0])
	assert.Equal(t, "solo", records[1][5])
	assert.Equal(t, "captain", records[2][5])
	assert.Equal(t, "external_member", records[3][5])
	assert.Equal(t, "1", records[3][11], "external flag")
	assert.Equal(t, "4510", records[3][12])
	assert.Equal(t, "1999-01-15", records[3][17])
}

func TestCSVWithoutFilterKeepsAllStatuses(t *testing.T) {
	data, err := CSV(sampleRegistrations(), false)
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 5)
	assert.Equal(t, string(model.StatusWaitlist), records[4][2])
}

func TestCSVEmptyInput(t *testing.T) {
	data, err := CSV(nil, true)
	require.NoError(t, err)
	records, err := csv.NewReader(bytes.NewReader(data)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1, "header only")
}
