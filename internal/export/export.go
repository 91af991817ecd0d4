// Package export renders registration lists for organizers. One CSV row per
// attached person, so team registrations expand into multiple rows.
package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/SadakovDmitry/Regestration-FPMI-bot/internal/model"
)

var csvHeader = []string{
	"registration_id",
	"event_id",
	"status",
	"team_name",
	"team_size",
	"role",
	"last_name",
	"first_name",
	"middle_name",
	"contact",
	"group_name",
	"is_external",
	"passport_series",
	"passport_number",
	"passport_issued_by",
	"passport_division_code",
	"passport_issue_date",
	"birth_date",
	"birth_place",
	"registration_address",
}

// CSV serializes the registrations. With onlyConfirmed set, rows for
// non-confirmed registrations are dropped.
func CSV(registrations []*model.Registration, onlyConfirmed bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write csv header: %w", err)
	}

	for _, reg := range registrations {
		if onlyConfirmed && reg.Status != model.StatusConfirmed {
			continue
		}
		for _, person := range reg.People {
			record := []string{
				strconv.FormatInt(reg.ID, 10),
				strconv.FormatInt(reg.EventID, 10),
				string(reg.Status),
				strDeref(reg.TeamName),
				intDeref(reg.TeamSize),
				string(person.Role),
				person.LastName,
				person.FirstName,
				strDeref(person.MiddleName),
				strDeref(person.Contact),
				strDeref(person.GroupName),
				boolFlag(person.IsExternal),
				strDeref(person.PassportSeries),
				strDeref(person.PassportNumber),
				strDeref(person.PassportIssuedBy),
				strDeref(person.PassportDivisionCode),
				dateDeref(person.PassportIssueDate),
				dateDeref(person.BirthDate),
				strDeref(person.BirthPlace),
				strDeref(person.RegistrationAddress),
			}
			if err := w.Write(record); err != nil {
				return nil, fmt.Errorf("write csv record: %w", err)
			}
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func strDeref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func intDeref(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func dateDeref(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.Format("2006-01-02")
}

func boolFlag(v bool) string {
	if v {
		return "1"
	}
	return "0"
}
