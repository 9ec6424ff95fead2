package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/felipepmaragno/sqlassist/internal/domain"
	"github.com/felipepmaragno/sqlassist/internal/telemetry"
)

// NoTask replaces every missing value in the roster.
const NoTask = "No Task"

// rosterQuery lists available employees with their skills and validated tasks.
const rosterQuery = `
	SELECT
		e.employee_id,
		e.role,
		e.firstname,
		e.lastname,
		s.skill_name,
		s.proficiency_level,
		s.years_of_experience,
		t.description AS validated_task
	FROM employees e
	LEFT JOIN skills s ON e.employee_id = s.employee_id
	LEFT JOIN tasks t ON e.employee_id = t.employee_id AND t.validation = TRUE
	LEFT JOIN work_and_vacation w ON e.employee_id = w.employee_id
	WHERE w.availability = TRUE
	ORDER BY e.employee_id
`

type RosterEntry struct {
	EmployeeID        string
	Role              string
	FirstName         string
	LastName          string
	SkillName         string
	ProficiencyLevel  string
	YearsOfExperience string
	ValidatedTask     string
}

type RosterRepository struct {
	db *sql.DB
}

func NewRosterRepository(db *sql.DB) *RosterRepository {
	return &RosterRepository{db: db}
}

func (r *RosterRepository) LoadRoster(ctx context.Context) ([]RosterEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "repository.LoadRoster")
	defer span.End()

	rows, err := r.db.QueryContext(ctx, rosterQuery)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: query roster: %w", domain.ErrFetchFailed, err)
	}
	defer rows.Close()

	var entries []RosterEntry
	for rows.Next() {
		var cols [8]sql.NullString
		if err := rows.Scan(&cols[0], &cols[1], &cols[2], &cols[3], &cols[4], &cols[5], &cols[6], &cols[7]); err != nil {
			return nil, fmt.Errorf("%w: scan roster: %w", domain.ErrFetchFailed, err)
		}
		entries = append(entries, RosterEntry{
			EmployeeID:        orNoTask(cols[0]),
			Role:              orNoTask(cols[1]),
			FirstName:         orNoTask(cols[2]),
			LastName:          orNoTask(cols[3]),
			SkillName:         orNoTask(cols[4]),
			ProficiencyLevel:  orNoTask(cols[5]),
			YearsOfExperience: orNoTask(cols[6]),
			ValidatedTask:     orNoTask(cols[7]),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}

	return entries, nil
}

// Roster loads the roster already rendered for the team-building prompt.
func (r *RosterRepository) Roster(ctx context.Context) (string, error) {
	entries, err := r.LoadRoster(ctx)
	if err != nil {
		return "", err
	}
	return FormatRoster(entries), nil
}

func FormatRoster(entries []RosterEntry) string {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "Employee ID: %s\n", e.EmployeeID)
		fmt.Fprintf(&b, "Name: %s %s\n", e.FirstName, e.LastName)
		fmt.Fprintf(&b, "Role: %s\n", e.Role)
		fmt.Fprintf(&b, "Skills: %s (Proficiency: %s, Experience: %s years)\n", e.SkillName, e.ProficiencyLevel, e.YearsOfExperience)
		fmt.Fprintf(&b, "Validated Task: %s\n", e.ValidatedTask)
		b.WriteString(strings.Repeat("-", 20) + "\n")
	}
	return b.String()
}

func orNoTask(s sql.NullString) string {
	if !s.Valid {
		return NoTask
	}
	return s.String
}
