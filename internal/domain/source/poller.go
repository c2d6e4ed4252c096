package source

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Cursor values are persisted as strings in a fixed-width UTC format so
// that lexicographic order matches temporal order (the watermark commit
// guard compares them as strings).
const CursorFormat = "2006-01-02T15:04:05.000000000Z"

// Poller issues bounded, ordered change queries against the EMR tables. Rows
// are returned strictly above the watermark, ascending by (updated_at, id)
// so ties on the timestamp have a stable order.
type Poller struct {
	pool *pgxpool.Pool
}

func NewPoller(pool *pgxpool.Pool) *Poller {
	return &Poller{pool: pool}
}

// ParseCursor converts a persisted cursor string back to a timestamp. An
// empty cursor means "no lower bound" (first run / full backfill).
func ParseCursor(cursor string) (time.Time, error) {
	if cursor == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, cursor)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cursor %q: %w", cursor, err)
	}
	return t, nil
}

// FormatCursor renders a row timestamp as a cursor string.
func FormatCursor(t time.Time) string {
	return t.UTC().Format(CursorFormat)
}

const patientColumns = `
    p.patient_id,
    COALESCE(p.health_id, ''),
    COALESCE(p.program_id, ''),
    COALESCE(p.legacy_id, ''),
    COALESCE(p.person_id::text, ''),
    COALESCE(p.given_name, ''),
    COALESCE(p.family_name, ''),
    COALESCE(p.gender, ''),
    COALESCE(p.birthdate::text, ''),
    COALESCE(p.city_village, ''),
    COALESCE(p.district, ''),
    COALESCE(p.country, ''),
    COALESCE(p.facility_id, ''),
    p.date_changed`

// PollPatients returns up to batchSize patient rows changed strictly after
// the watermark. An empty watermark performs a full backfill from the start.
func (p *Poller) PollPatients(ctx context.Context, watermark string, batchSize int) ([]PatientRow, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	since, err := ParseCursor(watermark)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + patientColumns + `
        FROM emr_patients p
        ORDER BY p.date_changed, p.patient_id
        LIMIT $1`
	args := []any{batchSize}
	if watermark != "" {
		query = `SELECT ` + patientColumns + `
            FROM emr_patients p
            WHERE p.date_changed > $1
            ORDER BY p.date_changed, p.patient_id
            LIMIT $2`
		args = []any{since, batchSize}
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("poll patients: %w", err)
	}
	defer rows.Close()

	var out []PatientRow
	for rows.Next() {
		var r PatientRow
		if err := rows.Scan(
			&r.ID, &r.HealthID, &r.ProgramID, &r.LegacyID, &r.PersonID,
			&r.GivenName, &r.FamilyName, &r.Gender, &r.BirthDate,
			&r.City, &r.District, &r.Country, &r.FacilityID, &r.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan patient row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate patient rows: %w", err)
	}
	return out, nil
}

const observationColumns = `
    o.obs_id,
    COALESCE(o.patient_identifier, ''),
    COALESCE(o.encounter_id::text, ''),
    COALESCE(o.concept_code, ''),
    COALESCE(o.concept_system, ''),
    COALESCE(o.concept_display, ''),
    o.value_numeric,
    COALESCE(o.value_text, ''),
    o.value_boolean,
    o.value_datetime,
    o.obs_datetime,
    o.date_changed,
    row_to_json(o.*)`

// PollObservations returns up to batchSize top-level observation rows
// changed strictly after the watermark, with grouped members attached.
func (p *Poller) PollObservations(ctx context.Context, watermark string, batchSize int) ([]ObservationRow, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	since, err := ParseCursor(watermark)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + observationColumns + `
        FROM emr_observations o
        WHERE o.obs_group_id IS NULL
        ORDER BY o.date_changed, o.obs_id
        LIMIT $1`
	args := []any{batchSize}
	if watermark != "" {
		query = `SELECT ` + observationColumns + `
            FROM emr_observations o
            WHERE o.obs_group_id IS NULL AND o.date_changed > $1
            ORDER BY o.date_changed, o.obs_id
            LIMIT $2`
		args = []any{since, batchSize}
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("poll observations: %w", err)
	}

	out, err := scanObservations(rows)
	if err != nil {
		return nil, err
	}

	for i := range out {
		members, err := p.groupMembers(ctx, out[i].ID)
		if err != nil {
			return nil, err
		}
		out[i].Members = members
	}
	return out, nil
}

func scanObservations(rows pgx.Rows) ([]ObservationRow, error) {
	defer rows.Close()
	var out []ObservationRow
	for rows.Next() {
		var r ObservationRow
		if err := rows.Scan(
			&r.ID, &r.PatientIdentifier, &r.EncounterID,
			&r.ConceptCode, &r.ConceptSystem, &r.ConceptDisplay,
			&r.ValueNumeric, &r.ValueText, &r.ValueBoolean, &r.ValueDatetime,
			&r.ObsDatetime, &r.UpdatedAt, &r.Raw,
		); err != nil {
			return nil, fmt.Errorf("scan observation row: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observation rows: %w", err)
	}
	return out, nil
}

func (p *Poller) groupMembers(ctx context.Context, obsID int64) ([]ObservationMember, error) {
	rows, err := p.pool.Query(ctx, `SELECT
            COALESCE(concept_code, ''),
            COALESCE(concept_display, ''),
            value_numeric,
            COALESCE(value_text, '')
        FROM emr_observations
        WHERE obs_group_id = $1
        ORDER BY obs_id`, obsID)
	if err != nil {
		return nil, fmt.Errorf("query group members for obs %d: %w", obsID, err)
	}
	defer rows.Close()

	var members []ObservationMember
	for rows.Next() {
		var m ObservationMember
		if err := rows.Scan(&m.ConceptCode, &m.ConceptDisplay, &m.ValueNumeric, &m.ValueText); err != nil {
			return nil, fmt.Errorf("scan group member: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate group members: %w", err)
	}
	return members, nil
}
