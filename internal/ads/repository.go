package ads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aura-signage/backend/internal/models"
)

var (
	// ErrNotFound is returned when an advertisement does not exist.
	ErrNotFound = errors.New("advertisement not found")
	// ErrDuplicateID is returned by Create when the ID is already taken.
	ErrDuplicateID = errors.New("advertisement id already exists")
)

const uniqueViolation = "23505"

// Repository handles advertisement persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an ads repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const selectColumns = `id, display_id, title, caption, media_url, media_type, duration_ms, play_count,
	start_time, end_time, frequency_sec, days_of_week, start_date, end_date, priority, created_at`

// Create inserts a new advertisement. An empty ID is filled with a fresh UUID.
func (r *Repository) Create(ctx context.Context, a *models.Advertisement) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	const q = `INSERT INTO advertisements (id, display_id, title, caption, media_url, media_type, duration_ms, play_count,
		start_time, end_time, frequency_sec, days_of_week, start_date, end_date, priority)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13::date, $14::date, $15)
		RETURNING created_at`
	s := a.Schedule
	err := r.pool.QueryRow(ctx, q,
		a.ID, a.DisplayID, a.Title, a.Caption, a.MediaURL, string(a.MediaType), a.Duration, a.PlayCount,
		s.TimeRange.Start.String(), s.TimeRange.End.String(), s.Frequency, toInt32s(s.DaysOfWeek),
		s.StartDate.String(), s.EndDate.String(), a.Priority,
	).Scan(&a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateID
	}
	if err != nil {
		return fmt.Errorf("insert advertisement: %w", err)
	}
	return nil
}

// GetByID returns an advertisement by ID.
func (r *Repository) GetByID(ctx context.Context, id string) (*models.Advertisement, error) {
	q := `SELECT ` + selectColumns + ` FROM advertisements WHERE id = $1`
	a, err := scanAdvertisement(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// ListByDisplay returns all advertisements for a display in creation order.
func (r *Repository) ListByDisplay(ctx context.Context, displayID uuid.UUID) ([]models.Advertisement, error) {
	q := `SELECT ` + selectColumns + ` FROM advertisements WHERE display_id = $1 ORDER BY created_at, id`
	rows, err := r.pool.Query(ctx, q, displayID)
	if err != nil {
		return nil, fmt.Errorf("list advertisements: %w", err)
	}
	defer rows.Close()
	list := []models.Advertisement{}
	for rows.Next() {
		a, err := scanAdvertisement(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *a)
	}
	return list, rows.Err()
}

// Delete removes an advertisement by ID.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM advertisements WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete advertisement: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAdvertisement(row pgx.Row) (*models.Advertisement, error) {
	var (
		a                  models.Advertisement
		mediaType          string
		startTime, endTime string
		days               []int32
		startDate, endDate time.Time
		priority           *int32
	)
	err := row.Scan(&a.ID, &a.DisplayID, &a.Title, &a.Caption, &a.MediaURL, &mediaType, &a.Duration, &a.PlayCount,
		&startTime, &endTime, &a.Schedule.Frequency, &days, &startDate, &endDate, &priority, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.MediaType = models.MediaType(mediaType)
	if err := a.Schedule.TimeRange.Start.UnmarshalText([]byte(startTime)); err != nil {
		return nil, fmt.Errorf("advertisement %s start_time: %w", a.ID, err)
	}
	if err := a.Schedule.TimeRange.End.UnmarshalText([]byte(endTime)); err != nil {
		return nil, fmt.Errorf("advertisement %s end_time: %w", a.ID, err)
	}
	a.Schedule.DaysOfWeek = make([]int, len(days))
	for i, d := range days {
		a.Schedule.DaysOfWeek[i] = int(d)
	}
	a.Schedule.StartDate = models.DateOf(startDate)
	a.Schedule.EndDate = models.DateOf(endDate)
	if priority != nil {
		p := int(*priority)
		a.Priority = &p
	}
	return &a, nil
}

func toInt32s(in []int) []int32 {
	out := make([]int32, len(in))
	for i, v := range in {
		out[i] = int32(v)
	}
	return out
}
