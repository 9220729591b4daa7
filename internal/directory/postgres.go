package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/darbak/internal/models"
)

// PostgresDirectory stores profiles in the users table. Up to three service
// neighborhoods live in dedicated columns, which keeps the captain search a
// single indexable query.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

const userColumns = `user_id, username, role, subscription, full_name, phone,
	car_model, car_plate, seats, agreement, city,
	neighborhood, neighborhood2, neighborhood3, available, created_at, updated_at`

func (d *PostgresDirectory) Upsert(ctx context.Context, u *models.User) error {
	n1, n2, n3 := splitNeighborhoods(u.Neighborhoods)
	available := u.Available || u.Role == models.RoleCaptain
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO users (user_id, username, role, subscription, full_name, phone,
			car_model, car_plate, seats, agreement, city,
			neighborhood, neighborhood2, neighborhood3, available)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (user_id) DO UPDATE SET
			username=EXCLUDED.username,
			role=EXCLUDED.role,
			subscription=EXCLUDED.subscription,
			full_name=EXCLUDED.full_name,
			phone=EXCLUDED.phone,
			car_model=EXCLUDED.car_model,
			car_plate=EXCLUDED.car_plate,
			seats=EXCLUDED.seats,
			agreement=EXCLUDED.agreement,
			city=EXCLUDED.city,
			neighborhood=EXCLUDED.neighborhood,
			neighborhood2=EXCLUDED.neighborhood2,
			neighborhood3=EXCLUDED.neighborhood3,
			available=EXCLUDED.available,
			updated_at=now()`,
		u.ID, u.Username, u.Role, u.Subscription, u.FullName, u.Phone,
		u.CarModel, u.CarPlate, u.Seats, u.Agreement, u.City,
		n1, n2, n3, available)
	if err != nil {
		return fmt.Errorf("upsert user %d: %w", u.ID, err)
	}
	return nil
}

func (d *PostgresDirectory) Get(ctx context.Context, id int64) (*models.User, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE user_id=$1`, id)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return u, nil
}

func (d *PostgresDirectory) SetAvailability(ctx context.Context, id int64, available bool) error {
	return d.setField(ctx, id, `UPDATE users SET available=$1, updated_at=now() WHERE user_id=$2`, available)
}

func (d *PostgresDirectory) SetName(ctx context.Context, id int64, name string) error {
	return d.setField(ctx, id, `UPDATE users SET full_name=$1, updated_at=now() WHERE user_id=$2`, name)
}

func (d *PostgresDirectory) SetPhone(ctx context.Context, id int64, phone string) error {
	return d.setField(ctx, id, `UPDATE users SET phone=$1, updated_at=now() WHERE user_id=$2`, phone)
}

func (d *PostgresDirectory) SetCar(ctx context.Context, id int64, model, plate string) error {
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET car_model=$1, car_plate=$2, updated_at=now() WHERE user_id=$3`,
		model, plate, id)
	if err != nil {
		return fmt.Errorf("set car for user %d: %w", id, err)
	}
	return requireRow(res)
}

func (d *PostgresDirectory) SetCity(ctx context.Context, id int64, city string) error {
	return d.setField(ctx, id, `UPDATE users SET city=$1, updated_at=now() WHERE user_id=$2`, city)
}

func (d *PostgresDirectory) SetNeighborhoods(ctx context.Context, id int64, neighborhoods []string) error {
	n1, n2, n3 := splitNeighborhoods(neighborhoods)
	res, err := d.db.ExecContext(ctx,
		`UPDATE users SET neighborhood=$1, neighborhood2=$2, neighborhood3=$3, updated_at=now() WHERE user_id=$4`,
		n1, n2, n3, id)
	if err != nil {
		return fmt.Errorf("set neighborhoods for user %d: %w", id, err)
	}
	return requireRow(res)
}

func (d *PostgresDirectory) SetRole(ctx context.Context, id int64, role models.Role) error {
	return d.setField(ctx, id, `UPDATE users SET role=$1, updated_at=now() WHERE user_id=$2`, string(role))
}

func (d *PostgresDirectory) FindAvailableCaptains(ctx context.Context, city, neighborhood string) ([]models.User, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users
		WHERE role='captain' AND available=TRUE AND city=$1
		AND $2 IN (neighborhood, neighborhood2, neighborhood3)
		ORDER BY created_at ASC`, city, neighborhood)
	if err != nil {
		return nil, fmt.Errorf("find captains: %w", err)
	}
	defer rows.Close()

	var out []models.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan captain: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (d *PostgresDirectory) setField(ctx context.Context, id int64, query string, value any) error {
	res, err := d.db.ExecContext(ctx, query, value, id)
	if err != nil {
		return fmt.Errorf("update user %d: %w", id, err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		u          models.User
		n1, n2, n3 sql.NullString
		createdAt  time.Time
		updatedAt  time.Time
	)
	err := row.Scan(&u.ID, &u.Username, &u.Role, &u.Subscription, &u.FullName, &u.Phone,
		&u.CarModel, &u.CarPlate, &u.Seats, &u.Agreement, &u.City,
		&n1, &n2, &n3, &u.Available, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	u.CreatedAt = createdAt
	u.UpdatedAt = updatedAt
	for _, n := range []sql.NullString{n1, n2, n3} {
		if n.Valid && n.String != "" {
			u.Neighborhoods = append(u.Neighborhoods, n.String)
		}
	}
	return &u, nil
}

func splitNeighborhoods(ns []string) (string, string, string) {
	get := func(i int) string {
		if i < len(ns) {
			return ns[i]
		}
		return ""
	}
	return get(0), get(1), get(2)
}
