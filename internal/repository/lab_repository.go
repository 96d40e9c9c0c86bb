// This file defines repository methods for CRUD and lookup operations on
// labs. A lab belongs to a single owner account and must be listed before
// the engine will accept reservations against it. LabRepo doubles as the
// engine's lab registry and activity notifier, so ownership and listing
// are always re-read from the database at confirmation and collection
// time.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/decentralabs/lab-reservation/internal/model"
)

// ErrLabNotFound is returned when a lab cannot be found in the DB.
var ErrLabNotFound = errors.New("lab not found")

// LabRepo encapsulates all database queries related to labs.  It depends
// on a sql.DB connection which should be configured elsewhere.
type LabRepo struct {
	db *sql.DB
}

// NewLabRepo constructs a LabRepo with the provided DB handle.  This
// function allows dependency injection of the database in tests and at
// startup.
func NewLabRepo(db *sql.DB) *LabRepo {
	return &LabRepo{db: db}
}

const labColumns = "id, owner_account, name, description, hourly_rate_cents, is_listed, last_activity_at, created_at, updated_at"

func scanLab(row interface{ Scan(...any) error }) (*model.Lab, error) {
	var l model.Lab
	err := row.Scan(&l.ID, &l.OwnerAccount, &l.Name, &l.Description,
		&l.HourlyRateCents, &l.IsListed, &l.LastActivityAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// Create inserts a new lab. On success the lab's ID field is populated
// with the auto-generated value and the timestamp fields are read back so
// callers receive a fully populated record. A duplicate (owner, name)
// pair yields ErrConflict.
func (r *LabRepo) Create(ctx context.Context, l *model.Lab) error {
	const qInsert = `INSERT INTO labs (owner_account, name, description, hourly_rate_cents, is_listed)
	                 VALUES (?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, qInsert, l.OwnerAccount, l.Name, l.Description, l.HourlyRateCents, l.IsListed)
	if err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "1062") {
			return ErrConflict
		}
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	l.ID = uint64(id)

	const qSelect = "SELECT " + labColumns + " FROM labs WHERE id = ?"
	got, err := scanLab(r.db.QueryRowContext(ctx, qSelect, l.ID))
	if err != nil {
		return err
	}
	*l = *got
	return nil
}

// GetByID fetches a lab by its ID regardless of owner.  It returns
// ErrLabNotFound if no row is found.
func (r *LabRepo) GetByID(ctx context.Context, id uint64) (*model.Lab, error) {
	const q = "SELECT " + labColumns + " FROM labs WHERE id = ?"
	l, err := scanLab(r.db.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrLabNotFound
	}
	return l, err
}

// ListByOwner returns all labs for a specific owner ordered by id.
func (r *LabRepo) ListByOwner(ctx context.Context, owner string) ([]*model.Lab, error) {
	const q = "SELECT " + labColumns + " FROM labs WHERE owner_account = ? ORDER BY id"
	rows, err := r.db.QueryContext(ctx, q, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAll returns every listed lab for public browsing, ordered by id.
// Unlisted labs are omitted so requesters only see bookable resources.
func (r *LabRepo) ListAll(ctx context.Context) ([]*model.Lab, error) {
	const q = "SELECT " + labColumns + " FROM labs WHERE is_listed = 1 ORDER BY id"
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Lab
	for rows.Next() {
		l, err := scanLab(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Update changes a lab's name, description and hourly rate if it belongs
// to the provided owner. It returns ErrLabNotFound when the lab does not
// exist and ErrForbidden when it is owned by someone else.
func (r *LabRepo) Update(ctx context.Context, id uint64, owner, name string, description *string, rateCents uint64) error {
	if err := r.checkOwner(ctx, id, owner); err != nil {
		return err
	}
	const q = `UPDATE labs
	           SET name = ?, description = ?, hourly_rate_cents = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND owner_account = ?`
	_, err := r.db.ExecContext(ctx, q, name, description, rateCents, id, owner)
	return err
}

// SetListed flips the lab's listing flag. Delisting does not touch
// existing confirmed reservations; it only stops new confirmations.
func (r *LabRepo) SetListed(ctx context.Context, id uint64, owner string, listed bool) error {
	if err := r.checkOwner(ctx, id, owner); err != nil {
		return err
	}
	const q = `UPDATE labs SET is_listed = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND owner_account = ?`
	_, err := r.db.ExecContext(ctx, q, listed, id, owner)
	return err
}

// TransferOwnership moves the lab to a new owner account. The engine
// re-resolves the owner on every confirmation and collection, so payouts
// follow the new owner immediately.
func (r *LabRepo) TransferOwnership(ctx context.Context, id uint64, owner, newOwner string) error {
	if err := r.checkOwner(ctx, id, owner); err != nil {
		return err
	}
	const q = `UPDATE labs SET owner_account = ?, updated_at = CURRENT_TIMESTAMP
	           WHERE id = ? AND owner_account = ?`
	_, err := r.db.ExecContext(ctx, q, newOwner, id, owner)
	return err
}

func (r *LabRepo) checkOwner(ctx context.Context, id uint64, owner string) error {
	var dbOwner string
	err := r.db.QueryRowContext(ctx, "SELECT owner_account FROM labs WHERE id = ?", id).Scan(&dbOwner)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLabNotFound
	}
	if err != nil {
		return err
	}
	if dbOwner != owner {
		return ErrForbidden
	}
	return nil
}

// Lab resolves a lab for the reservation engine.
func (r *LabRepo) Lab(ctx context.Context, labID uint64) (*model.Lab, error) {
	return r.GetByID(ctx, labID)
}

// OwnerOf returns the lab's current owner account.
func (r *LabRepo) OwnerOf(ctx context.Context, labID uint64) (string, error) {
	var owner string
	err := r.db.QueryRowContext(ctx, "SELECT owner_account FROM labs WHERE id = ?", labID).Scan(&owner)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrLabNotFound
	}
	return owner, err
}

// CanFulfill reports whether owner currently offers the lab: the row must
// still belong to them and be listed. Confirmation re-checks this so a
// delisting or ownership transfer between request and confirmation is
// honoured.
func (r *LabRepo) CanFulfill(ctx context.Context, owner string, labID uint64) (bool, error) {
	var ok bool
	err := r.db.QueryRowContext(ctx,
		"SELECT is_listed FROM labs WHERE id = ? AND owner_account = ?",
		labID, owner).Scan(&ok)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return ok, err
}

// NotifyLastActivity stamps last_activity_at on every lab of the owner.
// Called by the engine after a successful confirmation or collection;
// mere requests never reach here.
func (r *LabRepo) NotifyLastActivity(ctx context.Context, owner string) {
	const q = `UPDATE labs SET last_activity_at = CURRENT_TIMESTAMP
	           WHERE owner_account = ?`
	// Best effort: activity stamping must never fail a confirmation.
	_, _ = r.db.ExecContext(ctx, q, owner)
}
