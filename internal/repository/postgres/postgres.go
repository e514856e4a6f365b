package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/realty-crm/internal/repository"
)

type appointmentRepository struct {
	db *sqlx.DB
}

type deadlineRepository struct {
	db *sqlx.DB
}

type clientRepository struct {
	db *sqlx.DB
}

type preferenceRepository struct {
	db *sqlx.DB
}

type deliveryRepository struct {
	db *sqlx.DB
}

func NewAppointmentRepository(db *sqlx.DB) repository.AppointmentRepository {
	return &appointmentRepository{db: db}
}

func NewDeadlineRepository(db *sqlx.DB) repository.DeadlineRepository {
	return &deadlineRepository{db: db}
}

func NewClientRepository(db *sqlx.DB) repository.ClientRepository {
	return &clientRepository{db: db}
}

func NewPreferenceRepository(db *sqlx.DB) repository.PreferenceRepository {
	return &preferenceRepository{db: db}
}

func NewDeliveryRepository(db *sqlx.DB) repository.DeliveryRepository {
	return &deliveryRepository{db: db}
}

func withTx(ctx context.Context, db *sqlx.DB, fn func(*sqlx.Tx) error) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}
