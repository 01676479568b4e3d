package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"philbox/scheduling/internal/domain"
	"philbox/scheduling/internal/store"
)

const (
	slotsNoOverlapConstraint       = "slots_no_overlap"
	oneProcessingPerSlotConstraint = "appointment_requests_one_processing_per_slot"
)

type SchedulingRepo struct {
	db *bun.DB
}

func NewSchedulingRepo(db *bun.DB) *SchedulingRepo {
	return &SchedulingRepo{db: db}
}

type schedulingTx struct {
	tx bun.Tx
}

func (r *SchedulingRepo) InOwnerTransaction(ctx context.Context, ownerID string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockOwnerSchedule(ctx, tx, ownerID); err != nil {
			return err
		}
		return fn(ctx, schedulingTx{tx: tx})
	})
}

func (r *SchedulingRepo) InTransaction(ctx context.Context, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return fn(ctx, schedulingTx{tx: tx})
	})
}

func lockOwnerSchedule(ctx context.Context, tx bun.Tx, ownerID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", ownerID).Exec(ctx)
	return err
}

func (r *SchedulingRepo) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	return getSlot(ctx, r.db, ownerID, slotID)
}

func (r *SchedulingRepo) ListSlots(ctx context.Context, ownerID string, filter store.SlotFilter) ([]domain.Slot, error) {
	var rows []domain.Slot
	q := r.db.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID)
	if filter.From != nil {
		q = q.Where("date >= ?", domain.FormatDate(*filter.From))
	}
	if filter.To != nil {
		q = q.Where("date <= ?", domain.FormatDate(*filter.To))
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	err := q.OrderExpr("date ASC, start_time ASC").Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *SchedulingRepo) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	return getRequest(ctx, r.db, requestID)
}

func (r *SchedulingRepo) ListRequests(ctx context.Context, filter store.RequestFilter) ([]domain.AppointmentRequest, int, error) {
	var rows []domain.AppointmentRequest
	q := r.db.NewSelect().Model(&rows)
	if filter.ProviderID != "" {
		q = q.Where("provider_id = ?", filter.ProviderID)
	}
	if filter.RequesterID != "" {
		q = q.Where("requester_id = ?", filter.RequesterID)
	}
	if filter.State != "" {
		q = q.Where("state = ?", filter.State)
	}
	if filter.From != nil {
		q = q.Where("preferred_date >= ?", domain.FormatDate(*filter.From))
	}
	if filter.To != nil {
		q = q.Where("preferred_date <= ?", domain.FormatDate(*filter.To))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}

	total, err := q.OrderExpr("created_at DESC, id DESC").ScanAndCount(ctx)
	if err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

func getSlot(ctx context.Context, db bun.IDB, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	var s domain.Slot
	err := db.NewSelect().
		Model(&s).
		Where("id = ?", slotID).
		Where("owner_id = ?", ownerID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Slot{}, store.ErrNotFound
		}
		return domain.Slot{}, err
	}
	return s, nil
}

func getRequest(ctx context.Context, db bun.IDB, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	var req domain.AppointmentRequest
	err := db.NewSelect().
		Model(&req).
		Where("id = ?", requestID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.AppointmentRequest{}, store.ErrNotFound
		}
		return domain.AppointmentRequest{}, err
	}
	return req, nil
}

func (r schedulingTx) InsertSlot(ctx context.Context, slot domain.Slot) (domain.Slot, error) {
	m := slot
	if _, err := r.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Slot{}, mapWriteError(err)
	}
	return m, nil
}

func (r schedulingTx) GetSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (domain.Slot, error) {
	return getSlot(ctx, r.tx, ownerID, slotID)
}

func (r schedulingTx) FindOverlappingSlots(ctx context.Context, ownerID string, date time.Time, start, end domain.Clock, excludeID uuid.UUID) ([]domain.Slot, error) {
	var rows []domain.Slot
	q := r.tx.NewSelect().
		Model(&rows).
		Where("owner_id = ?", ownerID).
		Where("date = ?", domain.FormatDate(date)).
		Where("status <> ?", domain.SlotStatusUnavailable).
		Where("start_time < ?", end).
		Where("end_time > ?", start)
	if excludeID != uuid.Nil {
		q = q.Where("id <> ?", excludeID)
	}
	if err := q.OrderExpr("start_time ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r schedulingTx) UpdateSlot(ctx context.Context, slot domain.Slot) (bool, error) {
	m := slot
	res, err := r.tx.NewUpdate().
		Model(&m).
		Column("start_time", "end_time", "duration_minutes", "status", "notes", "updated_at").
		Where("id = ?", m.ID).
		Where("owner_id = ?", m.OwnerID).
		Where("status <> ?", domain.SlotStatusBooked).
		Exec(ctx)
	if err != nil {
		return false, mapWriteError(err)
	}
	return affectedOne(res)
}

func (r schedulingTx) DeleteSlot(ctx context.Context, ownerID string, slotID uuid.UUID) (bool, error) {
	res, err := r.tx.NewDelete().
		Model((*domain.Slot)(nil)).
		Where("id = ?", slotID).
		Where("owner_id = ?", ownerID).
		Where("status <> ?", domain.SlotStatusBooked).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func (r schedulingTx) ReserveSlot(ctx context.Context, ownerID string, slotID, requestID uuid.UUID) (bool, error) {
	res, err := r.tx.NewUpdate().
		Model((*domain.Slot)(nil)).
		Set("status = ?", domain.SlotStatusBooked).
		Set("bound_request_id = ?", requestID).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", slotID).
		Where("owner_id = ?", ownerID).
		Where("status = ?", domain.SlotStatusAvailable).
		Exec(ctx)
	if err != nil {
		return false, mapWriteError(err)
	}
	return affectedOne(res)
}

func (r schedulingTx) ReleaseSlot(ctx context.Context, slotID, requestID uuid.UUID) (bool, error) {
	res, err := r.tx.NewUpdate().
		Model((*domain.Slot)(nil)).
		Set("status = ?", domain.SlotStatusAvailable).
		Set("bound_request_id = NULL").
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", slotID).
		Where("bound_request_id = ?", requestID).
		Where("status = ?", domain.SlotStatusBooked).
		Exec(ctx)
	if err != nil {
		return false, mapWriteError(err)
	}
	return affectedOne(res)
}

func (r schedulingTx) InsertRequest(ctx context.Context, req domain.AppointmentRequest) (domain.AppointmentRequest, error) {
	m := req
	res, err := r.tx.NewInsert().
		Model(&m).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return domain.AppointmentRequest{}, mapWriteError(err)
	}
	inserted, err := affectedOne(res)
	if err != nil {
		return domain.AppointmentRequest{}, err
	}
	if !inserted {
		return domain.AppointmentRequest{}, store.ErrIdempotencyConflict
	}
	return m, nil
}

func (r schedulingTx) GetRequest(ctx context.Context, requestID uuid.UUID) (domain.AppointmentRequest, error) {
	return getRequest(ctx, r.tx, requestID)
}

func (r schedulingTx) HasProcessingRequest(ctx context.Context, requesterID string, slotID uuid.UUID) (bool, error) {
	return r.tx.NewSelect().
		Model((*domain.AppointmentRequest)(nil)).
		Where("requester_id = ?", requesterID).
		Where("slot_id = ?", slotID).
		Where("state = ?", domain.RequestStateProcessing).
		Exists(ctx)
}

func (r schedulingTx) TransitionRequest(ctx context.Context, t store.RequestTransition) (bool, error) {
	q := r.tx.NewUpdate().
		Model((*domain.AppointmentRequest)(nil)).
		Set("state = ?", t.To).
		Set("decided_at = ?", t.DecidedAt).
		Set("updated_at = ?", t.DecidedAt)
	if t.SlotID != nil {
		q = q.Set("slot_id = ?", *t.SlotID)
	}
	if t.CancelledBy != "" {
		q = q.Set("cancelled_by = ?", t.CancelledBy)
	}
	if t.RejectionReason != "" {
		q = q.Set("rejection_reason = ?", t.RejectionReason)
	}
	if t.CancellationReason != "" {
		q = q.Set("cancellation_reason = ?", t.CancellationReason)
	}
	if t.Notes != "" {
		q = q.Set("notes = ?", t.Notes)
	}

	q = q.Where("id = ?", t.RequestID).
		Where("state = ?", domain.RequestStateProcessing)
	if t.ProviderID != "" {
		q = q.Where("provider_id = ?", t.ProviderID)
	}
	if t.RequesterID != "" {
		q = q.Where("requester_id = ?", t.RequesterID)
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return false, err
	}
	return affectedOne(res)
}

func affectedOne(res sql.Result) (bool, error) {
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23P01" && pgErr.ConstraintName == slotsNoOverlapConstraint {
			return store.ErrConflict
		}
		if pgErr.Code == "23505" && pgErr.ConstraintName == oneProcessingPerSlotConstraint {
			return store.ErrConflict
		}
	}
	return err
}
