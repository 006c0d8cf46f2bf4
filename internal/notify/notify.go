// Package notify derives alerts from the record store: medications at or
// below their stock threshold and appointments coming up soon. Alerts are
// stored as notification rows, so they sync like any other record.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alexjbarnes/medsync/internal/models"
	"github.com/alexjbarnes/medsync/internal/resource"
)

// Records is the record API the evaluator reads and writes through.
// *syncengine.Engine satisfies it.
type Records interface {
	List(ctx context.Context, name resource.Name, ownerID string) ([]models.Row, error)
	Create(ctx context.Context, name resource.Name, ownerID string, row models.Row) (int64, error)
}

// Dispatcher delivers a notification to the user. Delivery is outside
// the sync engine; the default dispatcher only logs.
type Dispatcher interface {
	Dispatch(ctx context.Context, n models.Notification) error
}

// LogDispatcher writes notifications to a logger.
type LogDispatcher struct {
	Logger *slog.Logger
}

// Dispatch implements Dispatcher.
func (d LogDispatcher) Dispatch(_ context.Context, n models.Notification) error {
	d.Logger.Info("notification",
		slog.String("type", n.Type),
		slog.Int64("target_id", n.TargetID),
		slog.Any("variables", n.Variables),
	)

	return nil
}

// Evaluator creates notifications for the conditions it watches. At most
// one pending notification exists per (type, target).
type Evaluator struct {
	records    Records
	dispatcher Dispatcher
	lead       time.Duration
	logger     *slog.Logger
	now        func() time.Time
}

// NewEvaluator creates an Evaluator. lead is how far ahead an appointment
// triggers a reminder, unless the owner's settings override it.
func NewEvaluator(records Records, dispatcher Dispatcher, lead time.Duration, logger *slog.Logger) *Evaluator {
	return &Evaluator{
		records:    records,
		dispatcher: dispatcher,
		lead:       lead,
		logger:     logger.With(slog.String("component", "notify")),
		now:        time.Now,
	}
}

type pendingKey struct {
	typ    string
	target int64
}

// Evaluate checks the owner's medications and appointments and returns
// the notifications it created.
func (e *Evaluator) Evaluate(ctx context.Context, ownerID string) ([]models.Notification, error) {
	enabled, lead, err := e.preferences(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	if !enabled {
		return nil, nil
	}

	existing, err := e.records.List(ctx, resource.Notification, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing notifications: %w", err)
	}

	pending := make(map[pendingKey]bool, len(existing))
	for _, row := range existing {
		if row.String("status") == models.NotificationPending {
			pending[pendingKey{row.String("type"), row.Int("targetId")}] = true
		}
	}

	var candidates []models.Notification

	lowStock, err := e.lowStock(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	candidates = append(candidates, lowStock...)

	reminders, err := e.upcoming(ctx, ownerID, lead)
	if err != nil {
		return nil, err
	}

	candidates = append(candidates, reminders...)

	var created []models.Notification

	for _, n := range candidates {
		key := pendingKey{n.Type, n.TargetID}
		if pending[key] {
			continue
		}

		row, err := models.ToRow(n)
		if err != nil {
			return created, err
		}

		id, err := e.records.Create(ctx, resource.Notification, ownerID, row)
		if err != nil {
			return created, fmt.Errorf("storing %s notification: %w", n.Type, err)
		}

		n.ID = id
		n.OwnerID = ownerID
		pending[key] = true
		created = append(created, n)

		if err := e.dispatcher.Dispatch(ctx, n); err != nil {
			e.logger.Warn("dispatch failed",
				slog.String("type", n.Type),
				slog.Int64("id", id),
				slog.String("error", err.Error()),
			)
		}
	}

	return created, nil
}

// preferences reads the owner's settings row. Notifications are on unless
// explicitly disabled.
func (e *Evaluator) preferences(ctx context.Context, ownerID string) (bool, time.Duration, error) {
	rows, err := e.records.List(ctx, resource.Settings, ownerID)
	if err != nil {
		return false, 0, fmt.Errorf("listing settings: %w", err)
	}

	enabled, lead := true, e.lead

	for _, row := range rows {
		if v, ok := row["notificationsEnabled"]; ok && v != nil && !row.Bool("notificationsEnabled") {
			enabled = false
		}

		if minutes := row.Int("reminderLeadMinutes"); minutes > 0 {
			lead = time.Duration(minutes) * time.Minute
		}
	}

	return enabled, lead, nil
}

func (e *Evaluator) lowStock(ctx context.Context, ownerID string) ([]models.Notification, error) {
	rows, err := e.records.List(ctx, resource.Medication, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing medications: %w", err)
	}

	var out []models.Notification

	for _, row := range rows {
		if !row.Bool("stockAlert") {
			continue
		}

		stock, threshold := row.Int("stock"), row.Int("threshold")
		if stock > threshold {
			continue
		}

		out = append(out, models.Notification{
			Type:     models.NotificationLowStock,
			Status:   models.NotificationPending,
			TargetID: row.ID(),
			Variables: map[string]string{
				"name":      row.String("name"),
				"stock":     strconv.FormatInt(stock, 10),
				"threshold": strconv.FormatInt(threshold, 10),
			},
		})
	}

	return out, nil
}

func (e *Evaluator) upcoming(ctx context.Context, ownerID string, lead time.Duration) ([]models.Notification, error) {
	rows, err := e.records.List(ctx, resource.Appointment, ownerID)
	if err != nil {
		return nil, fmt.Errorf("listing appointments: %w", err)
	}

	now := e.now()

	var out []models.Notification

	for _, row := range rows {
		raw := row.String("scheduledTime")
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			if raw != "" {
				e.logger.Debug("unparseable appointment time",
					slog.Int64("id", row.ID()),
					slog.String("value", raw),
				)
			}

			continue
		}

		if at.Before(now) || at.Sub(now) > lead {
			continue
		}

		out = append(out, models.Notification{
			Type:     models.NotificationAppointmentReminder,
			Status:   models.NotificationPending,
			TargetID: row.ID(),
			Variables: map[string]string{
				"name":          row.String("name"),
				"scheduledTime": at.UTC().Format(time.RFC3339),
				"location":      row.String("location"),
			},
		})
	}

	return out, nil
}
