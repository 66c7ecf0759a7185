// Package gsheets appends booking audit rows to a Google spreadsheet.
package gsheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"booking-assistant/internal/clock"
	"booking-assistant/internal/domain"
	"booking-assistant/internal/integrations/gauth"
)

const (
	defaultRange   = "Sheet1!A:A"
	defaultTimeout = 10 * time.Second
	rowTimeLayout  = "02/01/2006 15:04:05"
)

type sheetsAPI interface {
	AppendValues(ctx context.Context, spreadsheetID, rng string, values *sheets.ValueRange) error
}

type serviceAPI struct {
	svc *sheets.Service
}

func (s serviceAPI) AppendValues(ctx context.Context, spreadsheetID, rng string, values *sheets.ValueRange) error {
	_, err := s.svc.Spreadsheets.Values.Append(spreadsheetID, rng, values).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	return err
}

// AuditLog writes one row per booking.
type AuditLog struct {
	api           sheetsAPI
	spreadsheetID string
	rng           string
	zone          clock.Zone
	timeout       time.Duration
}

func New(api sheetsAPI, spreadsheetID, rng string, zone clock.Zone, timeout time.Duration) (*AuditLog, error) {
	if api == nil {
		return nil, errors.New("gsheets: api must not be nil")
	}
	spreadsheetID = strings.TrimSpace(spreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("gsheets: spreadsheet id must not be empty")
	}
	rng = strings.TrimSpace(rng)
	if rng == "" {
		rng = defaultRange
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &AuditLog{api: api, spreadsheetID: spreadsheetID, rng: rng, zone: zone, timeout: timeout}, nil
}

// NewFromCredentials authenticates with a service-account key.
func NewFromCredentials(ctx context.Context, credentialsJSON []byte, spreadsheetID, rng string, zone clock.Zone, timeout time.Duration) (*AuditLog, error) {
	httpClient, err := gauth.HTTPClient(ctx, credentialsJSON, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, err
	}
	svc, err := sheets.NewService(ctx, option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("gsheets: create service: %w", err)
	}
	return New(serviceAPI{svc: svc}, spreadsheetID, rng, zone, timeout)
}

func (a *AuditLog) Append(ctx context.Context, rec domain.AuditRecord) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	if err := a.api.AppendValues(ctx, a.spreadsheetID, a.rng, &sheets.ValueRange{
		Values: [][]interface{}{a.row(rec)},
	}); err != nil {
		return fmt.Errorf("gsheets: append row: %w", err)
	}
	return nil
}

// row lays out: recorded at, customer, phone, procedure, slot, event id, record id.
func (a *AuditLog) row(rec domain.AuditRecord) []interface{} {
	return []interface{}{
		rec.RecordedAt.In(a.zone.Location()).Format(rowTimeLayout),
		rec.CustomerName,
		rec.UserID,
		rec.Procedure,
		rec.SlotLabel,
		rec.EventID,
		rec.ID,
	}
}

// LogAudit records bookings in the structured log when no spreadsheet is
// configured.
type LogAudit struct {
	Logger *slog.Logger
}

func (l LogAudit) Append(_ context.Context, rec domain.AuditRecord) error {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("booking audit",
		"record_id", rec.ID,
		"user_id", rec.UserID,
		"customer_name", rec.CustomerName,
		"procedure", rec.Procedure,
		"start", rec.Start,
		"slot_label", rec.SlotLabel,
		"event_id", rec.EventID,
	)
	return nil
}
