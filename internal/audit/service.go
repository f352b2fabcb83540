// Package audit sends a monthly ledger workbook to the administrators.
package audit

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacehire/internal/models"
)

// LedgerSource lists ledger rows touched since a point in time.
type LedgerSource interface {
	ListBookingsUpdatedSince(ctx context.Context, since time.Time) ([]models.Booking, error)
	ListPaymentsUpdatedSince(ctx context.Context, since time.Time) ([]models.Payment, error)
	ListPayoutsUpdatedSince(ctx context.Context, since time.Time) ([]models.Payout, error)
}

// TableExporter dumps whole tables.
type TableExporter interface {
	GetTableNames(ctx context.Context) ([]string, error)
	GetTableData(ctx context.Context, tableName string) ([]map[string]interface{}, []string, error)
}

// Notifier delivers the workbook.
type Notifier interface {
	SendDocument(ctx context.Context, filename string, data io.Reader, caption string) error
}

type Config struct {
	ExportOnStart bool
	// SnapshotTables are copied whole after the monthly sheets.
	SnapshotTables []string
	Location       *time.Location
}

type Service struct {
	cfg      Config
	ledger   LedgerSource
	tables   TableExporter
	notifier Notifier
	now      func() time.Time
	logger   zerolog.Logger

	stopCh  chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

func NewService(cfg Config, ledger LedgerSource, tables TableExporter, notifier Notifier, logger zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SnapshotTables == nil {
		cfg.SnapshotTables = []string{"spaces", "payout_items"}
	}
	return &Service{
		cfg:      cfg,
		ledger:   ledger,
		tables:   tables,
		notifier: notifier,
		now:      time.Now,
		logger:   logger.With().Str("component", "audit").Logger(),
		stopCh:   make(chan struct{}),
	}
}

// Start schedules the export for 00:01 on the 1st of every month.
func (s *Service) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.cfg.ExportOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.run()
		}()
	}

	s.wg.Add(1)
	go s.loop()
	s.logger.Info().Msg("audit service started")
}

// Stop waits for a running export to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info().Msg("audit service stopped")
}

func (s *Service) loop() {
	defer s.wg.Done()

	next := nextFirstOfMonth(s.now().In(s.cfg.Location))
	timer := time.NewTimer(time.Until(next))
	defer timer.Stop()
	s.logger.Info().Time("at", next).Msg("next audit scheduled")

	for {
		select {
		case <-s.stopCh:
			return
		case <-timer.C:
			s.run()
			next = nextFirstOfMonth(s.now().In(s.cfg.Location))
			timer.Reset(time.Until(next))
			s.logger.Info().Time("at", next).Msg("next audit scheduled")
		}
	}
}

func nextFirstOfMonth(now time.Time) time.Time {
	return time.Date(now.Year(), now.Month()+1, 1, 0, 1, 0, 0, now.Location())
}

func (s *Service) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	if err := s.SendPreviousMonth(ctx); err != nil {
		s.logger.Error().Err(err).Msg("audit export failed")
	}
}

// SendPreviousMonth exports the month before now and sends it.
func (s *Service) SendPreviousMonth(ctx context.Context) error {
	now := s.now().In(s.cfg.Location)
	month := time.Date(now.Year(), now.Month()-1, 1, 0, 0, 0, 0, s.cfg.Location)

	filename, buf, err := s.Export(ctx, month)
	if err != nil {
		return err
	}
	if s.notifier == nil {
		return nil
	}
	caption := fmt.Sprintf("Ledger report %s", month.Format("January 2006"))
	if err := s.notifier.SendDocument(ctx, filename, buf, caption); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	s.logger.Info().Str("filename", filename).Msg("audit report sent")
	return nil
}

// Filename names the workbook of a month.
func Filename(month time.Time) string {
	return fmt.Sprintf("ledger_%s.xlsx", month.Format("2006-01"))
}

// inMonth keeps rows touched during [start, end). Rows created later belong
// to the next report.
func inMonth(created, end time.Time) bool {
	return created.Before(end)
}

func money(amount int64) float64 {
	return float64(amount) / 100
}

func stamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05")
}

// Export builds the workbook of the month containing month.
func (s *Service) Export(ctx context.Context, month time.Time) (string, *bytes.Buffer, error) {
	start := time.Date(month.Year(), month.Month(), 1, 0, 0, 0, 0, month.Location())
	end := start.AddDate(0, 1, 0)

	wb := newWorkbook()
	defer wb.Close()

	bookings, err := s.ledger.ListBookingsUpdatedSince(ctx, start)
	if err != nil {
		return "", nil, fmt.Errorf("list bookings: %w", err)
	}
	if err := s.writeSheet(wb, "Bookings",
		[]string{"ID", "Ref", "Space", "Client", "Host", "Start", "End", "Type", "Status", "Gross", "Currency", "Updated"},
		len(bookings), func(i int) ([]interface{}, bool) {
			b := &bookings[i]
			return []interface{}{b.ID, b.Ref, b.SpaceID, b.ClientID, b.HostID, stamp(b.StartAt), stamp(b.EndAt),
				string(b.Type), string(b.Status), money(b.GrossAmount), b.Currency, stamp(b.UpdatedAt)}, inMonth(b.CreatedAt, end)
		}); err != nil {
		return "", nil, err
	}

	payments, err := s.ledger.ListPaymentsUpdatedSince(ctx, start)
	if err != nil {
		return "", nil, fmt.Errorf("list payments: %w", err)
	}
	if err := s.writeSheet(wb, "Payments",
		[]string{"ID", "Booking", "Attempt", "Intent", "Status", "Gross", "Stripe fee", "Platform fee", "Tax", "Total", "Net", "Currency", "Updated"},
		len(payments), func(i int) ([]interface{}, bool) {
			p := &payments[i]
			return []interface{}{p.ID, p.BookingID, p.Attempt, p.StripePaymentIntentID, string(p.Status),
				money(p.GrossAmount), money(p.StripeFee), money(p.PlatformFee), money(p.TaxFee), money(p.TotalAmount),
				money(p.NetAmount()), p.Currency, stamp(p.UpdatedAt)}, inMonth(p.CreatedAt, end)
		}); err != nil {
		return "", nil, err
	}

	payouts, err := s.ledger.ListPayoutsUpdatedSince(ctx, start)
	if err != nil {
		return "", nil, fmt.Errorf("list payouts: %w", err)
	}
	if err := s.writeSheet(wb, "Payouts",
		[]string{"ID", "Host", "Account", "Status", "Amount", "Currency", "Attempts", "Transfer", "Error", "Updated"},
		len(payouts), func(i int) ([]interface{}, bool) {
			p := &payouts[i]
			return []interface{}{p.ID, p.HostID, p.AccountID, string(p.Status), money(p.Amount), p.Currency,
				p.Attempts, p.TransferID, p.LastError, stamp(p.UpdatedAt)}, inMonth(p.CreatedAt, end)
		}); err != nil {
		return "", nil, err
	}

	if err := s.writeSnapshots(ctx, wb); err != nil {
		return "", nil, err
	}

	var buf bytes.Buffer
	if err := wb.Save(&buf); err != nil {
		return "", nil, fmt.Errorf("save workbook: %w", err)
	}
	return Filename(start), &buf, nil
}

func (s *Service) writeSheet(wb *workbook, name string, columns []string, n int, row func(i int) ([]interface{}, bool)) error {
	if err := wb.AddSheet(name); err != nil {
		return err
	}
	if err := wb.WriteHeader(columns); err != nil {
		return fmt.Errorf("write %s header: %w", name, err)
	}
	written := 0
	for i := 0; i < n; i++ {
		values, keep := row(i)
		if !keep {
			continue
		}
		if err := wb.WriteRow(values); err != nil {
			return fmt.Errorf("write %s row: %w", name, err)
		}
		written++
	}
	s.logger.Debug().Str("sheet", name).Int("rows", written).Msg("sheet exported")
	return nil
}

// writeSnapshots copies the configured tables. A failing table is logged and
// skipped so the ledger sheets still go out.
func (s *Service) writeSnapshots(ctx context.Context, wb *workbook) error {
	if s.tables == nil || len(s.cfg.SnapshotTables) == 0 {
		return nil
	}
	names, err := s.tables.GetTableNames(ctx)
	if err != nil {
		return fmt.Errorf("get table names: %w", err)
	}
	for _, table := range s.cfg.SnapshotTables {
		if !slices.Contains(names, table) {
			continue
		}
		data, columns, err := s.tables.GetTableData(ctx, table)
		if err != nil {
			s.logger.Error().Err(err).Str("table", table).Msg("failed to read table")
			continue
		}
		if err := s.writeSheet(wb, table, columns, len(data), func(i int) ([]interface{}, bool) {
			row := make([]interface{}, len(columns))
			for j, col := range columns {
				row[j] = data[i][col]
			}
			return row, true
		}); err != nil {
			return err
		}
	}
	return nil
}
