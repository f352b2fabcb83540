package sheets

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"spacehire/internal/models"
)

var header = []interface{}{
	"ID", "Host", "Account", "Amount", "Currency", "Status", "Attempts", "Transfer", "Error", "Created", "Updated",
}

// PayoutSource lists payouts changed since a point in time.
type PayoutSource interface {
	ListPayoutsUpdatedSince(ctx context.Context, since time.Time) ([]models.Payout, error)
}

// Mirror keeps one spreadsheet row per payout. Rows are located by the payout
// id in column A and cached after the first read.
type Mirror struct {
	values        ValuesAPI
	source        PayoutSource
	spreadsheetID string
	sheet         string
	logger        zerolog.Logger

	mu       sync.Mutex
	rowCache map[int64]int
	nextRow  int
	since    time.Time
}

func NewMirror(values ValuesAPI, source PayoutSource, spreadsheetID, sheet string, logger zerolog.Logger) *Mirror {
	if sheet == "" {
		sheet = "Payouts"
	}
	return &Mirror{
		values:        values,
		source:        source,
		spreadsheetID: spreadsheetID,
		sheet:         sheet,
		rowCache:      make(map[int64]int),
		logger:        logger.With().Str("component", "sheets").Logger(),
	}
}

func payoutRowValues(p *models.Payout) []interface{} {
	return []interface{}{
		p.ID,
		p.HostID,
		p.AccountID,
		float64(p.Amount) / 100,
		p.Currency,
		string(p.Status),
		p.Attempts,
		p.TransferID,
		p.LastError,
		p.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		p.UpdatedAt.UTC().Format("2006-01-02 15:04:05"),
	}
}

// ClearCache forces the next Sync to re-read row positions.
func (m *Mirror) ClearCache() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rowCache = make(map[int64]int)
	m.nextRow = 0
}

// loadRows reads column A. Row 1 is the header.
func (m *Mirror) loadRows(ctx context.Context) error {
	rows, err := m.values.Get(ctx, m.spreadsheetID, m.sheet+"!A:A")
	if err != nil {
		return fmt.Errorf("read sheet: %w", err)
	}
	if len(rows) == 0 {
		if err := m.values.Update(ctx, m.spreadsheetID, m.sheet+"!A1", [][]interface{}{header}); err != nil {
			return fmt.Errorf("write header: %w", err)
		}
		m.nextRow = 2
		return nil
	}
	for i := 1; i < len(rows); i++ {
		if len(rows[i]) == 0 {
			continue
		}
		id, err := strconv.ParseInt(fmt.Sprint(rows[i][0]), 10, 64)
		if err != nil {
			continue
		}
		m.rowCache[id] = i + 1
	}
	m.nextRow = len(rows) + 1
	return nil
}

// Sync writes every payout changed since the previous sync. It returns the
// number of rows written.
func (m *Mirror) Sync(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.nextRow == 0 {
		if err := m.loadRows(ctx); err != nil {
			return 0, err
		}
	}

	payouts, err := m.source.ListPayoutsUpdatedSince(ctx, m.since)
	if err != nil {
		return 0, fmt.Errorf("list payouts: %w", err)
	}

	written := 0
	latest := m.since
	for i := range payouts {
		p := &payouts[i]
		row, ok := m.rowCache[p.ID]
		if !ok {
			row = m.nextRow
		}
		rng := fmt.Sprintf("%s!A%d:K%d", m.sheet, row, row)
		if err := m.values.Update(ctx, m.spreadsheetID, rng, [][]interface{}{payoutRowValues(p)}); err != nil {
			return written, fmt.Errorf("write payout %d: %w", p.ID, err)
		}
		if !ok {
			m.rowCache[p.ID] = row
			m.nextRow++
		}
		written++
		if p.UpdatedAt.After(latest) {
			latest = p.UpdatedAt
		}
	}
	// updated_at has second precision and the query is inclusive, so the
	// last second is re-sent next time.
	m.since = latest

	if written > 0 {
		m.logger.Debug().Int("rows", written).Msg("payouts mirrored")
	}
	return written, nil
}
