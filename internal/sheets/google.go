package sheets

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

// Config captures the spreadsheet coordinates.
type Config struct {
	CredentialsFile string
	SpreadsheetID   string
	CodeSheet       string
	ListSheet       string
}

// listColumns is the width of the list sheet (code..date).
const listColumns = 6

// urlColumnIndex is the zero-based position of the URL column (E).
const urlColumnIndex = 4

// dateColumnIndex is the zero-based position of the date column (F).
const dateColumnIndex = 5

// GoogleWatchboard implements crawler.Watchboard on the Sheets v4 API.
type GoogleWatchboard struct {
	svc         *sheets.Service
	cfg         Config
	listSheetID int64
	logger      *zap.Logger
}

// NewGoogleWatchboard authenticates with the service-account key and resolves
// the numeric sheet ID needed for structural batch updates. It fails fast if
// the spreadsheet or the list worksheet is unreachable.
func NewGoogleWatchboard(ctx context.Context, cfg Config, logger *zap.Logger) (*GoogleWatchboard, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(cfg.CredentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	meta, err := svc.Spreadsheets.Get(cfg.SpreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("get spreadsheet metadata: %w", err)
	}
	listSheetID := int64(-1)
	for _, sh := range meta.Sheets {
		if sh.Properties != nil && sh.Properties.Title == cfg.ListSheet {
			listSheetID = sh.Properties.SheetId
		}
	}
	if listSheetID < 0 {
		return nil, fmt.Errorf("list worksheet %q not found", cfg.ListSheet)
	}

	return &GoogleWatchboard{
		svc:         svc,
		cfg:         cfg,
		listSheetID: listSheetID,
		logger:      logger,
	}, nil
}

// Watchlist reads keyword codes and price ceilings from the code worksheet.
func (g *GoogleWatchboard) Watchlist(ctx context.Context) ([]crawler.WatchEntry, error) {
	readRange := fmt.Sprintf("%s!A2:B", g.cfg.CodeSheet)
	resp, err := g.svc.Spreadsheets.Values.Get(g.cfg.SpreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read watchlist: %w", err)
	}
	entries := make([]crawler.WatchEntry, 0, len(resp.Values))
	for _, row := range resp.Values {
		if entry, ok := parseWatchRow(row); ok {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// ExistingURLs reads the URL column of the list worksheet so already-recorded
// listings are never appended twice.
func (g *GoogleWatchboard) ExistingURLs(ctx context.Context) (map[string]struct{}, error) {
	readRange := fmt.Sprintf("%s!E2:E", g.cfg.ListSheet)
	resp, err := g.svc.Spreadsheets.Values.Get(g.cfg.SpreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read existing urls: %w", err)
	}
	urls := make(map[string]struct{}, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			continue
		}
		urls[cellString(row[0])] = struct{}{}
	}
	return urls, nil
}

// AppendListings inserts fresh rows at the top of the list worksheet (below
// the header), writes them with USER_ENTERED so the image formula evaluates,
// then re-sorts the data range by date descending.
func (g *GoogleWatchboard) AppendListings(ctx context.Context, listings []crawler.Listing) error {
	if len(listings) == 0 {
		return nil
	}

	insert := &sheets.Request{
		InsertDimension: &sheets.InsertDimensionRequest{
			Range: &sheets.DimensionRange{
				SheetId:    g.listSheetID,
				Dimension:  "ROWS",
				StartIndex: 1,
				EndIndex:   int64(1 + len(listings)),
			},
			InheritFromBefore: false,
		},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.cfg.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{insert},
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("insert rows: %w", err)
	}

	values := make([][]any, 0, len(listings))
	for _, l := range listings {
		values = append(values, listingRow(l))
	}
	writeRange := fmt.Sprintf("%s!A2", g.cfg.ListSheet)
	if _, err := g.svc.Spreadsheets.Values.Update(g.cfg.SpreadsheetID, writeRange, &sheets.ValueRange{
		Values: values,
	}).ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
		return fmt.Errorf("write rows: %w", err)
	}

	sort := &sheets.Request{
		SortRange: &sheets.SortRangeRequest{
			Range: &sheets.GridRange{
				SheetId:          g.listSheetID,
				StartRowIndex:    1,
				StartColumnIndex: 0,
				EndColumnIndex:   listColumns,
			},
			SortSpecs: []*sheets.SortSpec{{
				DimensionIndex: dateColumnIndex,
				SortOrder:      "DESCENDING",
			}},
		},
	}
	if _, err := g.svc.Spreadsheets.BatchUpdate(g.cfg.SpreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{sort},
	}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("sort rows: %w", err)
	}

	g.logger.Info("appended listings to sheet", zap.Int("rows", len(listings)))
	return nil
}
