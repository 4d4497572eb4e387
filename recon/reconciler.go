package recon

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"aphdex/core/types"
	"aphdex/native/exchange"
	"aphdex/native/token"
)

// Row statuses.
const (
	StatusBalanced    = "balanced"
	StatusOrphaned    = "orphaned"
	StatusShortfall   = "shortfall"
	StatusUnavailable = "unavailable"
)

// Source exposes a read-only view of committed exchange state.
// *dispatch.Dispatcher satisfies it.
type Source interface {
	View(fn func(e *exchange.Engine, tokens *token.Registry) error) error
}

// Config wires a Reconciler.
type Config struct {
	Source    Source
	OutputDir string
	DryRun    bool
	Logger    *slog.Logger
	Now       func() time.Time
}

// RunOptions selects the assets to reconcile.
type RunOptions struct {
	Assets []types.AssetRef
	DryRun bool
}

// Row compares the exchange's tracked total for one asset with what the
// contract holds in custody. Orphaned is custody minus tracked.
type Row struct {
	Asset    types.AssetRef
	Kind     string
	Tracked  *big.Int
	Custody  *big.Int
	Orphaned *big.Int
	Status   string
	Error    string
}

// Result is one reconciliation run.
type Result struct {
	GeneratedAt time.Time
	Rows        []*Row
	CSVPath     string
	ParquetPath string
}

// Orphaned lists the rows reclaimOrphanFunds would pay out.
func (r *Result) Orphaned() []*Row {
	var out []*Row
	for _, row := range r.Rows {
		if row.Status == StatusOrphaned {
			out = append(out, row)
		}
	}
	return out
}

// Shortfalls lists the rows where the exchange owes more than it holds.
func (r *Result) Shortfalls() []*Row {
	var out []*Row
	for _, row := range r.Rows {
		if row.Status == StatusShortfall {
			out = append(out, row)
		}
	}
	return out
}

// Reconciler produces tracked-versus-custody reports.
type Reconciler struct {
	source    Source
	outputDir string
	dryRun    bool
	logger    *slog.Logger
	now       func() time.Time
}

// NewReconciler builds a configured reconciler.
func NewReconciler(cfg Config) (*Reconciler, error) {
	if cfg.Source == nil {
		return nil, errors.New("recon: source is required")
	}
	outputDir := cfg.OutputDir
	if strings.TrimSpace(outputDir) == "" {
		outputDir = filepath.Join("aphdex-data", "recon")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = func() time.Time { return time.Now().UTC() }
	}
	return &Reconciler{
		source:    cfg.Source,
		outputDir: outputDir,
		dryRun:    cfg.DryRun,
		logger:    logger,
		now:       nowFn,
	}, nil
}

// Run reads every requested asset from one consistent view and writes the
// CSV and Parquet reports unless running dry.
func (r *Reconciler) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	if len(opts.Assets) == 0 {
		return nil, errors.New("recon: no assets to reconcile")
	}
	res := &Result{GeneratedAt: r.now()}
	err := r.source.View(func(e *exchange.Engine, _ *token.Registry) error {
		for _, asset := range opts.Assets {
			if err := ctx.Err(); err != nil {
				return err
			}
			row, err := reconcileAsset(e, asset)
			if err != nil {
				return err
			}
			res.Rows = append(res.Rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, row := range res.Rows {
		switch row.Status {
		case StatusShortfall:
			r.logger.Warn("recon: custody below tracked total",
				slog.String("asset", row.Asset.String()),
				slog.String("tracked", row.Tracked.String()),
				slog.String("custody", row.Custody.String()))
		case StatusUnavailable:
			r.logger.Warn("recon: custody unavailable",
				slog.String("asset", row.Asset.String()),
				slog.String("error", row.Error))
		}
	}

	if r.dryRun || opts.DryRun {
		return res, nil
	}
	if err := os.MkdirAll(r.outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("recon: create output dir: %w", err)
	}
	base := filepath.Join(r.outputDir, "recon_"+res.GeneratedAt.Format("20060102T150405Z"))
	res.CSVPath = base + ".csv"
	if err := writeCSV(res.CSVPath, res.GeneratedAt, res.Rows); err != nil {
		return nil, err
	}
	res.ParquetPath = base + ".parquet"
	if err := writeParquet(res.ParquetPath, res.GeneratedAt, res.Rows); err != nil {
		return nil, err
	}
	r.logger.Info("recon: wrote report",
		slog.String("csv", res.CSVPath),
		slog.String("parquet", res.ParquetPath),
		slog.Int("rows", len(res.Rows)))
	return res, nil
}

// reconcileAsset mirrors the reclaimOrphanFunds arithmetic without writing.
// A custody lookup failure is recorded on the row; a failure to read the
// exchange's own storage aborts the run.
func reconcileAsset(e *exchange.Engine, asset types.AssetRef) (*Row, error) {
	row := &Row{Asset: asset, Kind: assetKind(asset)}
	tracked, err := e.TrackedTotal(asset)
	if err != nil {
		return nil, fmt.Errorf("recon: tracked total %s: %w", asset, err)
	}
	row.Tracked = tracked
	custody, err := e.Custody(asset)
	if err != nil {
		row.Status = StatusUnavailable
		row.Error = err.Error()
		return row, nil
	}
	row.Custody = custody
	row.Orphaned = new(big.Int).Sub(custody, tracked)
	switch row.Orphaned.Sign() {
	case 0:
		row.Status = StatusBalanced
	case 1:
		row.Status = StatusOrphaned
	default:
		row.Status = StatusShortfall
	}
	return row, nil
}

func assetKind(asset types.AssetRef) string {
	if asset.IsNative() {
		return "native"
	}
	return "external"
}

func amount(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func writeCSV(path string, generatedAt time.Time, rows []*Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create csv: %w", err)
	}
	defer file.Close()
	w := csv.NewWriter(file)
	header := []string{"asset", "kind", "tracked", "custody", "orphaned", "status", "error", "generated_at"}
	if err := w.Write(header); err != nil {
		return fmt.Errorf("recon: write csv header: %w", err)
	}
	for _, row := range rows {
		record := []string{
			row.Asset.String(),
			row.Kind,
			amount(row.Tracked),
			amount(row.Custody),
			amount(row.Orphaned),
			row.Status,
			row.Error,
			generatedAt.Format(time.RFC3339),
		}
		if err := w.Write(record); err != nil {
			return fmt.Errorf("recon: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("recon: flush csv: %w", err)
	}
	return nil
}

// Amounts are decimal strings since balances are unbounded integers.
type parquetRow struct {
	Asset       string `parquet:"name=asset, type=BYTE_ARRAY, convertedtype=UTF8"`
	Kind        string `parquet:"name=kind, type=BYTE_ARRAY, convertedtype=UTF8"`
	Tracked     string `parquet:"name=tracked, type=BYTE_ARRAY, convertedtype=UTF8"`
	Custody     string `parquet:"name=custody, type=BYTE_ARRAY, convertedtype=UTF8"`
	Orphaned    string `parquet:"name=orphaned, type=BYTE_ARRAY, convertedtype=UTF8"`
	Status      string `parquet:"name=status, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error       string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	GeneratedAt string `parquet:"name=generated_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

func writeParquet(path string, generatedAt time.Time, rows []*Row) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recon: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		pr := &parquetRow{
			Asset:       row.Asset.String(),
			Kind:        row.Kind,
			Tracked:     amount(row.Tracked),
			Custody:     amount(row.Custody),
			Orphaned:    amount(row.Orphaned),
			Status:      row.Status,
			Error:       row.Error,
			GeneratedAt: generatedAt.Format(time.RFC3339),
		}
		if err := pw.Write(pr); err != nil {
			pw.WriteStop()
			file.Close()
			return fmt.Errorf("recon: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return fmt.Errorf("recon: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("recon: close parquet file: %w", err)
	}
	return nil
}
