// Package export writes a user's transactions to spreadsheets.
package export

import (
	"context"
	"errors"
	"fmt"
	"time"

	"miaomiao/internal/core"
	"miaomiao/internal/ledger"
	"miaomiao/internal/log"
)

// SheetTitle names the worksheet every writer fills.
const SheetTitle = "交易记录"

var ErrNoTransactions = errors.New("没有找到符合条件的交易记录")

// Header is the first row of every export.
var Header = []string{"日期", "时间", "类型", "分类", "金额", "描述", "表情"}

// Writer persists export rows somewhere and returns where they went.
type Writer interface {
	Write(ctx context.Context, user core.User, txs []core.Transaction) (location string, err error)
}

// DateRange selects transactions by calendar date, both ends inclusive.
type DateRange struct {
	First time.Time
	Last  time.Time
}

func (r DateRange) Contains(t time.Time) bool {
	day := dateOf(t)
	return !day.Before(dateOf(r.First)) && !day.After(dateOf(r.Last))
}

type Result struct {
	Location string
	Count    int
	Err      error
}

type Exporter struct {
	writer Writer
	logger *log.Logger
}

func NewExporter(w Writer, logger *log.Logger) *Exporter {
	return &Exporter{
		writer: w,
		logger: log.OrDiscard(logger).WithComponent(log.ComponentExport),
	}
}

// Export writes snapshot, optionally narrowed to rng, on its own goroutine.
// The snapshot is copied before Export returns so the caller may reuse it.
// The channel yields exactly one Result.
func (e *Exporter) Export(ctx context.Context, user core.User, snapshot []core.Transaction, rng *DateRange) <-chan Result {
	rows := Filter(snapshot, rng)
	out := make(chan Result, 1)

	go func() {
		defer close(out)
		if len(rows) == 0 {
			out <- Result{Err: ErrNoTransactions}
			return
		}

		loc, err := e.writer.Write(ctx, user, rows)
		if err != nil {
			e.logger.ErrorContext(ctx, "Export failed",
				log.FieldOperation, log.OpExport,
				log.FieldUserID, user.ID, log.FieldCount, len(rows), log.FieldError, err)
			out <- Result{Err: fmt.Errorf("导出失败: %w", err)}
			return
		}
		e.logger.InfoContext(ctx, "Export written",
			log.FieldUserID, user.ID, log.FieldCount, len(rows), log.FieldPath, loc)
		out <- Result{Location: loc, Count: len(rows)}
	}()
	return out
}

// Filter copies the transactions inside rng, newest first. A nil range
// keeps everything.
func Filter(txs []core.Transaction, rng *DateRange) []core.Transaction {
	out := make([]core.Transaction, 0, len(txs))
	for _, tx := range txs {
		if rng == nil || rng.Contains(tx.Date) {
			out = append(out, tx)
		}
	}
	ledger.SortByDateDesc(out)
	return out
}

// Row renders one transaction in Header column order.
func Row(tx core.Transaction) []string {
	return []string{
		tx.Date.Format("2006-01-02"),
		tx.Date.Format("15:04:05"),
		tx.Type.Label(),
		tx.Category.Label(),
		core.FormatAmount(tx.Amount),
		tx.Description,
		tx.Emoji,
	}
}

func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
