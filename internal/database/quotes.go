package database

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"backtest-engine-go/internal/models"
	"gorm.io/gorm"
)

const quoteBatchSize = 500

// quoteColumns maps normalized csv headers to the quote field they fill.
var quoteColumns = map[string]func(q *models.OptionQuote, v float64){
	"STRIKE":   func(q *models.OptionQuote, v float64) { q.Strike = v },
	"C_LAST":   func(q *models.OptionQuote, v float64) { q.CLast = v },
	"C_BID":    func(q *models.OptionQuote, v float64) { q.CBid = v },
	"C_ASK":    func(q *models.OptionQuote, v float64) { q.CAsk = v },
	"C_SIZE":   func(q *models.OptionQuote, v float64) { q.CSize = v },
	"C_VOLUME": func(q *models.OptionQuote, v float64) { q.CVolume = v },
	"C_IV":     func(q *models.OptionQuote, v float64) { q.CIV = v },
	"C_DELTA":  func(q *models.OptionQuote, v float64) { q.CDelta = v },
	"C_GAMMA":  func(q *models.OptionQuote, v float64) { q.CGamma = v },
	"C_VEGA":   func(q *models.OptionQuote, v float64) { q.CVega = v },
	"C_THETA":  func(q *models.OptionQuote, v float64) { q.CTheta = v },
	"C_RHO":    func(q *models.OptionQuote, v float64) { q.CRho = v },
	"P_LAST":   func(q *models.OptionQuote, v float64) { q.PLast = v },
	"P_BID":    func(q *models.OptionQuote, v float64) { q.PBid = v },
	"P_ASK":    func(q *models.OptionQuote, v float64) { q.PAsk = v },
	"P_SIZE":   func(q *models.OptionQuote, v float64) { q.PSize = v },
	"P_VOLUME": func(q *models.OptionQuote, v float64) { q.PVolume = v },
	"P_IV":     func(q *models.OptionQuote, v float64) { q.PIV = v },
	"P_DELTA":  func(q *models.OptionQuote, v float64) { q.PDelta = v },
	"P_GAMMA":  func(q *models.OptionQuote, v float64) { q.PGamma = v },
	"P_VEGA":   func(q *models.OptionQuote, v float64) { q.PVega = v },
	"P_THETA":  func(q *models.OptionQuote, v float64) { q.PTheta = v },
	"P_RHO":    func(q *models.OptionQuote, v float64) { q.PRho = v },
}

// ImportOptionQuotes loads an end-of-interval options chain export into the
// quotes table and returns the number of rows stored. Headers may be wrapped
// in brackets ("[QUOTE_UNIXTIME]"); blank numeric cells are stored as zero.
func ImportOptionQuotes(db *gorm.DB, r io.Reader) (int, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read quotes header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[normalizeHeader(h)] = i
	}
	for _, required := range []string{"QUOTE_UNIXTIME", "EXPIRE_DATE", "STRIKE"} {
		if _, ok := cols[required]; !ok {
			return 0, fmt.Errorf("quotes csv is missing column %s", required)
		}
	}

	var (
		batch []models.OptionQuote
		total int
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := db.CreateInBatches(&batch, quoteBatchSize).Error; err != nil {
			return fmt.Errorf("failed to store option quotes: %w", err)
		}
		total += len(batch)
		batch = batch[:0]
		return nil
	}

	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return total, fmt.Errorf("failed to read quotes line %d: %w", line, err)
		}
		q, err := parseQuote(record, cols)
		if err != nil {
			return total, fmt.Errorf("quotes line %d: %w", line, err)
		}
		batch = append(batch, q)
		if len(batch) == quoteBatchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}
	return total, nil
}

func parseQuote(record []string, cols map[string]int) (models.OptionQuote, error) {
	var q models.OptionQuote

	unix, err := strconv.ParseInt(cell(record, cols["QUOTE_UNIXTIME"]), 10, 64)
	if err != nil {
		return q, fmt.Errorf("QUOTE_UNIXTIME: %w", err)
	}
	q.QuoteUnixTime = unix

	exp := cell(record, cols["EXPIRE_DATE"])
	if _, err := time.Parse(time.DateOnly, exp); err != nil {
		return q, fmt.Errorf("EXPIRE_DATE: %w", err)
	}
	q.ExpireDate = exp

	for name, set := range quoteColumns {
		i, ok := cols[name]
		if !ok {
			continue
		}
		raw := cell(record, i)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return q, fmt.Errorf("%s: %w", name, err)
		}
		set(&q, v)
	}
	return q, nil
}

func normalizeHeader(h string) string {
	return strings.ToUpper(strings.Trim(strings.TrimSpace(h), "[]"))
}

func cell(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[i])
}
