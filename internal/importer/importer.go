package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"storefront/internal/domain"
	"storefront/internal/logging"
)

// ProductWriter stores a product, replacing any product with the same ID.
type ProductWriter interface {
	Create(ctx context.Context, product domain.Product) (*domain.Product, error)
}

// CSVImporter reads catalog CSV files and writes one product per row.
//
// The header names the columns; order does not matter and unknown columns are ignored:
//
//	id,productName,category,price,quantity,imageUrl,description
//
// Rows without an id get a generated one, so re-importing such rows duplicates them.
type CSVImporter struct {
	reader      *csv.Reader
	productRepo ProductWriter
	logger      logrus.FieldLogger
}

func NewCSVImporter(r io.Reader, repo ProductWriter, logger logrus.FieldLogger) *CSVImporter {
	csvr := csv.NewReader(r)
	csvr.FieldsPerRecord = -1 // rows may have trailing commas
	return &CSVImporter{
		reader:      csvr,
		productRepo: repo,
		logger:      logging.OrDiscard(logger),
	}
}

type csvRow struct {
	line     int
	ID       string
	Name     string
	Category string
	Price    string
	Quantity string
	ImageURL string
	Desc     string
}

// Run imports every row and returns the number of products written. It stops at the
// first invalid row.
func (i *CSVImporter) Run(ctx context.Context) (int, error) {
	headers, err := i.reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read headers: %w", err)
	}
	index := headerIndex(headers)
	if _, ok := index["productName"]; !ok {
		return 0, errors.New("read headers: productName column is required")
	}

	imported := 0
	for line := 2; ; line++ {
		record, err := i.reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, fmt.Errorf("read row: %w", err)
		}

		row := parseRow(record, index)
		if row == nil {
			continue
		}
		row.line = line
		if err := i.save(ctx, row); err != nil {
			return imported, err
		}
		imported++
	}

	i.logger.WithField("count", imported).Info("importer: done")
	return imported, nil
}

func (i *CSVImporter) save(ctx context.Context, row *csvRow) error {
	p, err := row.product()
	if err != nil {
		return fmt.Errorf("line %d: %w", row.line, err)
	}
	if _, err := i.productRepo.Create(ctx, p); err != nil {
		return fmt.Errorf("line %d: store product %q: %w", row.line, row.Name, err)
	}
	return nil
}

func (r *csvRow) product() (domain.Product, error) {
	if r.Name == "" {
		return domain.Product{}, errors.New("productName is required")
	}
	category := domain.Category(r.Category)
	if category == "" {
		category = domain.CategorySmartphone
	}
	if !category.Valid() {
		return domain.Product{}, fmt.Errorf("unknown category %q", r.Category)
	}
	price, err := decimal.NewFromString(r.Price)
	if err != nil || !price.IsPositive() {
		return domain.Product{}, fmt.Errorf("invalid price %q", r.Price)
	}
	qty := 0
	if r.Quantity != "" {
		if qty, err = strconv.Atoi(r.Quantity); err != nil || qty < 0 {
			return domain.Product{}, fmt.Errorf("invalid quantity %q", r.Quantity)
		}
	}
	return domain.Product{
		ID:          r.ID,
		Name:        r.Name,
		Category:    category,
		Description: r.Desc,
		Price:       price,
		Stock:       qty,
		ImageURL:    r.ImageURL,
	}, nil
}

func headerIndex(headers []string) map[string]int {
	idx := make(map[string]int, len(headers))
	for i, h := range headers {
		idx[strings.TrimSpace(h)] = i
	}
	return idx
}

// parseRow returns nil for blank rows.
func parseRow(record []string, index map[string]int) *csvRow {
	row := &csvRow{
		ID:       pick(record, index, "id"),
		Name:     pick(record, index, "productName"),
		Category: pick(record, index, "category"),
		Price:    pick(record, index, "price"),
		Quantity: pick(record, index, "quantity"),
		ImageURL: pick(record, index, "imageUrl"),
		Desc:     pick(record, index, "description"),
	}
	if *row == (csvRow{}) {
		return nil
	}
	return row
}

func pick(record []string, index map[string]int, key string) string {
	pos, ok := index[key]
	if !ok || pos >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[pos])
}
