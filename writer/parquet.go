package writer

import (
	"bytes"
	"fmt"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"serumflow/models"
)

// tradeRecord defines the parquet schema of an archived fill.
type tradeRecord struct {
	Market        string  `parquet:"name=market, type=BYTE_ARRAY, convertedtype=UTF8"`
	Name          string  `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Slot          int64   `parquet:"name=slot, type=INT64"`
	Side          string  `parquet:"name=side, type=BYTE_ARRAY, convertedtype=UTF8"`
	Price         float64 `parquet:"name=price, type=DOUBLE"`
	Size          float64 `parquet:"name=size, type=DOUBLE"`
	Maker         bool    `parquet:"name=maker, type=BOOLEAN"`
	FeeOrRebate   int64   `parquet:"name=fee_or_rebate, type=INT64"`
	OrderID       string  `parquet:"name=order_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Owner         string  `parquet:"name=owner, type=BYTE_ARRAY, convertedtype=UTF8"`
	ClientOrderID int64   `parquet:"name=client_order_id, type=INT64"`
	ReceivedTime  int64   `parquet:"name=received_time, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

type memFileWriter struct{ buffer *bytes.Buffer }

func newMemFileWriter() *memFileWriter { return &memFileWriter{buffer: &bytes.Buffer{}} }

func (m *memFileWriter) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFileWriter) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFileWriter) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFileWriter) Read([]byte) (int, error)                  { return 0, nil }
func (m *memFileWriter) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFileWriter) Close() error                              { return nil }
func (m *memFileWriter) Bytes() []byte                             { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch name {
	case "gzip":
		return parquet.CompressionCodec_GZIP
	case "none", "uncompressed":
		return parquet.CompressionCodec_UNCOMPRESSED
	default:
		return parquet.CompressionCodec_SNAPPY
	}
}

// encodeTrades renders trades as an in-memory parquet file.
func encodeTrades(trades []models.NormTradeMessage, compression string) ([]byte, error) {
	mw := newMemFileWriter()
	pw, err := writer.NewParquetWriter(mw, new(tradeRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)
	for _, t := range trades {
		rec := tradeRecord{
			Market:        t.Market,
			Name:          t.Name,
			Slot:          int64(t.Slot),
			Side:          t.Side,
			Price:         t.Price,
			Size:          t.Size,
			Maker:         t.Maker,
			FeeOrRebate:   int64(t.FeeOrRebate),
			OrderID:       t.OrderID,
			Owner:         t.Owner,
			ClientOrderID: int64(t.ClientOrderID),
			ReceivedTime:  t.ReceivedTime,
		}
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return mw.Bytes(), nil
}
