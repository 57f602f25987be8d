package parquet

import (
	"bytes"
	"fmt"

	writerfile "github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/pkg/transform"
)

// Row is the parquet layout of a destination payload. Optional payload
// fields stay null when absent.
type Row struct {
	ObjectType   string   `parquet:"name=object_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProductID    string   `parquet:"name=product_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	EntityType   string   `parquet:"name=entity_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	SKU          *string  `parquet:"name=sku, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ProductName  *string  `parquet:"name=product_name, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Description  *string  `parquet:"name=description, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Price        *float64 `parquet:"name=price, type=DOUBLE, repetitiontype=OPTIONAL"`
	Brand        *string  `parquet:"name=brand, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Category     *string  `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ImageURL     *string  `parquet:"name=image_url, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	ChannelID    *string  `parquet:"name=channel_id, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL"`
	Completeness *int32   `parquet:"name=completeness, type=INT32, repetitiontype=OPTIONAL"`
	LastModified int64    `parquet:"name=last_modified, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

func FromPayload(objectType string, p transform.Payload) Row {
	row := Row{
		ObjectType:   objectType,
		ProductID:    p.ProductID,
		EntityType:   p.EntityType,
		SKU:          p.SKU,
		ProductName:  p.ProductName,
		Description:  p.Description,
		Price:        p.Price,
		Brand:        p.Brand,
		Category:     p.Category,
		ImageURL:     p.ImageURL,
		ChannelID:    p.ChannelID,
		LastModified: p.LastModified.Time.UnixMilli(),
	}
	if p.Completeness != nil {
		c := int32(*p.Completeness)
		row.Completeness = &c
	}
	return row
}

type Option func(*Encoder)

func WithLogger(logger *zap.Logger) Option {
	return func(e *Encoder) {
		e.logger = logger
	}
}

func WithParallelism(n int64) Option {
	return func(e *Encoder) {
		e.parallelism = n
	}
}

func WithCompression(codec parquet.CompressionCodec) Option {
	return func(e *Encoder) {
		e.compression = codec
	}
}

// Encoder turns a batch of payloads into a single in memory parquet file.
type Encoder struct {
	compression parquet.CompressionCodec
	logger      *zap.Logger
	parallelism int64
}

func New(opts ...Option) *Encoder {
	e := &Encoder{
		compression: parquet.CompressionCodec_SNAPPY,
		logger:      zap.NewNop(),
		parallelism: 4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Encoder) Encode(objectType string, payloads []transform.Payload) ([]byte, error) {
	buf := &bytes.Buffer{}
	pfw := writerfile.NewWriterFile(buf)

	pw, err := writer.NewParquetWriter(pfw, new(Row), e.parallelism)
	if err != nil {
		return nil, fmt.Errorf("creating parquet writer: %w", err)
	}
	pw.CompressionType = e.compression

	for _, p := range payloads {
		if err := pw.Write(FromPayload(objectType, p)); err != nil {
			_ = pw.WriteStop()
			_ = pfw.Close()
			return nil, fmt.Errorf("writing row %s: %w", p.ProductID, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		_ = pfw.Close()
		return nil, err
	}
	_ = pfw.Close()

	e.logger.Debug("Encoded parquet batch",
		zap.String("object_type", objectType),
		zap.Int("rows", len(payloads)),
		zap.Int("bytes", buf.Len()))

	return buf.Bytes(), nil
}
