package transform

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/turbolytics/pimsync/pkg/inriver"
)

// DefaultObjectType is the destination object the connector writes products into.
const DefaultObjectType = "inriver_connector_products"

var ErrMissingEntityID = errors.New("missing required entity data")

var now = time.Now

// Payload is a destination object. Optional fields are nil when the source
// had no value and are left out of every encoding.
type Payload struct {
	ProductID    string       `json:"product_id"`
	EntityType   string       `json:"entity_type"`
	SKU          *string      `json:"sku,omitempty"`
	ProductName  *string      `json:"product_name,omitempty"`
	Description  *string      `json:"description,omitempty"`
	Price        *float64     `json:"price,omitempty"`
	Brand        *string      `json:"brand,omitempty"`
	Category     *string      `json:"category,omitempty"`
	ImageURL     *string      `json:"image_url,omitempty"`
	ChannelID    *string      `json:"channel_id,omitempty"`
	Completeness *int         `json:"completeness,omitempty"`
	LastModified LastModified `json:"last_modified"`
}

// Map returns the payload as a flat map holding only the present fields.
func (p Payload) Map() map[string]any {
	m := map[string]any{
		"product_id":    p.ProductID,
		"entity_type":   p.EntityType,
		"last_modified": p.LastModified.Value(),
	}
	setString(m, "sku", p.SKU)
	setString(m, "product_name", p.ProductName)
	setString(m, "description", p.Description)
	setString(m, "brand", p.Brand)
	setString(m, "category", p.Category)
	setString(m, "image_url", p.ImageURL)
	setString(m, "channel_id", p.ChannelID)
	if p.Price != nil {
		m["price"] = *p.Price
	}
	if p.Completeness != nil {
		m["completeness"] = *p.Completeness
	}
	return m
}

func setString(m map[string]any, key string, v *string) {
	if v != nil {
		m[key] = *v
	}
}

// LastModified is encoded as epoch milliseconds, or as an RFC 3339 string
// when Text is set.
type LastModified struct {
	Time time.Time
	Text bool
}

const isoLayout = "2006-01-02T15:04:05.000Z07:00"

func (l LastModified) Value() any {
	if l.Text {
		return l.Time.UTC().Format(isoLayout)
	}
	return l.Time.UnixMilli()
}

func (l LastModified) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.Value())
}

func (l *LastModified) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch t := v.(type) {
	case float64:
		*l = LastModified{Time: time.UnixMilli(int64(t)).UTC()}
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return err
		}
		*l = LastModified{Time: parsed.UTC(), Text: true}
	default:
		return fmt.Errorf("unsupported last_modified %s", string(data))
	}
	return nil
}

// ParseModifiedDate parses inriver timestamps. inriver omits the zone and
// uses up to seven fractional digits; zoneless values are read as UTC.
func ParseModifiedDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// FromSummary transforms an entities:fetchdata element.
func FromSummary(data inriver.EntityData, channelID string) Payload {
	return FromEntitySummary(data.Summary, channelID)
}

func FromEntitySummary(summary inriver.EntitySummary, channelID string) Payload {
	id := strconv.FormatInt(summary.ID, 10)

	lastModified, ok := ParseModifiedDate(summary.ModifiedDate)
	if !ok {
		lastModified = now()
	}

	name := summary.DisplayName
	if name == "" {
		name = "Product " + id
	}

	p := Payload{
		ProductID:    id,
		EntityType:   summary.EntityTypeID,
		SKU:          strPtr(id),
		ProductName:  strPtr(name),
		LastModified: LastModified{Time: lastModified},
	}

	if strings.TrimSpace(summary.DisplayDescription) != "" {
		p.Description = strPtr(summary.DisplayDescription)
	}
	if summary.ResourceURL != nil && *summary.ResourceURL != "" {
		p.ImageURL = strPtr(*summary.ResourceURL)
	}
	if channelID != "" {
		p.ChannelID = strPtr(channelID)
	}
	if summary.Completeness != nil {
		c := *summary.Completeness
		p.Completeness = &c
	}
	return p
}

// Mapping lists, per destination field, the field type ids tried in order.
type Mapping struct {
	SKU         []string `yaml:"sku"`
	Name        []string `yaml:"name"`
	Description []string `yaml:"description"`
	Price       []string `yaml:"price"`
	Brand       []string `yaml:"brand"`
	Category    []string `yaml:"category"`

	// Locale restricts lookups to fields of one language. Empty matches any.
	Locale string `yaml:"locale"`
}

var DefaultMapping = Mapping{
	SKU:         []string{"ProductNumber", "SKU", "ItemNumber"},
	Name:        []string{"ProductName", "DisplayName", "Name"},
	Description: []string{"ProductDescription", "Description", "ShortDescription"},
	Price:       []string{"Price", "ListPrice"},
	Brand:       []string{"Brand", "Manufacturer"},
	Category:    []string{"Category", "ProductCategory"},
}

// WithDefaults fills empty chains from DefaultMapping.
func (m Mapping) WithDefaults() Mapping {
	if len(m.SKU) == 0 {
		m.SKU = DefaultMapping.SKU
	}
	if len(m.Name) == 0 {
		m.Name = DefaultMapping.Name
	}
	if len(m.Description) == 0 {
		m.Description = DefaultMapping.Description
	}
	if len(m.Price) == 0 {
		m.Price = DefaultMapping.Price
	}
	if len(m.Brand) == 0 {
		m.Brand = DefaultMapping.Brand
	}
	if len(m.Category) == 0 {
		m.Category = DefaultMapping.Category
	}
	return m
}

// FromEntity transforms a full entity record using DefaultMapping.
func FromEntity(entity *inriver.Entity, imageURL, channelID string) Payload {
	return DefaultMapping.FromEntity(entity, imageURL, channelID)
}

// FromEntity transforms a full entity record. Entities carry no
// authoritative modification time, so last_modified is the current time.
func (m Mapping) FromEntity(entity *inriver.Entity, imageURL, channelID string) Payload {
	p := Payload{
		ProductID:    strconv.FormatInt(entity.ID, 10),
		EntityType:   entity.EntityTypeID,
		SKU:          m.text(entity, m.SKU),
		ProductName:  m.text(entity, m.Name),
		Description:  m.text(entity, m.Description),
		Brand:        m.text(entity, m.Brand),
		Category:     m.text(entity, m.Category),
		LastModified: LastModified{Time: now(), Text: true},
	}

	if v, ok := FirstFieldValue(entity, m.Locale, m.Price...); ok {
		if n, ok := v.Number(); ok {
			p.Price = &n
		}
	}
	if imageURL != "" {
		p.ImageURL = strPtr(imageURL)
	}
	if channelID != "" {
		p.ChannelID = strPtr(channelID)
	}
	if entity.Completeness != nil {
		c := *entity.Completeness
		p.Completeness = &c
	}
	return p
}

func (m Mapping) text(entity *inriver.Entity, chain []string) *string {
	v, ok := FirstFieldValue(entity, m.Locale, chain...)
	if !ok {
		return nil
	}
	return strPtr(v.Text())
}

// ValidateEntity checks the fields required to build a payload.
func ValidateEntity(entity *inriver.Entity) error {
	if entity == nil || entity.ID <= 0 {
		return ErrMissingEntityID
	}
	return nil
}

func strPtr(s string) *string {
	return &s
}
