package transform

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/turbolytics/pimsync/pkg/inriver"
)

func intPtr(i int) *int {
	return &i
}

func mockEntity() *inriver.Entity {
	return &inriver.Entity{
		ID:           12345,
		EntityTypeID: "Product",
		FieldValues: []inriver.FieldValue{
			{FieldTypeID: "ProductNumber", Value: inriver.StringValue("SKU-123")},
			{FieldTypeID: "ProductName", Value: inriver.StringValue("Test Product")},
			{FieldTypeID: "ProductDescription", Value: inriver.StringValue("A test product description")},
			{FieldTypeID: "Price", Value: inriver.NumberValue(99.99)},
			{FieldTypeID: "Brand", Value: inriver.StringValue("TestBrand")},
		},
		Completeness: intPtr(85),
	}
}

func mockEntityData() inriver.EntityData {
	return inriver.EntityData{
		EntityID: 12345,
		Summary: inriver.EntitySummary{
			ID:                 12345,
			DisplayName:        "Test Product",
			DisplayDescription: "Test description",
			Version:            "1",
			CreatedBy:          "test@example.com",
			CreatedDate:        "2023-06-28T09:31:00.0000000",
			ModifiedBy:         "test@example.com",
			ModifiedDate:       "2023-06-28T10:00:00",
			EntityTypeID:       "Product",
			Completeness:       intPtr(100),
		},
	}
}

func freezeNow(t *testing.T, at time.Time) {
	t.Helper()
	prev := now
	now = func() time.Time { return at }
	t.Cleanup(func() { now = prev })
}

func TestFieldValue(t *testing.T) {
	e := &inriver.Entity{
		ID: 1,
		FieldValues: []inriver.FieldValue{
			{FieldTypeID: "ProductNumber", Value: inriver.StringValue("SKU-123")},
			{FieldTypeID: "ProductName", Value: inriver.StringValue("Test Product")},
		},
	}

	v, ok := FieldValue(e, "ProductName", "")
	require.True(t, ok)
	assert.Equal(t, "Test Product", v.Text())

	_, ok = FieldValue(e, "NonExistent", "")
	assert.False(t, ok)

	_, ok = FieldValue(nil, "ProductName", "")
	assert.False(t, ok)
}

func TestFieldValue_Locale(t *testing.T) {
	e := &inriver.Entity{
		ID: 1,
		FieldValues: []inriver.FieldValue{
			{FieldTypeID: "ProductName", Value: inriver.StringValue("Chair"), Locale: "en"},
			{FieldTypeID: "ProductName", Value: inriver.StringValue("Stol"), Locale: "sv"},
		},
	}

	v, ok := FieldValue(e, "ProductName", "")
	require.True(t, ok)
	assert.Equal(t, "Chair", v.Text(), "no locale returns first match in list order")

	v, ok = FieldValue(e, "ProductName", "sv")
	require.True(t, ok)
	assert.Equal(t, "Stol", v.Text())

	_, ok = FieldValue(e, "ProductName", "de")
	assert.False(t, ok)
}

func TestFieldValue_FalsyIsAbsent(t *testing.T) {
	testCases := []struct {
		name  string
		value inriver.Value
	}{
		{"zero", inriver.NumberValue(0)},
		{"empty string", inriver.StringValue("")},
		{"false", inriver.BoolValue(false)},
		{"null", inriver.Value{}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e := &inriver.Entity{
				ID: 1,
				FieldValues: []inriver.FieldValue{
					{FieldTypeID: "Price", Value: tc.value},
					{FieldTypeID: "Price", Value: inriver.NumberValue(10)},
				},
			}
			_, ok := FieldValue(e, "Price", "")
			assert.False(t, ok, "first match is falsy so the field is absent")
		})
	}
}

func TestFromSummary(t *testing.T) {
	t.Run("transforms entity data", func(t *testing.T) {
		p := FromSummary(mockEntityData(), "")

		assert.Equal(t, "12345", p.ProductID)
		assert.Equal(t, "Product", p.EntityType)
		require.NotNil(t, p.SKU)
		assert.Equal(t, "12345", *p.SKU)
		require.NotNil(t, p.ProductName)
		assert.Equal(t, "Test Product", *p.ProductName)
		require.NotNil(t, p.Description)
		assert.Equal(t, "Test description", *p.Description)
		require.NotNil(t, p.Completeness)
		assert.Equal(t, 100, *p.Completeness)
		assert.Nil(t, p.ChannelID)
		assert.Nil(t, p.ImageURL)

		lm, ok := p.LastModified.Value().(int64)
		require.True(t, ok, "last_modified is an integer timestamp")
		assert.Greater(t, lm, int64(0))
		assert.Equal(t, time.Date(2023, 6, 28, 10, 0, 0, 0, time.UTC).UnixMilli(), lm)
	})

	t.Run("includes channel id", func(t *testing.T) {
		p := FromSummary(mockEntityData(), "6614")
		require.NotNil(t, p.ChannelID)
		assert.Equal(t, "6614", *p.ChannelID)
	})

	t.Run("defaults", func(t *testing.T) {
		at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
		freezeNow(t, at)

		d := mockEntityData()
		d.Summary.DisplayName = ""
		d.Summary.DisplayDescription = "   "
		d.Summary.ModifiedDate = "not a date"
		d.Summary.Completeness = nil

		p := FromSummary(d, "")
		assert.Equal(t, "Product 12345", *p.ProductName)
		assert.Nil(t, p.Description)
		assert.Nil(t, p.Completeness)
		assert.Equal(t, at.UnixMilli(), p.LastModified.Value())
	})

	t.Run("zero completeness is kept", func(t *testing.T) {
		d := mockEntityData()
		d.Summary.Completeness = intPtr(0)

		p := FromSummary(d, "")
		require.NotNil(t, p.Completeness)
		assert.Equal(t, 0, *p.Completeness)
	})

	t.Run("seven digit fraction and resource url", func(t *testing.T) {
		d := mockEntityData()
		d.Summary.ModifiedDate = "2023-06-28T10:00:00.0000000"
		u := "https://cdn.example.com/a.jpg"
		d.Summary.ResourceURL = &u

		p := FromSummary(d, "")
		assert.Equal(t, time.Date(2023, 6, 28, 10, 0, 0, 0, time.UTC).UnixMilli(), p.LastModified.Value())
		require.NotNil(t, p.ImageURL)
		assert.Equal(t, u, *p.ImageURL)
	})
}

func TestFromEntity(t *testing.T) {
	t.Run("transforms entity", func(t *testing.T) {
		at := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)
		freezeNow(t, at)

		p := FromEntity(mockEntity(), "", "")

		bs, err := json.Marshal(p)
		require.NoError(t, err)
		assert.JSONEq(t, `{
			"product_id": "12345",
			"entity_type": "Product",
			"sku": "SKU-123",
			"product_name": "Test Product",
			"description": "A test product description",
			"price": 99.99,
			"brand": "TestBrand",
			"completeness": 85,
			"last_modified": "2024-05-06T07:08:09.000Z"
		}`, string(bs))
	})

	t.Run("fallback chains", func(t *testing.T) {
		e := &inriver.Entity{
			ID:           7,
			EntityTypeID: "Item",
			FieldValues: []inriver.FieldValue{
				{FieldTypeID: "ItemNumber", Value: inriver.StringValue("ITEM-7")},
				{FieldTypeID: "SKU", Value: inriver.StringValue("")},
				{FieldTypeID: "Name", Value: inriver.StringValue("Fallback Name")},
				{FieldTypeID: "ShortDescription", Value: inriver.StringValue("short")},
				{FieldTypeID: "ListPrice", Value: inriver.StringValue("12.50")},
				{FieldTypeID: "Manufacturer", Value: inriver.StringValue("Acme")},
				{FieldTypeID: "ProductCategory", Value: inriver.StringValue("Chairs")},
			},
		}

		p := FromEntity(e, "https://cdn.example.com/7.jpg", "6614")
		assert.Equal(t, "ITEM-7", *p.SKU)
		assert.Equal(t, "Fallback Name", *p.ProductName)
		assert.Equal(t, "short", *p.Description)
		assert.Equal(t, 12.5, *p.Price)
		assert.Equal(t, "Acme", *p.Brand)
		assert.Equal(t, "Chairs", *p.Category)
		assert.Equal(t, "https://cdn.example.com/7.jpg", *p.ImageURL)
		assert.Equal(t, "6614", *p.ChannelID)
		assert.Nil(t, p.Completeness)
	})

	t.Run("absent fields are never written", func(t *testing.T) {
		p := FromEntity(&inriver.Entity{ID: 1, EntityTypeID: "Product"}, "", "")

		m := p.Map()
		assert.ElementsMatch(t, []string{"product_id", "entity_type", "last_modified"}, keys(m))
		for k, v := range m {
			assert.NotNil(t, v, k)
		}
	})

	t.Run("custom mapping", func(t *testing.T) {
		m := Mapping{SKU: []string{"EAN"}, Locale: "sv"}.WithDefaults()
		e := &inriver.Entity{
			ID: 3,
			FieldValues: []inriver.FieldValue{
				{FieldTypeID: "EAN", Value: inriver.StringValue("7300000000001"), Locale: "sv"},
				{FieldTypeID: "ProductName", Value: inriver.StringValue("Chair"), Locale: "en"},
				{FieldTypeID: "ProductName", Value: inriver.StringValue("Stol"), Locale: "sv"},
			},
		}

		p := m.FromEntity(e, "", "")
		assert.Equal(t, "7300000000001", *p.SKU)
		assert.Equal(t, "Stol", *p.ProductName)
	})
}

func TestValidateEntity(t *testing.T) {
	assert.ErrorIs(t, ValidateEntity(nil), ErrMissingEntityID)
	assert.ErrorIs(t, ValidateEntity(&inriver.Entity{}), ErrMissingEntityID)
	assert.NoError(t, ValidateEntity(mockEntity()))
}

func TestLastModified_RoundTrip(t *testing.T) {
	at := time.Date(2023, 6, 28, 10, 0, 0, 0, time.UTC)

	for _, text := range []bool{false, true} {
		in := LastModified{Time: at, Text: text}
		bs, err := json.Marshal(in)
		require.NoError(t, err)

		var out LastModified
		require.NoError(t, json.Unmarshal(bs, &out))
		assert.True(t, at.Equal(out.Time))
		assert.Equal(t, text, out.Text)
	}
}

func keys(m map[string]any) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
