package transform

import "github.com/turbolytics/pimsync/pkg/inriver"

// FieldValue returns the value of the first field matching fieldTypeID and,
// when locale is not empty, the field's locale.
//
// A matched value that is falsy (null, "", 0, false) is reported as absent,
// so a legitimate zero is indistinguishable from a missing field.
func FieldValue(entity *inriver.Entity, fieldTypeID, locale string) (inriver.Value, bool) {
	if entity == nil {
		return inriver.Value{}, false
	}
	for _, f := range entity.FieldValues {
		if f.FieldTypeID != fieldTypeID {
			continue
		}
		if locale != "" && f.Locale != locale {
			continue
		}
		if f.Value.IsZero() {
			return inriver.Value{}, false
		}
		return f.Value, true
	}
	return inriver.Value{}, false
}

// FirstFieldValue walks an alias chain and returns the first present value.
func FirstFieldValue(entity *inriver.Entity, locale string, fieldTypeIDs ...string) (inriver.Value, bool) {
	for _, id := range fieldTypeIDs {
		if v, ok := FieldValue(entity, id, locale); ok {
			return v, true
		}
	}
	return inriver.Value{}, false
}
