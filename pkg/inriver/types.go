package inriver

// Entity is a full entity record as returned by GET /entities/{id} and
// posted by inriver webhooks.
type Entity struct {
	ID           int64        `json:"id"`
	EntityTypeID string       `json:"entityTypeId"`
	FieldValues  []FieldValue `json:"fieldValues"`
	Completeness *int         `json:"completeness,omitempty"`
	SegmentID    *int         `json:"segmentId,omitempty"`
}

type FieldValue struct {
	FieldTypeID string `json:"fieldTypeId"`
	Value       Value  `json:"value"`
	Locale      string `json:"languageId,omitempty"`
}

// EntitySummary is the denormalized snapshot returned by entities:fetchdata.
type EntitySummary struct {
	ID                    int64   `json:"id"`
	DisplayName           string  `json:"displayName"`
	DisplayDescription    string  `json:"displayDescription"`
	Version               string  `json:"version"`
	LockedBy              *string `json:"lockedBy"`
	CreatedBy             string  `json:"createdBy"`
	CreatedDate           string  `json:"createdDate"`
	FormattedCreatedDate  string  `json:"formattedCreatedDate"`
	ModifiedBy            string  `json:"modifiedBy"`
	ModifiedDate          string  `json:"modifiedDate"`
	FormattedModifiedDate string  `json:"formattedModifiedDate"`
	ResourceID            *int64  `json:"resourceId"`
	ResourceURL           *string `json:"resourceUrl"`
	EntityTypeID          string  `json:"entityTypeId"`
	EntityTypeDisplayName string  `json:"entityTypeDisplayName"`
	Completeness          *int    `json:"completeness"`
	FieldSetID            *string `json:"fieldSetId"`
	FieldSetName          *string `json:"fieldSetName"`
	SegmentID             int     `json:"segmentId"`
	SegmentName           *string `json:"segmentName"`
}

// EntityData is one element of the entities:fetchdata response.
type EntityData struct {
	EntityID int64         `json:"entityId"`
	Summary  EntitySummary `json:"summary"`
}

type EntityListResponse struct {
	Count     int     `json:"count"`
	EntityIDs []int64 `json:"entityIds"`
}

type Channel struct {
	ID            int64    `json:"id"`
	DisplayName   string   `json:"displayName"`
	EntityTypeIDs []string `json:"entityTypeIds"`
}

type Link struct {
	ID             int64  `json:"id"`
	LinkTypeID     string `json:"linkTypeId"`
	SourceEntityID int64  `json:"sourceEntityId"`
	TargetEntityID int64  `json:"targetEntityId"`
	Index          int    `json:"index"`
	IsActive       bool   `json:"isActive"`
}

type fetchDataRequest struct {
	EntityIDs []int64 `json:"entityIds"`
	Objects   string  `json:"objects"`
}
