package registry

import (
	"bytes"
	"dataset-registry/orm"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mohae/deepcopy"
)

// DatasetType is the only accepted value of the type key.
const DatasetType = "dataset"

// FlexTime is a timestamp that decodes from epoch seconds, given as a
// number or a numeric string, or from RFC 3339 text.
type FlexTime struct {
	time.Time
}

func NewFlexTime(t time.Time) FlexTime {
	return FlexTime{Time: t}
}

func (t *FlexTime) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if string(data) == "null" {
		t.Time = time.Time{}

		return nil
	}

	var seconds float64
	if err := json.Unmarshal(data, &seconds); err == nil {
		t.Time = fromEpoch(seconds)

		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return fmt.Errorf("timestamp must be a number or a string, got %s", data)
	}

	if seconds, err := strconv.ParseFloat(text, 64); err == nil {
		t.Time = fromEpoch(seconds)

		return nil
	}

	parsed, err := time.Parse(time.RFC3339Nano, text)
	if err != nil {
		return fmt.Errorf("timestamp %q is neither epoch seconds nor RFC 3339", text)
	}
	t.Time = parsed.UTC()

	return nil
}

func (t FlexTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}

	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func fromEpoch(seconds float64) time.Time {
	whole, frac := math.Modf(seconds)

	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*int64(time.Microsecond)).UTC()
}

// DatasetInfo is the payload of a dataset registration: admin metadata plus
// the descriptive metadata owned by the backends.
type DatasetInfo struct {
	UUID            string         `json:"uuid"             validate:"len=36"`
	BaseURI         string         `json:"base_uri"         validate:"required"`
	URI             string         `json:"uri"              validate:"required"`
	Name            string         `json:"name"             validate:"required"`
	Type            string         `json:"type"             validate:"eq=dataset"`
	Readme          string         `json:"readme"`
	Manifest        map[string]any `json:"manifest"`
	CreatorUsername string         `json:"creator_username" validate:"required"`
	FrozenAt        FlexTime       `json:"frozen_at"`
	CreatedAt       FlexTime       `json:"created_at"`
	Annotations     map[string]any `json:"annotations"`
	Tags            []string       `json:"tags"             validate:"dive,required"`
	NumberOfItems   *int64         `json:"number_of_items,omitempty"  validate:"omitempty,min=0"`
	SizeInBytes     *int64         `json:"size_in_bytes,omitempty"    validate:"omitempty,min=0"`
}

// requiredKeys must be present in a raw registration payload.
var requiredKeys = []string{
	"uuid",
	"base_uri",
	"uri",
	"name",
	"type",
	"readme",
	"manifest",
	"creator_username",
	"frozen_at",
	"annotations",
	"tags",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}

		return name
	})

	return v
}

// ParseDatasetInfo decodes a raw registration payload. Every missing key,
// undecodable value and invalid field is reported in one ValidationError.
func ParseDatasetInfo(data []byte) (*DatasetInfo, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, newValidationError("payload must be a JSON object: " + err.Error())
	}

	info := &DatasetInfo{}
	targets := []struct {
		key    string
		target any
	}{
		{"uuid", &info.UUID},
		{"base_uri", &info.BaseURI},
		{"uri", &info.URI},
		{"name", &info.Name},
		{"type", &info.Type},
		{"readme", &info.Readme},
		{"manifest", &info.Manifest},
		{"creator_username", &info.CreatorUsername},
		{"frozen_at", &info.FrozenAt},
		{"created_at", &info.CreatedAt},
		{"annotations", &info.Annotations},
		{"tags", &info.Tags},
		{"number_of_items", &info.NumberOfItems},
		{"size_in_bytes", &info.SizeInBytes},
	}

	var problems []string
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			problems = append(problems, "missing key "+key)
		}
	}

	for _, t := range targets {
		value, ok := raw[t.key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(value, t.target); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", t.key, err))
		}
	}

	info.Normalize()

	var verr *ValidationError
	if err := info.Validate(); errors.As(err, &verr) {
		problems = append(problems, verr.Problems...)
	}

	if len(problems) > 0 {
		return nil, newValidationError(problems...)
	}

	return info, nil
}

// Normalize fills in derived fields: created_at defaults to frozen_at and
// absent item counts and sizes are computed from the manifest items.
func (d *DatasetInfo) Normalize() {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = d.FrozenAt
	}

	items, ok := manifestItems(d.Manifest)
	if !ok {
		return
	}

	if d.NumberOfItems == nil {
		n := int64(len(items))
		d.NumberOfItems = &n
	}

	if d.SizeInBytes == nil {
		var total int64
		for _, item := range items {
			if fields, ok := item.(map[string]any); ok {
				total += toInt64(fields["size_in_bytes"])
			}
		}
		d.SizeInBytes = &total
	}
}

func manifestItems(manifest map[string]any) ([]any, bool) {
	switch items := manifest["items"].(type) {
	case map[string]any:
		out := make([]any, 0, len(items))
		for _, item := range items {
			out = append(out, item)
		}

		return out, true
	case []any:
		return items, true
	default:
		return nil, false
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case float64:
		return int64(n)
	case int64:
		return n
	case int:
		return int64(n)
	case json.Number:
		i, _ := n.Int64()

		return i
	default:
		return 0
	}
}

// Validate reports every invalid field. It does not check that the base URI
// is registered; that needs the index.
func (d *DatasetInfo) Validate() error {
	var problems []string

	if err := validate.Struct(d); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return newValidationError(err.Error())
		}
		for _, fe := range fieldErrs {
			problems = append(problems, describeFieldError(fe))
		}
	}

	if strings.HasSuffix(d.BaseURI, "/") {
		problems = append(problems, "base_uri must not end with a slash")
	}
	if d.BaseURI != "" && d.URI != "" && !strings.HasPrefix(d.URI, d.BaseURI+"/") {
		problems = append(problems, fmt.Sprintf("uri %q is not located under base_uri %q", d.URI, d.BaseURI))
	}
	if d.FrozenAt.IsZero() {
		problems = append(problems, "frozen_at is required")
	}

	if len(problems) > 0 {
		return newValidationError(problems...)
	}

	return nil
}

func describeFieldError(fe validator.FieldError) string {
	field := strings.TrimPrefix(fe.Namespace(), "DatasetInfo.")
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "len":
		return fmt.Sprintf("%s must be exactly %s characters", field, fe.Param())
	case "eq":
		return fmt.Sprintf("%s must be %q", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// Clone returns a deep copy so a backend can mutate its view of the payload
// without affecting other backends.
func (d *DatasetInfo) Clone() *DatasetInfo {
	cpy, ok := deepcopy.Copy(d).(*DatasetInfo)
	if !ok {
		return nil
	}

	return cpy
}

// Input is the index row written for this payload.
func (d *DatasetInfo) Input() orm.DatasetInput {
	return orm.DatasetInput{
		BaseURI:         d.BaseURI,
		URI:             d.URI,
		UUID:            d.UUID,
		Name:            d.Name,
		CreatorUsername: d.CreatorUsername,
		FrozenAt:        d.FrozenAt.Time,
		CreatedAt:       d.CreatedAt.Time,
		NumberOfItems:   d.NumberOfItems,
		SizeInBytes:     d.SizeInBytes,
	}
}

// Record is the admin metadata view of the payload.
func (d *DatasetInfo) Record() DatasetRecord {
	createdAt := d.CreatedAt.Time
	if createdAt.IsZero() {
		createdAt = d.FrozenAt.Time
	}

	return DatasetRecord{
		URI:             d.URI,
		BaseURI:         d.BaseURI,
		UUID:            d.UUID,
		Name:            d.Name,
		CreatorUsername: d.CreatorUsername,
		FrozenAt:        orm.NormalizeTime(d.FrozenAt.Time),
		CreatedAt:       orm.NormalizeTime(createdAt),
		NumberOfItems:   copyInt(d.NumberOfItems),
		SizeInBytes:     copyInt(d.SizeInBytes),
	}
}

// DatasetRecord is the admin metadata of one dataset as returned by listings
// and searches.
type DatasetRecord struct {
	URI             string    `json:"uri"`
	BaseURI         string    `json:"base_uri"`
	UUID            string    `json:"uuid"`
	Name            string    `json:"name"`
	CreatorUsername string    `json:"creator_username"`
	FrozenAt        time.Time `json:"frozen_at"`
	CreatedAt       time.Time `json:"created_at"`
	NumberOfItems   *int64    `json:"number_of_items"`
	SizeInBytes     *int64    `json:"size_in_bytes"`
}

// SortValue resolves a sort field for pagination.Sort.
func (r DatasetRecord) SortValue(field string) any {
	switch field {
	case "uri":
		return r.URI
	case "base_uri":
		return r.BaseURI
	case "uuid":
		return r.UUID
	case "name":
		return r.Name
	case "creator_username":
		return r.CreatorUsername
	case "frozen_at":
		return r.FrozenAt
	case "created_at":
		return r.CreatedAt
	case "number_of_items":
		return r.NumberOfItems
	case "size_in_bytes":
		return r.SizeInBytes
	default:
		return nil
	}
}

func recordFromRow(row orm.Dataset) DatasetRecord {
	return DatasetRecord{
		URI:             row.URI,
		BaseURI:         row.BaseURIString(),
		UUID:            row.UUID,
		Name:            row.Name,
		CreatorUsername: row.CreatorUsername,
		FrozenAt:        row.FrozenAt.UTC(),
		CreatedAt:       row.CreatedAt.UTC(),
		NumberOfItems:   row.NumberOfItems,
		SizeInBytes:     row.SizeInBytes,
	}
}

// URIRecord locates one instance of a dataset.
type URIRecord struct {
	URI     string `json:"uri"`
	BaseURI string `json:"base_uri"`
	UUID    string `json:"uuid"`
	Name    string `json:"name"`
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p

	return &v
}
