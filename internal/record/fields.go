package record

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"wastedraft/internal/snapshot"
)

// ErrInvalidField reports an unknown field or a value of the wrong shape in
// an incoming patch.
var ErrInvalidField = errors.New("record: invalid field")

type fieldDef struct {
	name    string
	kind    snapshot.Kind
	columns []string
	get     func(Form) any
	set     func(*Form, any) error
	values  func(Form) []any
}

var fields = []fieldDef{
	textField(FieldWasteOwner, "waste_owner_id", func(f *Form) *string { return &f.WasteOwnerID }),
	textField(FieldContractType, "contract_type", func(f *Form) *string { return &f.ContractType }),
	textField(FieldWasteSource, "waste_source", func(f *Form) *string { return &f.WasteSource }),
	dateField(FieldCollectionDate, "collection_date", func(f *Form) *string { return &f.CollectionDate }),
	dateField(FieldStorageDate, "storage_date", func(f *Form) *string { return &f.StorageDate }),
	numberField(FieldCollectedVolume, "collected_volume_kg", func(f *Form) **float64 { return &f.CollectedVolumeKg }),
	numberField(FieldRecycledVolume, "recycled_volume_kg", func(f *Form) **float64 { return &f.RecycledVolumeKg }),
	{
		name:    FieldStorageLocation,
		kind:    snapshot.Reference,
		columns: []string{"storage_location_id", "storage_location_label"},
		get:     func(f Form) any { return f.StorageLocation },
		set: func(f *Form, v any) error {
			loc, err := asLocation(v)
			if err != nil {
				return err
			}
			f.StorageLocation = loc
			return nil
		},
		values: func(f Form) []any {
			if f.StorageLocation == nil || strings.TrimSpace(f.StorageLocation.PlaceID) == "" {
				return []any{nil, nil}
			}
			return []any{f.StorageLocation.PlaceID, nullableText(f.StorageLocation.Label)}
		},
	},
	textField(FieldVehiclePlate, "vehicle_plate", func(f *Form) *string { return &f.VehiclePlate }),
	textField(FieldAddressLine, "address_line", func(f *Form) *string { return &f.AddressLine }),
	textField(FieldWard, "ward", func(f *Form) *string { return &f.Ward }),
	textField(FieldDistrict, "district", func(f *Form) *string { return &f.District }),
	textField(FieldProvince, "province", func(f *Form) *string { return &f.Province }),
	numberField(FieldLatitude, "latitude", func(f *Form) **float64 { return &f.Latitude }),
	numberField(FieldLongitude, "longitude", func(f *Form) **float64 { return &f.Longitude }),
}

var fieldIndex = func() map[string]fieldDef {
	idx := make(map[string]fieldDef, len(fields))
	for _, def := range fields {
		idx[def.name] = def
	}
	return idx
}()

// ApplyPatch writes the patch onto f and returns the fields it touched, in
// table order. Unknown fields and ill-typed values fail the whole patch and
// leave f unchanged.
func ApplyPatch(f *Form, patch snapshot.Patch) ([]string, error) {
	next := *f
	for name, value := range patch {
		def, ok := fieldIndex[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown field %q", ErrInvalidField, name)
		}
		if err := def.set(&next, value); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidField, name, err)
		}
	}

	touched := make([]string, 0, len(patch))
	for _, def := range fields {
		if _, ok := patch[def.name]; ok {
			touched = append(touched, def.name)
		}
	}
	*f = next
	return touched, nil
}

// Columns returns the database columns and values backing the given fields.
// With no fields it returns every column.
func Columns(f Form, names ...string) ([]string, []any) {
	selected := fields
	if len(names) > 0 {
		want := make(map[string]struct{}, len(names))
		for _, n := range names {
			want[n] = struct{}{}
		}
		selected = make([]fieldDef, 0, len(names))
		for _, def := range fields {
			if _, ok := want[def.name]; ok {
				selected = append(selected, def)
			}
		}
	}

	var cols []string
	var vals []any
	for _, def := range selected {
		cols = append(cols, def.columns...)
		vals = append(vals, def.values(f)...)
	}
	return cols, vals
}

// FieldNames lists every tracked field, sorted.
func FieldNames() []string {
	out := make([]string, 0, len(fields))
	for _, def := range fields {
		out = append(out, def.name)
	}
	sort.Strings(out)
	return out
}

func textField(name, column string, ptr func(*Form) *string) fieldDef {
	return fieldDef{
		name:    name,
		kind:    snapshot.Text,
		columns: []string{column},
		get:     func(f Form) any { return *ptr(&f) },
		set: func(f *Form, v any) error {
			s, err := asText(v)
			if err != nil {
				return err
			}
			*ptr(f) = s
			return nil
		},
		values: func(f Form) []any { return []any{nullableText(*ptr(&f))} },
	}
}

func dateField(name, column string, ptr func(*Form) *string) fieldDef {
	return fieldDef{
		name:    name,
		kind:    snapshot.Date,
		columns: []string{column},
		get:     func(f Form) any { return *ptr(&f) },
		set: func(f *Form, v any) error {
			s, err := asText(v)
			if err != nil {
				return err
			}
			key, ok := snapshot.Key(snapshot.Date, s)
			if !ok {
				*ptr(f) = ""
				return nil
			}
			if _, err := time.Parse(snapshot.DateLayout, key); err != nil {
				return fmt.Errorf("expected date in %s form, got %q", snapshot.DateLayout, key)
			}
			*ptr(f) = key
			return nil
		},
		values: func(f Form) []any {
			ts, err := time.Parse(snapshot.DateLayout, strings.TrimSpace(*ptr(&f)))
			if err != nil {
				return []any{nil}
			}
			return []any{ts}
		},
	}
}

func numberField(name, column string, ptr func(*Form) **float64) fieldDef {
	return fieldDef{
		name:    name,
		kind:    snapshot.Number,
		columns: []string{column},
		get:     func(f Form) any { return *ptr(&f) },
		set: func(f *Form, v any) error {
			n, err := asNumber(v)
			if err != nil {
				return err
			}
			*ptr(f) = n
			return nil
		},
		values: func(f Form) []any {
			if p := *ptr(&f); p != nil {
				return []any{*p}
			}
			return []any{nil}
		},
	}
}

func asText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(t), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func asNumber(v any) (*float64, error) {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil, nil
	case float64:
		f = t
	case int:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil, err
		}
		f = parsed
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil, nil
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("expected number, got %q", t)
		}
		f = parsed
	default:
		return nil, fmt.Errorf("expected number, got %T", v)
	}
	return &f, nil
}

func asLocation(v any) (*Location, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case *Location:
		if t == nil || strings.TrimSpace(t.PlaceID) == "" {
			return nil, nil
		}
		loc := *t
		return &loc, nil
	case Location:
		return asLocation(&t)
	case string:
		if strings.TrimSpace(t) == "" {
			return nil, nil
		}
		return &Location{PlaceID: strings.TrimSpace(t)}, nil
	case map[string]any:
		id, _ := t["place_id"].(string)
		label, _ := t["label"].(string)
		if strings.TrimSpace(id) == "" {
			return nil, nil
		}
		return &Location{PlaceID: strings.TrimSpace(id), Label: strings.TrimSpace(label)}, nil
	default:
		return nil, fmt.Errorf("expected location object, got %T", v)
	}
}

func nullableText(s string) any {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return s
}
