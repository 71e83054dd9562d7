// Package record holds the vocabulary shared by the portal client and the
// draft persistence service: record statuses, the collection form, and the
// field table that drives both diffing and server-side patch application.
package record

import (
	"strings"

	"wastedraft/internal/snapshot"
)

// Wire names of the tracked form fields.
const (
	FieldWasteOwner      = "waste_owner_id"
	FieldContractType    = "contract_type"
	FieldWasteSource     = "waste_source"
	FieldCollectionDate  = "collection_date"
	FieldStorageDate     = "storage_date"
	FieldCollectedVolume = "collected_volume_kg"
	FieldRecycledVolume  = "recycled_volume_kg"
	FieldStorageLocation = "storage_location"
	FieldVehiclePlate    = "vehicle_plate"
	FieldAddressLine     = "address_line"
	FieldWard            = "ward"
	FieldDistrict        = "district"
	FieldProvince        = "province"
	FieldLatitude        = "latitude"
	FieldLongitude       = "longitude"
)

// Location is a linked place, e.g. the storage or recycling facility.
type Location struct {
	PlaceID string `json:"place_id" yaml:"place_id"`
	Label   string `json:"label,omitempty" yaml:"label,omitempty"`
}

// ReferenceID implements snapshot.Referencer.
func (l *Location) ReferenceID() string {
	if l == nil {
		return ""
	}
	return l.PlaceID
}

// Form is the set of scalar values a user edits across the record steps
// (waste source, collection details, storage/recycling). Dates are kept in
// snapshot.DateLayout.
type Form struct {
	WasteOwnerID      string    `json:"waste_owner_id" yaml:"waste_owner_id"`
	ContractType      string    `json:"contract_type" yaml:"contract_type"`
	WasteSource       string    `json:"waste_source" yaml:"waste_source"`
	CollectionDate    string    `json:"collection_date" yaml:"collection_date"`
	StorageDate       string    `json:"storage_date" yaml:"storage_date"`
	CollectedVolumeKg *float64  `json:"collected_volume_kg" yaml:"collected_volume_kg"`
	RecycledVolumeKg  *float64  `json:"recycled_volume_kg" yaml:"recycled_volume_kg"`
	StorageLocation   *Location `json:"storage_location" yaml:"storage_location"`
	VehiclePlate      string    `json:"vehicle_plate" yaml:"vehicle_plate"`
	AddressLine       string    `json:"address_line" yaml:"address_line"`
	Ward              string    `json:"ward" yaml:"ward"`
	District          string    `json:"district" yaml:"district"`
	Province          string    `json:"province" yaml:"province"`
	Latitude          *float64  `json:"latitude" yaml:"latitude"`
	Longitude         *float64  `json:"longitude" yaml:"longitude"`
}

// HasVehiclePlate reports whether the plate holds anything but whitespace.
func (f Form) HasVehiclePlate() bool {
	return strings.TrimSpace(f.VehiclePlate) != ""
}

// FormRules is the normalization table used to diff two forms.
var FormRules = buildRules()

// FullPayload returns every tracked field of f.
func FullPayload(f Form) snapshot.Patch {
	return snapshot.Full(f, FormRules)
}

// Diff returns the partial payload that turns original into current.
func Diff(original, current Form) snapshot.Patch {
	return snapshot.Diff(original, current, FormRules)
}

func buildRules() []snapshot.Rule[Form] {
	rules := make([]snapshot.Rule[Form], 0, len(fields))
	for _, def := range fields {
		rules = append(rules, snapshot.Rule[Form]{Field: def.name, Kind: def.kind, Value: def.get})
	}
	return rules
}
