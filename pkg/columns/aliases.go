package columns

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Field is a logical input field, independent of how the input table names its column.
type Field string

const (
	BuildingID  Field = "buildingId"
	InternalID  Field = "internalId"
	Latitude    Field = "latitude"
	Longitude   Field = "longitude"
	Easting     Field = "easting"
	Northing    Field = "northing"
	Canton      Field = "canton"
	City        Field = "city"
	PostalCode  Field = "postalCode"
	Street      Field = "street"
	HouseNumber Field = "houseNumber"
)

// Fields lists every logical field in resolution order.
var Fields = []Field{
	BuildingID,
	InternalID,
	Latitude,
	Longitude,
	Easting,
	Northing,
	Canton,
	City,
	PostalCode,
	Street,
	HouseNumber,
}

// Required reports whether a run cannot start without f.
func (f Field) Required() bool {
	return f == BuildingID
}

// ParseField resolves a logical field name case-insensitively.
func ParseField(name string) (Field, bool) {
	name = strings.TrimSpace(name)
	for _, f := range Fields {
		if strings.EqualFold(string(f), name) {
			return f, true
		}
	}
	return "", false
}

// AliasTable lists candidate column names per field, highest priority first.
type AliasTable map[Field][]string

// DefaultAliases returns the built-in alias table.
func DefaultAliases() AliasTable {
	return AliasTable{
		BuildingID:  {"av_egid", "egid", "gwr_egid", "gebaeude_id", "building_id"},
		InternalID:  {"internal_id", "objekt_id", "object_id", "id", "wirtschaftseinheit"},
		Latitude:    {"latitude", "lat", "breite", "wgs84_lat"},
		Longitude:   {"longitude", "lon", "lng", "laenge", "wgs84_lon"},
		Easting:     {"e", "easting", "koord_e", "e_koordinate", "lv95_e", "gkode"},
		Northing:    {"n", "northing", "koord_n", "n_koordinate", "lv95_n", "gkodn"},
		Canton:      {"kanton", "canton", "kt", "gdekt"},
		City:        {"ort", "city", "gemeinde", "ortschaft", "municipality"},
		PostalCode:  {"plz", "postleitzahl", "postal_code", "zip"},
		Street:      {"strasse", "street", "strassenname"},
		HouseNumber: {"hausnummer", "hausnr", "house_number", "nr"},
	}
}

// Clone returns a deep copy of t.
func (t AliasTable) Clone() AliasTable {
	out := make(AliasTable, len(t))
	for f, aliases := range t {
		out[f] = append([]string(nil), aliases...)
	}
	return out
}

// aliasFile is the YAML layout accepted by LoadAliasFile.
//
// Example:
//
//	replace: false
//	aliases:
//	  buildingId: [objekt_egid]
//	  street: [strasse_name]
type aliasFile struct {
	Replace bool                `yaml:"replace"`
	Aliases map[string][]string `yaml:"aliases"`
}

// LoadAliasFile reads a YAML alias file and applies it on top of base.
//
// By default the file's aliases take priority over, and are prepended to, the base list
// for each field they name. With replace: true they substitute the base list instead.
func LoadAliasFile(path string, base AliasTable) (AliasTable, error) {
	b, err := os.ReadFile(strings.TrimSpace(path))
	if err != nil {
		return nil, fmt.Errorf("read alias file: %w", err)
	}
	return ParseAliasFile(b, base)
}

// ParseAliasFile is LoadAliasFile over an in-memory document.
func ParseAliasFile(doc []byte, base AliasTable) (AliasTable, error) {
	var raw aliasFile
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return nil, fmt.Errorf("parse alias file YAML: %w", err)
	}

	out := base.Clone()
	for name, aliases := range raw.Aliases {
		f, ok := ParseField(name)
		if !ok {
			return nil, fmt.Errorf("alias file names unknown field %q", name)
		}
		cleaned := make([]string, 0, len(aliases))
		for _, a := range aliases {
			if a = strings.TrimSpace(a); a != "" {
				cleaned = append(cleaned, a)
			}
		}
		if raw.Replace {
			out[f] = cleaned
			continue
		}
		out[f] = append(cleaned, out[f]...)
	}
	return out, nil
}
