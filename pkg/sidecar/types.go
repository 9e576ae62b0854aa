package sidecar

// CurrentVersion is the current version of the metadata.json format.
const CurrentVersion = 1

// Metadata is everything a sidecar can say about a unit. Absent fields are
// left at their zero value; the scanner decides the defaults.
type Metadata struct {
	Version    int      `json:"version,omitempty"`
	Title      string   `json:"title,omitempty"`
	CatalogID  string   `json:"catalog_id,omitempty"`
	Type       string   `json:"type,omitempty"`
	Language   string   `json:"language,omitempty"`
	Artists    []string `json:"artists,omitempty"`
	Groups     []string `json:"groups,omitempty"`
	Characters []string `json:"characters,omitempty"`
	Tags       []string `json:"tags,omitempty"`
	Series     []string `json:"series,omitempty"`
}

// Unit identifies what is being resolved: a folder of pages or an archive.
type Unit struct {
	Path    string
	Archive bool
}

// Source names where a unit's metadata came from.
type Source string

const (
	SourceNone         Source = ""
	SourceInside       Source = "inside"
	SourceBeside       Source = "beside"
	SourceEmbeddedJSON Source = "embedded_json"
	SourceComicInfo    Source = "comic_info"
)
