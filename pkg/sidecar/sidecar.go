package sidecar

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"github.com/segmentio/encoding/json"
	"github.com/tankobon/tankobon/pkg/fileutils"
)

const (
	FileName      = "metadata.json"
	SidecarSuffix = ".metadata.json"
	ComicInfoName = "ComicInfo.xml"
)

// InsidePath returns the sidecar path inside a folder unit.
func InsidePath(dir string) string {
	return filepath.Join(dir, FileName)
}

// BesidePath returns the sidecar path next to a unit in its parent directory.
// Archives drop their extension: /a/Book.cbz uses /a/Book.metadata.json.
func BesidePath(unit Unit) string {
	name := filepath.Base(unit.Path)
	if unit.Archive {
		name = fileutils.NameWithoutExt(unit.Path)
	}
	return filepath.Join(filepath.Dir(unit.Path), name+SidecarSuffix)
}

// ParseJSON parses a metadata.json document. Anything that is not a JSON
// object is an error.
func ParseJSON(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, errors.WithStack(err)
	}
	normalize(&m)
	return &m, nil
}

type comicInfo struct {
	XMLName     xml.Name `xml:"ComicInfo"`
	Title       string   `xml:"Title"`
	Series      string   `xml:"Series"`
	Writer      string   `xml:"Writer"`
	Penciller   string   `xml:"Penciller"`
	Inker       string   `xml:"Inker"`
	CoverArtist string   `xml:"CoverArtist"`
	Characters  string   `xml:"Characters"`
	Teams       string   `xml:"Teams"`
	Genre       string   `xml:"Genre"`
	Tags        string   `xml:"Tags"`
	LanguageISO string   `xml:"LanguageISO"`
	Manga       string   `xml:"Manga"`
	Format      string   `xml:"Format"`
}

// ParseComicInfo maps an embedded ComicInfo.xml onto Metadata. Creator roles
// collapse into artists and teams into groups.
func ParseComicInfo(data []byte) (*Metadata, error) {
	var ci comicInfo
	if err := xml.Unmarshal(data, &ci); err != nil {
		return nil, errors.WithStack(err)
	}

	m := &Metadata{
		Title:    strings.TrimSpace(ci.Title),
		Language: strings.TrimSpace(ci.LanguageISO),
	}
	for _, creators := range []string{ci.Writer, ci.Penciller, ci.Inker, ci.CoverArtist} {
		m.Artists = append(m.Artists, fileutils.SplitNames(creators)...)
	}
	m.Groups = fileutils.SplitNames(ci.Teams)
	m.Characters = fileutils.SplitNames(ci.Characters)
	m.Tags = append(fileutils.SplitNames(ci.Tags), fileutils.SplitNames(ci.Genre)...)
	if series := strings.TrimSpace(ci.Series); series != "" {
		m.Series = []string{series}
	}

	switch strings.ToLower(ci.Manga) {
	case "yes", "yesandrighttoleft":
		m.Type = "manga"
	default:
		if format := strings.TrimSpace(ci.Format); format != "" {
			m.Type = strings.ToLower(format)
		}
	}

	normalize(m)
	return m, nil
}

func normalize(m *Metadata) {
	m.Title = strings.TrimSpace(m.Title)
	m.Artists = fileutils.UniqueNames(m.Artists)
	m.Groups = fileutils.UniqueNames(m.Groups)
	m.Characters = fileutils.UniqueNames(m.Characters)
	m.Tags = fileutils.UniqueNames(m.Tags)
	m.Series = fileutils.UniqueNames(m.Series)
}

// Write stores m as metadata.json inside dir, replacing any existing file.
func Write(dir string, m *Metadata) error {
	if m.Version == 0 {
		m.Version = CurrentVersion
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return errors.WithStack(err)
	}

	// Sidecar files should be readable by users and other applications
	return fileutils.WriteFileAtomic(InsidePath(dir), data, 0644)
}

func readOptional(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, errors.WithStack(err)
	}
	return data, true, nil
}
