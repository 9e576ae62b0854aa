package sidecar

import (
	"context"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
)

// Resolver looks for metadata in one place. It returns nil, nil when its
// source doesn't apply to the unit or doesn't exist, and an error when the
// source exists but can't be read or parsed.
type Resolver struct {
	Source  Source
	Resolve func(unit Unit) (*Metadata, error)
}

// DefaultResolvers is the precedence order used by the scanner: a sidecar
// inside a folder, then one beside the unit, then (archives only) an embedded
// metadata.json, then an embedded ComicInfo.xml.
func DefaultResolvers() []Resolver {
	return []Resolver{
		{Source: SourceInside, Resolve: resolveInside},
		{Source: SourceBeside, Resolve: resolveBeside},
		{Source: SourceEmbeddedJSON, Resolve: resolveEmbeddedJSON},
		{Source: SourceComicInfo, Resolve: resolveComicInfo},
	}
}

// Resolve tries each resolver in order and returns the first metadata found.
// Sources are never merged. A source that fails to parse is logged and
// treated as absent, so the next resolver gets its turn.
func Resolve(ctx context.Context, unit Unit, resolvers []Resolver) (*Metadata, Source) {
	log := logger.FromContext(ctx)
	for _, r := range resolvers {
		m, err := r.Resolve(unit)
		if err != nil {
			log.Warn("unreadable metadata source", logger.Data{
				"path":   unit.Path,
				"source": string(r.Source),
				"error":  err.Error(),
			})
			continue
		}
		if m != nil {
			return m, r.Source
		}
	}
	return nil, SourceNone
}

func resolveInside(unit Unit) (*Metadata, error) {
	if unit.Archive {
		return nil, nil
	}
	return resolveFile(InsidePath(unit.Path))
}

func resolveBeside(unit Unit) (*Metadata, error) {
	return resolveFile(BesidePath(unit))
}

func resolveFile(path string) (*Metadata, error) {
	data, ok, err := readOptional(path)
	if err != nil || !ok {
		return nil, err
	}
	return ParseJSON(data)
}

func resolveEmbeddedJSON(unit Unit) (*Metadata, error) {
	return resolveEmbedded(unit, FileName, ParseJSON)
}

func resolveComicInfo(unit Unit) (*Metadata, error) {
	return resolveEmbedded(unit, ComicInfoName, ParseComicInfo)
}

func resolveEmbedded(unit Unit, name string, parse func([]byte) (*Metadata, error)) (*Metadata, error) {
	if !unit.Archive {
		return nil, nil
	}
	data, err := archive.ReadEntry(unit.Path, name)
	if errors.Is(err, archive.ErrEntryNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return parse(data)
}
