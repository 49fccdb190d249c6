// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/pdiddy/docudactyl/internal/container"
)

// Media reads container metadata of audio and video files with ffprobe.
// It extracts no text; transcription is a stage.
type Media struct {
	Tools container.HostTools
}

func (*Media) Name() string { return "ffprobe" }

type ffprobeOutput struct {
	Format struct {
		Duration string            `json:"duration"`
		Tags     map[string]string `json:"tags"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
	} `json:"streams"`
}

func (m *Media) Extract(ctx context.Context, in Input) (Extraction, error) {
	if m.Tools == nil || !m.Tools.Has("ffprobe") {
		return Extraction{}, fmt.Errorf("%w: ffprobe not installed", ErrUnsupported)
	}
	out, err := m.Tools.Output(ctx, "ffprobe", "-v", "quiet", "-print_format", "json", "-show_format", "-show_streams", in.Path)
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	var probe ffprobeOutput
	if err := json.Unmarshal(out, &probe); err != nil {
		return Extraction{}, fmt.Errorf("%w: ffprobe output: %v", ErrParse, err)
	}
	if len(probe.Streams) == 0 {
		return Extraction{}, fmt.Errorf("%w: %s has no streams", ErrParse, in.Path)
	}

	ex := Extraction{}
	ex.DurationSec, _ = strconv.ParseFloat(probe.Format.Duration, 64)
	for k, v := range probe.Format.Tags {
		switch strings.ToLower(k) {
		case "title":
			ex.Title = v
		case "artist", "author", "album_artist":
			if ex.Author == "" {
				ex.Author = v
			}
		}
	}
	return ex, nil
}

// Geo summarizes raster and vector geodata with the GDAL command line
// tools. Rasters go through gdalinfo; anything gdalinfo rejects is tried
// with ogrinfo.
type Geo struct {
	Tools container.HostTools
}

func (*Geo) Name() string { return "gdal" }

type gdalInfo struct {
	Description     string               `json:"description"`
	DriverShortName string               `json:"driverShortName"`
	Size            []int                `json:"size"`
	CornerCoords    map[string][]float64 `json:"cornerCoordinates"`
	WGS84Extent     struct {
		Coordinates [][][]float64 `json:"coordinates"`
	} `json:"wgs84Extent"`
	Metadata map[string]map[string]string `json:"metadata"`
}

var cornerOrder = []string{"upperLeft", "lowerLeft", "lowerRight", "upperRight"}

func (g *Geo) Extract(ctx context.Context, in Input) (Extraction, error) {
	if g.Tools == nil {
		return Extraction{}, fmt.Errorf("%w: no host tools", ErrUnsupported)
	}
	if g.Tools.Has("gdalinfo") {
		out, err := g.Tools.Output(ctx, "gdalinfo", "-json", in.Path)
		if err == nil {
			return raster(out)
		}
		if ctx.Err() != nil {
			return Extraction{}, ctx.Err()
		}
	}
	if g.Tools.Has("ogrinfo") {
		out, err := g.Tools.Output(ctx, "ogrinfo", "-ro", "-so", "-al", in.Path)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: %v", ErrParse, err)
		}
		return Extraction{Text: string(out), Pages: 1}, nil
	}
	return Extraction{}, fmt.Errorf("%w: gdal tools not installed", ErrUnsupported)
}

func raster(out []byte) (Extraction, error) {
	var info gdalInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return Extraction{}, fmt.Errorf("%w: gdalinfo output: %v", ErrParse, err)
	}
	ex := Extraction{Pages: 1}

	var text strings.Builder
	fmt.Fprintf(&text, "driver: %s\n", info.DriverShortName)
	if len(info.Size) == 2 {
		fmt.Fprintf(&text, "size: %d x %d\n", info.Size[0], info.Size[1])
	}
	for _, domain := range slices.Sorted(maps.Keys(info.Metadata)) {
		kv := info.Metadata[domain]
		for _, k := range slices.Sorted(maps.Keys(kv)) {
			v := kv[k]
			fmt.Fprintf(&text, "%s%s: %s\n", domainPrefix(domain), k, v)
			if strings.EqualFold(k, "TIFFTAG_DOCUMENTNAME") || strings.EqualFold(k, "TITLE") {
				ex.Title = v
			}
			if strings.EqualFold(k, "TIFFTAG_ARTIST") || strings.EqualFold(k, "AUTHOR") {
				ex.Author = v
			}
		}
	}
	ex.Text = text.String()

	if ring := info.WGS84Extent.Coordinates; len(ring) > 0 {
		for _, pt := range ring[0] {
			if len(pt) >= 2 {
				ex.Coordinates = append(ex.Coordinates, [2]float64{pt[0], pt[1]})
			}
		}
	} else {
		for _, k := range cornerOrder {
			if pt := info.CornerCoords[k]; len(pt) >= 2 {
				ex.Coordinates = append(ex.Coordinates, [2]float64{pt[0], pt[1]})
			}
		}
	}
	return ex, nil
}

func domainPrefix(domain string) string {
	if domain == "" {
		return ""
	}
	return domain + "."
}
