package extract

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// GroupKey routes a tile to its campaign within a collection.
type GroupKey struct {
	CampaignID string
	Name       string
	DataType   string // free-form here; the builder maps it to the enum
	SurveyName string
	Zone       int
	Year       int
}

var (
	reZoneSegment = regexp.MustCompile(`^z(\d{2})$`)
	reYear        = regexp.MustCompile(`(19|20)\d{2}`)
)

// structural path segments that never name a campaign
var structuralSegments = map[string]bool{
	"elevation": true, "dem": true, "dsm": true, "lidar": true,
	"1m": true, "2m": true, "5m": true, "data": true, "raster": true,
	"geotiff": true, "tiff": true, "tif": true, "cog": true, "grid": true,
}

// GroupAU derives the AU grouping key: the UTM zone from a /zNN/ path
// segment, refined by a campaign name mined from the remaining
// segments. Year-bearing segments are preferred as the name.
func GroupAU(key string) GroupKey {
	segments := strings.Split(key, "/")
	zone := 0
	var nameSeg string
	var yearSeg string
	for i, seg := range segments {
		low := strings.ToLower(seg)
		if m := reZoneSegment.FindStringSubmatch(low); m != nil {
			zone, _ = strconv.Atoi(m[1])
			continue
		}
		if i == len(segments)-1 {
			continue // filename
		}
		if structuralSegments[low] || low == "" {
			continue
		}
		if reYear.MatchString(seg) && yearSeg == "" {
			yearSeg = seg
		}
		if nameSeg == "" {
			nameSeg = seg
		}
	}
	name := nameSeg
	if yearSeg != "" {
		name = yearSeg
	}
	if name == "" {
		name = "unsorted"
	}
	year := 0
	if m := reYear.FindString(name); m != "" {
		year, _ = strconv.Atoi(m)
	}
	slug := slugify(name)
	id := slug
	if zone > 0 {
		id = fmt.Sprintf("z%d_%s", zone, slug)
	}
	return GroupKey{CampaignID: id, Name: name, Zone: zone, Year: year, DataType: "DEM"}
}

// GroupNZ derives the NZ grouping key: the survey name is the second
// path segment, the data type the third (dem_1m / dsm_1m).
func GroupNZ(key string) GroupKey {
	segments := strings.Split(key, "/")
	survey := ""
	dtype := ""
	if len(segments) > 1 {
		survey = segments[1]
	}
	if len(segments) > 2 {
		dtype = strings.ToLower(segments[2])
	}
	if survey == "" {
		survey = "unsorted"
	}
	if dtype == "" {
		dtype = "dem_1m"
	}
	year := 0
	if m := reYear.FindString(survey); m != "" {
		year, _ = strconv.Atoi(m)
	}
	return GroupKey{
		CampaignID: slugify(survey) + "_" + slugify(dtype),
		Name:       survey,
		SurveyName: survey,
		DataType:   dtype,
		Year:       year,
	}
}

func slugify(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == ' ' || r == '.':
			b.WriteRune('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
