package models

import "fmt"

//
// Compute levels (stored as plain strings in quote payloads)
//

type ComputeLevel string

const (
	ComputeLevelLow     ComputeLevel = "low"
	ComputeLevelMedium  ComputeLevel = "medium"
	ComputeLevelHigh    ComputeLevel = "high"
	ComputeLevelBlocked ComputeLevel = "blocked"
)

// FileCost is the static pricing entry for one content type. The table is
// immutable after process start.
type FileCost struct {
	CreditCost        int          `json:"creditCost"`
	ComputeLevel      ComputeLevel `json:"computeLevel"`
	FreeAllowed       bool         `json:"freeAllowed"`
	FreeMaxResolution int          `json:"freeMaxResolution"`
	Description       string       `json:"description"`
}

// CostVerdict is the per-request pricing result. Never persisted.
type CostVerdict struct {
	FileCost
	TotalCost int    `json:"totalCost"`
	Blocked   bool   `json:"blocked"`
	Reason    string `json:"reason,omitempty"`
}

const MB = 1024 * 1024

// defaultFileCost covers content types the table does not know about.
var defaultFileCost = FileCost{
	CreditCost:   2,
	ComputeLevel: ComputeLevelMedium,
	FreeAllowed:  false,
	Description:  "Unknown file type",
}

var fileCostTable = map[string]FileCost{
	"image/jpeg": {CreditCost: 1, ComputeLevel: ComputeLevelLow, FreeAllowed: true, FreeMaxResolution: 25, Description: "JPEG image"},
	"image/png":  {CreditCost: 1, ComputeLevel: ComputeLevelLow, FreeAllowed: true, FreeMaxResolution: 25, Description: "PNG image"},
	"image/webp": {CreditCost: 1, ComputeLevel: ComputeLevelLow, FreeAllowed: true, FreeMaxResolution: 25, Description: "WebP image"},
	"image/gif":  {CreditCost: 1, ComputeLevel: ComputeLevelLow, FreeAllowed: true, FreeMaxResolution: 10, Description: "GIF image"},
	"image/heic": {CreditCost: 1, ComputeLevel: ComputeLevelMedium, FreeAllowed: true, FreeMaxResolution: 25, Description: "HEIC image"},
	"image/tiff": {CreditCost: 2, ComputeLevel: ComputeLevelMedium, FreeAllowed: false, Description: "TIFF image"},

	"image/x-canon-cr2":  {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},
	"image/x-canon-cr3":  {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},
	"image/x-nikon-nef":  {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},
	"image/x-sony-arw":   {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},
	"image/x-adobe-dng":  {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},
	"image/x-fuji-raf":   {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},
	"image/x-panasonic-rw2": {CreditCost: 2, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "Camera RAW file"},

	"application/pdf":       {CreditCost: 2, ComputeLevel: ComputeLevelMedium, FreeAllowed: false, Description: "PDF document"},
	"application/dicom":     {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "DICOM medical image"},
	"application/fits":      {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "FITS astronomy image"},
	"application/x-hdf5":    {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "HDF5 dataset"},
	"application/x-netcdf":  {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "NetCDF dataset"},

	"audio/mpeg": {CreditCost: 2, ComputeLevel: ComputeLevelMedium, FreeAllowed: false, Description: "MP3 audio"},
	"audio/wav":  {CreditCost: 2, ComputeLevel: ComputeLevelMedium, FreeAllowed: false, Description: "WAV audio"},
	"audio/flac": {CreditCost: 2, ComputeLevel: ComputeLevelMedium, FreeAllowed: false, Description: "FLAC audio"},

	"video/mp4":       {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "MP4 video"},
	"video/quicktime": {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "QuickTime video"},
	"video/x-msvideo": {CreditCost: 3, ComputeLevel: ComputeLevelHigh, FreeAllowed: false, Description: "AVI video"},
}

// LookupFileCost resolves the pricing entry for a content type, falling back
// to the default entry for unknown types.
func LookupFileCost(contentType string) FileCost {
	if entry, ok := fileCostTable[contentType]; ok {
		return entry
	}
	return defaultFileCost
}

// KnownContentTypes returns every content type the cost table prices
// explicitly. Used to populate quote limits.
func KnownContentTypes() []string {
	types := make([]string, 0, len(fileCostTable))
	for ct := range fileCostTable {
		types = append(types, ct)
	}
	return types
}

// sizeMultiplier is a step function on byte size, not a continuous scale.
func sizeMultiplier(sizeBytes int64) int {
	switch {
	case sizeBytes > 50*MB:
		return 4
	case sizeBytes > 25*MB:
		return 3
	case sizeBytes > 10*MB:
		return 2
	default:
		return 1
	}
}

// CalculateFileCost prices one file for one caller. Pure function of its
// three inputs; safe for concurrent use.
func CalculateFileCost(contentType string, sizeBytes int64, tier AccessTier) CostVerdict {
	entry := LookupFileCost(contentType)

	if tier == TierAnonymous && !entry.FreeAllowed {
		// Blocked files are never partially charged.
		return CostVerdict{
			FileCost:  entry,
			TotalCost: 0,
			Blocked:   true,
			Reason:    fmt.Sprintf("%s requires a paid account", entry.Description),
		}
	}

	return CostVerdict{
		FileCost:  entry,
		TotalCost: entry.CreditCost * sizeMultiplier(sizeBytes),
		Blocked:   false,
	}
}

// BatchFile is the minimal shape CalculateTotalCredits needs.
type BatchFile struct {
	Type string
	Size int64
}

// CalculateTotalCredits sums the tier-independent cost of a batch. Whether
// blocked files should count is the caller's decision; this sum prices every
// file as if it were allowed.
func CalculateTotalCredits(files []BatchFile) int {
	total := 0
	for _, f := range files {
		entry := LookupFileCost(f.Type)
		total += entry.CreditCost * sizeMultiplier(f.Size)
	}
	return total
}
