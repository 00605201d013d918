package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateFileCost(t *testing.T) {
	tests := []struct {
		name          string
		contentType   string
		sizeBytes     int64
		tier          AccessTier
		expectedCost  int
		expectBlocked bool
		description   string
	}{
		{
			name:         "small jpeg for paid user",
			contentType:  "image/jpeg",
			sizeBytes:    2 * MB,
			tier:         TierPaid,
			expectedCost: 1,
			description:  "base cost, no size multiplier under 10MB",
		},
		{
			name:         "jpeg just over 10MB doubles",
			contentType:  "image/jpeg",
			sizeBytes:    10*MB + 1,
			tier:         TierPaid,
			expectedCost: 2,
			description:  "x2 multiplier above 10MB",
		},
		{
			name:         "raw file over 25MB triples",
			contentType:  "image/x-canon-cr2",
			sizeBytes:    30 * MB,
			tier:         TierEmailVerified,
			expectedCost: 6,
			description:  "2 base credits x3 multiplier",
		},
		{
			name:         "video over 50MB quadruples",
			contentType:  "video/mp4",
			sizeBytes:    51 * MB,
			tier:         TierPaid,
			expectedCost: 12,
			description:  "3 base credits x4 multiplier",
		},
		{
			name:         "exactly 10MB stays at base",
			contentType:  "image/png",
			sizeBytes:    10 * MB,
			tier:         TierPaid,
			expectedCost: 1,
			description:  "thresholds are strict greater-than",
		},
		{
			name:         "unknown type uses default entry",
			contentType:  "application/x-mystery",
			sizeBytes:    1 * MB,
			tier:         TierPaid,
			expectedCost: 2,
			description:  "default entry is 2 credits, medium compute",
		},
		{
			name:          "anonymous blocked from raw files",
			contentType:   "image/x-nikon-nef",
			sizeBytes:     5 * MB,
			tier:          TierAnonymous,
			expectedCost:  0,
			expectBlocked: true,
			description:   "blocked files are never partially charged",
		},
		{
			name:          "anonymous blocked from unknown types",
			contentType:   "application/x-mystery",
			sizeBytes:     1 * MB,
			tier:          TierAnonymous,
			expectedCost:  0,
			expectBlocked: true,
			description:   "default entry is not free-allowed",
		},
		{
			name:         "anonymous allowed for free types",
			contentType:  "image/jpeg",
			sizeBytes:    1 * MB,
			tier:         TierAnonymous,
			expectedCost: 1,
			description:  "freeAllowed entries price normally for anonymous",
		},
		{
			name:         "challenge verified unblocks paid types",
			contentType:  "audio/mpeg",
			sizeBytes:    1 * MB,
			tier:         TierChallengeVerified,
			expectedCost: 2,
			description:  "only anonymous is gated on freeAllowed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			verdict := CalculateFileCost(tt.contentType, tt.sizeBytes, tt.tier)
			assert.Equal(t, tt.expectedCost, verdict.TotalCost, tt.description)
			assert.Equal(t, tt.expectBlocked, verdict.Blocked, tt.description)
			if tt.expectBlocked {
				assert.Contains(t, verdict.Reason, "requires a paid account")
			} else {
				assert.Empty(t, verdict.Reason)
			}
		})
	}
}

func TestKnownTypesHavePositiveCost(t *testing.T) {
	for _, ct := range KnownContentTypes() {
		entry := LookupFileCost(ct)
		assert.Greater(t, entry.CreditCost, 0, "content type %s must cost at least one credit", ct)
		assert.NotEmpty(t, entry.Description, "content type %s needs a description", ct)
	}
}

func TestSizeMultiplierSteps(t *testing.T) {
	base := LookupFileCost("image/jpeg").CreditCost

	cases := map[int64]int{
		1 * MB:      1,
		10 * MB:     1,
		10*MB + 1:   2,
		25 * MB:     2,
		25*MB + 1:   3,
		50 * MB:     3,
		50*MB + 1:   4,
		500 * MB:    4,
	}
	for size, mult := range cases {
		verdict := CalculateFileCost("image/jpeg", size, TierPaid)
		assert.Equal(t, base*mult, verdict.TotalCost, "size %d bytes", size)
	}
}

func TestCalculateTotalCredits(t *testing.T) {
	files := []BatchFile{
		{Type: "image/jpeg", Size: 1 * MB},
		{Type: "image/x-canon-cr2", Size: 5 * MB},
		{Type: "audio/mpeg", Size: 3 * MB},
	}
	assert.Equal(t, 5, CalculateTotalCredits(files))

	assert.Equal(t, 0, CalculateTotalCredits(nil))
}
