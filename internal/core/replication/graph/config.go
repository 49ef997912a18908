package graph

import "github.com/zeusync/repgraph/internal/core/models"

// PrioritizationConstants weight the terms of the default priority score.
// Lower scores replicate first; the bonuses are subtracted.
type PrioritizationConstants struct {
	// MaxDistanceScaling is the squared distance at which the distance term saturates.
	MaxDistanceScaling        float64
	MaxFramesBeforeStarvation uint32

	PendingDormancyBonus float64
	ForceNetUpdateBonus  float64
	ViewerBonus          float64
}

func DefaultPrioritizationConstants() PrioritizationConstants {
	return PrioritizationConstants{
		MaxDistanceScaling:        10000 * 10000,
		MaxFramesBeforeStarvation: 60,
		PendingDormancyBonus:      1.5,
		ForceNetUpdateBonus:       1,
		ViewerBonus:               10,
	}
}

// Config is the engine configuration of a Driver.
type Config struct {
	// MaxBitsPerConnectionPerTick stops the default path for a connection once
	// reached. Zero means unlimited.
	MaxBitsPerConnectionPerTick int64
	// FastSharedBitsPerTick caps the fast shared path per connection. Zero
	// disables the path.
	FastSharedBitsPerTick int64
	// FastSharedCullDistPct is the fraction of the cull distance within which
	// an actor behind the viewer still gets fast shared updates.
	FastSharedCullDistPct float64

	Priority         PrioritizationConstants
	Grid             GridSettings
	Buckets          FrequencyBucketSettings
	DynamicFrequency DynamicFrequencySettings
	Dormancy         DormancySettings

	AlwaysRelevantClasses []models.ClassTag
}

func DefaultConfig() Config {
	return Config{
		MaxBitsPerConnectionPerTick: 64 * 1024,
		FastSharedBitsPerTick:       16 * 1024,
		FastSharedCullDistPct:       0.1,
		Priority:                    DefaultPrioritizationConstants(),
		Grid:                        DefaultGridSettings(),
		Buckets:                     DefaultFrequencyBucketSettings(),
		DynamicFrequency:            DefaultDynamicFrequencySettings(),
		Dormancy: DormancySettings{
			TrickleEnabled:     true,
			TrickleStartFrames: 30,
		},
	}
}
