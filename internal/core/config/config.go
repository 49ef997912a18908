package config

import (
	"fmt"
	"time"

	"github.com/zeusync/repgraph/internal/core/models"
	"github.com/zeusync/repgraph/internal/core/replication/graph"
	"github.com/zeusync/repgraph/internal/core/replication/info"
)

// Config is the file configuration of the replication server.
type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server" toml:"server"`
	Replication ReplicationConfig `json:"replication" yaml:"replication" toml:"replication"`
	Classes     []ClassConfig     `json:"classes" yaml:"classes" toml:"classes"`
	Props       []PropConfig      `json:"props,omitempty" yaml:"props,omitempty" toml:"props,omitempty"`
}

type ServerConfig struct {
	ListenAddr string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`
	// TickRate is the number of replication frames per second.
	TickRate   int    `json:"tick_rate" yaml:"tick_rate" toml:"tick_rate"`
	LogLevel   string `json:"log_level" yaml:"log_level" toml:"log_level"`
	JournalDir string `json:"journal_dir,omitempty" yaml:"journal_dir,omitempty" toml:"journal_dir,omitempty"`
	MaxClients int    `json:"max_clients" yaml:"max_clients" toml:"max_clients"`
	// PawnClass is the class of the actor spawned for every client.
	PawnClass string `json:"pawn_class" yaml:"pawn_class" toml:"pawn_class"`
}

type ReplicationConfig struct {
	MaxBitsPerConnectionPerTick int64   `json:"max_bits_per_connection_per_tick" yaml:"max_bits_per_connection_per_tick" toml:"max_bits_per_connection_per_tick"`
	FastSharedBitsPerTick       int64   `json:"fast_shared_bits_per_tick" yaml:"fast_shared_bits_per_tick" toml:"fast_shared_bits_per_tick"`
	FastSharedCullDistPct       float64 `json:"fast_shared_cull_dist_pct" yaml:"fast_shared_cull_dist_pct" toml:"fast_shared_cull_dist_pct"`

	Priority         PriorityConfig         `json:"priority" yaml:"priority" toml:"priority"`
	Grid             GridConfig             `json:"grid" yaml:"grid" toml:"grid"`
	Buckets          BucketConfig           `json:"buckets" yaml:"buckets" toml:"buckets"`
	DynamicFrequency DynamicFrequencyConfig `json:"dynamic_frequency" yaml:"dynamic_frequency" toml:"dynamic_frequency"`
	Dormancy         DormancyConfig         `json:"dormancy" yaml:"dormancy" toml:"dormancy"`

	AlwaysRelevantClasses []string `json:"always_relevant_classes,omitempty" yaml:"always_relevant_classes,omitempty" toml:"always_relevant_classes,omitempty"`
}

type PriorityConfig struct {
	MaxDistanceScaling        float64 `json:"max_distance_scaling" yaml:"max_distance_scaling" toml:"max_distance_scaling"`
	MaxFramesBeforeStarvation uint32  `json:"max_frames_before_starvation" yaml:"max_frames_before_starvation" toml:"max_frames_before_starvation"`
	PendingDormancyBonus      float64 `json:"pending_dormancy_bonus" yaml:"pending_dormancy_bonus" toml:"pending_dormancy_bonus"`
	ForceNetUpdateBonus       float64 `json:"force_net_update_bonus" yaml:"force_net_update_bonus" toml:"force_net_update_bonus"`
	ViewerBonus               float64 `json:"viewer_bonus" yaml:"viewer_bonus" toml:"viewer_bonus"`
}

type BoundsConfig struct {
	MinX float64 `json:"min_x" yaml:"min_x" toml:"min_x"`
	MinY float64 `json:"min_y" yaml:"min_y" toml:"min_y"`
	MaxX float64 `json:"max_x" yaml:"max_x" toml:"max_x"`
	MaxY float64 `json:"max_y" yaml:"max_y" toml:"max_y"`
}

type GridConfig struct {
	CellSize                    float64       `json:"cell_size" yaml:"cell_size" toml:"cell_size"`
	SpatialBiasX                float64       `json:"spatial_bias_x" yaml:"spatial_bias_x" toml:"spatial_bias_x"`
	SpatialBiasY                float64       `json:"spatial_bias_y" yaml:"spatial_bias_y" toml:"spatial_bias_y"`
	Bounds                      *BoundsConfig `json:"bounds,omitempty" yaml:"bounds,omitempty" toml:"bounds,omitempty"`
	RebuildDenyList             []string      `json:"rebuild_deny_list,omitempty" yaml:"rebuild_deny_list,omitempty" toml:"rebuild_deny_list,omitempty"`
	DestroyDormantDynamicActors bool          `json:"destroy_dormant_dynamic_actors" yaml:"destroy_dormant_dynamic_actors" toml:"destroy_dormant_dynamic_actors"`
	CellTTLFrames               uint32        `json:"cell_ttl_frames" yaml:"cell_ttl_frames" toml:"cell_ttl_frames"`
	DynamicBuckets              BucketConfig  `json:"dynamic_buckets" yaml:"dynamic_buckets" toml:"dynamic_buckets"`
}

type ThresholdConfig struct {
	MaxActors  int `json:"max_actors" yaml:"max_actors" toml:"max_actors"`
	NumBuckets int `json:"num_buckets" yaml:"num_buckets" toml:"num_buckets"`
}

type BucketConfig struct {
	NumBuckets          int               `json:"num_buckets" yaml:"num_buckets" toml:"num_buckets"`
	ListSize            int               `json:"list_size" yaml:"list_size" toml:"list_size"`
	EnableFastPath      bool              `json:"enable_fast_path" yaml:"enable_fast_path" toml:"enable_fast_path"`
	FastPathFrameModulo uint32            `json:"fast_path_frame_modulo" yaml:"fast_path_frame_modulo" toml:"fast_path_frame_modulo"`
	Thresholds          []ThresholdConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty" toml:"thresholds,omitempty"`
}

type ZoneConfig struct {
	MinDotProduct        float64 `json:"min_dot_product" yaml:"min_dot_product" toml:"min_dot_product"`
	MinDistPct           float64 `json:"min_dist_pct" yaml:"min_dist_pct" toml:"min_dist_pct"`
	MaxDistPct           float64 `json:"max_dist_pct" yaml:"max_dist_pct" toml:"max_dist_pct"`
	MinRepPeriod         uint32  `json:"min_rep_period" yaml:"min_rep_period" toml:"min_rep_period"`
	MaxRepPeriod         uint32  `json:"max_rep_period" yaml:"max_rep_period" toml:"max_rep_period"`
	FastPathMinRepPeriod uint32  `json:"fast_path_min_rep_period" yaml:"fast_path_min_rep_period" toml:"fast_path_min_rep_period"`
	FastPathMaxRepPeriod uint32  `json:"fast_path_max_rep_period" yaml:"fast_path_max_rep_period" toml:"fast_path_max_rep_period"`
}

type DynamicFrequencyConfig struct {
	Zones            []ZoneConfig `json:"zones,omitempty" yaml:"zones,omitempty" toml:"zones,omitempty"`
	MaxNearestActors int          `json:"max_nearest_actors" yaml:"max_nearest_actors" toml:"max_nearest_actors"`
	EnableFastPath   bool         `json:"enable_fast_path" yaml:"enable_fast_path" toml:"enable_fast_path"`
}

type DormancyConfig struct {
	TrickleEnabled     bool   `json:"trickle_enabled" yaml:"trickle_enabled" toml:"trickle_enabled"`
	TrickleStartFrames uint32 `json:"trickle_start_frames" yaml:"trickle_start_frames" toml:"trickle_start_frames"`
}

// ClassConfig is the replication policy of one actor class.
type ClassConfig struct {
	Name                           string  `json:"name" yaml:"name" toml:"name"`
	Route                          string  `json:"route" yaml:"route" toml:"route"`
	ReplicationPeriodFrame         uint32  `json:"replication_period_frame" yaml:"replication_period_frame" toml:"replication_period_frame"`
	FastPathReplicationPeriodFrame uint32  `json:"fast_path_replication_period_frame" yaml:"fast_path_replication_period_frame" toml:"fast_path_replication_period_frame"`
	CullDistance                   float64 `json:"cull_distance" yaml:"cull_distance" toml:"cull_distance"`
	DistancePriorityScale          float64 `json:"distance_priority_scale" yaml:"distance_priority_scale" toml:"distance_priority_scale"`
	StarvationPriorityScale        float64 `json:"starvation_priority_scale" yaml:"starvation_priority_scale" toml:"starvation_priority_scale"`
	ChannelTimeoutFrames           uint32  `json:"channel_timeout_frames" yaml:"channel_timeout_frames" toml:"channel_timeout_frames"`
	// FastShared enables the shared payload path for the class.
	FastShared bool `json:"fast_shared,omitempty" yaml:"fast_shared,omitempty" toml:"fast_shared,omitempty"`
}

// PropConfig is a server owned actor spawned at startup.
type PropConfig struct {
	Class   string  `json:"class" yaml:"class" toml:"class"`
	X       float64 `json:"x" yaml:"x" toml:"x"`
	Y       float64 `json:"y" yaml:"y" toml:"y"`
	Z       float64 `json:"z,omitempty" yaml:"z,omitempty" toml:"z,omitempty"`
	Dormant bool    `json:"dormant,omitempty" yaml:"dormant,omitempty" toml:"dormant,omitempty"`
	Level   string  `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
}

// Default returns a configuration that runs a small arena out of the box.
func Default() Config {
	g := graph.DefaultConfig()
	return Config{
		Server: ServerConfig{
			ListenAddr: ":8080",
			TickRate:   30,
			LogLevel:   "info",
			MaxClients: 64,
			PawnClass:  "pawn",
		},
		Replication: ReplicationConfig{
			MaxBitsPerConnectionPerTick: g.MaxBitsPerConnectionPerTick,
			FastSharedBitsPerTick:       g.FastSharedBitsPerTick,
			FastSharedCullDistPct:       g.FastSharedCullDistPct,
			Priority: PriorityConfig{
				MaxDistanceScaling:        g.Priority.MaxDistanceScaling,
				MaxFramesBeforeStarvation: g.Priority.MaxFramesBeforeStarvation,
				PendingDormancyBonus:      g.Priority.PendingDormancyBonus,
				ForceNetUpdateBonus:       g.Priority.ForceNetUpdateBonus,
				ViewerBonus:               g.Priority.ViewerBonus,
			},
			Grid: GridConfig{
				CellSize:       g.Grid.CellSize,
				SpatialBiasX:   g.Grid.SpatialBiasX,
				SpatialBiasY:   g.Grid.SpatialBiasY,
				CellTTLFrames:  g.Grid.CellTTLFrames,
				DynamicBuckets: bucketConfig(g.Grid.DynamicBuckets),
			},
			Buckets: bucketConfig(g.Buckets),
			DynamicFrequency: DynamicFrequencyConfig{
				Zones: zoneConfigs(g.DynamicFrequency.Zones),
			},
			Dormancy: DormancyConfig{
				TrickleEnabled:     g.Dormancy.TrickleEnabled,
				TrickleStartFrames: g.Dormancy.TrickleStartFrames,
			},
		},
		Classes: []ClassConfig{
			{
				Name:                    "pawn",
				Route:                   info.RouteGridDynamic.String(),
				ReplicationPeriodFrame:  1,
				CullDistance:            15000,
				DistancePriorityScale:   1,
				StarvationPriorityScale: 1,
				ChannelTimeoutFrames:    4,
				FastShared:              true,
			},
		},
	}
}

func bucketConfig(b graph.FrequencyBucketSettings) BucketConfig {
	c := BucketConfig{
		NumBuckets:          b.NumBuckets,
		ListSize:            b.ListSize,
		EnableFastPath:      b.EnableFastPath,
		FastPathFrameModulo: b.FastPathFrameModulo,
	}
	for _, t := range b.BucketThresholds {
		c.Thresholds = append(c.Thresholds, ThresholdConfig{MaxActors: t.MaxActors, NumBuckets: t.NumBuckets})
	}
	return c
}

func (c BucketConfig) settings() graph.FrequencyBucketSettings {
	s := graph.FrequencyBucketSettings{
		NumBuckets:          c.NumBuckets,
		ListSize:            c.ListSize,
		EnableFastPath:      c.EnableFastPath,
		FastPathFrameModulo: c.FastPathFrameModulo,
	}
	for _, t := range c.Thresholds {
		s.BucketThresholds = append(s.BucketThresholds, graph.BucketThreshold{MaxActors: t.MaxActors, NumBuckets: t.NumBuckets})
	}
	return s
}

func zoneConfigs(zones []graph.SpatializationZone) []ZoneConfig {
	out := make([]ZoneConfig, 0, len(zones))
	for _, z := range zones {
		out = append(out, ZoneConfig(z))
	}
	return out
}

// TickInterval is the wall time between two replication frames.
func (c *Config) TickInterval() time.Duration {
	if c.Server.TickRate <= 0 {
		return time.Second / 30
	}
	return time.Second / time.Duration(c.Server.TickRate)
}

// Validate checks the values the engine cannot run with.
func (c *Config) Validate() error {
	if c.Server.TickRate <= 0 {
		return fmt.Errorf("%w: tick_rate must be positive", ErrInvalidConfig)
	}
	if c.Replication.Grid.CellSize <= 0 {
		return fmt.Errorf("%w: grid cell_size must be positive", ErrInvalidConfig)
	}
	if b := c.Replication.Grid.Bounds; b != nil && (b.MaxX <= b.MinX || b.MaxY <= b.MinY) {
		return fmt.Errorf("%w: grid bounds are empty", ErrInvalidConfig)
	}
	if pct := c.Replication.FastSharedCullDistPct; pct < 0 || pct > 1 {
		return fmt.Errorf("%w: fast_shared_cull_dist_pct must be within [0, 1]", ErrInvalidConfig)
	}
	seen := make(map[string]struct{}, len(c.Classes))
	for _, class := range c.Classes {
		if class.Name == "" {
			return fmt.Errorf("%w: class without name", ErrInvalidConfig)
		}
		if _, dup := seen[class.Name]; dup {
			return fmt.Errorf("%w: class %q declared twice", ErrInvalidConfig, class.Name)
		}
		seen[class.Name] = struct{}{}
		if _, err := info.ParseRoute(class.Route); err != nil {
			return fmt.Errorf("%w: class %q: %w", ErrInvalidConfig, class.Name, err)
		}
		if class.CullDistance < 0 {
			return fmt.Errorf("%w: class %q has a negative cull distance", ErrInvalidConfig, class.Name)
		}
	}
	if _, ok := seen[c.Server.PawnClass]; !ok {
		return fmt.Errorf("%w: pawn class %q is not declared", ErrInvalidConfig, c.Server.PawnClass)
	}
	for _, prop := range c.Props {
		if _, ok := seen[prop.Class]; !ok {
			return fmt.Errorf("%w: prop class %q is not declared", ErrInvalidConfig, prop.Class)
		}
	}
	for _, tag := range c.Replication.AlwaysRelevantClasses {
		if _, ok := seen[tag]; !ok {
			return fmt.Errorf("%w: always relevant class %q is not declared", ErrInvalidConfig, tag)
		}
	}
	return nil
}

// GraphConfig converts the replication section into engine settings.
func (c *Config) GraphConfig() graph.Config {
	r := c.Replication
	cfg := graph.Config{
		MaxBitsPerConnectionPerTick: r.MaxBitsPerConnectionPerTick,
		FastSharedBitsPerTick:       r.FastSharedBitsPerTick,
		FastSharedCullDistPct:       r.FastSharedCullDistPct,
		Priority: graph.PrioritizationConstants{
			MaxDistanceScaling:        r.Priority.MaxDistanceScaling,
			MaxFramesBeforeStarvation: r.Priority.MaxFramesBeforeStarvation,
			PendingDormancyBonus:      r.Priority.PendingDormancyBonus,
			ForceNetUpdateBonus:       r.Priority.ForceNetUpdateBonus,
			ViewerBonus:               r.Priority.ViewerBonus,
		},
		Grid: graph.GridSettings{
			CellSize:                    r.Grid.CellSize,
			SpatialBiasX:                r.Grid.SpatialBiasX,
			SpatialBiasY:                r.Grid.SpatialBiasY,
			DestroyDormantDynamicActors: r.Grid.DestroyDormantDynamicActors,
			CellTTLFrames:               r.Grid.CellTTLFrames,
			DynamicBuckets:              r.Grid.DynamicBuckets.settings(),
		},
		Buckets: r.Buckets.settings(),
		DynamicFrequency: graph.DynamicFrequencySettings{
			MaxNearestActors: r.DynamicFrequency.MaxNearestActors,
			EnableFastPath:   r.DynamicFrequency.EnableFastPath,
		},
		Dormancy: graph.DormancySettings{
			TrickleEnabled:     r.Dormancy.TrickleEnabled,
			TrickleStartFrames: r.Dormancy.TrickleStartFrames,
		},
	}
	if b := r.Grid.Bounds; b != nil {
		cfg.Grid.Bounds = &graph.GridBounds{MinX: b.MinX, MinY: b.MinY, MaxX: b.MaxX, MaxY: b.MaxY}
	}
	for _, tag := range r.Grid.RebuildDenyList {
		cfg.Grid.RebuildDenyList = append(cfg.Grid.RebuildDenyList, models.ClassTag(tag))
	}
	for _, z := range r.DynamicFrequency.Zones {
		cfg.DynamicFrequency.Zones = append(cfg.DynamicFrequency.Zones, graph.SpatializationZone(z))
	}
	for _, tag := range r.AlwaysRelevantClasses {
		cfg.AlwaysRelevantClasses = append(cfg.AlwaysRelevantClasses, models.ClassTag(tag))
	}
	return cfg
}

// ClassSettings converts the class list. fastShared builds the payload of
// classes that enable the fast shared path; it may be nil.
func (c *Config) ClassSettings(fastShared info.FastSharedFunc) (map[models.ClassTag]info.ClassSettings, error) {
	out := make(map[models.ClassTag]info.ClassSettings, len(c.Classes))
	for _, class := range c.Classes {
		route, err := info.ParseRoute(class.Route)
		if err != nil {
			return nil, fmt.Errorf("class %q: %w", class.Name, err)
		}
		s := info.ClassSettings{
			ReplicationPeriodFrame:         class.ReplicationPeriodFrame,
			FastPathReplicationPeriodFrame: class.FastPathReplicationPeriodFrame,
			DistancePriorityScale:          class.DistancePriorityScale,
			StarvationPriorityScale:        class.StarvationPriorityScale,
			ActorChannelFrameTimeout:       class.ChannelTimeoutFrames,
			Route:                          route,
		}
		s.SetCullDistance(class.CullDistance)
		if class.FastShared {
			s.FastShared = fastShared
		}
		out[models.ClassTag(class.Name)] = s
	}
	return out, nil
}
