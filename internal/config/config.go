// Package config provides configuration management for go-mcl
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/teslashibe/go-mcl/internal/broker"
	"github.com/teslashibe/go-mcl/internal/cloud"
	"github.com/teslashibe/go-mcl/internal/gridmap"
	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/mcl"
	"github.com/teslashibe/go-mcl/internal/pose"
)

// Config is the root configuration structure
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Map          MapConfig          `mapstructure:"map"`
	Localization LocalizationConfig `mapstructure:"localization"`
	MQTT         MQTTConfig         `mapstructure:"mqtt"`
	Cloud        CloudConfig        `mapstructure:"cloud"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	GracefulTimeout time.Duration `mapstructure:"graceful_timeout"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// MapConfig configures the occupancy map image
type MapConfig struct {
	Path              string  `mapstructure:"path"`
	Resolution        float64 `mapstructure:"resolution"` // meters per pixel
	OriginPx          int     `mapstructure:"origin_px"`  // pixel column of world (0,0)
	OriginPy          int     `mapstructure:"origin_py"`  // pixel row of world (0,0), from the top
	OccupiedThreshold float64 `mapstructure:"occupied_threshold"`
	FreeThreshold     float64 `mapstructure:"free_threshold"`
}

// LocalizationConfig configures the particle filter and its driver
type LocalizationConfig struct {
	Particles int    `mapstructure:"particles"`
	Seed      uint64 `mapstructure:"seed"` // 0 seeds from the clock

	Initial      PoseConfig `mapstructure:"initial"`
	InitialSigma PoseConfig `mapstructure:"initial_sigma"`

	Motion   MotionConfig   `mapstructure:"motion"`
	Sensor   SensorConfig   `mapstructure:"sensor"`
	Resample ResampleConfig `mapstructure:"resample"`

	QueueSize int `mapstructure:"queue_size"`
}

// PoseConfig is a planar pose; heading in radians
type PoseConfig struct {
	X       float64 `mapstructure:"x"`
	Y       float64 `mapstructure:"y"`
	Heading float64 `mapstructure:"heading"`
}

// MotionConfig configures the odometry noise model
type MotionConfig struct {
	TranslationNoise float64 `mapstructure:"translation_noise"`
	RotationNoise    float64 `mapstructure:"rotation_noise"`
	MinTranslation   float64 `mapstructure:"min_translation"`
	MinRotation      float64 `mapstructure:"min_rotation"`
}

// SensorConfig configures the beam model
type SensorConfig struct {
	BeamStride         int     `mapstructure:"beam_stride"`
	RangeSigma         float64 `mapstructure:"range_sigma"`
	OutlierWeight      float64 `mapstructure:"outlier_weight"`
	NoReturnLikelihood float64 `mapstructure:"no_return_likelihood"`
	MaxRange           float64 `mapstructure:"max_range"` // 0 uses the scan's own limit
	Workers            int     `mapstructure:"workers"`   // 0 uses GOMAXPROCS
}

// ResampleConfig configures when to resample
type ResampleConfig struct {
	Policy       string  `mapstructure:"policy"` // ess, always
	ESSThreshold float64 `mapstructure:"ess_threshold"`
}

// MQTTConfig configures the MQTT bridge
type MQTTConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	Broker           string        `mapstructure:"broker"`
	ClientID         string        `mapstructure:"client_id"`
	Username         string        `mapstructure:"username"`
	Password         string        `mapstructure:"password"`
	QoS              int           `mapstructure:"qos"`
	OdometryTopic    string        `mapstructure:"odometry_topic"`
	ScanTopic        string        `mapstructure:"scan_topic"`
	PoseTopic        string        `mapstructure:"pose_topic"`
	ParticlesTopic   string        `mapstructure:"particles_topic"`
	PublishParticles bool          `mapstructure:"publish_particles"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

// CloudConfig configures the WebSocket uplink
type CloudConfig struct {
	Enabled          bool          `mapstructure:"enabled"`
	URL              string        `mapstructure:"url"`
	ReconnectBackoff time.Duration `mapstructure:"reconnect_backoff"`
	MaxBackoff       time.Duration `mapstructure:"max_backoff"`
	PingInterval     time.Duration `mapstructure:"ping_interval"`
	WriteTimeout     time.Duration `mapstructure:"write_timeout"`
	SendParticles    bool          `mapstructure:"send_particles"`
}

// Default returns the default configuration
func Default() *Config {
	engine := mcl.DefaultConfig()
	image := gridmap.DefaultImageOptions()
	mq := broker.DefaultConfig()
	cl := cloud.DefaultConfig()

	return &Config{
		Server: ServerConfig{
			Port:            9000,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			GracefulTimeout: 5 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Map: MapConfig{
			Resolution:        image.Resolution,
			OccupiedThreshold: image.OccupiedThreshold,
			FreeThreshold:     image.FreeThreshold,
		},
		Localization: LocalizationConfig{
			Particles: engine.Particles,
			InitialSigma: PoseConfig{
				X:       engine.InitialSigma.X,
				Y:       engine.InitialSigma.Y,
				Heading: engine.InitialSigma.Heading,
			},
			Motion: MotionConfig{
				TranslationNoise: engine.Motion.TranslationNoise,
				RotationNoise:    engine.Motion.RotationNoise,
				MinTranslation:   engine.Motion.MinTranslation,
				MinRotation:      engine.Motion.MinRotation,
			},
			Sensor: SensorConfig{
				BeamStride:         engine.Sensor.BeamStride,
				RangeSigma:         engine.Sensor.RangeSigma,
				OutlierWeight:      engine.Sensor.OutlierWeight,
				NoReturnLikelihood: engine.Sensor.NoReturnLikelihood,
			},
			Resample: ResampleConfig{
				Policy:       string(engine.Resample.Policy),
				ESSThreshold: engine.Resample.ESSThreshold,
			},
			QueueSize: localizer.DefaultConfig().QueueSize,
		},
		MQTT: MQTTConfig{
			Broker:           mq.Broker,
			ClientID:         mq.ClientID,
			OdometryTopic:    mq.OdometryTopic,
			ScanTopic:        mq.ScanTopic,
			PoseTopic:        mq.PoseTopic,
			ParticlesTopic:   mq.ParticlesTopic,
			PublishParticles: mq.PublishParticles,
			Timeout:          mq.Timeout,
		},
		Cloud: CloudConfig{
			URL:              cl.URL,
			ReconnectBackoff: cl.ReconnectBackoff,
			MaxBackoff:       cl.MaxBackoff,
			PingInterval:     cl.PingInterval,
			WriteTimeout:     cl.WriteTimeout,
		},
	}
}

// Load loads configuration from file and environment
func Load(path string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v, Default())

	// Config file
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			// Config file not found is okay, use defaults
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				// Only warn, don't fail - we have defaults
				fmt.Printf("Warning: config file not found at %s, using defaults\n", path)
			}
		}
	}

	// Environment variable overrides
	v.SetEnvPrefix("GOMCL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	// Server defaults
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout.String())
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout.String())
	v.SetDefault("server.graceful_timeout", d.Server.GracefulTimeout.String())

	// Logging defaults
	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	// Map defaults
	v.SetDefault("map.path", d.Map.Path)
	v.SetDefault("map.resolution", d.Map.Resolution)
	v.SetDefault("map.origin_px", d.Map.OriginPx)
	v.SetDefault("map.origin_py", d.Map.OriginPy)
	v.SetDefault("map.occupied_threshold", d.Map.OccupiedThreshold)
	v.SetDefault("map.free_threshold", d.Map.FreeThreshold)

	// Localization defaults
	l := d.Localization
	v.SetDefault("localization.particles", l.Particles)
	v.SetDefault("localization.seed", l.Seed)
	v.SetDefault("localization.initial.x", l.Initial.X)
	v.SetDefault("localization.initial.y", l.Initial.Y)
	v.SetDefault("localization.initial.heading", l.Initial.Heading)
	v.SetDefault("localization.initial_sigma.x", l.InitialSigma.X)
	v.SetDefault("localization.initial_sigma.y", l.InitialSigma.Y)
	v.SetDefault("localization.initial_sigma.heading", l.InitialSigma.Heading)
	v.SetDefault("localization.motion.translation_noise", l.Motion.TranslationNoise)
	v.SetDefault("localization.motion.rotation_noise", l.Motion.RotationNoise)
	v.SetDefault("localization.motion.min_translation", l.Motion.MinTranslation)
	v.SetDefault("localization.motion.min_rotation", l.Motion.MinRotation)
	v.SetDefault("localization.sensor.beam_stride", l.Sensor.BeamStride)
	v.SetDefault("localization.sensor.range_sigma", l.Sensor.RangeSigma)
	v.SetDefault("localization.sensor.outlier_weight", l.Sensor.OutlierWeight)
	v.SetDefault("localization.sensor.no_return_likelihood", l.Sensor.NoReturnLikelihood)
	v.SetDefault("localization.sensor.max_range", l.Sensor.MaxRange)
	v.SetDefault("localization.sensor.workers", l.Sensor.Workers)
	v.SetDefault("localization.resample.policy", l.Resample.Policy)
	v.SetDefault("localization.resample.ess_threshold", l.Resample.ESSThreshold)
	v.SetDefault("localization.queue_size", l.QueueSize)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", d.MQTT.Enabled)
	v.SetDefault("mqtt.broker", d.MQTT.Broker)
	v.SetDefault("mqtt.client_id", d.MQTT.ClientID)
	v.SetDefault("mqtt.username", d.MQTT.Username)
	v.SetDefault("mqtt.password", d.MQTT.Password)
	v.SetDefault("mqtt.qos", d.MQTT.QoS)
	v.SetDefault("mqtt.odometry_topic", d.MQTT.OdometryTopic)
	v.SetDefault("mqtt.scan_topic", d.MQTT.ScanTopic)
	v.SetDefault("mqtt.pose_topic", d.MQTT.PoseTopic)
	v.SetDefault("mqtt.particles_topic", d.MQTT.ParticlesTopic)
	v.SetDefault("mqtt.publish_particles", d.MQTT.PublishParticles)
	v.SetDefault("mqtt.timeout", d.MQTT.Timeout.String())

	// Cloud defaults
	v.SetDefault("cloud.enabled", d.Cloud.Enabled)
	v.SetDefault("cloud.url", d.Cloud.URL)
	v.SetDefault("cloud.reconnect_backoff", d.Cloud.ReconnectBackoff.String())
	v.SetDefault("cloud.max_backoff", d.Cloud.MaxBackoff.String())
	v.SetDefault("cloud.ping_interval", d.Cloud.PingInterval.String())
	v.SetDefault("cloud.write_timeout", d.Cloud.WriteTimeout.String())
	v.SetDefault("cloud.send_particles", d.Cloud.SendParticles)
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if !logLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}

	if c.Map.Path != "" && !(c.Map.Resolution > 0) {
		return fmt.Errorf("map resolution must be positive, got %f", c.Map.Resolution)
	}

	if err := c.Localization.Engine().Validate(); err != nil {
		return fmt.Errorf("localization: %w", err)
	}

	if c.Localization.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", c.Localization.QueueSize)
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return fmt.Errorf("mqtt broker is required when mqtt is enabled")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
		}
	}

	if c.Cloud.Enabled && c.Cloud.URL == "" {
		return fmt.Errorf("cloud url is required when cloud is enabled")
	}

	return nil
}

// Engine returns the particle filter configuration
func (l LocalizationConfig) Engine() mcl.Config {
	return mcl.Config{
		Particles: l.Particles,
		Seed:      l.Seed,
		InitialSigma: mcl.InitialSigma{
			X:       l.InitialSigma.X,
			Y:       l.InitialSigma.Y,
			Heading: l.InitialSigma.Heading,
		},
		Motion: mcl.MotionConfig{
			TranslationNoise: l.Motion.TranslationNoise,
			RotationNoise:    l.Motion.RotationNoise,
			MinTranslation:   l.Motion.MinTranslation,
			MinRotation:      l.Motion.MinRotation,
		},
		Sensor: mcl.SensorConfig{
			BeamStride:         l.Sensor.BeamStride,
			RangeSigma:         l.Sensor.RangeSigma,
			OutlierWeight:      l.Sensor.OutlierWeight,
			NoReturnLikelihood: l.Sensor.NoReturnLikelihood,
			MaxRange:           l.Sensor.MaxRange,
			Workers:            l.Sensor.Workers,
		},
		Resample: mcl.ResampleConfig{
			Policy:       mcl.ResamplePolicy(strings.ToLower(l.Resample.Policy)),
			ESSThreshold: l.Resample.ESSThreshold,
		},
	}
}

// Driver returns the localizer driver configuration
func (l LocalizationConfig) Driver() localizer.Config {
	cfg := localizer.DefaultConfig()
	cfg.QueueSize = l.QueueSize
	return cfg
}

// InitialPose returns the configured starting pose
func (l LocalizationConfig) InitialPose() pose.Pose {
	return pose.New(l.Initial.X, l.Initial.Y, l.Initial.Heading)
}

// ImageOptions returns the map image decoding options
func (m MapConfig) ImageOptions() gridmap.ImageOptions {
	return gridmap.ImageOptions{
		Resolution:        m.Resolution,
		OriginPx:          m.OriginPx,
		OriginPy:          m.OriginPy,
		OccupiedThreshold: m.OccupiedThreshold,
		FreeThreshold:     m.FreeThreshold,
	}
}

// Bridge returns the MQTT bridge configuration
func (m MQTTConfig) Bridge() broker.Config {
	return broker.Config{
		Broker:           m.Broker,
		ClientID:         m.ClientID,
		Username:         m.Username,
		Password:         m.Password,
		QoS:              byte(m.QoS),
		OdometryTopic:    m.OdometryTopic,
		ScanTopic:        m.ScanTopic,
		PoseTopic:        m.PoseTopic,
		ParticlesTopic:   m.ParticlesTopic,
		PublishParticles: m.PublishParticles,
		Timeout:          m.Timeout,
	}
}

// Client returns the cloud uplink configuration
func (c CloudConfig) Client() cloud.Config {
	return cloud.Config{
		URL:              c.URL,
		ReconnectBackoff: c.ReconnectBackoff,
		MaxBackoff:       c.MaxBackoff,
		PingInterval:     c.PingInterval,
		WriteTimeout:     c.WriteTimeout,
		SendParticles:    c.SendParticles,
	}
}
