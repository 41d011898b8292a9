package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/labmanager/labml/internal"
)

// We're bootstrapping so avoid any imports from other packages
var log = logrus.New()

var validate = validator.New()

// defaults mirrors Default() as viper keys so that partial config files are filled in.
var defaults = map[string]any{
	"log.level":   "info",
	"log.format":  "text",
	"server.port": 8000,
	"models.root": "./models",

	"intent.confidence_threshold": 0.3,
	"intent.max_features":         1000,
	"intent.alpha":                0.1,
	"intent.ngram_max":            2,

	"recognition.confidence_threshold":       0.85,
	"recognition.image_size":                 224,
	"recognition.epochs":                     10,
	"recognition.validation_split":           0.2,
	"recognition.augmentations_per_image":    4,
	"recognition.min_images_per_class":       5,
	"recognition.min_total_images":           5,
	"recognition.ood_max_classes":            5,
	"recognition.learning_rate":              1e-4,
	"recognition.batch_size":                 32,
	"recognition.patience":                   5,
	"recognition.seed":                       42,
	"recognition.quality_threshold":          0.6,
	"recognition.reference_images_per_class": 3,
	"recognition.feature_gain":               4.0,
	"recognition.backbone_weights":           "",

	"maintenance.trees":              100,
	"maintenance.max_depth":          10,
	"maintenance.seed":               42,
	"maintenance.risk_threshold":     0.6,
	"maintenance.objective_accuracy": 0.80,
	"maintenance.min_training_rows":  5,
	"maintenance.augment_below":      20,
	"maintenance.augment_target":     50,
	"maintenance.top_at_risk":        20,

	"tasks.enabled": true,
}

// LoadConfig loads the config file and ENV variables into a Config struct
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("config")
	}

	v.SetConfigType("yaml")

	v.SetEnvPrefix("LABML")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for k, val := range defaults {
		v.SetDefault(k, val)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, err
		}
		log.Warn("config.yaml not found, using defaults and environment")
	}

	// Environment variables take precedence over config file
	loadDotEnv()

	for _, key := range []string{"auth.secret", "store.postgres.dsn"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("error binding environment variable for %s: %w", key, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration used when no file or environment overrides exist.
func Default() *Config {
	return &Config{
		Log:    LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{Port: 8000},
		Models: ModelsConfig{Root: "./models"},
		Intent: IntentConfig{
			ConfidenceThreshold: 0.3,
			MaxFeatures:         1000,
			Alpha:               0.1,
			NgramMax:            2,
		},
		Recognition: RecognitionConfig{
			ConfidenceThreshold:     0.85,
			ImageSize:               224,
			Epochs:                  10,
			ValidationSplit:         0.2,
			AugmentationsPerImage:   4,
			MinImagesPerClass:       5,
			MinTotalImages:          5,
			OODMaxClasses:           5,
			LearningRate:            1e-4,
			BatchSize:               32,
			Patience:                5,
			Seed:                    42,
			QualityThreshold:        0.6,
			ReferenceImagesPerClass: 3,
			FeatureGain:             4,
		},
		Maintenance: MaintenanceConfig{
			Trees:             100,
			MaxDepth:          10,
			Seed:              42,
			RiskThreshold:     0.6,
			ObjectiveAccuracy: 0.80,
			MinTrainingRows:   5,
			AugmentBelow:      20,
			AugmentTarget:     50,
			TopAtRisk:         20,
		},
		Tasks: TasksConfig{Enabled: true},
	}
}

// Validate checks the struct tags of the config.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// loadDotEnv loads environment variables from .env file
func loadDotEnv() {
	err := godotenv.Load()
	if err != nil {
		log.Debug(".env file not found or unable to load")
	}
}

// SetupLogging applies log.level and log.format. An invalid level falls back to INFO.
func SetupLogging(cfg *Config) {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	internal.SetLogLevel(level)
	internal.SetLogFormat(cfg.Log.Format)
	log.Infof("Log level set to %s, format %s", level, cfg.Log.Format)
}
