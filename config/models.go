package config

// Config holds the configuration of the application
// Use config.LoadConfig or config.Default to create a new instance
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Server      ServerConfig      `mapstructure:"server"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Store       StoreConfig       `mapstructure:"store"`
	Models      ModelsConfig      `mapstructure:"models"`
	Intent      IntentConfig      `mapstructure:"intent"`
	Recognition RecognitionConfig `mapstructure:"recognition"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Tasks       TasksConfig       `mapstructure:"tasks"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"omitempty,oneof=text json"`
}

type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
	// CustomHeaders are added to every response. "env:NAME" values are read from the
	// environment.
	CustomHeaders map[string]string `mapstructure:"custom_headers"`
}

type AuthConfig struct {
	Secret   string `mapstructure:"secret"`
	Required bool   `mapstructure:"required"`
}

type StoreConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	DSN string `mapstructure:"dsn"`
}

// ModelsConfig points at the model root. Each component keeps its artifacts in a
// sub-tree: intent/, recognition/, maintenance/.
type ModelsConfig struct {
	Root string `mapstructure:"root" validate:"required"`
}

type IntentConfig struct {
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" validate:"gte=0,lte=1"`
	MaxFeatures         int     `mapstructure:"max_features"         validate:"gte=1"`
	Alpha               float64 `mapstructure:"alpha"                validate:"gt=0"`
	NgramMax            int     `mapstructure:"ngram_max"            validate:"gte=1,lte=3"`
}

type RecognitionConfig struct {
	ConfidenceThreshold     float64 `mapstructure:"confidence_threshold"       validate:"gte=0,lte=1"`
	ImageSize               int     `mapstructure:"image_size"                 validate:"gte=32"`
	Epochs                  int     `mapstructure:"epochs"                     validate:"gte=1"`
	ValidationSplit         float64 `mapstructure:"validation_split"           validate:"gte=0,lt=1"`
	AugmentationsPerImage   int     `mapstructure:"augmentations_per_image"    validate:"gte=0"`
	MinImagesPerClass       int     `mapstructure:"min_images_per_class"       validate:"gte=1"`
	MinTotalImages          int     `mapstructure:"min_total_images"           validate:"gte=1"`
	OODMaxClasses           int     `mapstructure:"ood_max_classes"            validate:"gte=0"`
	LearningRate            float64 `mapstructure:"learning_rate"              validate:"gt=0"`
	BatchSize               int     `mapstructure:"batch_size"                 validate:"gte=1"`
	Patience                int     `mapstructure:"patience"                   validate:"gte=1"`
	Seed                    int64   `mapstructure:"seed"`
	QualityThreshold        float64 `mapstructure:"quality_threshold"          validate:"gte=0,lte=1"`
	ReferenceImagesPerClass int     `mapstructure:"reference_images_per_class" validate:"gte=1"`
	FeatureGain             float64 `mapstructure:"feature_gain"               validate:"gt=0"`
	// BackboneWeights optionally points at a pretrained backbone weight file.
	BackboneWeights string `mapstructure:"backbone_weights"`
}

type MaintenanceConfig struct {
	Trees             int     `mapstructure:"trees"              validate:"gte=1"`
	MaxDepth          int     `mapstructure:"max_depth"          validate:"gte=1"`
	Seed              int64   `mapstructure:"seed"`
	RiskThreshold     float64 `mapstructure:"risk_threshold"     validate:"gte=0,lte=1"`
	ObjectiveAccuracy float64 `mapstructure:"objective_accuracy" validate:"gte=0,lte=1"`
	MinTrainingRows   int     `mapstructure:"min_training_rows"  validate:"gte=2"`
	AugmentBelow      int     `mapstructure:"augment_below"      validate:"gte=0"`
	AugmentTarget     int     `mapstructure:"augment_target"     validate:"gte=0"`
	TopAtRisk         int     `mapstructure:"top_at_risk"        validate:"gte=1"`
}

type TasksConfig struct {
	Enabled bool `mapstructure:"enabled"`
}
