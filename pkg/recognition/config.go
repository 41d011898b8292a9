package recognition

import (
	"fmt"

	"github.com/labmanager/labml/config"
)

// Config is the recognizer's explicit settings record.
type Config struct {
	ConfidenceThreshold     float64
	ImageSize               int
	Epochs                  int
	ValidationSplit         float64
	AugmentationsPerImage   int
	MinImagesPerClass       int
	MinTotalImages          int
	OODMaxClasses           int
	LearningRate            float64
	BatchSize               int
	Patience                int
	Seed                    int64
	QualityThreshold        float64
	ReferenceImagesPerClass int
	// FeatureGain multiplies the standardized backbone features fed to the head.
	FeatureGain             float64
	BackboneWeights         string
}

func NewConfig(c config.RecognitionConfig) Config {
	return Config{
		ConfidenceThreshold:     c.ConfidenceThreshold,
		ImageSize:               c.ImageSize,
		Epochs:                  c.Epochs,
		ValidationSplit:         c.ValidationSplit,
		AugmentationsPerImage:   c.AugmentationsPerImage,
		MinImagesPerClass:       c.MinImagesPerClass,
		MinTotalImages:          c.MinTotalImages,
		OODMaxClasses:           c.OODMaxClasses,
		LearningRate:            c.LearningRate,
		BatchSize:               c.BatchSize,
		Patience:                c.Patience,
		Seed:                    c.Seed,
		QualityThreshold:        c.QualityThreshold,
		ReferenceImagesPerClass: c.ReferenceImagesPerClass,
		FeatureGain:             c.FeatureGain,
		BackboneWeights:         c.BackboneWeights,
	}
}

func (c Config) Validate() error {
	switch {
	case c.ConfidenceThreshold < 0 || c.ConfidenceThreshold > 1:
		return fmt.Errorf("confidence_threshold must be in [0,1], got %v", c.ConfidenceThreshold)
	case c.ImageSize < 32:
		return fmt.Errorf("image_size must be at least 32, got %d", c.ImageSize)
	case c.Epochs < 1:
		return fmt.Errorf("epochs must be at least 1, got %d", c.Epochs)
	case c.ValidationSplit < 0 || c.ValidationSplit >= 1:
		return fmt.Errorf("validation_split must be in [0,1), got %v", c.ValidationSplit)
	case c.AugmentationsPerImage < 0:
		return fmt.Errorf("augmentations_per_image must not be negative, got %d", c.AugmentationsPerImage)
	case c.MinImagesPerClass < 1:
		return fmt.Errorf("min_images_per_class must be at least 1, got %d", c.MinImagesPerClass)
	case c.FeatureGain <= 0:
		return fmt.Errorf("feature_gain must be positive, got %v", c.FeatureGain)
	}
	return nil
}

// TrainOptions override the configured epoch count and validation split for one run.
// A zero Epochs or a nil ValidationSplit keeps the configured value; a split of 0 trains
// without a validation set.
type TrainOptions struct {
	Epochs          int      `json:"epochs,omitempty"           validate:"omitempty,gte=1,lte=500"`
	ValidationSplit *float64 `json:"validation_split,omitempty" validate:"omitempty,gte=0,lt=1"`
}

// WithValidationSplit returns a copy of o that overrides the validation split.
func (o TrainOptions) WithValidationSplit(split float64) TrainOptions {
	o.ValidationSplit = &split
	return o
}

func (c Config) withOptions(opts TrainOptions) Config {
	if opts.Epochs > 0 {
		c.Epochs = opts.Epochs
	}
	if opts.ValidationSplit != nil {
		c.ValidationSplit = *opts.ValidationSplit
	}
	return c
}
