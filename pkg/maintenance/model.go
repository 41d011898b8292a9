package maintenance

import (
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/forest"
	"github.com/labmanager/labml/pkg/models"
)

// scalerFile is the gob payload of maintenance/scaler.bin.
type scalerFile struct {
	Format   string
	RunID    string
	Features []string
	Scaler   forest.StandardScaler
}

// modelFile is the gob payload of maintenance/model.bin.
type modelFile struct {
	Format       string
	RunID        string
	Features     []string
	TrainedAt    time.Time
	TestAccuracy float64
	CVAccuracy   float64
	Forest       *forest.RandomForest
}

// predictor is the in-memory pair of scaler and forest, fit on the same feature order.
type predictor struct {
	scaler  forest.StandardScaler
	forest  *forest.RandomForest
	meta    modelFile
	modTime time.Time
}

// singleClass reports whether the forest never saw a positive and a negative example.
func (p *predictor) singleClass() bool {
	return len(p.forest.Classes) < 2
}

func (p *predictor) positiveProbability(row []float64) (float64, bool) {
	if p.singleClass() || len(row) != p.scaler.Features() || len(row) != p.forest.Features {
		return 0, false
	}
	idx := p.forest.ClassIndex(1)
	if idx < 0 {
		return 0, false
	}
	return p.forest.PredictProba(p.scaler.TransformRow(row))[idx], true
}

// savePredictor writes the scaler first and the model last, so a reader that finds the
// model also finds a matching scaler.
func savePredictor(root artifacts.Root, p *predictor) error {
	sf := scalerFile{
		Format:   artifacts.FormatVersion,
		RunID:    p.meta.RunID,
		Features: FeatureNames,
		Scaler:   p.scaler,
	}
	if err := artifacts.WriteGobAtomic(root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceScalerFile), sf); err != nil {
		return err
	}
	return artifacts.WriteGobAtomic(root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile), p.meta)
}

func loadPredictor(root artifacts.Root) (*predictor, error) {
	modelPath := root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceModelFile)
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, models.NewUnavailableError("maintenance", "no trained model, train first")
	}

	var mf modelFile
	if err := artifacts.ReadGob(modelPath, &mf); err != nil {
		return nil, err
	}
	var sf scalerFile
	if err := artifacts.ReadGob(root.Path(artifacts.MaintenanceDir, artifacts.MaintenanceScalerFile), &sf); err != nil {
		return nil, err
	}
	if err := artifacts.CheckFormat(mf.Format); err != nil {
		return nil, err
	}
	if err := artifacts.CheckFormat(sf.Format); err != nil {
		return nil, err
	}
	if mf.Forest == nil ||
		!slices.Equal(mf.Features, FeatureNames) ||
		!slices.Equal(sf.Features, FeatureNames) ||
		sf.RunID != mf.RunID {
		return nil, models.NewUnavailableError("maintenance",
			fmt.Sprintf("inconsistent artifacts: model run %q, scaler run %q", mf.RunID, sf.RunID))
	}
	return &predictor{scaler: sf.Scaler, forest: mf.Forest, meta: mf, modTime: info.ModTime()}, nil
}
