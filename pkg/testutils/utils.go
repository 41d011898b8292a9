package testutils

import (
	"crypto/rand"
	"database/sql"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/oiime/logrusbun"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // register driver

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/pkg/artifacts"
)

// NewTestConfig returns the default configuration with the model root pointed at a
// per-test temporary directory.
func NewTestConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Models.Root = t.TempDir()
	cfg.Log.Level = "debug"
	return cfg
}

// NewModelRoot returns a fresh, empty model root.
func NewModelRoot(t *testing.T) artifacts.Root {
	t.Helper()
	return artifacts.Root(t.TempDir())
}

// NewTestDB opens a private in-memory SQLite database through bun. The pool is pinned
// to a single connection so every query sees the same database.
func NewTestDB(t *testing.T) *bun.DB {
	t.Helper()
	name := fmt.Sprintf("file:%s?mode=memory&cache=shared", GenerateRandomString(12))
	sqldb, err := sql.Open("sqlite", name)
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	SetUpDBLogging(db, logrus.StandardLogger())
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func SetUpDBLogging(db *bun.DB, log logrus.FieldLogger) {
	db.AddQueryHook(logrusbun.NewQueryHook(logrusbun.QueryHookOptions{
		LogSlow:         time.Second,
		Logger:          log,
		QueryLevel:      logrus.DebugLevel,
		ErrorLevel:      logrus.ErrorLevel,
		SlowLevel:       logrus.WarnLevel,
		MessageTemplate: "{{.Operation}}[{{.Duration}}]: {{.Query}}",
		ErrorTemplate:   "{{.Operation}}[{{.Duration}}]: {{.Query}}: {{.Error}}",
	}))
}

// Checkerboard describes a synthetic two-color test photo.
type Checkerboard struct {
	Size   int
	Block  int
	Bright color.RGBA
	Dark   color.RGBA
	// Phase shifts the pattern so images of one class are not byte-identical.
	Phase int
}

// RedBoard and BlueBoard are two easily separable classes that pass the quality gate.
func RedBoard(phase int) Checkerboard {
	return Checkerboard{
		Size: 224, Block: 8, Phase: phase,
		Bright: color.RGBA{R: 255, G: 60, B: 60, A: 255},
		Dark:   color.RGBA{R: 60, A: 255},
	}
}

func BlueBoard(phase int) Checkerboard {
	return Checkerboard{
		Size: 224, Block: 8, Phase: phase,
		Bright: color.RGBA{R: 90, G: 120, B: 255, A: 255},
		Dark:   color.RGBA{R: 10, G: 20, B: 90, A: 255},
	}
}

func (c Checkerboard) Image() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, c.Size, c.Size))
	for y := 0; y < c.Size; y++ {
		for x := 0; x < c.Size; x++ {
			if ((x+c.Phase)/c.Block+(y+c.Phase)/c.Block)%2 == 0 {
				img.SetRGBA(x, y, c.Bright)
			} else {
				img.SetRGBA(x, y, c.Dark)
			}
		}
	}
	return img
}

// UniformImage is a flat single-color image; it fails the sharpness and contrast checks.
func UniformImage(size int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// WritePNG encodes img into dir and returns its path.
func WritePNG(t *testing.T, dir, name string, img image.Image) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
	return path
}

// FindProjectRoot returns the absolute path to the directory holding go.mod.
func FindProjectRoot() (string, error) {
	_, currentFilePath, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("could not get current file path")
	}

	dir := filepath.Dir(currentFilePath)
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if dir == filepath.Dir(dir) {
			return "", fmt.Errorf("project root not found")
		}
		dir = filepath.Dir(dir)
	}
}

const charset = "abcdefghijklmnopqrstuvwxyz" +
	"ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func GenerateRandomString(length int) string {
	b := make([]byte, length)
	for i := range b {
		bigInt, _ := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		b[i] = charset[bigInt.Int64()]
	}
	return string(b)
}
