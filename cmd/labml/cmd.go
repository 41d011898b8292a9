package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/labmanager/labml/config"
	"github.com/labmanager/labml/internal"
	"github.com/labmanager/labml/pkg/artifacts"
	"github.com/labmanager/labml/pkg/imaging"
	"github.com/labmanager/labml/pkg/intent"
	"github.com/labmanager/labml/pkg/nn"
	"github.com/labmanager/labml/pkg/recognition"
	"github.com/labmanager/labml/pkg/store/postgres"
)

var (
	log *logrus.Logger

	cfgFile       string
	showVersion   bool
	generateKey   bool
	tokenTTL      time.Duration
	fixturePath   string
	topN          int
	trainEpochs   int
	trainValSplit float64
	backboneOut   string
)

var cmd = &cobra.Command{
	Use:   "labml",
	Short: "labml serves intent classification, equipment recognition and failure prediction for the lab manager",
	Run:   func(cmd *cobra.Command, args []string) { run() },
}

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train a model and persist its artifacts",
}

var trainIntentCmd = &cobra.Command{
	Use:   "intent",
	Short: "Retrain the intent classifier on the built-in examples",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		classifier := intent.New(cfg.Intent, artifacts.Root(cfg.Models.Root))
		if !classifier.Retrain(nil) {
			return fmt.Errorf("intent training failed, see log")
		}
		return printJSON(classifier.Status())
	},
}

var trainRecognitionCmd = &cobra.Command{
	Use:   "recognition",
	Short: "Train the equipment recognizer on the stored training photos",
	RunE: func(cmd *cobra.Command, args []string) error {
		appState := NewAppState(loadConfig())
		defer closeAppState(appState)
		opts := recognition.TrainOptions{Epochs: trainEpochs}
		if cmd.Flags().Changed("validation-split") {
			opts = opts.WithValidationSplit(trainValSplit)
		}
		metrics, err := appState.Recognizer.TrainFromStore(cmd.Context(), opts)
		if err != nil {
			return err
		}
		return printJSON(metrics)
	},
}

var trainMaintenanceCmd = &cobra.Command{
	Use:   "maintenance",
	Short: "Train the failure predictor on the equipment history",
	RunE: func(cmd *cobra.Command, args []string) error {
		appState := NewAppState(loadConfig())
		defer closeAppState(appState)
		metrics, err := appState.Maintenance.Train(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(metrics)
	},
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Score all active equipment and raise maintenance alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		appState := NewAppState(loadConfig())
		defer closeAppState(appState)
		summary, err := appState.Maintenance.AnalyzeAll(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(summary)
	},
}

var predictCmd = &cobra.Command{
	Use:   "predict <equipment-id>",
	Short: "Print the failure probability of one equipment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid equipment id %q", args[0])
		}
		appState := NewAppState(loadConfig())
		defer closeAppState(appState)
		p, err := appState.Maintenance.PredictFailure(cmd.Context(), id)
		if err != nil {
			return err
		}
		if p == nil {
			return fmt.Errorf("equipment %d not found", id)
		}
		return printJSON(map[string]any{"equipment_id": id, "probability": *p})
	},
}

var identifyCmd = &cobra.Command{
	Use:   "identify <image>",
	Short: "Identify the equipment in a photo with the persisted recognizer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		recognizer, err := recognition.New(recognition.NewConfig(cfg.Recognition), artifacts.Root(cfg.Models.Root))
		if err != nil {
			return err
		}
		result, err := recognizer.Identify(cmd.Context(), recognition.FromPath(args[0]), topN)
		if err != nil {
			return err
		}
		return printJSON(result)
	},
}

var validateImageCmd = &cobra.Command{
	Use:   "validate-image <image>...",
	Short: "Check whether photos are fit for training",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reports := make(map[string]imaging.QualityReport, len(args))
		for _, path := range args {
			reports[path] = imaging.ValidateImage(path)
		}
		return printJSON(reports)
	},
}

var backboneCmd = &cobra.Command{
	Use:   "backbone",
	Short: "Manage the frozen recognition backbone",
}

var importBackboneCmd = &cobra.Command{
	Use:     "import <weights.npz>",
	Short:   "Convert pretrained Keras MobileNet weights into a labml backbone file",
	Example: "labml backbone import mobilenet_1_0_224.npz --out models/backbone.bin",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := loadConfig()
		m, err := nn.ImportKerasMobileNet(args[0], cfg.Recognition.ImageSize)
		if err != nil {
			return err
		}
		if err := nn.SaveBackbone(backboneOut, m); err != nil {
			return err
		}
		fmt.Printf("Wrote %s backbone (%d features) to %s; set recognition.backbone_weights to use it.\n",
			m.Name(), m.OutputSize(), backboneOut)
		return nil
	},
}

var testCmd = &cobra.Command{
	Use:   "test",
	Short: "Test utilities",
}

var createFixturesCmd = &cobra.Command{
	Use:   "create-fixtures",
	Short: "Create fixtures for testing",
	RunE: func(cmd *cobra.Command, args []string) error {
		fixtureCount, _ := cmd.Flags().GetInt("count")
		outputDir, _ := cmd.Flags().GetString("outputDir")
		if err := postgres.GenerateFixtureData(fixtureCount, outputDir); err != nil {
			return err
		}
		fmt.Println("Fixtures created successfully.")
		return nil
	},
}

var loadFixturesCmd = &cobra.Command{
	Use:   "load-fixtures",
	Short: "Load fixtures for testing",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		db, err := postgres.NewPostgresConn(cfg)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v\n", err)
		}
		defer db.Close()
		err = postgres.LoadFixtures(context.Background(), db, fixturePath)
		if err != nil {
			log.Fatalf("Failed to load fixtures: %v\n", err)
		}
		fmt.Println("Fixtures loaded successfully.")
	},
}

var dumpJsonSchemaCmd = &cobra.Command{
	Use:     "json-schema",
	Short:   "Generates JSON Schema for labml's configuration file",
	Example: "labml json-schema > labml_config_schema.json",
	RunE: func(cmd *cobra.Command, args []string) error {
		schema, err := config.JSONSchema()
		if err != nil {
			return err
		}
		fmt.Println(string(schema))
		return nil
	},
}

func init() {
	trainCmd.AddCommand(trainIntentCmd)
	trainCmd.AddCommand(trainRecognitionCmd)
	trainCmd.AddCommand(trainMaintenanceCmd)
	testCmd.AddCommand(createFixturesCmd)
	testCmd.AddCommand(loadFixturesCmd)
	cmd.AddCommand(trainCmd)
	cmd.AddCommand(analyzeCmd)
	cmd.AddCommand(predictCmd)
	cmd.AddCommand(identifyCmd)
	cmd.AddCommand(validateImageCmd)
	cmd.AddCommand(testCmd)
	backboneCmd.AddCommand(importBackboneCmd)
	cmd.AddCommand(backboneCmd)
	cmd.AddCommand(dumpJsonSchemaCmd)

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default config.yaml)")
	cmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "print version number")
	cmd.PersistentFlags().
		BoolVarP(&generateKey, "generate-token", "g", false, "generate a new JWT token")
	cmd.PersistentFlags().
		DurationVar(&tokenTTL, "token-ttl", 0, "lifetime of a generated token (0 never expires)")

	trainRecognitionCmd.Flags().IntVar(&trainEpochs, "epochs", 0, "override recognition.epochs for this run")
	trainRecognitionCmd.Flags().
		Float64Var(&trainValSplit, "validation-split", 0, "override recognition.validation_split for this run")
	importBackboneCmd.Flags().
		StringVarP(&backboneOut, "out", "o", "backbone.bin", "path of the converted backbone file")
	identifyCmd.Flags().IntVarP(&topN, "top-n", "n", recognition.DefaultTopN, "number of candidates")

	createFixturesCmd.Flags().Int("count", 100, "Number of equipment fixtures to generate")
	createFixturesCmd.Flags().String("outputDir", "./test_data", "Path to output fixtures")
	loadFixturesCmd.Flags().
		StringVarP(&fixturePath, "fixturePath", "f", "./test_data", "Path containing fixtures to load")
}

// loadConfig loads the config and applies the logging settings. Subcommands do not run the
// server, so CLI-only flags are handled here too.
func loadConfig() *config.Config {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		log.Fatalf("Error configuring labml: %s", err)
	}
	handleCLIOptions(cfg)
	config.SetupLogging(cfg)
	return cfg
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Execute executes the root cobra command.
func Execute() {
	log = internal.GetLogger()
	log.SetLevel(logrus.InfoLevel)

	err := cmd.Execute()

	if err != nil {
		os.Exit(1)
	}
}
