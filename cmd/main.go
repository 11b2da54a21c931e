package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	jsoniter "github.com/json-iterator/go"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/knights-analytics/gliner"
	"github.com/knights-analytics/gliner/options"
	"github.com/knights-analytics/gliner/pipelines"
	"github.com/knights-analytics/gliner/util/fileutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	modelPath         string
	inputPath         string
	outputPath        string
	labels            string
	schemaPath        string
	threshold         float64
	flatNER           bool
	multiLabel        bool
	backend           string
	sharedLibraryPath string
	batchSize         int
	modelsDir         string
	verbose           bool
)

var sharedFlags = []cli.Flag{
	&cli.StringFlag{
		Name:        "model",
		Usage:       "Path or huggingface name of the GLiNER model",
		Aliases:     []string{"m"},
		Destination: &modelPath,
		Required:    true,
		EnvVars:     []string{"GLINER_MODEL"},
	},
	&cli.StringFlag{
		Name:        "input",
		Usage:       "Path to a .jsonl file or a folder of .jsonl files. Reads stdin if omitted",
		Aliases:     []string{"i"},
		Destination: &inputPath,
	},
	&cli.StringFlag{
		Name:        "output",
		Usage:       "Folder to write result.jsonl to. Writes to stdout if omitted",
		Aliases:     []string{"o"},
		Destination: &outputPath,
	},
	&cli.StringFlag{
		Name:        "labels",
		Usage:       "Comma separated entity labels",
		Aliases:     []string{"l"},
		Destination: &labels,
		Required:    true,
	},
	&cli.Float64Flag{
		Name:        "threshold",
		Usage:       "Minimum span score",
		Destination: &threshold,
		Value:       0.5,
	},
	&cli.BoolFlag{
		Name:        "flat",
		Usage:       "Forbid overlapping spans",
		Destination: &flatNER,
		Value:       true,
	},
	&cli.BoolFlag{
		Name:        "multiLabel",
		Usage:       "Allow the same words to carry several labels",
		Destination: &multiLabel,
	},
	&cli.StringFlag{
		Name:        "backend",
		Usage:       "Inference backend, GO or ORT",
		Destination: &backend,
		Value:       "GO",
		EnvVars:     []string{"GLINER_BACKEND"},
	},
	&cli.StringFlag{
		Name:        "onnxruntimeSharedLibrary",
		Usage:       "Path to the onnxruntime library, ORT backend only",
		Aliases:     []string{"s"},
		Destination: &sharedLibraryPath,
		EnvVars:     []string{"ONNXRUNTIME_LIB_PATH"},
	},
	&cli.IntFlag{
		Name:        "batchSize",
		Usage:       "Number of inputs to process in a batch",
		Aliases:     []string{"b"},
		Destination: &batchSize,
		Value:       20,
	},
	&cli.StringFlag{
		Name:        "modelFolder",
		Usage:       "Folder where to store downloaded models. Falls back to $HOME/gliner/models",
		Aliases:     []string{"f"},
		Destination: &modelsDir,
	},
	&cli.BoolFlag{
		Name:        "verbose",
		Usage:       "Log debug output to stderr",
		Aliases:     []string{"v"},
		Destination: &verbose,
	},
}

var entitiesCommand = &cli.Command{
	Name:  "entities",
	Usage: "Extract entities from .jsonl input",
	Description: `Each json line must be of the form {"input": "text"}. The output repeats the
input with an "output" field holding the extracted entities.`,
	Flags: sharedFlags,
	Action: func(c *cli.Context) error {
		return run(c.Context, func(pipeline *pipelines.GLiNERPipeline, labelList []string) (extractor, error) {
			return func(ctx context.Context, texts []string) ([]any, error) {
				output, err := pipeline.RunPipelineWithLabels(ctx, texts, labelList)
				if err != nil {
					return nil, err
				}
				return output.GetOutput(), nil
			}, nil
		})
	},
}

var relationsCommand = &cli.Command{
	Name:  "relations",
	Usage: "Extract relations between entities from .jsonl input",
	Description: `Like entities, with relations constrained by a yaml schema:

  relations:
    - name: locatedIn
      subjects: [City]
      objects: [Country]

Set GLINER_DEBUG_RELATIONS=true to log relations rejected by the schema.`,
	Flags: append([]cli.Flag{
		&cli.StringFlag{
			Name:        "schema",
			Usage:       "Path to the relation schema",
			Destination: &schemaPath,
			Required:    true,
		},
	}, sharedFlags...),
	Action: func(c *cli.Context) error {
		return run(c.Context, func(pipeline *pipelines.GLiNERPipeline, labelList []string) (extractor, error) {
			schema, err := pipelines.LoadRelationSchema(c.Context, schemaPath)
			if err != nil {
				return nil, err
			}
			return func(ctx context.Context, texts []string) ([]any, error) {
				output, err := pipeline.ExtractRelations(ctx, texts, labelList, schema)
				if err != nil {
					return nil, err
				}
				return output.GetOutput(), nil
			}, nil
		})
	},
}

// extractor returns one output per text.
type extractor func(ctx context.Context, texts []string) ([]any, error)

func newApp() *cli.App {
	return &cli.App{
		Name:     "gliner",
		Usage:    "Zero-shot entity and relation extraction with GLiNER models",
		Commands: []*cli.Command{entitiesCommand, relationsCommand},
	}
}

func main() {
	_ = godotenv.Load()
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stderr"}
	return config.Build()
}

func newSession(logger *zap.Logger) (*gliner.Session, error) {
	opts := []options.WithOption{options.WithLogger(logger)}
	switch strings.ToUpper(backend) {
	case "ORT":
		if sharedLibraryPath != "" {
			opts = append(opts, options.WithOnnxLibraryPath(sharedLibraryPath))
		}
		return gliner.NewORTSession(opts...)
	case "GO":
		return gliner.NewGoSession(opts...)
	default:
		return nil, fmt.Errorf("backend %s not recognized", backend)
	}
}

// resolveModel returns a local model folder: the given path if it exists,
// else a previously downloaded model of that name, else a fresh download.
func resolveModel(ctx context.Context, logger *zap.Logger) (string, error) {
	if modelsDir == "" {
		userDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		modelsDir = fileutil.PathJoinSafe(userDir, "gliner", "models")
	}
	ok, err := fileutil.FileExists(ctx, modelPath)
	if err != nil || ok {
		return modelPath, err
	}
	downloaded := fileutil.PathJoinSafe(modelsDir, strings.ReplaceAll(modelPath, "/", "_"))
	ok, err = fileutil.FileExists(ctx, downloaded)
	if err != nil || ok {
		return downloaded, err
	}
	if strings.Contains(modelPath, ":") {
		return "", errors.New("filters with : are currently not supported")
	}
	if err = fileutil.CreateDir(ctx, modelsDir); err != nil {
		return "", err
	}
	downloadOptions := gliner.NewDownloadOptions()
	downloadOptions.Verbose = verbose
	downloadOptions.Logger = logger
	return gliner.DownloadModel(ctx, modelPath, modelsDir, downloadOptions)
}

func run(ctx context.Context, build func(*pipelines.GLiNERPipeline, []string) (extractor, error)) (err error) {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	labelList := parseLabels(labels)
	session, err := newSession(logger)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, session.Destroy())
	}()

	resolved, err := resolveModel(ctx, logger)
	if err != nil {
		return err
	}
	pipeline, err := gliner.NewPipeline(session, gliner.GLiNERConfig{
		ModelPath: resolved,
		Name:      "cli",
		Options: []gliner.GLiNEROption{
			pipelines.WithGLiNERLabels(labelList),
			pipelines.WithGLiNERThreshold(float32(threshold)),
			pipelines.WithGLiNERFlatNER(flatNER),
			pipelines.WithGLiNERDupLabel(multiLabel),
			pipelines.WithGLiNERMultiLabel(multiLabel),
			pipelines.WithGLiNERRejectionSink(pipelines.SinkFromEnv(logger)),
		},
	})
	if err != nil {
		return err
	}
	extract, err := build(pipeline, labelList)
	if err != nil {
		return err
	}

	var writer io.WriteCloser = nopCloser{os.Stdout}
	if outputPath != "" {
		if writer, err = fileutil.NewFileWriter(ctx, fileutil.PathJoinSafe(outputPath, "result.jsonl")); err != nil {
			return err
		}
	}
	defer func() {
		err = errors.Join(err, writer.Close())
	}()

	var reader func(chan<- []input) error
	switch {
	case inputPath != "":
		exists, existsErr := fileutil.FileExists(ctx, inputPath)
		if existsErr != nil {
			return existsErr
		}
		if !exists {
			return fmt.Errorf("file %s does not exist", inputPath)
		}
		reader = func(inputs chan<- []input) (readErr error) {
			if strings.HasSuffix(inputPath, ".jsonl") {
				f, openErr := fileutil.OpenFile(ctx, inputPath)
				if openErr != nil {
					return openErr
				}
				defer func() {
					readErr = errors.Join(readErr, f.Close())
				}()
				return readInputs(f, batchSize, inputs)
			}
			return fileutil.WalkFiles(ctx, inputPath, ".jsonl", func(_ string, _ string, r io.Reader) error {
				return readInputs(r, batchSize, inputs)
			})
		}
	case !isatty.IsTerminal(os.Stdin.Fd()) && !isatty.IsCygwinTerminal(os.Stdin.Fd()):
		reader = func(inputs chan<- []input) error {
			return readInputs(os.Stdin, batchSize, inputs)
		}
	default:
		return errors.New("no input: pass --input or pipe .jsonl to stdin")
	}

	err = process(ctx, reader, extract, writer, logger)
	for _, line := range session.GetStats() {
		logger.Debug(line)
	}
	return err
}

// process reads batches, extracts them on a worker and writes one json line
// per input. Failed batches are logged and skipped; the last error is returned.
func process(ctx context.Context, read func(chan<- []input) error, extract extractor, w io.Writer, logger *zap.Logger) error {
	inputs := make(chan []input, 10)
	processed := make(chan []byte, 1000)
	var wg sync.WaitGroup
	var processErr error

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(processed)
		for batch := range inputs {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].Input
			}
			outputs, err := extract(ctx, texts)
			if err != nil {
				logger.Error("batch failed", zap.Int("size", len(batch)), zap.Error(err))
				processErr = err
				continue
			}
			for i, output := range outputs {
				batch[i].Output = output
				b, marshalErr := json.Marshal(batch[i])
				if marshalErr != nil {
					processErr = marshalErr
					continue
				}
				processed <- b
			}
		}
	}()

	var writeErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		bw := bufio.NewWriter(w)
		for line := range processed {
			if writeErr != nil {
				continue
			}
			if _, err := bw.Write(append(line, '\n')); err != nil {
				writeErr = err
			}
		}
		writeErr = errors.Join(writeErr, bw.Flush())
	}()

	readErr := read(inputs)
	close(inputs)
	wg.Wait()
	<-done
	return errors.Join(readErr, processErr, writeErr)
}

func readInputs(source io.Reader, size int, inputs chan<- []input) error {
	size = max(1, size)
	batch := make([]input, 0, size)
	reader := bufio.NewReader(source)
	for {
		line, err := fileutil.ReadLine(reader)
		if len(strings.TrimSpace(string(line))) > 0 {
			var in input
			if unmarshalErr := json.Unmarshal(line, &in); unmarshalErr != nil {
				return unmarshalErr
			}
			batch = append(batch, in)
			if len(batch) == size {
				inputs <- batch
				batch = make([]input, 0, size)
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
	}
	if len(batch) > 0 {
		inputs <- batch
	}
	return nil
}

func parseLabels(s string) []string {
	var out []string
	for _, label := range strings.Split(s, ",") {
		if label = strings.TrimSpace(label); label != "" {
			out = append(out, label)
		}
	}
	return out
}

type input struct {
	Input  string `json:"input"`
	Output any    `json:"output"`
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
