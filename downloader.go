//go:build !NODOWNLOAD

package gliner

import (
	"context"
	"errors"
	"fmt"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gomlx/go-huggingface/hub"
	"go.uber.org/zap"

	"github.com/knights-analytics/gliner/util/fileutil"
)

// DownloadOptions is a struct of options that can be passed to DownloadModel.
type DownloadOptions struct {
	AuthToken             string
	OnnxFilePath          string
	ExternalDataPath      string
	Branch                string
	MaxRetries            int
	RetryInterval         time.Duration
	ConcurrentConnections int
	Verbose               bool
	Logger                *zap.Logger
}

// NewDownloadOptions creates new DownloadOptions struct with default values.
func NewDownloadOptions() DownloadOptions {
	return DownloadOptions{
		Branch:                "main",
		MaxRetries:            5,
		RetryInterval:         5 * time.Second,
		ConcurrentConnections: 5,
		Logger:                zap.NewNop(),
	}
}

// DownloadModel downloads a GLiNER model from huggingface into
// destination/<owner>_<name>. The repository must hold a tokenizer.json and
// exactly one .onnx file (or the one named in OnnxFilePath); gliner_config.json
// is fetched when present.
func DownloadModel(ctx context.Context, modelName string, destination string, options DownloadOptions) (string, error) {
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	modelP := modelName
	if strings.Contains(modelP, ":") {
		modelP = strings.Split(modelName, ":")[0]
	}
	modelPath := path.Join(destination, strings.ReplaceAll(modelP, "/", "_"))

	repo := hub.New(modelName)
	if options.AuthToken != "" {
		repo = repo.WithAuth(options.AuthToken)
	}
	if options.ConcurrentConnections > 0 {
		repo.MaxParallelDownload = options.ConcurrentConnections
	}
	if options.Verbose {
		repo.Verbosity = 1
		repo.WithProgressBar(true)
	} else {
		repo.Verbosity = 0
		repo.WithProgressBar(false)
	}
	if options.Branch != "" {
		repo.WithRevision(options.Branch)
	}

	downloadFiles, err := listRepoFiles(ctx, repo, options, logger)
	if err != nil {
		return "", err
	}

	for attempt := 1; attempt <= max(1, options.MaxRetries); attempt++ {
		downloadPaths, downloadErr := repo.DownloadFiles(downloadFiles...)
		if downloadErr != nil {
			logger.Warn("download attempt failed",
				zap.String("model", modelName),
				zap.Int("attempt", attempt),
				zap.Int("maxRetries", options.MaxRetries),
				zap.Error(downloadErr))
			if err := sleep(ctx, options.RetryInterval); err != nil {
				return "", err
			}
			continue
		}

		for j, downloadPath := range downloadPaths {
			truePath, symErr := filepath.EvalSymlinks(downloadPath)
			if symErr != nil {
				return "", symErr
			}
			if err := fileutil.CopyFile(ctx, truePath, fileutil.PathJoinSafe(modelPath, path.Base(downloadFiles[j]))); err != nil {
				return "", err
			}
		}
		logger.Info("model downloaded", zap.String("model", modelName), zap.String("path", modelPath))
		return modelPath, nil
	}
	return "", fmt.Errorf("failed to download %s after %d attempts", modelName, options.MaxRetries)
}

func listRepoFiles(ctx context.Context, repo *hub.Repo, options DownloadOptions, logger *zap.Logger) ([]string, error) {
	for attempt := 1; attempt <= max(1, options.MaxRetries); attempt++ {
		err := repo.DownloadInfo(false)
		if err == nil {
			break
		}
		logger.Warn("listing repository failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt >= options.MaxRetries {
			return nil, err
		}
		if err := sleep(ctx, options.RetryInterval); err != nil {
			return nil, err
		}
	}
	var fileNames []string
	for fileName, err := range repo.IterFileNames() {
		if err != nil {
			return nil, err
		}
		fileNames = append(fileNames, fileName)
	}
	return selectDownloadFiles(fileNames, options)
}

// selectDownloadFiles picks the files of a repository listing that make up a GLiNER model.
func selectDownloadFiles(fileNames []string, options DownloadOptions) ([]string, error) {
	tokenizerPath := ""
	onnxPath := ""
	var toDownload []string
	var allOnnx []string
	for _, fileName := range fileNames {
		baseFileName := filepath.Base(fileName)
		switch {
		case baseFileName == "tokenizer.json":
			tokenizerPath = fileName
		case baseFileName == "gliner_config.json" ||
			baseFileName == "special_tokens_map.json" ||
			baseFileName == "tokenizer_config.json":
			toDownload = append(toDownload, fileName)
		case filepath.Ext(baseFileName) == ".onnx":
			if options.OnnxFilePath == "" || fileName == options.OnnxFilePath {
				onnxPath = fileName
			}
			allOnnx = append(allOnnx, fileName)
		case options.ExternalDataPath != "" && fileName == options.ExternalDataPath:
			toDownload = append(toDownload, fileName)
		}
	}

	var errs []error
	if tokenizerPath == "" {
		errs = append(errs, errors.New("model does not have a tokenizer.json, GLiNER models need one"))
	}
	if options.OnnxFilePath != "" {
		if onnxPath == "" {
			errs = append(errs, fmt.Errorf("model .onnx file not found at %s", options.OnnxFilePath))
		}
	} else {
		switch len(allOnnx) {
		case 0:
			errs = append(errs, errors.New("model does not have a .onnx file, only onnx models are supported"))
		case 1:
		default:
			errs = append(errs, fmt.Errorf("model has multiple .onnx files, please specify one of the following onnxFilePaths: %s", strings.Join(allOnnx, " ")))
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return append(toDownload, onnxPath, tokenizerPath), nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
