package main

import (
	"context"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/knights-analytics/gliner"
	"github.com/knights-analytics/gliner/util/fileutil"
)

// download the models used by the integration tests.

type downloadModel struct {
	name         string
	onnxFilePath string
}

var models = []downloadModel{
	{name: "onnx-community/gliner_small-v2.1", onnxFilePath: "onnx/model.onnx"},
	{name: "onnx-community/gliner_multi-v2.1", onnxFilePath: "onnx/model.onnx"},
}

func main() {
	ctx := context.Background()
	logger, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	if err = fileutil.CreateDir(ctx, "./models"); err != nil {
		panic(err)
	}
	for _, model := range models {
		if os.Getenv("CI") != "" && model.name == "onnx-community/gliner_multi-v2.1" {
			continue
		}
		ok, existsErr := fileutil.FileExists(ctx, "./models/"+strings.ReplaceAll(model.name, "/", "_"))
		if existsErr != nil {
			panic(existsErr)
		}
		if ok {
			continue
		}
		options := gliner.NewDownloadOptions()
		options.OnnxFilePath = model.onnxFilePath
		options.Logger = logger
		if _, dlErr := gliner.DownloadModel(ctx, model.name, "./models", options); dlErr != nil {
			panic(dlErr)
		}
	}
}
