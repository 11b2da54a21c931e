package options

import (
	"context"
	"fmt"
	"runtime"

	"go.uber.org/zap"

	"github.com/knights-analytics/gliner/util/fileutil"
)

type Options struct {
	// RuntimeOptions holds the backend specific session options once the session is initialised.
	RuntimeOptions any
	ORTOptions     *OrtOptions
	Logger         *zap.Logger
	Destroy        func() error
	Backend        string
}

func Defaults() *Options {
	libraryPathDefault := defaultLibraryPath()
	return &Options{
		ORTOptions: &OrtOptions{
			LibraryPath: &libraryPathDefault,
		},
		Logger: zap.NewNop(),
		Destroy: func() error {
			return nil
		},
	}
}

func libraryName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

func defaultLibraryPath() string {
	switch runtime.GOOS {
	case "windows":
		return `.\onnxruntime.dll`
	case "darwin":
		return "/usr/local/lib/libonnxruntime.dylib"
	default:
		return "/usr/lib/libonnxruntime.so"
	}
}

type OrtOptions struct {
	LibraryPath       *string
	Telemetry         *bool
	IntraOpNumThreads *int
	InterOpNumThreads *int
	CPUMemArena       *bool
	MemPattern        *bool
	CudaOptions       map[string]string
}

// WithOption is the interface for all option functions.
type WithOption func(o *Options) error

// WithOnnxLibraryPath (ORT only) sets the directory holding the onnxruntime shared library,
// or the full path to the library itself.
func WithOnnxLibraryPath(ortLibraryPath string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithOnnxLibraryPath is only supported for ORT backend")
		}
		info, err := fileutil.FileStats(context.Background(), ortLibraryPath)
		if err != nil {
			return fmt.Errorf("failed to access ONNX Runtime library path %q: %w", ortLibraryPath, err)
		}
		fullPath := ortLibraryPath
		if info.IsDir() {
			fullPath = fileutil.PathJoinSafe(ortLibraryPath, libraryName())
			exists, existsErr := fileutil.FileExists(context.Background(), fullPath)
			if existsErr != nil {
				return fmt.Errorf("error checking for existence of ONNX Runtime library file: %w", existsErr)
			}
			if !exists {
				return fmt.Errorf("ONNX Runtime library %s does not exist at %q", libraryName(), ortLibraryPath)
			}
		}
		o.ORTOptions.LibraryPath = &fullPath
		return nil
	}
}

// WithTelemetry (ORT only) enables telemetry events for the onnxruntime environment. Default is off.
func WithTelemetry() WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithTelemetry is only supported for ORT backend")
		}
		enabled := true
		o.ORTOptions.Telemetry = &enabled
		return nil
	}
}

// WithIntraOpNumThreads (ORT only) sets the number of threads used to parallelize execution within graph nodes.
func WithIntraOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithIntraOpNumThreads is only supported for ORT backend")
		}
		if numThreads < 0 {
			return fmt.Errorf("intra op threads must be non-negative, got %d", numThreads)
		}
		o.ORTOptions.IntraOpNumThreads = &numThreads
		return nil
	}
}

// WithInterOpNumThreads (ORT only) sets the number of threads used to parallelize execution across graph nodes.
func WithInterOpNumThreads(numThreads int) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithInterOpNumThreads is only supported for ORT backend")
		}
		if numThreads < 0 {
			return fmt.Errorf("inter op threads must be non-negative, got %d", numThreads)
		}
		o.ORTOptions.InterOpNumThreads = &numThreads
		return nil
	}
}

// WithCPUMemArena (ORT only) enables or disables the CPU memory arena. Default is true.
func WithCPUMemArena(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCPUMemArena is only supported for ORT backend")
		}
		o.ORTOptions.CPUMemArena = &enable
		return nil
	}
}

// WithMemPattern (ORT only) enables or disables the memory pattern optimization. Default is true.
func WithMemPattern(enable bool) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithMemPattern is only supported for ORT backend")
		}
		o.ORTOptions.MemPattern = &enable
		return nil
	}
}

// WithCuda (ORT only) runs the model on the CUDA execution provider.
func WithCuda(cudaOptions map[string]string) WithOption {
	return func(o *Options) error {
		if o.Backend != "ORT" {
			return fmt.Errorf("WithCuda is only supported for ORT backend")
		}
		if cudaOptions == nil {
			cudaOptions = map[string]string{}
		}
		o.ORTOptions.CudaOptions = cudaOptions
		return nil
	}
}

// WithLogger sets the logger used by the session and the pipelines it creates.
func WithLogger(logger *zap.Logger) WithOption {
	return func(o *Options) error {
		if logger == nil {
			return fmt.Errorf("logger must not be nil")
		}
		o.Logger = logger
		return nil
	}
}
