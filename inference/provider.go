package inference

import (
	"os"
	"runtime"
	"strconv"

	"github.com/pkg/errors"
	ort "github.com/yalue/onnxruntime_go"
)

// ProviderBackend names an ONNX Runtime execution provider.
type ProviderBackend string

const (
	// CPUProviderBackend runs on the default CPU provider.
	CPUProviderBackend ProviderBackend = "cpu"
	// CUDAProviderBackend uses NVIDIA CUDA.
	CUDAProviderBackend ProviderBackend = "cuda"
	// CoreMLProviderBackend uses Apple CoreML.
	CoreMLProviderBackend ProviderBackend = "coreml"
	// OpenVINOProviderBackend uses Intel OpenVINO.
	OpenVINOProviderBackend ProviderBackend = "openvino"
)

// LibraryPathEnv overrides the onnxruntime shared library location.
const LibraryPathEnv = "ONNXRUNTIME_LIB"

// ParseProviderBackend maps a command line value to a backend.
func ParseProviderBackend(s string) (ProviderBackend, error) {
	switch b := ProviderBackend(s); b {
	case CPUProviderBackend, CUDAProviderBackend, CoreMLProviderBackend, OpenVINOProviderBackend:
		return b, nil
	case "":
		return CPUProviderBackend, nil
	}
	return "", errors.Errorf("unknown execution provider %q", s)
}

// GetSharedLibPath returns the path to the onnxruntime shared library for the
// current platform. LibraryPathEnv takes precedence.
//
// Returns:
//   - string: The path to the shared library.
//   - error: An error if no library is known for this platform.
func GetSharedLibPath() (string, error) {
	if p := os.Getenv(LibraryPathEnv); p != "" {
		return p, nil
	}
	switch runtime.GOOS {
	case "windows":
		if runtime.GOARCH == "amd64" {
			return "./third_party/onnxruntime.dll", nil
		}
	case "darwin":
		return "./third_party/libonnxruntime.dylib", nil
	case "linux":
		if runtime.GOARCH == "arm64" {
			return "./third_party/onnxruntime_arm64.so", nil
		}
		return "./third_party/onnxruntime.so", nil
	}
	return "", errors.Errorf("no onnxruntime library for %s/%s", runtime.GOOS, runtime.GOARCH)
}

// newSessionOptions builds session options for the configured threads and
// execution provider. The caller destroys the returned options.
func newSessionOptions(cfg SessionConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, errors.Wrap(err, "creating session options")
	}
	if err := configureOptions(options, cfg); err != nil {
		options.Destroy()
		return nil, err
	}
	return options, nil
}

func configureOptions(options *ort.SessionOptions, cfg SessionConfig) error {
	// A value of 0 lets onnxruntime pick the thread count.
	if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
		return errors.Wrap(err, "setting intra-op threads")
	}
	if err := options.SetInterOpNumThreads(cfg.InterOpThreads); err != nil {
		return errors.Wrap(err, "setting inter-op threads")
	}
	if err := options.SetGraphOptimizationLevel(ort.GraphOptimizationLevelEnableExtended); err != nil {
		return errors.Wrap(err, "setting graph optimization level")
	}

	switch cfg.Provider {
	case CPUProviderBackend, "":
	case CUDAProviderBackend:
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return errors.Wrap(err, "creating CUDA options")
		}
		defer cuda.Destroy()
		if err := cuda.Update(map[string]string{
			"device_id": strconv.Itoa(cfg.DeviceID),
		}); err != nil {
			return errors.Wrap(err, "configuring CUDA")
		}
		if err := options.AppendExecutionProviderCUDA(cuda); err != nil {
			return errors.Wrap(err, "enabling CUDA")
		}
	case CoreMLProviderBackend:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			return errors.Wrap(err, "enabling CoreML")
		}
	case OpenVINOProviderBackend:
		if err := options.AppendExecutionProviderOpenVINO(map[string]string{
			"device_type": "CPU",
			"precision":   "FP32",
		}); err != nil {
			return errors.Wrap(err, "enabling OpenVINO")
		}
	default:
		return errors.Errorf("unknown execution provider %q", cfg.Provider)
	}
	return nil
}
