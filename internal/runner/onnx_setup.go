package runner

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// DefaultONNXRuntimeVersion matches the onnxruntime_go release fastembed-go
// is built against.
const DefaultONNXRuntimeVersion = "1.23.0"

// ONNXPathEnv overrides the runtime library location.
const ONNXPathEnv = "ONNX_PATH"

const onnxReleaseURLTemplate = "https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz"

// ErrUnsupportedPlatform indicates the current OS/arch has no ONNX runtime
// release.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

var platformArchMap = map[string]map[string]string{
	"linux": {
		"amd64": "linux-x64",
		"arm64": "linux-aarch64",
	},
	"darwin": {
		"amd64": "osx-x86_64",
		"arm64": "osx-arm64",
	},
}

var libraryNames = map[string]string{
	"linux":  "libonnxruntime.so",
	"darwin": "libonnxruntime.dylib",
}

func platformArchive(goos, goarch string) (string, error) {
	archMap, ok := platformArchMap[goos]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	arch, ok := archMap[goarch]
	if !ok {
		return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
	}
	return arch, nil
}

func libraryName(goos string) string {
	if name, ok := libraryNames[goos]; ok {
		return name
	}
	return "libonnxruntime.so"
}

// DefaultONNXInstallDir returns ~/.config/embedkit/lib.
func DefaultONNXInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "embedkit", "lib")
}

// ONNXRuntime manages the shared library fastembed loads at startup.
type ONNXRuntime struct {
	// Dir is the managed install directory.
	Dir string
	// Version of the release to download.
	Version string
	// URL overrides the release archive location. Used by tests.
	URL string

	Client *http.Client
	Logger *zap.Logger
}

// NewONNXRuntime returns a manager for the default install location.
func NewONNXRuntime(logger *zap.Logger) *ONNXRuntime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ONNXRuntime{
		Dir:     DefaultONNXInstallDir(),
		Version: DefaultONNXRuntimeVersion,
		Client:  http.DefaultClient,
		Logger:  logger,
	}
}

// LibraryPath returns the runtime library path, checking ONNX_PATH first
// and then the managed install. It returns "" when neither exists.
func (o *ONNXRuntime) LibraryPath() string {
	if envPath := os.Getenv(ONNXPathEnv); envPath != "" {
		return envPath
	}
	managed := filepath.Join(o.Dir, libraryName(runtime.GOOS))
	if _, err := os.Stat(managed); err == nil {
		return managed
	}
	return ""
}

// Exists reports whether a runtime library is available.
func (o *ONNXRuntime) Exists() bool {
	return o.LibraryPath() != ""
}

func (o *ONNXRuntime) downloadURL(platform string) string {
	if o.URL != "" {
		return o.URL
	}
	return fmt.Sprintf(onnxReleaseURLTemplate, o.Version, platform, o.Version)
}

// Download fetches and unpacks the runtime for the current platform.
func (o *ONNXRuntime) Download(ctx context.Context) error {
	platform, err := platformArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	url := o.downloadURL(platform)

	if err := os.MkdirAll(o.Dir, 0o700); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	client := o.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("downloading ONNX runtime: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed with status %d", resp.StatusCode)
	}

	prefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", platform, o.Version)
	if err := extractLibraries(resp.Body, o.Dir, prefix, libraryName(runtime.GOOS)); err != nil {
		return fmt.Errorf("extracting archive: %w", err)
	}
	return nil
}

// extractLibraries copies every file under prefix in the tarball into
// destDir, keeping symlinks.
func extractLibraries(r io.Reader, destDir, prefix, libName string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	var foundMainLib bool
	for {
		header, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(header.Name, "./")
		if !strings.HasPrefix(name, prefix) || header.Typeflag == tar.TypeDir {
			continue
		}

		filename := filepath.Base(name)
		destPath := filepath.Join(destDir, filename)

		if header.Typeflag == tar.TypeSymlink {
			os.Remove(destPath)
			if err := os.Symlink(header.Linkname, destPath); err != nil {
				continue
			}
			if filename == libName {
				foundMainLib = true
			}
			continue
		}

		out, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
		if err != nil {
			return fmt.Errorf("creating file %s: %w", filename, err)
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return fmt.Errorf("writing file %s: %w", filename, err)
		}
		if err := out.Close(); err != nil {
			return fmt.Errorf("closing file %s: %w", filename, err)
		}

		if filename == libName || strings.HasPrefix(filename, libName+".") {
			foundMainLib = true
		}
	}

	if !foundMainLib {
		return fmt.Errorf("library %s not found in archive", libName)
	}
	return nil
}

// Ensure makes the runtime available, downloading it when missing, and
// exports ONNX_PATH so fastembed-go can find it. It returns the library path.
func (o *ONNXRuntime) Ensure(ctx context.Context) (string, error) {
	if path := o.LibraryPath(); path != "" {
		return path, os.Setenv(ONNXPathEnv, path)
	}

	o.Logger.Info("ONNX runtime not found, downloading",
		zap.String("version", o.Version),
		zap.String("platform", runtime.GOOS+"/"+runtime.GOARCH),
		zap.String("dir", o.Dir))

	if err := o.Download(ctx); err != nil {
		return "", fmt.Errorf("downloading ONNX runtime: %w (run 'embedkit init' or set %s)", err, ONNXPathEnv)
	}

	path := o.LibraryPath()
	if path == "" {
		return "", errors.New("ONNX runtime download completed but library not found")
	}
	o.Logger.Info("ONNX runtime installed", zap.String("path", path))
	return path, os.Setenv(ONNXPathEnv, path)
}
