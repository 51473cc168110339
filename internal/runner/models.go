package runner

import "strings"

// Default model provenance written into collection headers.
const (
	DefaultModelName    = "all-MiniLM-L6-v2"
	DefaultModelVersion = "v1.0"
	DefaultDimension    = 384
)

type modelInfo struct {
	fastembedName string
	dimension     int
}

// knownModels maps accepted model names to their fastembed identifiers.
var knownModels = map[string]modelInfo{
	"all-MiniLM-L6-v2":                       {"fast-all-MiniLM-L6-v2", 384},
	"sentence-transformers/all-MiniLM-L6-v2": {"fast-all-MiniLM-L6-v2", 384},
	"fast-all-MiniLM-L6-v2":                  {"fast-all-MiniLM-L6-v2", 384},
	"BAAI/bge-small-en-v1.5":                 {"fast-bge-small-en-v1.5", 384},
	"fast-bge-small-en-v1.5":                 {"fast-bge-small-en-v1.5", 384},
	"BAAI/bge-small-en":                      {"fast-bge-small-en", 384},
	"fast-bge-small-en":                      {"fast-bge-small-en", 384},
	"BAAI/bge-base-en-v1.5":                  {"fast-bge-base-en-v1.5", 768},
	"fast-bge-base-en-v1.5":                  {"fast-bge-base-en-v1.5", 768},
	"BAAI/bge-base-en":                       {"fast-bge-base-en", 768},
	"fast-bge-base-en":                       {"fast-bge-base-en", 768},
	"BAAI/bge-small-zh-v1.5":                 {"fast-bge-small-zh-v1.5", 512},
	"fast-bge-small-zh-v1.5":                 {"fast-bge-small-zh-v1.5", 512},
}

// ModelDimension returns the embedding dimension for a model name. Unknown
// models are guessed from their name, falling back to 384.
func ModelDimension(model string) int {
	if info, ok := knownModels[model]; ok {
		return info.dimension
	}
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "large"):
		return 1024
	case strings.Contains(lower, "base"):
		return 768
	default:
		return DefaultDimension
	}
}

// KnownModel reports whether the fastembed provider can load model.
func KnownModel(model string) bool {
	_, ok := knownModels[model]
	return ok
}
