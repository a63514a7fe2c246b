package extractutils

import (
	"fmt"

	"github.com/papercomputeco/engram/pkg/extract"
	"github.com/papercomputeco/engram/pkg/extract/heuristic"
	"github.com/papercomputeco/engram/pkg/extract/ollama"
)

type NewExtractorOpts struct {
	ProviderType string
	TargetURL    string
	Model        string
}

func NewExtractor(o *NewExtractorOpts) (extract.Extractor, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewExtractor(ollama.Config{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		})
	case "heuristic", "":
		return heuristic.NewExtractor(), nil
	default:
		return nil, fmt.Errorf("unsupported extractor provider: %s", o.ProviderType)
	}
}
