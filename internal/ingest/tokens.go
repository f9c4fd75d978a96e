package ingest

import (
	"fmt"

	"github.com/tiktoken-go/tokenizer"
)

// TokenEstimator reconstructs token counts for message text the runtime
// recorded without usage metrics. Estimates use the cl100k_base encoding;
// they are marked as estimated on the event and are close enough for
// aggregate token accounting, not billing.
type TokenEstimator struct {
	codec tokenizer.Codec
}

// NewTokenEstimator builds an estimator over the cl100k_base encoding.
func NewTokenEstimator() (*TokenEstimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("load cl100k_base tokenizer: %w", err)
	}
	return &TokenEstimator{codec: codec}, nil
}

// Estimate returns the token count of text. Encoding failures fall back to
// a bytes/4 heuristic so ingestion never stalls on odd input.
func (e *TokenEstimator) Estimate(text string) int64 {
	ids, _, err := e.codec.Encode(text)
	if err != nil {
		return int64(len(text) / 4)
	}
	return int64(len(ids))
}
