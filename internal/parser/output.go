package parser

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// DocumentOutput is the client-facing shape of one parsed document,
// built by reading artifact files back from disk.
type DocumentOutput struct {
	Filename      string          `json:"filename"`
	Markdown      string          `json:"markdown"`
	ContentList   json.RawMessage `json:"content_list_json"`
	MiddleJSON    json.RawMessage `json:"middle_json"`
	ModelOutput   json.RawMessage `json:"model_output_json,omitempty"`
	StorageExpiry time.Time       `json:"storage_expiry"`
}

// BuildOutputs reads each Result's artifacts and attaches the advisory
// storage expiry timestamp.
func BuildOutputs(results []Result, expiry time.Time) ([]DocumentOutput, error) {
	outputs := make([]DocumentOutput, 0, len(results))
	for _, res := range results {
		md, err := os.ReadFile(res.MarkdownPath)
		if err != nil {
			return nil, fmt.Errorf("reading markdown for %s: %w", res.Filename, err)
		}
		contentList, err := os.ReadFile(res.ContentListPath)
		if err != nil {
			return nil, fmt.Errorf("reading content list for %s: %w", res.Filename, err)
		}
		middle, err := os.ReadFile(res.MiddlePath)
		if err != nil {
			return nil, fmt.Errorf("reading middle json for %s: %w", res.Filename, err)
		}

		out := DocumentOutput{
			Filename:      res.Filename,
			Markdown:      string(md),
			ContentList:   json.RawMessage(contentList),
			MiddleJSON:    json.RawMessage(middle),
			StorageExpiry: expiry,
		}
		if res.ModelOutputPath != "" {
			model, err := os.ReadFile(res.ModelOutputPath)
			if err != nil {
				return nil, fmt.Errorf("reading model output for %s: %w", res.Filename, err)
			}
			out.ModelOutput = json.RawMessage(model)
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}
