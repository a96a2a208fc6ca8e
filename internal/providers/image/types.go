package image

import "context"

// TransformRequest describes one normalized transformation call. For a given
// version the request is deterministic: retrying the same version re-sends
// the same prompt and source image.
type TransformRequest struct {
	Prompt      string
	Style       string
	Instruction string
	SourceData  []byte
	SourceMIME  string
	RequestID   string
}

// Asset is the provider's output image.
type Asset struct {
	Data   []byte
	Format string
	Width  int
	Height int
}

// Transformer is the contract implemented by image providers.
type Transformer interface {
	Transform(ctx context.Context, req TransformRequest) (*Asset, error)
}
