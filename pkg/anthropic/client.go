// Package anthropic writes short entity narratives with the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client writes one narrative per call.
type Client interface {
	Narrate(ctx context.Context, req NarrativeRequest) (*Narrative, error)
}

// NarrativeRequest is a single-turn request: fixed instructions plus the
// facts for one entity.
type NarrativeRequest struct {
	Model     string
	MaxTokens int64
	// Instructions are sent as a cached system block. Every call in a run
	// passes the same text, so only the first one pays for the cache write.
	Instructions string
	Facts        string
}

// Narrative is the model's answer.
type Narrative struct {
	Text string
	// Truncated is set when the answer stopped at MaxTokens.
	Truncated bool
	Usage     Usage
}

// Usage is the token accounting of one call.
type Usage struct {
	Input      int64
	Output     int64
	CacheWrite int64
	CacheRead  int64
}

type sdkClient struct {
	client sdk.Client
}

// NewClient returns a Client backed by anthropic-sdk-go. Extra request
// options (base URL, HTTP client, retries) are passed through.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	return &sdkClient{
		client: sdk.NewClient(append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)...),
	}
}

// Narrate implements Client.
func (c *sdkClient) Narrate(ctx context.Context, req NarrativeRequest) (*Narrative, error) {
	if strings.TrimSpace(req.Facts) == "" {
		return nil, eris.New("anthropic: narrative request has no facts")
	}
	msg, err := c.client.Messages.New(ctx, narrativeParams(req))
	if err != nil {
		return nil, eris.Wrap(err, "anthropic: narrate")
	}
	out := readNarrative(msg)
	if out.Text == "" {
		return nil, eris.Errorf("anthropic: empty narrative (stop reason %q)", msg.StopReason)
	}
	return out, nil
}

func narrativeParams(req NarrativeRequest) sdk.MessageNewParams {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Facts))},
	}
	if req.Instructions != "" {
		cc := sdk.NewCacheControlEphemeralParam()
		cc.TTL = sdk.CacheControlEphemeralTTLTTL1h
		params.System = []sdk.TextBlockParam{{Text: req.Instructions, CacheControl: cc}}
	}
	return params
}

func readNarrative(msg *sdk.Message) *Narrative {
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	return &Narrative{
		Text:      strings.TrimSpace(b.String()),
		Truncated: msg.StopReason == sdk.StopReasonMaxTokens,
		Usage: Usage{
			Input:      msg.Usage.InputTokens,
			Output:     msg.Usage.OutputTokens,
			CacheWrite: msg.Usage.CacheCreationInputTokens,
			CacheRead:  msg.Usage.CacheReadInputTokens,
		},
	}
}
