package extraction

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"gitlab.com/vantagepost/api/publisher-intake-service/internal/apperrors"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/config"
	"gitlab.com/vantagepost/api/publisher-intake-service/internal/observer"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/logger"
	"gitlab.com/vantagepost/api/publisher-intake-service/pkg/utils"
)

// anthropicGateway implements Gateway over the official SDK.
type anthropicGateway struct {
	model     string
	maxTokens int64
	timeout   time.Duration

	// Seam for tests; production wires the SDK call.
	create func(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error)
}

// NewAnthropicGateway builds the production extraction gateway.
func NewAnthropicGateway(cfg config.ExtractionConfig) Gateway {
	client := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return &anthropicGateway{
		model:     cfg.Model,
		maxTokens: int64(cfg.MaxTokens),
		timeout:   cfg.Timeout,
		create: func(ctx context.Context, params sdk.MessageNewParams) (*sdk.Message, error) {
			return client.Messages.New(ctx, params)
		},
	}
}

// Parse sends the email to the model and decodes the structured result. The
// call is bounded by the configured timeout; a timeout is an extraction
// failure, not retried here.
func (g *anthropicGateway) Parse(ctx context.Context, req ParseRequest) (*ExtractionResultV1, error) {
	loggerCtx := logger.FromContext(ctx)

	callCtx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: g.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(buildUserPrompt(req))),
		},
		Temperature: sdk.Float(0),
	}

	startTime := utils.Now()
	msg, err := g.create(callCtx, params)
	if err != nil {
		observer.ObserveExtractionCall(time.Since(startTime), err)
		loggerCtx.Error("Extraction model call failed",
			zap.String("sender", req.SenderEmail),
			zap.Error(err))
		return nil, fmt.Errorf("%w: model call: %w", apperrors.ErrExtraction, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	result, decodeErr := decodeExtractionResult(text.String())
	if decodeErr != nil {
		observer.ObserveExtractionCall(time.Since(startTime), decodeErr)
		loggerCtx.Error("Extraction response decode failed",
			zap.String("sender", req.SenderEmail),
			zap.Error(decodeErr))
		return nil, decodeErr
	}

	observer.ObserveExtractionCall(time.Since(startTime), nil)
	loggerCtx.Debug("Extraction completed",
		zap.String("sender", req.SenderEmail),
		zap.Float64("confidence", result.OverallConfidence),
		zap.Int("offerings", len(result.Offerings)))
	return result, nil
}

// decodeExtractionResult parses the model's JSON reply. Models occasionally
// wrap JSON in markdown fences; strip them before unmarshaling. Confidence is
// clamped into [0, 1].
func decodeExtractionResult(raw string) (*ExtractionResultV1, error) {
	cleaned := strings.TrimSpace(raw)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if idx := strings.LastIndex(cleaned, "```"); idx >= 0 {
			cleaned = cleaned[:idx]
		}
		cleaned = strings.TrimSpace(cleaned)
	}
	if cleaned == "" {
		return nil, fmt.Errorf("%w: empty model response", apperrors.ErrExtraction)
	}

	var result ExtractionResultV1
	if err := json.Unmarshal([]byte(cleaned), &result); err != nil {
		return nil, fmt.Errorf("%w: unmarshal model response: %w", apperrors.ErrExtraction, err)
	}

	if result.Version == 0 {
		result.Version = ResultVersion
	}
	if result.OverallConfidence < 0 {
		result.OverallConfidence = 0
	} else if result.OverallConfidence > 1 {
		result.OverallConfidence = 1
	}
	return &result, nil
}
