package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

const bedrockSystemPrompt = `You are the assistant on an organization's website chat widget. Answer briefly and helpfully.
If the conversation clearly fits one of these topics, end your reply with a final line "branch: <topic>" using the topic exactly as written. Otherwise do not add that line.
Topics: %s`

// Bedrock generates replies with the Bedrock Converse API.
type Bedrock struct {
	api       bedrockConverseAPI
	modelID   string
	maxTokens int32
}

func NewBedrock(api bedrockConverseAPI, modelID string) *Bedrock {
	if api == nil {
		panic("responder: bedrock converse client cannot be nil")
	}
	return &Bedrock{api: api, modelID: modelID, maxTokens: 512}
}

func (b *Bedrock) Reply(ctx context.Context, req Request) (Reply, error) {
	if strings.TrimSpace(b.modelID) == "" {
		return Reply{}, errors.New("responder: bedrock model id is required")
	}

	topics := "(none)"
	if len(req.Branches) > 0 {
		topics = strings.Join(req.Branches, ", ")
	}
	system := []brtypes.SystemContentBlock{
		&brtypes.SystemContentBlockMemberText{Value: fmt.Sprintf(bedrockSystemPrompt, topics)},
	}

	turns := make([]Turn, 0, len(req.History)+1)
	turns = append(turns, req.History...)
	turns = append(turns, Turn{Role: "user", Content: req.Message})

	messages := make([]brtypes.Message, 0, len(turns))
	for _, turn := range turns {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := brtypes.ConversationRoleUser
		if turn.Role == "assistant" {
			role = brtypes.ConversationRoleAssistant
		}
		messages = append(messages, brtypes.Message{
			Role:    role,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: content}},
		})
	}

	out, err := b.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.modelID),
		System:          system,
		Messages:        messages,
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(b.maxTokens)},
	})
	if err != nil {
		return Reply{}, fmt.Errorf("responder: bedrock converse: %w", err)
	}

	text, err := extractOutputText(out)
	if err != nil {
		return Reply{}, err
	}
	content, branch := splitBranch(text, req.Branches)
	return Reply{Content: content, BranchID: branch}, nil
}

func extractOutputText(out *bedrockruntime.ConverseOutput) (string, error) {
	if out == nil {
		return "", errors.New("responder: bedrock response is nil")
	}
	msgOut, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("responder: bedrock response did not include a message output")
	}

	var builder strings.Builder
	for _, block := range msgOut.Value.Content {
		if textBlock, ok := block.(*brtypes.ContentBlockMemberText); ok {
			builder.WriteString(textBlock.Value)
		}
	}
	if strings.TrimSpace(builder.String()) == "" {
		return "", errors.New("responder: bedrock response contained no text content blocks")
	}
	return builder.String(), nil
}
