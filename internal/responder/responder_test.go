package responder

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConverse struct {
	input *bedrockruntime.ConverseInput
	text  string
	err   error
}

func (f *fakeConverse) Converse(_ context.Context, params *bedrockruntime.ConverseInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role:    brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: f.text}},
		}},
	}, nil
}

func TestBedrockReplyParsesBranch(t *testing.T) {
	api := &fakeConverse{text: "We run a summer camp for ages 8-12.\nbranch: programs"}
	b := NewBedrock(api, "anthropic.claude-3-haiku")

	reply, err := b.Reply(context.Background(), Request{
		History:  []Turn{{Role: "user", Content: "hi"}, {Role: "assistant", Content: "Hello!"}},
		Message:  "what programs do you have?",
		Branches: []string{"hub", "programs"},
	})
	require.NoError(t, err)

	assert.Equal(t, "We run a summer camp for ages 8-12.", reply.Content)
	assert.Equal(t, "programs", reply.BranchID)
	assert.Equal(t, "anthropic.claude-3-haiku", aws.ToString(api.input.ModelId))
	require.Len(t, api.input.Messages, 3)
	assert.Equal(t, brtypes.ConversationRoleAssistant, api.input.Messages[1].Role)
	assert.Equal(t, brtypes.ConversationRoleUser, api.input.Messages[2].Role)
}

func TestBedrockReplyIgnoresUnknownBranch(t *testing.T) {
	b := NewBedrock(&fakeConverse{text: "Sure.\nbranch: pricing"}, "m")

	reply, err := b.Reply(context.Background(), Request{Message: "x", Branches: []string{"hub"}})
	require.NoError(t, err)
	assert.Equal(t, "Sure.", reply.Content)
	assert.Empty(t, reply.BranchID)
}

func TestBedrockReplyErrors(t *testing.T) {
	_, err := NewBedrock(&fakeConverse{}, "").Reply(context.Background(), Request{Message: "x"})
	assert.Error(t, err)

	boom := errors.New("throttled")
	_, err = NewBedrock(&fakeConverse{err: boom}, "m").Reply(context.Background(), Request{Message: "x"})
	assert.True(t, errors.Is(err, boom))

	_, err = NewBedrock(&fakeConverse{text: "   "}, "m").Reply(context.Background(), Request{Message: "x"})
	assert.Error(t, err)
}

func TestStaticReply(t *testing.T) {
	reply, err := Static{Text: "Thanks!"}.Reply(context.Background(), Request{Message: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "Thanks!", reply.Content)
	assert.Empty(t, reply.BranchID)
}

func TestSplitBranch(t *testing.T) {
	body, id := splitBranch("no marker here", []string{"a"})
	assert.Equal(t, "no marker here", body)
	assert.Empty(t, id)

	body, id = splitBranch("Branch: a", []string{"a"})
	assert.Empty(t, body)
	assert.Equal(t, "a", id)
}
