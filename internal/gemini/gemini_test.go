package gemini

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/googleapis/gax-go/v2/apierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/bdougie/videoqa/internal/artifact"
	"github.com/bdougie/videoqa/internal/resilient"
	"github.com/bdougie/videoqa/internal/schema"
)

func TestClassify(t *testing.T) {
	wrappedAPIErr, ok := apierror.FromError(status.Error(codes.ResourceExhausted, "quota"))
	require.True(t, ok)

	type testCase struct {
		name      string
		err       error
		exhausted bool
	}
	cases := []testCase{
		{name: "http 429", err: &googleapi.Error{Code: 429}, exhausted: true},
		{name: "wrapped http 429", err: fmt.Errorf("call: %w", &googleapi.Error{Code: 429}), exhausted: true},
		{name: "grpc resource exhausted", err: status.Error(codes.ResourceExhausted, "quota"), exhausted: true},
		{name: "api error", err: wrappedAPIErr, exhausted: true},
		{name: "http 500", err: &googleapi.Error{Code: 500}},
		{name: "grpc invalid argument", err: status.Error(codes.InvalidArgument, "bad")},
		{name: "plain", err: errors.New("boom")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exhausted, errors.Is(classify(tc.err), resilient.ErrResourceExhausted))
		})
	}
}

func TestToSchema(t *testing.T) {
	s := toSchema(schema.Object(
		schema.String("reasoning"),
		schema.Boolean("disagree"),
		schema.StringArray("questions"),
	))
	assert.Equal(t, genai.TypeObject, s.Type)
	assert.Equal(t, []string{"reasoning", "disagree", "questions"}, s.Required)
	assert.Equal(t, genai.TypeString, s.Properties["reasoning"].Type)
	assert.Equal(t, genai.TypeBoolean, s.Properties["disagree"].Type)
	require.NotNil(t, s.Properties["questions"].Items)
	assert.Equal(t, genai.TypeArray, s.Properties["questions"].Type)
	assert.Equal(t, genai.TypeString, s.Properties["questions"].Items.Type)
}

func TestToParts(t *testing.T) {
	h := artifact.Handle{Name: "files/1", URI: "https://example/files/1", MIMEType: "video/mp4"}
	parts := toParts([]resilient.Content{{Artifact: &h}, {Text: "what happens?"}})
	assert.Equal(t, []genai.Part{
		genai.FileData{MIMEType: "video/mp4", URI: "https://example/files/1"},
		genai.Text("what happens?"),
	}, parts)
}

func TestResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []genai.Part{genai.Text(`{"answer":`), genai.Text(`"A"}`)}},
	}}}
	text, err := responseText(resp)
	require.NoError(t, err)
	assert.Equal(t, `{"answer":"A"}`, text)

	_, err = responseText(&genai.GenerateContentResponse{})
	assert.ErrorIs(t, err, schema.ErrMalformedResponse)
}

func TestMimeTypeOf(t *testing.T) {
	assert.Equal(t, defaultMIMEType, mimeTypeOf("clip.unknownext"))
	assert.Equal(t, "video/mp4", mimeTypeOf("clip.mp4"))
}
