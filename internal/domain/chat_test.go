package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAgentContext_Canonical(t *testing.T) {
	a := AgentContext{PageID: "p1", AgentType: "credit", Extra: map[string]string{"b": "2", "a": "1"}}
	b := AgentContext{PageID: "p1", AgentType: "credit", Extra: map[string]string{"a": "1", "b": "2"}}

	assert.Equal(t, a.Canonical(), b.Canonical())
	assert.Equal(t, "page=p1|agent=credit|a=1|b=2", a.Canonical())
	assert.NotEqual(t, a.Canonical(), AgentContext{PageID: "p2", AgentType: "credit"}.Canonical())
}

func TestAgentContext_IsZero(t *testing.T) {
	assert.True(t, AgentContext{}.IsZero())
	assert.False(t, AgentContext{PageID: "x"}.IsZero())
}

func TestResponse_Clone(t *testing.T) {
	orig := Response{
		Reply:   "hello",
		Sources: []Source{{ChunkID: "c1"}},
		Trace:   []string{"RECEIVED"},
	}

	cp := orig.Clone()
	cp.Sources[0].ChunkID = "changed"
	cp.Trace[0] = "changed"

	assert.Equal(t, "c1", orig.Sources[0].ChunkID)
	assert.Equal(t, "RECEIVED", orig.Trace[0])
	assert.Equal(t, "hello", cp.Reply)
}

func TestValidateChunk(t *testing.T) {
	tests := []struct {
		name    string
		chunk   *Chunk
		wantErr bool
		errMsg  string
	}{
		{"nil", nil, true, "cannot be nil"},
		{"missing id", &Chunk{SourceID: "s", Text: "t"}, true, "ID is required"},
		{"missing source", &Chunk{ID: "c", Text: "t"}, true, "SourceID is required"},
		{"missing text", &Chunk{ID: "c", SourceID: "s"}, true, "Text is required"},
		{"valid", &Chunk{ID: "c", SourceID: "s", Text: "t"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChunk(tt.chunk)
			if tt.wantErr {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCode(t *testing.T) {
	assert.Equal(t, ErrCodeValidation, Code(ErrMissingMessage))
	assert.Equal(t, ErrCodeUnavailable, Code(NewDomainErrorWithCause(ErrCodeUnavailable, "x", assert.AnError)))
	assert.Equal(t, ErrCodeInternalError, Code(assert.AnError))
}
