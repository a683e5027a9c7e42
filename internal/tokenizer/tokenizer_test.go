package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimple_Tokenize(t *testing.T) {
	tok := NewSimple()
	tokens := tok.Tokenize("message body")
	require.Len(t, tokens, 2)
	assert.Equal(t, "message", tokens[0].Text)
	assert.Equal(t, 0, tokens[0].StartByte)
	assert.Equal(t, 7, tokens[0].EndByte)
	assert.Equal(t, "body", tokens[1].Text)
	assert.Equal(t, 8, tokens[1].StartByte)
	assert.Equal(t, 12, tokens[1].EndByte)
}

func TestSimple_Tokenize_Lowercases(t *testing.T) {
	tok := NewSimple()
	tokens := tok.Tokenize("Hello WORLD")
	require.Len(t, tokens, 2)
	assert.Equal(t, "hello", tokens[0].Text)
	assert.Equal(t, "world", tokens[1].Text)
}

func TestSimple_Tokenize_Punctuation(t *testing.T) {
	tok := NewSimple()
	tokens := tok.Tokenize("foo, bar! baz?")
	require.Len(t, tokens, 3)
	assert.Equal(t, []string{"foo", "bar", "baz"}, []string{tokens[0].Text, tokens[1].Text, tokens[2].Text})
}

func TestSimple_Tokenize_Empty(t *testing.T) {
	tok := NewSimple()
	assert.Empty(t, tok.Tokenize(""))
	assert.Empty(t, tok.Tokenize("   "))
}
