package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"convmem/internal/chunk"
	"convmem/internal/config"
)

func TestMemoryTypeConfigsDefaultsToBaselineVocabulary(t *testing.T) {
	cfgs := memoryTypeConfigs(nil)
	assert.Len(t, cfgs, 3)
	assert.Equal(t, "entity", cfgs[0].Type)
	assert.Equal(t, "fact", cfgs[1].Type)
	assert.Equal(t, "decision", cfgs[2].Type)
	for _, c := range cfgs {
		assert.NotEmpty(t, c.Instruction)
	}
}

func TestMemoryTypeConfigsFallsBackForUnknownType(t *testing.T) {
	cfgs := memoryTypeConfigs([]string{"sentiment"})
	assert.Len(t, cfgs, 1)
	assert.Equal(t, "sentiment", cfgs[0].Type)
	assert.Contains(t, cfgs[0].Instruction, "sentiment")
}

func TestFailureModeMapsFailFastFlag(t *testing.T) {
	assert.Equal(t, chunk.FailFast, failureMode(true))
	assert.Equal(t, chunk.ContinueOnError, failureMode(false))
}

func TestDepth2OrDefaultZeroesWhenNotExpanding(t *testing.T) {
	assert.Equal(t, 0, depth2orDefault(false, 5))
	assert.Equal(t, 5, depth2orDefault(true, 5))
}

func TestBuildVectorBackendDefaultsToMemory(t *testing.T) {
	backend, err := buildVectorBackend(config.StorageConfig{})
	assert := assert.New(t)
	assert.NoError(err)
	assert.NotNil(backend)
}

func TestBuildLLMRequiresMatchingCredential(t *testing.T) {
	_, err := buildLLM(config.ExtractionConfig{Provider: "openai"}, config.LLMConfig{})
	assert.Error(t, err)

	_, err = buildLLM(config.ExtractionConfig{Provider: "anthropic"}, config.LLMConfig{})
	assert.Error(t, err)

	llm, err := buildLLM(config.ExtractionConfig{Provider: "openai", Model: "gpt-4o-mini"}, config.LLMConfig{OpenAIKey: "sk-test"})
	assert.NoError(t, err)
	assert.Equal(t, "openai", llm.Name())

	llm, err = buildLLM(config.ExtractionConfig{Provider: "anthropic", Model: "claude-3-5-sonnet"}, config.LLMConfig{AnthropicKey: "sk-test"})
	assert.NoError(t, err)
	assert.Equal(t, "anthropic", llm.Name())
}
