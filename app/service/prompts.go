package service

import (
	"fmt"

	"podcast-fusion/app/model"
	"podcast-fusion/app/utils/llmclient"
)

// 各摘要类型的系统提示词。要求模型输出严格JSON，顶层必须带tldr和tags。

const generalSystemPrompt = `You are a podcast analyst. Summarize the given podcast transcript.
Respond with a strict JSON object containing:
- "tldr": one-paragraph summary (2-3 sentences)
- "tags": array of 3-6 topic tags
- "key_points": array of the most important points discussed
- "why_it_matters": one paragraph on why this episode matters
Respond with JSON only, no markdown.`

const investmentSystemPrompt = `You are an investment research analyst. Analyze the given podcast transcript.
Respond with a strict JSON object containing:
- "tldr": one-paragraph summary (2-3 sentences)
- "tags": array of 3-6 topic tags
- "investment_signals": array of actionable signals mentioned
- "mentioned_tickers": array of stock tickers or assets mentioned
- "market_insights": array of macro or market observations
- "key_quotes": array of notable quotes with speaker attribution when possible
- "risk_alerts": array of risks flagged in the discussion
- "investment_thesis": one paragraph synthesizing the investment view
Respond with JSON only, no markdown.`

const learningSystemPrompt = `You are a learning coach. Distill the given podcast transcript into study notes.
Respond with a strict JSON object containing:
- "tldr": one-paragraph summary (2-3 sentences)
- "tags": array of 3-6 topic tags
- "key_points": array of the core ideas explained simply
- "unique_insights": array of non-obvious takeaways
- "core_content": one paragraph capturing the heart of the episode
Respond with JSON only, no markdown.`

// buildSummaryMessages 按摘要类型构造LLM消息
func buildSummaryMessages(summaryType, episodeTitle, transcriptText string) []llmclient.Message {
	var system string
	switch summaryType {
	case model.SummaryTypeInvestment:
		system = investmentSystemPrompt
	case model.SummaryTypeLearning:
		system = learningSystemPrompt
	default:
		system = generalSystemPrompt
	}

	user := fmt.Sprintf("Episode title: %s\n\nTranscript:\n%s", episodeTitle, transcriptText)

	return []llmclient.Message{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	}
}
