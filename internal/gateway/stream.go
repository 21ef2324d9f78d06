package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
)

type chatChunk struct {
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *Usage `json:"usage,omitempty"`
}

// readStream consumes a server-sent events body ("data: {...}" lines ending
// with "data: [DONE]"), forwarding each text delta to onPartial while ctx is live.
func (g *Gateway) readStream(ctx context.Context, body io.Reader) Outcome {
	reader := bufio.NewReader(body)

	var (
		text      strings.Builder
		usage     Usage
		gotChoice bool
	)

	for {
		line, err := reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return transportFailure(ctx, err)
		}

		line = strings.TrimSpace(line)
		if data, ok := strings.CutPrefix(line, "data:"); ok {
			data = strings.TrimSpace(data)
			if data == "[DONE]" {
				break
			}

			var chunk chatChunk
			if jerr := json.Unmarshal([]byte(data), &chunk); jerr != nil {
				slog.Debug("skipping unparseable stream chunk", "error", jerr, "data", data)
			} else {
				if chunk.Usage != nil {
					usage = *chunk.Usage
				}
				if len(chunk.Choices) > 0 {
					gotChoice = true
					if delta := chunk.Choices[0].Delta.Content; delta != "" {
						text.WriteString(delta)
						// an abandoned request must not reach the device
						if g.onPartial != nil && ctx.Err() == nil {
							g.onPartial(ctx, delta)
						}
					}
				}
			}
		}

		if err == io.EOF {
			break
		}
	}

	if !gotChoice {
		return failed(KindNoChoices, "stream contained no choices")
	}
	raw := text.String()
	return Outcome{Text: ProcessResponse(raw), Raw: raw, Usage: usage}
}
