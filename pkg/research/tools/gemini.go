package tools

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mikeboe/research-orchestrator/pkg/research"
)

const searchPrompt = `Conduct a targeted Google Search to gather the most recent, credible information on "%s" and synthesize it into a verifiable text artifact.

Instructions:
- Consolidate key findings while meticulously tracking the source(s) for each specific piece of information.
- Only include information found in the search results, don't make up any information.`

// GeminiSearcher answers queries with Gemini grounded on Google Search. The
// grounding metadata of the answer becomes the sources and citations.
type GeminiSearcher struct {
	client *genai.Client
	model  string
}

func NewGeminiSearcher(ctx context.Context, apiKey, model string) (*GeminiSearcher, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	return &GeminiSearcher{client: client, model: model}, nil
}

func (s *GeminiSearcher) Search(ctx context.Context, query string) (research.SearchResponse, error) {
	temperature := float32(0)
	resp, err := s.client.Models.GenerateContent(ctx, s.model,
		genai.Text(fmt.Sprintf(searchPrompt, query)),
		&genai.GenerateContentConfig{
			Temperature: &temperature,
			Tools:       []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}},
		})
	if err != nil {
		return research.SearchResponse{}, &research.TransientBackendError{Backend: "search", Err: err}
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return research.SearchResponse{}, &research.MalformedResponseError{Backend: "search", Reason: "no candidates"}
	}

	grounding := convertGrounding(resp.Candidates[0].GroundingMetadata)
	return research.SearchResponse{
		Sources:   groundingSources(grounding),
		Text:      resp.Text(),
		Grounding: grounding,
	}, nil
}

func convertGrounding(gm *genai.GroundingMetadata) *research.Grounding {
	if gm == nil {
		return nil
	}

	out := &research.Grounding{}
	for _, chunk := range gm.GroundingChunks {
		// Chunk indices in the supports refer to positions in this slice.
		var c research.GroundingChunk
		if chunk != nil && chunk.Web != nil {
			c = research.GroundingChunk{URL: chunk.Web.URI, Title: chunk.Web.Title}
		}
		out.Chunks = append(out.Chunks, c)
	}

	for _, support := range gm.GroundingSupports {
		if support == nil {
			continue
		}
		s := research.GroundingSupport{}
		if support.Segment != nil {
			s.Segment = &research.GroundingSegment{
				StartIndex: int(support.Segment.StartIndex),
				EndIndex:   int(support.Segment.EndIndex),
				Text:       support.Segment.Text,
			}
		}
		for _, idx := range support.GroundingChunkIndices {
			s.ChunkIndices = append(s.ChunkIndices, int(idx))
		}
		out.Supports = append(out.Supports, s)
	}
	return out
}

// groundingSources lists every web chunk once. Supported text becomes the
// snippet of the first chunk it cites.
func groundingSources(g *research.Grounding) []research.Source {
	if g == nil {
		return nil
	}

	snippets := make(map[int][]string)
	for _, s := range g.Supports {
		if s.Segment == nil || len(s.ChunkIndices) == 0 {
			continue
		}
		text := strings.TrimSpace(s.Segment.Text)
		if text != "" {
			snippets[s.ChunkIndices[0]] = append(snippets[s.ChunkIndices[0]], text)
		}
	}

	sources := make([]research.Source, 0, len(g.Chunks))
	for i, c := range g.Chunks {
		if c.URL == "" {
			continue
		}
		sources = append(sources, research.Source{
			URL:     c.URL,
			Title:   c.Title,
			Snippet: strings.Join(snippets[i], " "),
		})
	}
	return sources
}
