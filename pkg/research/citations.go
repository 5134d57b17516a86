package research

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
)

// ResolveURLs maps every URL of a batch to a short, stable identifier of the
// form {prefix}{batchID}-{index}, where index is the position of the URL's
// first occurrence among the non-empty urls. Duplicates map to the same
// identifier.
func ResolveURLs(urls []string, batchID int, prefix string) map[string]string {
	resolved := make(map[string]string, len(urls))
	idx := 0
	for _, u := range urls {
		if u == "" {
			continue
		}
		if _, ok := resolved[u]; !ok {
			resolved[u] = fmt.Sprintf("%s%d-%d", prefix, batchID, idx)
		}
		idx++
	}
	return resolved
}

// InsertCitationMarkers appends a " [label](shortURL)" marker per segment right
// after the span of each citation.
//
// Citations are applied from the end of the text towards the start (EndIndex
// descending, then StartIndex descending) so inserting one marker never moves
// the offset of a citation that is still pending. Citations whose EndIndex
// falls outside text are skipped.
func InsertCitationMarkers(text string, citations []Citation) string {
	if len(citations) == 0 {
		return text
	}

	sorted := slices.Clone(citations)
	slices.SortStableFunc(sorted, func(a, b Citation) int {
		if a.EndIndex != b.EndIndex {
			return cmp.Compare(b.EndIndex, a.EndIndex)
		}
		return cmp.Compare(b.StartIndex, a.StartIndex)
	})

	out := text
	for _, c := range sorted {
		if c.EndIndex < 0 || c.EndIndex > len(text) {
			continue
		}
		marker := citationMarker(c.Segments)
		if marker == "" {
			continue
		}
		out = out[:c.EndIndex] + marker + out[c.EndIndex:]
	}
	return out
}

func citationMarker(segments []CitationSegment) string {
	var sb strings.Builder
	for _, seg := range segments {
		sb.WriteString(" [")
		sb.WriteString(seg.Label)
		sb.WriteString("](")
		sb.WriteString(seg.ShortURL)
		sb.WriteString(")")
	}
	return sb.String()
}

// ExtractCitations turns grounding supports into citations. A support with a
// missing segment, an invalid span or no resolvable chunk is skipped and
// logged; the remaining supports are still extracted. Missing metadata yields
// no citations.
func ExtractCitations(g *Grounding, resolved map[string]string, logger *slog.Logger) []Citation {
	if g == nil || len(g.Supports) == 0 || len(g.Chunks) == 0 {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	var citations []Citation
	for i, support := range g.Supports {
		if support.Segment == nil {
			logger.Debug("Skipping grounding support without segment", "support", i)
			continue
		}
		start, end := support.Segment.StartIndex, support.Segment.EndIndex
		if end <= 0 || start < 0 || start > end {
			logger.Debug("Skipping grounding support with invalid span", "support", i, "start", start, "end", end)
			continue
		}

		var segments []CitationSegment
		for _, idx := range support.ChunkIndices {
			if idx < 0 || idx >= len(g.Chunks) {
				logger.Debug("Skipping unknown grounding chunk", "support", i, "chunk", idx)
				continue
			}
			chunk := g.Chunks[idx]
			short, ok := resolved[chunk.URL]
			if !ok {
				logger.Debug("Skipping unresolved grounding chunk", "support", i, "url", chunk.URL)
				continue
			}
			segments = append(segments, CitationSegment{
				Label:     citationLabel(chunk.Title),
				ShortURL:  short,
				SourceURL: chunk.URL,
			})
		}
		if len(segments) == 0 {
			continue
		}

		citations = append(citations, Citation{
			StartIndex: start,
			EndIndex:   end,
			Segments:   segments,
		})
	}
	return citations
}

// citationLabel shortens a source title to its first dotted component,
// e.g. "wikipedia.org" becomes "wikipedia".
func citationLabel(title string) string {
	label := strings.TrimSpace(strings.SplitN(title, ".", 2)[0])
	if label == "" {
		return "source"
	}
	return label
}

// RestoreCitationURLs swaps the short URLs inside citation markers back to
// the source URLs they stand for.
func RestoreCitationURLs(text string, citations []Citation) string {
	var pairs []string
	seen := make(map[string]bool)
	for _, c := range citations {
		for _, seg := range c.Segments {
			if seg.ShortURL == "" || seen[seg.ShortURL] {
				continue
			}
			seen[seg.ShortURL] = true
			pairs = append(pairs, "("+seg.ShortURL+")", "("+seg.SourceURL+")")
		}
	}
	if len(pairs) == 0 {
		return text
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
