// Package llm turns a week of listening history into track recommendations
// by prompting a language model and parsing its loosely structured answer.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Provider generates a completion for a prompt. Implementations wrap one
// model API each.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Scrobble is one listen, serialized into the prompt.
type Scrobble struct {
	Artist string `json:"artist"`
	Title  string `json:"track"`
}

// Recommendation is one parsed model suggestion.
type Recommendation struct {
	Artist string
	Title  string
	Album  string
}

const promptTemplate = `You are a music expert assistant. Based on the following list of recently listened tracks in JSON format, please recommend 25 new songs that this listener might like.
The recommendations should be for a user who enjoys the artists and genres represented in the listening history. Only recommend tracks that are not already in the listening history.

My listening history:
%s

Please provide your response as a single JSON array of objects, where each object represents a recommended track and has the keys "artist", "title", and "album". Do not include any other text or explanations in your response, only the JSON array.

Example response format:
[
  {"artist": "Example Artist 1", "title": "Example Song 1", "album": "Example Album 1"},
  {"artist": "Example Artist 2", "title": "Example Song 2", "album": "Example Album 2"}
]`

// BuildPrompt renders the recommendation prompt for a listening history.
func BuildPrompt(scrobbles []Scrobble) string {
	history, _ := json.MarshalIndent(scrobbles, "", "  ")
	return fmt.Sprintf(promptTemplate, history)
}

var ErrNoArray = errors.New("response contains no JSON array")

// Key spellings vary by model, so each canonical field accepts a few.
var keyAliases = map[string][]string{
	"artist": {"artist", "artist_name"},
	"title":  {"title", "song", "track", "name"},
	"album":  {"album", "album_name", "album_title"},
}

// ParseRecommendations extracts the first JSON array from a model response
// and maps each object's keys onto the canonical fields. Non-object array
// elements are skipped. Anything around the array, prose, code fences, is
// ignored.
func ParseRecommendations(text string) ([]Recommendation, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end < start {
		return nil, ErrNoArray
	}

	var raw []json.RawMessage
	if err := json.Unmarshal([]byte(text[start:end+1]), &raw); err != nil {
		return nil, fmt.Errorf("unmarshal array: %w", err)
	}

	var out []Recommendation
	for _, item := range raw {
		var obj map[string]any
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		rec := Recommendation{
			Artist: lookupAlias(obj, "artist"),
			Title:  lookupAlias(obj, "title"),
			Album:  lookupAlias(obj, "album"),
		}
		out = append(out, rec)
	}
	return out, nil
}

func lookupAlias(obj map[string]any, field string) string {
	for _, key := range keyAliases[field] {
		if v, ok := obj[key]; ok {
			if s, ok := v.(string); ok {
				return s
			}
		}
	}
	return ""
}

// Recommend prompts the provider with the listening history and parses the
// result.
func Recommend(ctx context.Context, provider Provider, scrobbles []Scrobble) ([]Recommendation, error) {
	if len(scrobbles) == 0 {
		return nil, nil
	}
	text, err := provider.Generate(ctx, BuildPrompt(scrobbles))
	if err != nil {
		return nil, fmt.Errorf("generate: %w", err)
	}
	recs, err := ParseRecommendations(text)
	if err != nil {
		return nil, fmt.Errorf("parse response: %w", err)
	}
	return recs, nil
}
