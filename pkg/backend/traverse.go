package backend

import (
	"context"
	"encoding/json"
	"strings"
)

type hop struct {
	id    string
	depth int
}

// neighborsFunc lists the direct successors of a record.
type neighborsFunc func(ctx context.Context, id string) ([]string, error)

// traverse walks outgoing links breadth-first up to depth hops. The start
// record is not part of the result and every record appears once, at its
// shortest distance.
func traverse(ctx context.Context, start string, depth int, neighbors neighborsFunc) ([]hop, error) {
	visited := map[string]bool{start: true}
	frontier := []string{start}
	var hops []hop

	for level := 1; level <= depth && len(frontier) > 0; level++ {
		var next []string
		for _, id := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			successors, err := neighbors(ctx, id)
			if err != nil {
				return nil, err
			}
			for _, successor := range successors {
				if visited[successor] {
					continue
				}
				visited[successor] = true
				hops = append(hops, hop{id: successor, depth: level})
				next = append(next, successor)
			}
		}
		frontier = next
	}

	return hops, nil
}

// matchesText reports whether the JSON form of document contains text,
// case-insensitively. Empty text matches everything.
func matchesText(document map[string]any, text string) bool {
	if text == "" {
		return true
	}
	raw, err := json.Marshal(document)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), strings.ToLower(text))
}
