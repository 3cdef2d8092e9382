package catalog

import (
	"context"

	"github.com/emrgen/omnistore/internal/registry"
	"github.com/sirupsen/logrus"
)

const (
	youField          = "you"
	isBookmarkedField = "isBookmarked"
	reactionField     = "reaction"
)

// viewerSupplemental resolves the viewer-dependent fields shared by most kinds:
// the capability map, bookmark membership and the viewer's reaction.
func viewerSupplemental(names ...string) *registry.Supplemental {
	return &registry.Supplemental{Fields: names, Resolve: resolveViewerFields}
}

func resolveViewerFields(ctx context.Context, in registry.SupplementalInput) (map[string][]any, error) {
	out := make(map[string][]any, len(in.Fields))
	for _, name := range in.Fields {
		values, err := resolveViewerField(ctx, in, name)
		if err != nil {
			// the projector reports the missing field
			logrus.WithFields(logrus.Fields{"kind": in.Kind, "field": name}).Errorf("catalog: %v", err)
			continue
		}
		out[name] = values
	}
	return out, nil
}

func resolveViewerField(ctx context.Context, in registry.SupplementalInput, name string) ([]any, error) {
	values := make([]any, len(in.IDs))

	switch name {
	case youField:
		sets, err := in.Env.Capabilities(ctx, in.Kind, in.IDs, in.Viewer)
		if err != nil {
			return nil, err
		}
		for i, set := range sets {
			values[i] = set.Map()
		}

	case isBookmarkedField:
		marks, err := in.Env.Bookmarked(ctx, in.Kind, in.IDs, in.Viewer)
		if err != nil {
			return nil, err
		}
		for i, ok := range marks {
			values[i] = ok
		}

	case reactionField:
		emojis, err := in.Env.Reactions(ctx, in.Kind, in.IDs, in.Viewer)
		if err != nil {
			return nil, err
		}
		for i, emoji := range emojis {
			if emoji != "" {
				values[i] = emoji
			}
		}

	default:
		return nil, nil
	}

	return values, nil
}
