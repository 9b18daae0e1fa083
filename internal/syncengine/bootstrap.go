package syncengine

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/ncsync/ncsync/internal/tree"
	"github.com/ncsync/ncsync/internal/webdav"
)

// Bootstrap populates an empty tree from a full remote listing. It runs
// once, on first start (no cache.json yet) or after hard_repair, since
// those are the only cases where the tree has no prior state to resume
// from and a full PROPFIND walk is the only way to learn the remote's
// current shape.
func Bootstrap(ctx context.Context, remote *webdav.Client, t *tree.Tree) error {
	resources, err := remote.Walk(ctx, "/")
	if err != nil {
		return fmt.Errorf("syncengine: bootstrap walk: %w", err)
	}

	// Shallower paths must be inserted before their children, since Insert
	// requires the parent to already exist in the tree.
	sort.Slice(resources, func(i, j int) bool {
		return strings.Count(resources[i].Path, "/") < strings.Count(resources[j].Path, "/")
	})

	for _, res := range resources {
		if res.Path == "/" {
			continue
		}

		parentPath := path.Dir(res.Path)
		name := path.Base(res.Path)

		entry := &tree.Entry{Name: name, Kind: tree.KindFile}
		if res.IsDir {
			entry.Kind = tree.KindDirectory
		} else {
			entry.Size = res.Size
			entry.HasSize = true
		}

		if res.ETag != "" {
			entry.ETag = res.ETag
			entry.HasETag = true
		}

		if err := t.Insert(parentPath, entry); err != nil {
			return fmt.Errorf("syncengine: bootstrap inserting %s: %w", res.Path, err)
		}
	}

	return nil
}
